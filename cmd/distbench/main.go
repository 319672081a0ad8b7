package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/distbench-platform/distbench/actor"
	"github.com/distbench-platform/distbench/benchmarks/atomicregister"
	"github.com/distbench-platform/distbench/benchmarks/netpingpong"
	"github.com/distbench-platform/distbench/common/logging"
	"github.com/distbench-platform/distbench/common/xcmd"
	"github.com/distbench-platform/distbench/harness"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
	// LogLevel overrides the configured logging level.
	LogLevel string
	// Benchmarks overrides the master's benchmark selection pattern.
	Benchmarks string
	// MasterEndpoint overrides the client's master endpoint.
	MasterEndpoint string
}

var rootCmd = &cobra.Command{
	Use:   "distbench",
	Short: "Distributed benchmarking harness",
}

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the benchmark master",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := runMaster(cmd); err != nil {
			if xcmd.IsInterrupted(err) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a benchmark client",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := runClient(cmd); err != nil {
			if xcmd.IsInterrupted(err) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&cmd.LogLevel, "log-level", "l", "", "Logging level override (debug, info, warn, error)")
	masterCmd.Flags().StringVarP(&cmd.Benchmarks, "benchmarks", "b", "", "Glob pattern selecting the benchmarks to run")
	clientCmd.Flags().StringVarP(&cmd.MasterEndpoint, "master", "m", "", "Master endpoint to check in to")

	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(clientCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

// newRegistry catalogs every benchmark this binary can run.
func newRegistry(actorCfg *actor.Config, log *zap.SugaredLogger) (*harness.Registry, error) {
	registry := harness.NewRegistry()

	benches := []harness.Benchmark{
		atomicregister.NewBenchmark(actorCfg, log),
		atomicregister.NewBroadcastBenchmark(actorCfg, log),
		netpingpong.NewBenchmark(actorCfg, log),
	}
	for _, bench := range benches {
		if err := registry.Register(bench); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func setup(cmd Cmd) (*Config, *zap.SugaredLogger, error) {
	cfg, err := LoadConfig(cmd.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Override(cmd); err != nil {
		return nil, nil, err
	}

	log, _ := logging.New(&cfg.Logging)
	return cfg, log, nil
}

func runMaster(cmd Cmd) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	registry, err := newRegistry(cfg.Actor, log)
	if err != nil {
		return err
	}

	master, err := harness.NewMaster(cfg.Master, registry, harness.WithMasterLog(log))
	if err != nil {
		return fmt.Errorf("failed to initialize master: %w", err)
	}
	defer master.Close()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return master.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	err = wg.Wait()
	if xcmd.IsInterrupted(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runClient(cmd Cmd) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	registry, err := newRegistry(cfg.Actor, log)
	if err != nil {
		return err
	}

	client := harness.NewClient(cfg.Client, registry, harness.WithClientLog(log))

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return client.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	err = wg.Wait()
	if xcmd.IsInterrupted(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
