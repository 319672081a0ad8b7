package xsync

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Latch is a one-shot barrier. It starts closed and is released exactly once;
// any number of goroutines may wait for the release.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Release opens the latch. Subsequent calls are no-ops.
func (m *Latch) Release() {
	m.once.Do(func() { close(m.ch) })
}

// Released reports whether the latch has been released.
func (m *Latch) Released() bool {
	select {
	case <-m.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is released or the context is canceled.
func (m *Latch) Wait(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks until the latch is released or the timeout expires.
func (m *Latch) WaitTimeout(d time.Duration) error {
	select {
	case <-m.ch:
		return nil
	case <-time.After(d):
		return fmt.Errorf("latch was not released within %s: %w", d, context.DeadlineExceeded)
	}
}
