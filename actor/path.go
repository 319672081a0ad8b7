package actor

import (
	"fmt"
	"strings"
)

// Path is the routable identity of an actor: the listen address of its
// system plus its registered name. Paths compare by value.
type Path struct {
	// Addr is the host:port of the owning system's transport listener.
	Addr string
	// Name is the name the actor was spawned under.
	Name string
}

func (p Path) String() string {
	return p.Addr + "/" + p.Name
}

// IsZero reports whether the path carries no routing information.
func (p Path) IsZero() bool {
	return p.Addr == "" && p.Name == ""
}

// ParsePath parses the "addr/name" form produced by Path.String. The split
// happens at the last slash so bracketed IPv6 addresses survive intact.
func ParsePath(s string) (Path, error) {
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return Path{}, fmt.Errorf("invalid actor path %q: want addr/name", s)
	}
	return Path{Addr: s[:idx], Name: s[idx+1:]}, nil
}
