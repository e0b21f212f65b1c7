package discovery

import (
	"context"
	"errors"
)

var (
	// ErrDiscovery wraps every failure to obtain the peer list.
	ErrDiscovery = errors.New("host discovery failed")
	// ErrDiscoveryTimeout is returned when the peer list did not arrive
	// before the caller's deadline.
	ErrDiscoveryTimeout = errors.New("host discovery timed out")
)

// Discoverer resolves tags to reachable hostnames.
type Discoverer interface {
	// DiscoverHosts returns sorted, unique hostnames of online peers that
	// carry every tag. No tags means no hosts.
	DiscoverHosts(ctx context.Context, tags []string) ([]string, error)
	// AllTags lists every tag seen in the network, sorted. Failures yield
	// an empty list.
	AllTags(ctx context.Context) []string
}
