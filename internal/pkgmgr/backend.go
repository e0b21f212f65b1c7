package pkgmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

var (
	// ErrUnsupported is returned when no backend manages the target OS.
	ErrUnsupported = errors.New("no supported package manager")
	// ErrInvalidArgument rejects package names and flags that cannot be
	// passed safely to the package manager.
	ErrInvalidArgument = errors.New("invalid argument")
)

// QueryOptions selects how much a backend gathers when listing updates.
type QueryOptions struct {
	// Foreign includes packages from outside the distribution repositories.
	Foreign bool
	// Metadata fills description, repository and URL.
	Metadata bool
}

// UpgradeOptions shapes the upgrade command line.
type UpgradeOptions struct {
	NoConfirm bool
	// Headless means no terminal is attached: sudo must not prompt and the
	// package manager must not ask for confirmation.
	Headless bool
	// Foreign upgrades through the foreign package helper when the backend
	// has one.
	Foreign bool
}

// Backend is the package-manager capability for one OS family. Every method
// that touches the machine goes through the supplied runner, so the same
// backend serves local and remote inspection.
type Backend interface {
	Name() string
	Supports(rel system.OSRelease) bool

	// ListUpdates fails only if the primary update query cannot run.
	// Metadata lookups are best-effort.
	ListUpdates(ctx context.Context, r system.Runner, opts QueryOptions) ([]api.UpdateInfo, error)
	RestartPackages(updates []api.UpdateInfo) []string

	// InstalledKernel returns the most recently installed kernel matching
	// the flavour of running, or "" when it cannot be determined.
	InstalledKernel(ctx context.Context, r system.Runner, running string) string
	SameKernel(running, installed string) bool

	DependencyTree(ctx context.Context, r system.Runner, pkg string, reverse bool) (string, error)
	UpgradeCommand(opts UpgradeOptions) []string
	RemoveCommand(pkg, flags string, opts UpgradeOptions) ([]string, error)
	// PrivilegedBinary is the command a passwordless sudo rule must cover.
	PrivilegedBinary() string
}

// Registry holds backends in detection order.
type Registry struct {
	backends []Backend
	byName   map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Backend{}}
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPacman())
	r.Register(NewApt())
	return r
}

func (r *Registry) Register(b Backend) {
	if _, ok := r.byName[b.Name()]; !ok {
		r.backends = append(r.backends, b)
	}
	r.byName[b.Name()] = b
}

func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("backend not registered: %s", name)
	}
	return b, nil
}

// Detect picks the first backend supporting rel.
func (r *Registry) Detect(rel system.OSRelease) (Backend, error) {
	for _, b := range r.backends {
		if b.Supports(rel) {
			return b, nil
		}
	}
	id := rel.ID()
	if id == "" {
		id = "unknown"
	}
	return nil, fmt.Errorf("%w for %s", ErrUnsupported, id)
}

// DetectFor reads os-release through runner and detects its backend.
func (r *Registry) DetectFor(ctx context.Context, runner system.Runner) (Backend, error) {
	return r.Detect(system.ReadOSRelease(ctx, runner))
}
