package inspect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/pkgmgr"
	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

// ErrLocalInspection means the local update query could not produce a result.
var ErrLocalInspection = errors.New("local inspection failed")

// Local inspects the machine the daemon runs on.
type Local struct {
	runner   system.Runner
	registry *pkgmgr.Registry
	unameCmd []string
}

func NewLocal(r system.Runner, reg *pkgmgr.Registry) *Local {
	return &Local{runner: r, registry: reg, unameCmd: []string{"uname", "-r"}}
}

// Backend returns the package backend managing this machine.
func (l *Local) Backend(ctx context.Context) (pkgmgr.Backend, error) {
	return l.registry.DetectFor(ctx, l.runner)
}

// InspectLocal lists pending updates including foreign packages and
// metadata, derives restart packages and compares running and installed
// kernels. Nothing partial is returned on failure.
func (l *Local) InspectLocal(ctx context.Context) (*api.CheckResult, error) {
	b, err := l.Backend(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalInspection, err)
	}
	updates, err := b.ListUpdates(ctx, l.runner, pkgmgr.QueryOptions{Foreign: true, Metadata: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalInspection, err)
	}
	result := api.NewCheckResult(updates, b.RestartPackages(updates), l.rebootInfo(ctx, b))
	log.Debug().
		Str("backend", b.Name()).
		Int("updates", len(result.Updates)).
		Bool("needs_restart", result.NeedsRestart).
		Msg("local inspection")
	return result, nil
}

func (l *Local) rebootInfo(ctx context.Context, b pkgmgr.Backend) *api.RebootInfo {
	out, err := l.runner.Run(ctx, l.unameCmd...)
	running := strings.TrimSpace(out)
	if err != nil || running == "" {
		log.Debug().Err(err).Msg("running kernel unknown")
		return nil
	}
	installed := b.InstalledKernel(ctx, l.runner, running)
	if installed == "" {
		return nil
	}
	info := api.NewRebootInfo(running, installed, b.SameKernel)
	return &info
}
