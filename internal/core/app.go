package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/discovery"
	"github.com/yay-sys-tray/yst/internal/executor"
	"github.com/yay-sys-tray/yst/internal/pkgmgr"
	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

// ErrInvalidConfig rejects a config passed to SaveConfig.
var ErrInvalidConfig = errors.New("invalid config")

// FirstCheckDelay is how long after start the first check runs.
const FirstCheckDelay = 2 * time.Second

// selfPackages are the names the daemon itself is packaged under.
var selfPackages = map[string]bool{"yay-sys-tray-git": true, "yay-sys-tray": true, "yst": true}

type Executor interface {
	ApplyLocal(ctx context.Context, cfg api.AppConfig, restart bool) error
	ApplyRemote(ctx context.Context, cfg api.AppConfig, hostname string, restart bool) error
	Remove(ctx context.Context, cfg api.AppConfig, pkg, flags string) error
	OnFinished(fn func(executor.Operation))
}

type AutostartManager interface {
	Set(enable bool) error
}

type PasswordlessManager interface {
	Set(ctx context.Context, enable bool, binary string) (bool, error)
}

// Deps are the collaborators of an App.
type Deps struct {
	Store      Store
	Runner     system.Runner
	Registry   *pkgmgr.Registry
	Local      LocalInspector
	Remote     RemoteInspector
	Discoverer discovery.Discoverer
	Executor   Executor
	Autostart  AutostartManager
	Sudoers    PasswordlessManager
	// Restart restarts the daemon after it upgraded its own package. When
	// nil a normal recheck follows instead.
	Restart func() error
	Version string
}

// App is the daemon: it owns the live config, the orchestrator and the
// periodic scheduler, and serves every boundary call.
type App struct {
	deps Deps
	orch *Orchestrator

	cfgMu sync.RWMutex
	cfg   api.AppConfig

	mu          sync.Mutex
	prevTotal   int
	selfUpdate  bool
	selfPending bool

	firstDelay time.Duration
	reschedule chan time.Duration
}

// NewApp loads the config from the store. An unreadable store is logged and
// the daemon continues on defaults.
func NewApp(d Deps) *App {
	if d.Registry == nil {
		d.Registry = pkgmgr.DefaultRegistry()
	}
	cfg, err := d.Store.Load()
	if err != nil {
		log.Error().Err(err).Msg("load config, using defaults")
		cfg = Defaults()
	}
	a := &App{
		deps:       d,
		cfg:        cfg,
		firstDelay: FirstCheckDelay,
		reschedule: make(chan time.Duration, 1),
	}
	a.orch = NewOrchestrator(d.Local, d.Remote, d.Discoverer, a.GetConfig)
	a.orch.OnComplete(a.checkFinished)
	if d.Executor != nil {
		d.Executor.OnFinished(a.executorFinished)
	}
	return a
}

func (a *App) Orchestrator() *Orchestrator { return a.orch }

// Run schedules checks until ctx is done, then refuses new checks and waits
// for the one in flight. The first check runs shortly after start; later ones follow each
// completed check by check_interval_minutes, or by recheck_interval_minutes
// when the local inspection failed.
func (a *App) Run(ctx context.Context) {
	timer := time.NewTimer(a.firstDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped, waiting for running check")
			a.orch.Close()
			return
		case d := <-a.reschedule:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			log.Debug().Dur("in", d).Msg("next check scheduled")
		case <-timer.C:
			if !a.orch.StartCheck() {
				log.Debug().Msg("scheduled check skipped, one is running")
			}
			// rescheduled from the completion; this is a fallback
			timer.Reset(a.interval(false))
		}
	}
}

func (a *App) interval(localFailed bool) time.Duration {
	cfg := a.GetConfig()
	if localFailed {
		return time.Duration(cfg.RecheckIntervalMinutes) * time.Minute
	}
	return time.Duration(cfg.CheckIntervalMinutes) * time.Minute
}

func (a *App) checkFinished(res *api.FullCheckResult) {
	cfg := a.GetConfig()
	total := res.TotalUpdates()

	a.mu.Lock()
	prev := a.prevTotal
	a.prevTotal = total
	// the cached result may be invalidated before the upgrade runs
	if res.Local != nil {
		a.selfUpdate = containsSelf(res)
	}
	a.mu.Unlock()

	if cfg.Notify.ShouldNotify(prev, total) {
		log.Info().Str("run_id", res.RunID).Int("updates", total).Int("previous", prev).Msg("updates available")
	}

	next := a.interval(cfg.LocalEnabled && res.LocalError != "")
	select {
	case <-a.reschedule:
	default:
	}
	a.reschedule <- next
}

func (a *App) executorFinished(op executor.Operation) {
	a.mu.Lock()
	self := op == executor.OpLocalUpdate && a.selfPending
	if op == executor.OpLocalUpdate {
		a.selfPending = false
	}
	a.mu.Unlock()

	if self && a.deps.Restart != nil {
		log.Info().Msg("daemon package upgraded, restarting service")
		err := a.deps.Restart()
		if err == nil {
			return
		}
		log.Error().Err(err).Msg("restart service")
	}
	a.orch.Invalidate()
	a.orch.StartCheck()
}

// GetConfig returns the live config.
func (a *App) GetConfig() api.AppConfig {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// SaveConfig validates, persists and then replaces the live config. A
// running check keeps the snapshot it started with.
func (a *App) SaveConfig(cfg api.AppConfig) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	if err := a.deps.Store.Save(cfg); err != nil {
		return err
	}
	a.cfg = cfg
	log.Info().Msg("config saved")
	return nil
}

func (a *App) StartCheck() bool { return a.orch.StartCheck() }

func (a *App) CheckResult() *api.FullCheckResult { return a.orch.Result() }

// RunLocalUpdate upgrades this machine. The upgrade is not cancelled when
// the caller goes away.
func (a *App) RunLocalUpdate(ctx context.Context, restart bool) error {
	a.mu.Lock()
	a.selfPending = a.selfUpdate
	a.mu.Unlock()
	return a.deps.Executor.ApplyLocal(context.WithoutCancel(ctx), a.GetConfig(), restart)
}

func (a *App) RunRemoteUpdate(ctx context.Context, hostname string, restart bool) error {
	return a.deps.Executor.ApplyRemote(context.WithoutCancel(ctx), a.GetConfig(), hostname, restart)
}

func (a *App) RunRemove(ctx context.Context, pkg, flags string) error {
	return a.deps.Executor.Remove(context.WithoutCancel(ctx), a.GetConfig(), pkg, flags)
}

func (a *App) IsArchLinux(ctx context.Context) bool {
	return system.IsArchLinux(ctx, a.deps.Runner)
}

// Pactree returns the dependency tree text of pkg on this machine.
func (a *App) Pactree(ctx context.Context, pkg string, reverse bool) (string, error) {
	if !pkgmgr.ValidPackageName(pkg) {
		return "", fmt.Errorf("%w: package %q", pkgmgr.ErrInvalidArgument, pkg)
	}
	b, err := a.deps.Registry.DetectFor(ctx, a.deps.Runner)
	if err != nil {
		return "", err
	}
	return b.DependencyTree(ctx, a.deps.Runner, pkg, reverse)
}

func (a *App) TailscaleTags(ctx context.Context) []string {
	return a.deps.Discoverer.AllTags(ctx)
}

func (a *App) ManageAutostart(enable bool) error {
	return a.deps.Autostart.Set(enable)
}

// ManagePasswordless returns the effective state after the change, which
// may differ from enable.
func (a *App) ManagePasswordless(ctx context.Context, enable bool) (bool, error) {
	binary := "/usr/bin/pacman"
	if b, err := a.deps.Registry.DetectFor(ctx, a.deps.Runner); err == nil {
		binary = b.PrivilegedBinary()
	}
	return a.deps.Sudoers.Set(ctx, enable, binary)
}

func (a *App) Version() string { return a.deps.Version }

func containsSelf(res *api.FullCheckResult) bool {
	if res == nil || res.Local == nil {
		return false
	}
	for _, u := range res.Local.Updates {
		if selfPackages[u.Package] {
			return true
		}
	}
	return false
}
