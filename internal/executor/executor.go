package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/pkgmgr"
	"github.com/yay-sys-tray/yst/internal/ssh"
	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

var (
	ErrUpdateFailed    = errors.New("update failed")
	ErrInvalidArgument = errors.New("invalid argument")
)

// LocalRunner runs commands on this machine and can launch a terminal
// without waiting for it.
type LocalRunner interface {
	system.Runner
	Start(args ...string) (<-chan error, error)
}

// Operation names what an executor call did, for the finish hook.
type Operation string

const (
	OpLocalUpdate  Operation = "local_update"
	OpRemoteUpdate Operation = "remote_update"
	OpRemove       Operation = "remove"
)

type HostConnector interface {
	Connect(ctx context.Context, hostname string, timeout time.Duration) (ssh.Host, error)
}

// Executor applies upgrades and removals, either in a terminal the user
// watches or headless through passwordless sudo.
type Executor struct {
	local     LocalRunner
	connector HostConnector
	registry  *pkgmgr.Registry
	fallback  string

	mu         sync.Mutex
	onFinished func(Operation)
}

func New(local LocalRunner, c HostConnector, reg *pkgmgr.Registry) *Executor {
	return &Executor{local: local, connector: c, registry: reg, fallback: "pacman"}
}

// OnFinished registers fn to run once an operation has ended, whether it
// succeeded or not. Headless operations end before their call returns;
// interactive ones end when the user closes the terminal. Calls rejected
// before anything ran do not trigger it.
func (e *Executor) OnFinished(fn func(Operation)) {
	e.mu.Lock()
	e.onFinished = fn
	e.mu.Unlock()
}

func (e *Executor) finished(op Operation) {
	e.mu.Lock()
	fn := e.onFinished
	e.mu.Unlock()
	if fn != nil {
		fn(op)
	}
}

// ApplyLocal upgrades this machine and reboots it afterwards when restart is
// set.
func (e *Executor) ApplyLocal(ctx context.Context, cfg api.AppConfig, restart bool) error {
	b, err := e.registry.DetectFor(ctx, e.local)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	logger := log.With().Str("backend", b.Name()).Bool("restart", restart).Logger()

	if Headless(cfg.Terminal) {
		logger.Info().Msg("headless local upgrade")
		defer e.finished(OpLocalUpdate)
		if _, err := e.local.Run(ctx, b.UpgradeCommand(pkgmgr.UpgradeOptions{Headless: true})...); err != nil {
			return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
		}
		if restart {
			if _, err := e.local.Run(ctx, "systemctl", "reboot"); err != nil {
				return fmt.Errorf("%w: reboot: %w", ErrUpdateFailed, err)
			}
		}
		return nil
	}

	line := ssh.ShellQuote(b.UpgradeCommand(pkgmgr.UpgradeOptions{NoConfirm: cfg.NoConfirm, Foreign: true}))
	if restart {
		line += " && sudo reboot"
	}
	logger.Info().Str("terminal", cfg.Terminal).Msg("interactive local upgrade")
	return e.launch(OpLocalUpdate, cfg.Terminal, "sh", "-c", line)
}

// ApplyRemote upgrades hostname. Headless mode reuses the inspection SSH
// channel; interactive mode opens ssh in a terminal.
func (e *Executor) ApplyRemote(ctx context.Context, cfg api.AppConfig, hostname string, restart bool) error {
	if hostname == "" || !pkgmgr.ValidPackageName(hostname) {
		return fmt.Errorf("%w: hostname %q", ErrInvalidArgument, hostname)
	}
	logger := log.With().Str("host", hostname).Bool("restart", restart).Logger()
	timeout := time.Duration(cfg.TailscaleTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(api.DefaultConfig().TailscaleTimeout) * time.Second
	}

	if !Headless(cfg.Terminal) {
		b := e.remoteBackend(ctx, hostname, timeout)
		line := ssh.ShellQuote(b.UpgradeCommand(pkgmgr.UpgradeOptions{NoConfirm: cfg.NoConfirm}))
		if restart {
			line += " && sudo reboot"
		}
		logger.Info().Str("terminal", cfg.Terminal).Msg("interactive remote upgrade")
		return e.launch(OpRemoteUpdate, cfg.Terminal, "ssh", "-t", hostname, line)
	}

	host, err := e.connector.Connect(ctx, hostname, timeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpdateFailed, hostname, err)
	}
	defer host.Close()
	defer e.finished(OpRemoteUpdate)

	b, err := e.registry.DetectFor(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpdateFailed, hostname, err)
	}
	logger.Info().Str("backend", b.Name()).Msg("headless remote upgrade")
	if _, err := host.Run(ctx, b.UpgradeCommand(pkgmgr.UpgradeOptions{Headless: true})...); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpdateFailed, hostname, err)
	}
	if restart {
		// the host drops the connection while rebooting; only a refusal counts
		_, err := host.Run(ctx, "sudo", "-n", "reboot")
		if system.ExitCode(err) > 0 {
			return fmt.Errorf("%w: %s: reboot: %w", ErrUpdateFailed, hostname, err)
		}
	}
	return nil
}

// Remove uninstalls pkg locally with removal flags such as "Rns".
func (e *Executor) Remove(ctx context.Context, cfg api.AppConfig, pkg, flags string) error {
	if !pkgmgr.ValidPackageName(pkg) {
		return fmt.Errorf("%w: package %q", ErrInvalidArgument, pkg)
	}
	if !pkgmgr.ValidRemoveFlags(flags) {
		return fmt.Errorf("%w: flags %q", ErrInvalidArgument, flags)
	}
	b, err := e.registry.DetectFor(ctx, e.local)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	headless := Headless(cfg.Terminal)
	cmd, err := b.RemoveCommand(pkg, flags, pkgmgr.UpgradeOptions{
		NoConfirm: cfg.NoConfirm,
		Headless:  headless,
		Foreign:   true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	log.Info().Str("package", pkg).Str("flags", flags).Bool("headless", headless).Msg("remove")
	if headless {
		defer e.finished(OpRemove)
		if _, err := e.local.Run(ctx, cmd...); err != nil {
			return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
		}
		return nil
	}
	return e.launch(OpRemove, cfg.Terminal, "sh", "-c", ssh.ShellQuote(cmd))
}

// remoteBackend picks the backend of hostname for building an interactive
// command line, assuming the default when the host cannot be probed.
func (e *Executor) remoteBackend(ctx context.Context, hostname string, timeout time.Duration) pkgmgr.Backend {
	host, err := e.connector.Connect(ctx, hostname, timeout)
	if err == nil {
		defer host.Close()
		if b, err := e.registry.DetectFor(ctx, host); err == nil {
			return b
		}
	}
	log.Debug().Str("host", hostname).Msgf("backend unknown, assuming %s", e.fallback)
	b, _ := e.registry.Get(e.fallback)
	if b == nil {
		b = pkgmgr.NewPacman()
	}
	return b
}

// launch opens the terminal and returns once it is running. The exit status
// of a terminal says nothing reliable about the command inside, so it is
// only logged.
func (e *Executor) launch(op Operation, terminal string, args ...string) error {
	argv := append(TerminalPrefix(terminal), args...)
	done, err := e.local.Start(argv...)
	if err != nil {
		return fmt.Errorf("%w: launch %s: %w", ErrUpdateFailed, terminal, err)
	}
	go func() {
		if err := <-done; err != nil {
			log.Debug().Err(err).Str("op", string(op)).Msg("terminal exited")
		}
		e.finished(op)
	}()
	return nil
}
