package main

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yay-sys-tray/yst/internal/core"
	"github.com/yay-sys-tray/yst/internal/discovery"
	"github.com/yay-sys-tray/yst/internal/executor"
	"github.com/yay-sys-tray/yst/internal/inspect"
	"github.com/yay-sys-tray/yst/internal/ipc"
	"github.com/yay-sys-tray/yst/internal/pkgmgr"
	"github.com/yay-sys-tray/yst/internal/privilege"
	"github.com/yay-sys-tray/yst/internal/ssh"
	"github.com/yay-sys-tray/yst/internal/system"
)

const shutdownTimeout = 5 * time.Second

var errInteractive = errors.New("not running under the service manager")

// daemon is the service program: the scheduler and the socket server.
type daemon struct {
	socket string
	app    *core.App
	srv    *ipc.Server
	store  core.Store

	cancel context.CancelFunc
	done   chan struct{}
}

func (d *daemon) Start(s service.Service) error {
	l, err := ipc.Listen(d.socket)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		d.app.Run(ctx)
	}()
	go d.serve(l)
	log.Info().Str("version", version).Msg("daemon started")
	return nil
}

func (d *daemon) serve(l net.Listener) {
	if err := d.srv.Serve(l); err != nil {
		log.Error().Err(err).Msg("ipc server stopped")
	}
}

// Stop closes the socket, then waits for the running check.
func (d *daemon) Stop(s service.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("ipc shutdown")
	}
	d.cancel()
	<-d.done
	if c, ok := d.store.(io.Closer); ok {
		_ = c.Close()
	}
	st := d.app.Orchestrator().Metrics()
	log.Info().
		Int64("runs", st.Runs).
		Int64("local_errors", st.LocalErrors).
		Int64("hosts", st.Hosts).
		Int64("host_errors", st.HostErrors).
		Dur("check_time", st.Duration).
		Msg("daemon stopped")
	return nil
}

func openStore(path string) (core.Store, error) {
	switch filepath.Ext(path) {
	case ".db", ".sqlite":
		return core.NewSQLiteStore(path)
	default:
		return core.NewFileStore(path), nil
	}
}

// wire builds every component around the local machine. svc is the
// service running d.
func (d *daemon) wire(svc service.Service) error {
	runner := &system.LocalRunner{}
	reg := pkgmgr.DefaultRegistry()
	connector := ssh.NewConnector()

	sudoers, err := privilege.NewSudoers(runner)
	if err != nil {
		return err
	}

	d.app = core.NewApp(core.Deps{
		Store:      d.store,
		Runner:     runner,
		Registry:   reg,
		Local:      inspect.NewLocal(runner, reg),
		Remote:     inspect.NewRemote(connector, reg),
		Discoverer: discovery.NewTailscale(runner),
		Executor:   executor.New(runner, connector, reg),
		Autostart:  privilege.NewAutostart(svc),
		Sudoers:    sudoers,
		Restart: func() error {
			// a second instance would be started beside this one
			if service.Interactive() {
				return errInteractive
			}
			return svc.Restart()
		},
		Version: version,
	})
	d.srv = ipc.NewServer(d.app)
	return nil
}

// Run the daemon in the foreground or under systemd
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the update-check daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings.GetString("store"))
			if err != nil {
				return err
			}
			d := &daemon{socket: settings.GetString("socket"), store: store}
			svc, err := service.New(d, privilege.ServiceConfig([]string{"serve"}))
			if err != nil {
				return err
			}
			if err := d.wire(svc); err != nil {
				return err
			}
			return svc.Run()
		},
	}
}
