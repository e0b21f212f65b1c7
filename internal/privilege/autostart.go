package privilege

import (
	"errors"
	"fmt"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// ErrPrivilege wraps failures to change autostart or sudo settings.
var ErrPrivilege = errors.New("privilege change failed")

const ServiceName = "yay-sys-tray"

// userUnit is started with the graphical session rather than at boot.
const userUnit = `[Unit]
Description={{.Description}}
ConditionFileIsExecutable={{.Path|cmdEscape}}
After=graphical-session.target

[Service]
ExecStart={{.Path|cmdEscape}}{{range .Arguments}} {{.|cmd}}{{end}}
{{if .Restart}}Restart={{.Restart}}{{end}}
RestartSec=10
{{range $k, $v := .EnvVars -}}
Environment={{$k}}={{$v}}
{{end}}
[Install]
WantedBy=default.target
`

// ServiceConfig describes the daemon as a systemd user unit running the
// executable with args.
func ServiceConfig(args []string) *service.Config {
	return &service.Config{
		Name:        ServiceName,
		DisplayName: "yay-sys-tray",
		Description: "Package update checker for this machine and tagged Tailscale peers",
		Arguments:   args,
		Option: service.KeyValue{
			"UserService":   true,
			"SystemdScript": userUnit,
			"Restart":       "on-failure",
		},
	}
}

// ServiceControl is the part of service.Service autostart needs.
type ServiceControl interface {
	Install() error
	Uninstall() error
	Status() (service.Status, error)
}

// Autostart registers the daemon to start at login.
type Autostart struct {
	svc ServiceControl
}

func NewAutostart(svc ServiceControl) *Autostart {
	return &Autostart{svc: svc}
}

// Enabled reports whether the unit is installed.
func (a *Autostart) Enabled() (bool, error) {
	_, err := a.svc.Status()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, service.ErrNotInstalled):
		return false, nil
	default:
		return false, fmt.Errorf("%w: autostart status: %w", ErrPrivilege, err)
	}
}

// Set installs or removes the unit. Asking for the current state is a no-op.
func (a *Autostart) Set(enable bool) error {
	installed, err := a.Enabled()
	if err != nil {
		return err
	}
	if installed == enable {
		log.Debug().Bool("enabled", enable).Msg("autostart unchanged")
		return nil
	}
	if enable {
		if err := a.svc.Install(); err != nil {
			return fmt.Errorf("%w: install unit: %w", ErrPrivilege, err)
		}
	} else {
		if err := a.svc.Uninstall(); err != nil {
			return fmt.Errorf("%w: remove unit: %w", ErrPrivilege, err)
		}
	}
	log.Info().Bool("enabled", enable).Msg("autostart changed")
	return nil
}
