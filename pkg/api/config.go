package api

// NotifyMode controls when a finished check is worth a notification.
type NotifyMode string

const (
	NotifyAlways  NotifyMode = "always"
	NotifyNewOnly NotifyMode = "new_only"
	NotifyNever   NotifyMode = "never"
)

func (m NotifyMode) Valid() bool {
	switch m {
	case NotifyAlways, NotifyNewOnly, NotifyNever:
		return true
	}
	return false
}

// ShouldNotify decides whether a run that found total updates, after a run
// that found previous, deserves a notification.
func (m NotifyMode) ShouldNotify(previous, total int) bool {
	switch m {
	case NotifyAlways:
		return total > 0
	case NotifyNewOnly:
		return total > previous
	default:
		return false
	}
}

// AppConfig holds every user-tunable setting of the daemon. It is always
// replaced as a whole.
type AppConfig struct {
	CheckIntervalMinutes   int        `json:"check_interval_minutes" yaml:"check_interval_minutes"`
	Notify                 NotifyMode `json:"notify" yaml:"notify"`
	Terminal               string     `json:"terminal" yaml:"terminal"`
	NoConfirm              bool       `json:"noconfirm" yaml:"noconfirm"`
	Autostart              bool       `json:"autostart" yaml:"autostart"`
	Animations             bool       `json:"animations" yaml:"animations"`
	Theme                  string     `json:"theme" yaml:"theme"`
	RecheckIntervalMinutes int        `json:"recheck_interval_minutes" yaml:"recheck_interval_minutes"`
	PasswordlessUpdates    bool       `json:"passwordless_updates" yaml:"passwordless_updates"`
	LocalEnabled           bool       `json:"local_enabled" yaml:"local_enabled"`
	TailscaleEnabled       bool       `json:"tailscale_enabled" yaml:"tailscale_enabled"`
	TailscaleTags          string     `json:"tailscale_tags" yaml:"tailscale_tags"`
	TailscaleTimeout       int        `json:"tailscale_timeout" yaml:"tailscale_timeout"`
}

// DefaultConfig returns the first-launch configuration. The terminal is left
// empty; callers detect one when they need it.
func DefaultConfig() AppConfig {
	return AppConfig{
		CheckIntervalMinutes:   60,
		Notify:                 NotifyNewOnly,
		Animations:             true,
		Theme:                  "system",
		RecheckIntervalMinutes: 5,
		LocalEnabled:           true,
		TailscaleTags:          "server,arch",
		TailscaleTimeout:       10,
	}
}
