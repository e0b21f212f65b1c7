package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

// ErrConfigIO reports a config that exists but cannot be read, parsed or
// written.
var ErrConfigIO = errors.New("config i/o")

const appDirName = "yay-sys-tray"

// Store persists the application config. Save replaces the stored record as
// a whole.
type Store interface {
	Load() (api.AppConfig, error)
	Save(api.AppConfig) error
}

// ConfigDir resolves $XDG_CONFIG_HOME/yay-sys-tray or ~/.config/yay-sys-tray.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDirName)
}

// terminal emulators in detection order
var knownTerminals = []string{"kitty", "alacritty", "konsole", "foot", "xterm"}

// DetectTerminal returns the first installed known terminal, or "".
func DetectTerminal(lookPath func(string) bool) string {
	for _, t := range knownTerminals {
		if lookPath(t) {
			return t
		}
	}
	return ""
}

// Defaults is the first-launch config with the terminal detected on this
// machine.
func Defaults() api.AppConfig {
	cfg := api.DefaultConfig()
	cfg.Terminal = DetectTerminal(system.LookPath)
	return cfg
}

// ParseTags splits the comma-separated tag setting. A legacy "tag:" prefix
// is stripped, blanks and duplicates are dropped.
func ParseTags(s string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimPrefix(strings.TrimSpace(t), "tag:")
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// FileStore keeps the config as YAML on disk.
type FileStore struct {
	Path     string
	defaults func() api.AppConfig
}

// NewFileStore uses path, or config.yaml in ConfigDir when path is empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	return &FileStore{Path: path, defaults: Defaults}
}

// Load returns defaults when the file does not exist. Keys missing from the
// file keep their default value.
func (s *FileStore) Load() (api.AppConfig, error) {
	cfg := s.defaults()
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return api.AppConfig{}, fmt.Errorf("%w: read %s: %w", ErrConfigIO, s.Path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return api.AppConfig{}, fmt.Errorf("%w: parse %s: %w", ErrConfigIO, s.Path, err)
	}
	return sanitize(cfg), nil
}

// Save writes to a temporary file in the same directory and renames it over
// the target, so a crash leaves either the old or the new config. Configs
// that Load would have to correct are refused.
func (s *FileStore) Save(cfg api.AppConfig) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrConfigIO, err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", ErrConfigIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %w", ErrConfigIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %w", ErrConfigIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrConfigIO, err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("%w: rename: %w", ErrConfigIO, err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	log.Debug().Str("path", s.Path).Msg("config saved")
	return nil
}

// sanitize replaces values the daemon cannot work with.
func sanitize(cfg api.AppConfig) api.AppConfig {
	def := api.DefaultConfig()
	if !cfg.Notify.Valid() {
		log.Warn().Str("notify", string(cfg.Notify)).Msg("unknown notify mode, using default")
		cfg.Notify = def.Notify
	}
	if cfg.CheckIntervalMinutes < 1 {
		cfg.CheckIntervalMinutes = def.CheckIntervalMinutes
	}
	if cfg.RecheckIntervalMinutes < 1 {
		cfg.RecheckIntervalMinutes = def.RecheckIntervalMinutes
	}
	if cfg.TailscaleTimeout < 1 {
		cfg.TailscaleTimeout = def.TailscaleTimeout
	}
	return cfg
}

// Validate rejects configs that sanitize would have to change.
func Validate(cfg api.AppConfig) error {
	switch {
	case !cfg.Notify.Valid():
		return fmt.Errorf("invalid notify mode %q", cfg.Notify)
	case cfg.CheckIntervalMinutes < 1:
		return fmt.Errorf("check_interval_minutes must be at least 1")
	case cfg.RecheckIntervalMinutes < 1:
		return fmt.Errorf("recheck_interval_minutes must be at least 1")
	case cfg.TailscaleTimeout < 1:
		return fmt.Errorf("tailscale_timeout must be at least 1")
	}
	return nil
}
