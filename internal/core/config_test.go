package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yay-sys-tray/yst/pkg/api"
)

func customConfig() api.AppConfig {
	cfg := api.DefaultConfig()
	cfg.CheckIntervalMinutes = 30
	cfg.Notify = api.NotifyAlways
	cfg.Terminal = "foot"
	cfg.NoConfirm = true
	cfg.TailscaleEnabled = true
	cfg.TailscaleTags = "server, tag:arch"
	cfg.TailscaleTimeout = 4
	return cfg
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nested", "config.yaml"))
	want := customConfig()
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStoreMissingFileGivesDefaults(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "config.yaml"))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, api.DefaultConfig().CheckIntervalMinutes, got.CheckIntervalMinutes)
	assert.Equal(t, api.NotifyNewOnly, got.Notify)
}

func TestFileStorePartialAndInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notify: sometimes\ncheck_interval_minutes: 0\ntheme: dark\n"), 0o600))

	got, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, api.NotifyNewOnly, got.Notify)
	assert.Equal(t, 60, got.CheckIntervalMinutes)
	assert.Equal(t, "dark", got.Theme)
	assert.Equal(t, "server,arch", got.TailscaleTags)

	require.NoError(t, os.WriteFile(path, []byte("notify: [\n"), 0o600))
	_, err = NewFileStore(path).Load()
	assert.ErrorIs(t, err, ErrConfigIO)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 60, got.CheckIntervalMinutes, "empty store yields defaults")

	want := customConfig()
	require.NoError(t, s.Save(want))
	want.Theme = "dark"
	require.NoError(t, s.Save(want))

	got, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoresRefuseInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	sqlite, err := NewSQLiteStore(filepath.Join(dir, "config.db"))
	require.NoError(t, err)
	defer sqlite.Close()

	stores := map[string]Store{
		"yaml":   NewFileStore(filepath.Join(dir, "config.yaml")),
		"sqlite": sqlite,
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			want := customConfig()
			require.NoError(t, s.Save(want))

			bad := want
			bad.CheckIntervalMinutes = 0
			bad.Notify = ""
			assert.ErrorIs(t, s.Save(bad), ErrInvalidConfig)

			got, err := s.Load()
			require.NoError(t, err)
			assert.Equal(t, want, got, "refused save leaves the stored config")
		})
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"server,arch", []string{"server", "arch"}},
		{" server , tag:arch ,,server", []string{"server", "arch"}},
		{"", []string{}},
		{" , ", []string{}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseTags(tc.in), tc.in)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(api.DefaultConfig()))

	bad := api.DefaultConfig()
	bad.Notify = "loud"
	assert.Error(t, Validate(bad))

	bad = api.DefaultConfig()
	bad.TailscaleTimeout = 0
	assert.Error(t, Validate(bad))
}

func TestDetectTerminal(t *testing.T) {
	only := func(names ...string) func(string) bool {
		return func(n string) bool {
			for _, x := range names {
				if x == n {
					return true
				}
			}
			return false
		}
	}
	assert.Equal(t, "kitty", DetectTerminal(only("xterm", "kitty")))
	assert.Equal(t, "foot", DetectTerminal(only("foot")))
	assert.Equal(t, "", DetectTerminal(only()))
}
