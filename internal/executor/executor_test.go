package executor

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yay-sys-tray/yst/internal/pkgmgr"
	"github.com/yay-sys-tray/yst/internal/ssh"
	"github.com/yay-sys-tray/yst/internal/ssh/sshtest"
	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

type fakeRunner struct {
	mu       sync.Mutex
	outputs  map[string]string
	errors   map[string]error
	files    map[string]string
	calls    []string
	started  [][]string
	startErr error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: map[string]string{},
		errors:  map[string]error{},
		files:   map[string]string{"/etc/os-release": "NAME=\"Arch Linux\"\nID=arch\n"},
	}
}

func (f *fakeRunner) on(cmd, out string, err error) *fakeRunner {
	f.outputs[cmd] = out
	f.errors[cmd] = err
	return f
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	out, ok := f.outputs[key]
	if !ok {
		return "", &system.ExitError{Args: args, Code: 127}
	}
	return out, f.errors[key]
}

func (f *fakeRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	if v, ok := f.files[path]; ok {
		return []byte(v), nil
	}
	return nil, os.ErrNotExist
}

func (f *fakeRunner) Start(args ...string) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, args)
	done := make(chan error, 1)
	done <- nil
	return done, nil
}

type finishRecorder struct {
	ops chan Operation
}

func recordFinished(e *Executor) *finishRecorder {
	r := &finishRecorder{ops: make(chan Operation, 8)}
	e.OnFinished(func(op Operation) { r.ops <- op })
	return r
}

func (r *finishRecorder) next(t *testing.T) Operation {
	t.Helper()
	select {
	case op := <-r.ops:
		return op
	case <-time.After(5 * time.Second):
		t.Fatal("operation never finished")
		return ""
	}
}

func (r *finishRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case op := <-r.ops:
		t.Fatalf("unexpected finish of %s", op)
	default:
	}
}

func (f *fakeRunner) Close() error { return nil }

type fakeConnector struct {
	hosts map[string]*fakeRunner
}

func (c *fakeConnector) Connect(_ context.Context, hostname string, _ time.Duration) (ssh.Host, error) {
	if h, ok := c.hosts[hostname]; ok {
		return h, nil
	}
	return nil, errors.New("dial tcp: connection refused")
}

func headless() api.AppConfig {
	cfg := api.DefaultConfig()
	cfg.Terminal = "none"
	return cfg
}

func TestTerminalPrefix(t *testing.T) {
	tests := []struct {
		terminal string
		want     []string
	}{
		{"kitty", []string{"kitty", "--hold"}},
		{"konsole", []string{"konsole", "--hold", "-e"}},
		{"alacritty", []string{"alacritty", "--hold", "-e"}},
		{"foot", []string{"foot", "--hold"}},
		{"xterm", []string{"xterm", "-hold", "-e"}},
		{"/usr/bin/kitty", []string{"/usr/bin/kitty", "--hold"}},
		{"gnome-terminal", []string{"gnome-terminal", "-e"}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, TerminalPrefix(tc.terminal), tc.terminal)
	}
	assert.True(t, Headless(""))
	assert.True(t, Headless("none"))
	assert.False(t, Headless("kitty"))
}

func TestApplyLocalHeadless(t *testing.T) {
	r := newFakeRunner().
		on("sudo -n pacman -Syu --noconfirm", "", nil).
		on("systemctl reboot", "", nil)
	e := New(r, &fakeConnector{}, pkgmgr.DefaultRegistry())
	fin := recordFinished(e)

	require.NoError(t, e.ApplyLocal(context.Background(), headless(), true))
	assert.Equal(t, []string{"sudo -n pacman -Syu --noconfirm", "systemctl reboot"}, r.calls)
	assert.Empty(t, r.started)
	assert.Equal(t, OpLocalUpdate, fin.next(t))
}

func TestApplyLocalHeadlessFailure(t *testing.T) {
	r := newFakeRunner().
		on("sudo -n pacman -Syu --noconfirm", "", &system.ExitError{Code: 1, Stderr: "sudo: a password is required"})
	e := New(r, &fakeConnector{}, pkgmgr.DefaultRegistry())
	fin := recordFinished(e)

	err := e.ApplyLocal(context.Background(), headless(), true)
	assert.Equal(t, OpLocalUpdate, fin.next(t), "a failed upgrade still changed the machine")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.Contains(t, err.Error(), "password is required")
	assert.NotContains(t, r.calls, "systemctl reboot")
}

func TestApplyLocalInteractive(t *testing.T) {
	r := newFakeRunner()
	e := New(r, &fakeConnector{}, pkgmgr.DefaultRegistry())
	fin := recordFinished(e)
	cfg := api.DefaultConfig()
	cfg.Terminal = "kitty"
	cfg.NoConfirm = true

	require.NoError(t, e.ApplyLocal(context.Background(), cfg, true))
	assert.Equal(t, OpLocalUpdate, fin.next(t))
	require.Len(t, r.started, 1)
	argv := r.started[0]
	assert.Equal(t, []string{"kitty", "--hold", "sh", "-c"}, argv[:4])
	assert.True(t, strings.HasSuffix(argv[4], "-Syu --noconfirm && sudo reboot"), argv[4])
	assert.Empty(t, r.calls)
}

func TestApplyLocalLaunchFailure(t *testing.T) {
	r := newFakeRunner()
	r.startErr = errors.New("executable file not found")
	e := New(r, &fakeConnector{}, pkgmgr.DefaultRegistry())
	fin := recordFinished(e)
	cfg := api.DefaultConfig()
	cfg.Terminal = "xterm"

	err := e.ApplyLocal(context.Background(), cfg, false)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	fin.none(t)
}

func TestApplyLocalUnsupported(t *testing.T) {
	r := newFakeRunner()
	r.files["/etc/os-release"] = "ID=fedora\n"
	e := New(r, &fakeConnector{}, pkgmgr.DefaultRegistry())

	err := e.ApplyLocal(context.Background(), headless(), false)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.ErrorIs(t, err, pkgmgr.ErrUnsupported)
}

func TestApplyRemoteInteractive(t *testing.T) {
	local := newFakeRunner()
	e := New(local, &fakeConnector{}, pkgmgr.DefaultRegistry())
	cfg := api.DefaultConfig()
	cfg.Terminal = "konsole"

	require.NoError(t, e.ApplyRemote(context.Background(), cfg, "web1", true))
	require.Len(t, local.started, 1)
	assert.Equal(t,
		[]string{"konsole", "--hold", "-e", "ssh", "-t", "web1", "sudo pacman -Syu && sudo reboot"},
		local.started[0])
}

func TestApplyRemoteInvalidHost(t *testing.T) {
	e := New(newFakeRunner(), &fakeConnector{}, pkgmgr.DefaultRegistry())
	err := e.ApplyRemote(context.Background(), headless(), "-oProxyCommand=x", false)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestApplyRemoteHeadless(t *testing.T) {
	host := newFakeRunner().
		on("sudo -n pacman -Syu --noconfirm", "", nil).
		on("sudo -n reboot", "", errors.New("session ended without exit status"))
	e := New(newFakeRunner(), &fakeConnector{hosts: map[string]*fakeRunner{"web1": host}}, pkgmgr.DefaultRegistry())

	require.NoError(t, e.ApplyRemote(context.Background(), headless(), "web1", true))
	assert.Equal(t, []string{"sudo -n pacman -Syu --noconfirm", "sudo -n reboot"}, host.calls)
}

func TestApplyRemoteHeadlessFailures(t *testing.T) {
	e := New(newFakeRunner(), &fakeConnector{}, pkgmgr.DefaultRegistry())
	err := e.ApplyRemote(context.Background(), headless(), "gone", false)
	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.Contains(t, err.Error(), "connection refused")

	host := newFakeRunner().
		on("sudo -n pacman -Syu --noconfirm", "", nil).
		on("sudo -n reboot", "", &system.ExitError{Code: 1, Stderr: "a password is required"})
	e = New(newFakeRunner(), &fakeConnector{hosts: map[string]*fakeRunner{"web1": host}}, pkgmgr.DefaultRegistry())
	err = e.ApplyRemote(context.Background(), headless(), "web1", true)
	assert.ErrorIs(t, err, ErrUpdateFailed)
}

func TestApplyRemoteOverSSH(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.DisableSFTP()
	srv.Handle("cat /etc/os-release", sshtest.Response{Stdout: "ID=arch\n"})
	srv.Handle("sudo -n pacman -Syu --noconfirm", sshtest.Response{Stdout: "there is nothing to do\n"})
	srv.Handle("sudo -n reboot", sshtest.Response{Drop: true})

	conn := &ssh.Connector{
		Keys:       ssh.KeySource{KeyFiles: []string{srv.WriteClientKey(t)}},
		KnownHosts: srv.HostKeyCallback(),
		User:       "tester",
		Port:       srv.Port,
	}
	e := New(newFakeRunner(), conn, pkgmgr.DefaultRegistry())

	require.NoError(t, e.ApplyRemote(context.Background(), headless(), srv.Host, true))
	assert.Contains(t, srv.Executed(), "sudo -n reboot")
}

func TestRemoveValidation(t *testing.T) {
	r := newFakeRunner()
	e := New(r, &fakeConnector{}, pkgmgr.DefaultRegistry())
	fin := recordFinished(e)
	ctx := context.Background()

	tests := []struct{ pkg, flags string }{
		{"vim", "Syu"},
		{"vim", "R; rm -rf /"},
		{"vim", ""},
		{"vim;reboot", "Rns"},
		{"-vim", "R"},
		{"", "R"},
	}
	for _, tc := range tests {
		err := e.Remove(ctx, headless(), tc.pkg, tc.flags)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%q %q", tc.pkg, tc.flags)
	}
	assert.Empty(t, r.calls)
	assert.Empty(t, r.started)
	fin.none(t)
}

func TestRemove(t *testing.T) {
	r := newFakeRunner().on("sudo -n pacman -Rns vim --noconfirm", "", nil)
	e := New(r, &fakeConnector{}, pkgmgr.DefaultRegistry())
	require.NoError(t, e.Remove(context.Background(), headless(), "vim", "Rns"))
	assert.Equal(t, []string{"sudo -n pacman -Rns vim --noconfirm"}, r.calls)

	cfg := api.DefaultConfig()
	cfg.Terminal = "foot"
	require.NoError(t, e.Remove(context.Background(), cfg, "vim", "Rns"))
	require.Len(t, r.started, 1)
	assert.Equal(t, []string{"foot", "--hold", "sh", "-c"}, r.started[0][:4])
	assert.Contains(t, r.started[0][4], "-Rns vim")
}
