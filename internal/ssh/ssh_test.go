package ssh

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xssh "golang.org/x/crypto/ssh"

	"github.com/yay-sys-tray/yst/internal/ssh/sshtest"
	"github.com/yay-sys-tray/yst/internal/system"
)

func dialTest(t *testing.T, srv *sshtest.Server) *Runner {
	t.Helper()
	cli, err := Dial(context.Background(), &Client{
		Addr:       srv.Addr,
		User:       "tester",
		Auth:       srv.Auth(),
		KnownHosts: srv.HostKeyCallback(),
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	r := NewRunner(cli, srv.Host)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRunnerRun(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.Handle("checkupdates", sshtest.Response{Stdout: "linux 1 -> 2\n"})
	srv.Handle("pacman -Q linux", sshtest.Response{Stderr: "error: package 'linux' was not found\n", Exit: 1})
	srv.Handle("echo 'a b' 'it'\"'\"'s'", sshtest.Response{Stdout: "ok\n"})

	r := dialTest(t, srv)
	ctx := context.Background()

	out, err := r.Run(ctx, "checkupdates")
	require.NoError(t, err)
	assert.Equal(t, "linux 1 -> 2\n", out)

	_, err = r.Run(ctx, "pacman", "-Q", "linux")
	require.Error(t, err)
	assert.Equal(t, 1, system.ExitCode(err))
	assert.Contains(t, err.Error(), "was not found")

	_, err = r.Run(ctx, "missing")
	assert.Equal(t, 127, system.ExitCode(err))

	out, err = r.Run(ctx, "echo", "a b", "it's")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestRunnerRunContextDeadline(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.Handle("sleep", sshtest.Response{Hang: true})
	r := dialTest(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, "sleep")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, system.ExitCode(err))
}

func TestRunnerRunDroppedConnection(t *testing.T) {
	srv := sshtest.NewServer(t)
	srv.Handle("sudo -n reboot", sshtest.Response{Drop: true})
	r := dialTest(t, srv)

	_, err := r.Run(context.Background(), "sudo", "-n", "reboot")
	require.Error(t, err)
	assert.Equal(t, -1, system.ExitCode(err))
}

func TestRunnerReadFile(t *testing.T) {
	srv := sshtest.NewServer(t)
	r := dialTest(t, srv)

	path := filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, os.WriteFile(path, []byte("ID=arch\n"), 0o644))

	data, err := r.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "ID=arch\n", string(data))

	_, err = r.ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDialRejectsUnknownClientKey(t *testing.T) {
	srv := sshtest.NewServer(t)
	other := sshtest.NewSigner(t)

	_, err := Dial(context.Background(), &Client{
		Addr:       srv.Addr,
		User:       "tester",
		Auth:       []xssh.AuthMethod{xssh.PublicKeys(other)},
		KnownHosts: srv.HostKeyCallback(),
		Timeout:    5 * time.Second,
	})
	require.Error(t, err)
}

func TestDialTimeout(t *testing.T) {
	// accepts TCP but never speaks SSH
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			t.Cleanup(func() { _ = c.Close() })
		}
	}()

	srv := sshtest.NewServer(t)
	start := time.Now()
	_, err = Dial(context.Background(), &Client{
		Addr:       l.Addr().String(),
		User:       "tester",
		Auth:       srv.Auth(),
		KnownHosts: srv.HostKeyCallback(),
		Timeout:    300 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDialRequiresAuthAndHostKeys(t *testing.T) {
	_, err := Dial(context.Background(), &Client{Addr: "127.0.0.1:1", KnownHosts: func(string, net.Addr, xssh.PublicKey) error { return nil }})
	assert.Error(t, err)

	srv := sshtest.NewServer(t)
	_, err = Dial(context.Background(), &Client{Addr: srv.Addr, Auth: srv.Auth()})
	assert.Error(t, err)
}

func TestHostAddr(t *testing.T) {
	assert.Equal(t, "web1:22", HostAddr("web1", 0))
	assert.Equal(t, "web1:2222", HostAddr("web1", 2222))
	assert.Equal(t, "[::1]:22", HostAddr("::1", 22))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "sudo -n pacman -Syu --noconfirm", ShellQuote([]string{"sudo", "-n", "pacman", "-Syu", "--noconfirm"}))
	assert.Equal(t, "cat /etc/os-release", ShellQuote([]string{"cat", "/etc/os-release"}))
	assert.Equal(t, "echo 'a b' 'x;y' ''\"'\"''", ShellQuote([]string{"echo", "a b", "x;y", "'"}))
	assert.Equal(t, "''", ShellQuote([]string{""}))
}
