package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	"github.com/yay-sys-tray/yst/internal/system"
)

// Runner executes commands on a connected host. It implements system.Runner,
// so package backends work the same locally and over SSH.
type Runner struct {
	client *xssh.Client
	host   string
}

func NewRunner(client *xssh.Client, host string) *Runner {
	return &Runner{client: client, host: host}
}

func (r *Runner) Close() error { return r.client.Close() }

// Run executes args as one remote command line. A non-zero exit status is
// reported as *system.ExitError; a session that ends without one (e.g. the
// host went down for reboot) is a plain error wrapping xssh.ExitMissingError.
func (r *Runner) Run(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("run: empty command")
	}
	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%s: new session: %w", r.host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := ShellQuote(args)
	log.Trace().Str("host", r.host).Str("cmd", line).Msg("ssh exec")

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(xssh.SIGKILL)
		_ = session.Close()
		return "", fmt.Errorf("%s: %s: %w", r.host, args[0], ctx.Err())
	case err := <-done:
		if err == nil {
			return stdout.String(), nil
		}
		var ee *xssh.ExitError
		if errors.As(err, &ee) {
			return stdout.String(), &system.ExitError{Args: args, Code: ee.ExitStatus(), Stderr: stderr.String()}
		}
		return stdout.String(), fmt.Errorf("%s: %s: %w", r.host, args[0], err)
	}
}

var shellSafe = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_-]+$`)

// ShellQuote renders args as a POSIX shell command line.
func ShellQuote(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if shellSafe.MatchString(a) {
			out[i] = a
			continue
		}
		out[i] = "'" + strings.ReplaceAll(a, "'", `'"'"'`) + "'"
	}
	return strings.Join(out, " ")
}
