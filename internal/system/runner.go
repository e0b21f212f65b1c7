package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Runner executes fixed command shapes and reads files on one machine,
// either this one or a remote host.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", strings.Join(e.Args, " "), e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", strings.Join(e.Args, " "), e.Code, msg)
}

// ExitCode returns the exit status carried by err, or -1 if err is not an
// ExitError.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}

// LocalRunner runs commands on this machine.
type LocalRunner struct {
	// Env is appended to the inherited environment.
	Env []string
}

func (r *LocalRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.RunInput(ctx, "", args...)
}

// RunInput runs args with stdin fed from input.
func (r *LocalRunner) RunInput(ctx context.Context, input string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("run: empty command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Trace().Strs("args", args).Msg("exec")
	err := cmd.Run()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && ctx.Err() == nil {
			return stdout.String(), &ExitError{Args: args, Code: ee.ExitCode(), Stderr: stderr.String()}
		}
		if ctx.Err() != nil {
			return stdout.String(), fmt.Errorf("%s: %w", args[0], ctx.Err())
		}
		return stdout.String(), fmt.Errorf("%s: %w", args[0], err)
	}
	return stdout.String(), nil
}

// Start launches args without waiting for it. The returned channel receives
// the result of waiting for the process once it exits.
func (r *LocalRunner) Start(args ...string) (<-chan error, error) {
	if len(args) == 0 {
		return nil, errors.New("start: empty command")
	}
	cmd := exec.Command(args[0], args[1:]...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	log.Debug().Strs("args", args).Msg("launch")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	return done, nil
}

func (r *LocalRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// LookPath reports whether name resolves to an executable in PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
