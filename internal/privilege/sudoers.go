package privilege

import (
	"context"
	"fmt"
	"os/user"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/system"
)

const SudoersFile = "/etc/sudoers.d/yay-sys-tray"

var userNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_.-]*\$?$`)

// InputRunner runs commands that read stdin.
type InputRunner interface {
	system.Runner
	RunInput(ctx context.Context, input string, args ...string) (string, error)
}

// Sudoers manages a drop-in rule letting the user run the package manager
// through sudo without a password. Writes go through pkexec.
type Sudoers struct {
	runner InputRunner
	user   string
	path   string
}

// NewSudoers manages the rule for the current user.
func NewSudoers(r InputRunner) (*Sudoers, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("%w: current user: %w", ErrPrivilege, err)
	}
	return &Sudoers{runner: r, user: u.Username, path: SudoersFile}, nil
}

// Rule is the sudoers line granting binary.
func (s *Sudoers) Rule(binary string) string {
	return fmt.Sprintf("%s ALL=(ALL) NOPASSWD: %s\n", s.user, binary)
}

// Effective asks sudo whether binary may run without a password, wherever
// the rule comes from.
func (s *Sudoers) Effective(ctx context.Context, binary string) bool {
	_, err := s.runner.Run(ctx, "sudo", "-n", "-l", binary)
	return err == nil
}

// Set enables or disables the rule and returns the state sudo reports
// afterwards. An already effective rule is never written twice.
func (s *Sudoers) Set(ctx context.Context, enable bool, binary string) (bool, error) {
	if !userNameRegex.MatchString(s.user) {
		return s.Effective(ctx, binary), fmt.Errorf("%w: unsupported user name %q", ErrPrivilege, s.user)
	}

	current := s.Effective(ctx, binary)
	if current == enable {
		log.Debug().Bool("enabled", enable).Msg("passwordless updates unchanged")
		return current, nil
	}

	var result *multierror.Error
	if enable {
		_, err := s.runner.RunInput(ctx, s.Rule(binary),
			"pkexec", "install", "-m", "0440", "-o", "root", "-g", "root", "/dev/stdin", s.path)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: write %s: %w", ErrPrivilege, s.path, err))
		}
	} else {
		if _, err := s.runner.Run(ctx, "pkexec", "rm", "-f", s.path); err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: remove %s: %w", ErrPrivilege, s.path, err))
		}
	}

	state := s.Effective(ctx, binary)
	if state != enable {
		result = multierror.Append(result, fmt.Errorf("%w: sudo still reports passwordless=%t", ErrPrivilege, state))
	}
	log.Info().Bool("requested", enable).Bool("effective", state).Msg("passwordless updates")
	return state, result.ErrorOrNil()
}
