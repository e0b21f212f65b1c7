package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// KeySource resolves client credentials: the SSH agent first, then
// unencrypted private key files.
type KeySource struct {
	AgentSocket string
	KeyFiles    []string
}

// DefaultKeySource uses $SSH_AUTH_SOCK and the usual keys under ~/.ssh.
func DefaultKeySource() KeySource {
	ks := KeySource{AgentSocket: os.Getenv("SSH_AUTH_SOCK")}
	if home, err := os.UserHomeDir(); err == nil {
		for _, n := range defaultKeyNames {
			ks.KeyFiles = append(ks.KeyFiles, filepath.Join(home, ".ssh", n))
		}
	}
	return ks
}

// Methods returns the usable auth methods and a release func for the agent
// connection. It fails only when no credential at all is available.
func (k KeySource) Methods() ([]xssh.AuthMethod, func(), error) {
	var methods []xssh.AuthMethod
	release := func() {}

	if k.AgentSocket != "" {
		conn, err := net.Dial("unix", k.AgentSocket)
		if err != nil {
			log.Debug().Err(err).Msg("ssh agent unavailable")
		} else {
			methods = append(methods, xssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			release = func() { _ = conn.Close() }
		}
	}

	var signers []xssh.Signer
	for _, f := range k.KeyFiles {
		s, err := LoadPrivateKeySigner(f)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Debug().Err(err).Str("key", f).Msg("skipping private key")
			}
			continue
		}
		signers = append(signers, s)
	}
	if len(signers) > 0 {
		methods = append(methods, xssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		release()
		return nil, nil, errors.New("ssh: no agent and no usable private key")
	}
	return methods, release, nil
}

// LoadPrivateKeySigner reads an unencrypted OpenSSH/PEM private key file.
func LoadPrivateKeySigner(privateKeyPath string) (xssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
