package ssh

import (
	"context"
	"time"

	xssh "golang.org/x/crypto/ssh"

	"github.com/yay-sys-tray/yst/internal/system"
)

// Host is an open connection to one machine.
type Host interface {
	system.Runner
	Close() error
}

// Connector dials hosts by name with the user's credentials.
type Connector struct {
	Keys       KeySource
	KnownHosts xssh.HostKeyCallback
	// User defaults to the local user name.
	User string
	Port int
}

// NewConnector uses the agent, the default keys and ~/.ssh/known_hosts in
// trust-on-first-use mode.
func NewConnector() *Connector {
	return &Connector{
		Keys:       DefaultKeySource(),
		KnownHosts: NewTOFU(DefaultKnownHostsPath()).Callback,
	}
}

// Connect dials hostname. timeout bounds the connect and the handshake.
func (c *Connector) Connect(ctx context.Context, hostname string, timeout time.Duration) (Host, error) {
	auth, release, err := c.Keys.Methods()
	if err != nil {
		return nil, err
	}
	// agent signers are only consulted during the handshake
	defer release()

	cli, err := Dial(ctx, &Client{
		Addr:       HostAddr(hostname, c.Port),
		User:       c.User,
		Auth:       auth,
		KnownHosts: c.KnownHosts,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, err
	}
	return NewRunner(cli, hostname), nil
}
