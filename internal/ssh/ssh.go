package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/user"
	"strconv"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

const DefaultPort = 22

type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client describes how to reach one host. Dial produces the connection.
type Client struct {
	Addr       string
	User       string
	Auth       []xssh.AuthMethod
	KnownHosts xssh.HostKeyCallback
	// Timeout bounds the TCP connect and the SSH handshake.
	Timeout time.Duration
	Dialer  Dialer
}

// HostAddr joins host and port, defaulting to the SSH port.
func HostAddr(host string, port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	if len(c.Auth) == 0 {
		return nil, errors.New("ssh: no authentication methods")
	}
	if c.KnownHosts == nil {
		return nil, errors.New("ssh: host key callback required")
	}
	name := c.User
	if name == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("ssh: current user: %w", err)
		}
		name = u.Username
	}
	return &xssh.ClientConfig{
		User:            name,
		Auth:            c.Auth,
		HostKeyCallback: c.KnownHosts,
		Timeout:         c.Timeout,
	}, nil
}

// Dial establishes an SSH connection. The connect and handshake stop at the
// earlier of ctx's deadline and Timeout. The caller closes the client.
func Dial(ctx context.Context, c *Client) (*xssh.Client, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	d := c.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	type res struct {
		conn  xssh.Conn
		chans <-chan xssh.NewChannel
		reqs  <-chan *xssh.Request
		err   error
	}
	ch := make(chan res, 1)
	go func() {
		sc, chans, reqs, err := xssh.NewClientConn(conn, c.Addr, cfg)
		ch <- res{sc, chans, reqs, err}
	}()
	select {
	case <-ctx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", c.Addr, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("handshake %s: %w", c.Addr, r.err)
		}
		_ = conn.SetDeadline(time.Time{})
		return xssh.NewClient(r.conn, r.chans, r.reqs), nil
	}
}
