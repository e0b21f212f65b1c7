// Package sshtest runs an in-process SSH server with scripted command
// responses and an sftp subsystem backed by the local filesystem.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	gssh "github.com/gliderlabs/ssh"
	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// Response scripts the reply to one command line.
type Response struct {
	Stdout string
	Stderr string
	Exit   int
	// Hang blocks until the client goes away.
	Hang bool
	// Drop closes the connection without an exit status.
	Drop bool
}

type Server struct {
	Addr      string
	Host      string
	Port      int
	HostKey   xssh.Signer
	ClientKey xssh.Signer

	clientPriv ed25519.PrivateKey

	mu       sync.Mutex
	commands map[string]Response
	executed []string
	noSFTP   bool
	srv      *gssh.Server
}

func NewSigner(t testing.TB) xssh.Signer {
	t.Helper()
	s, _ := newKey(t)
	return s
}

func newKey(t testing.TB) (xssh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s, priv
}

// NewServer starts a server on 127.0.0.1 accepting only ClientKey. It is
// closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		HostKey:  NewSigner(t),
		commands: map[string]Response{},
	}
	s.ClientKey, s.clientPriv = newKey(t)
	s.srv = &gssh.Server{
		Handler: s.handle,
		PublicKeyHandler: func(ctx gssh.Context, key gssh.PublicKey) bool {
			return gssh.KeysEqual(key, s.ClientKey.PublicKey())
		},
		SubsystemHandlers: map[string]gssh.SubsystemHandler{
			"sftp": s.serveSFTP,
		},
	}
	s.srv.AddHostKey(s.HostKey)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	s.Addr = addr.String()
	s.Host = addr.IP.String()
	s.Port = addr.Port

	go func() { _ = s.srv.Serve(l) }()
	t.Cleanup(func() { _ = s.srv.Close() })
	return s
}

// Handle scripts the response to an exact command line.
func (s *Server) Handle(command string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[command] = resp
}

// Executed lists received command lines in arrival order.
func (s *Server) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// DisableSFTP makes the sftp subsystem fail, as on hosts without it.
func (s *Server) DisableSFTP() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSFTP = true
}

// WriteClientKey stores the accepted client key as an OpenSSH private key
// file and returns its path.
func (s *Server) WriteClientKey(t testing.TB) string {
	t.Helper()
	block, err := xssh.MarshalPrivateKey(s.clientPriv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func (s *Server) Auth() []xssh.AuthMethod {
	return []xssh.AuthMethod{xssh.PublicKeys(s.ClientKey)}
}

// HostKeyCallback accepts only this server's host key.
func (s *Server) HostKeyCallback() xssh.HostKeyCallback {
	return xssh.FixedHostKey(s.HostKey.PublicKey())
}

func (s *Server) handle(sess gssh.Session) {
	cmd := sess.RawCommand()
	s.mu.Lock()
	s.executed = append(s.executed, cmd)
	resp, ok := s.commands[cmd]
	s.mu.Unlock()

	if !ok {
		_, _ = io.WriteString(sess.Stderr(), "command not found\n")
		_ = sess.Exit(127)
		return
	}
	if resp.Hang {
		<-sess.Context().Done()
		return
	}
	if resp.Drop {
		if conn, ok := sess.Context().Value(gssh.ContextKeyConn).(xssh.Conn); ok {
			_ = conn.Close()
		}
		return
	}
	_, _ = io.WriteString(sess, resp.Stdout)
	_, _ = io.WriteString(sess.Stderr(), resp.Stderr)
	_ = sess.Exit(resp.Exit)
}

func (s *Server) serveSFTP(sess gssh.Session) {
	s.mu.Lock()
	disabled := s.noSFTP
	s.mu.Unlock()
	if disabled {
		_ = sess.Exit(1)
		return
	}
	server, err := sftp.NewServer(sess)
	if err != nil {
		return
	}
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		_ = server.Close()
	}
}
