package pkgmgr

import (
	"context"
	"os"
	"strings"

	"github.com/yay-sys-tray/yst/internal/system"
)

type mockRunner struct {
	outputs map[string]string
	errors  map[string]error
	files   map[string]string
	calls   []string
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		outputs: make(map[string]string),
		errors:  make(map[string]error),
		files:   make(map[string]string),
	}
}

func (r *mockRunner) Run(ctx context.Context, args ...string) (string, error) {
	key := strings.Join(args, " ")
	r.calls = append(r.calls, key)
	if _, ok := r.outputs[key]; !ok {
		if _, ok := r.errors[key]; !ok {
			return "", &system.ExitError{Args: args, Code: 127, Stderr: "command not found"}
		}
	}
	return r.outputs[key], r.errors[key]
}

func (r *mockRunner) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if v, ok := r.files[path]; ok {
		return []byte(v), nil
	}
	return nil, os.ErrNotExist
}

func (r *mockRunner) Register(args []string, output string, err error) {
	key := strings.Join(args, " ")
	r.outputs[key] = output
	r.errors[key] = err
}

func exitErr(code int) error {
	return &system.ExitError{Code: code}
}
