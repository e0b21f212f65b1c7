package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRunnerOutput(t *testing.T) {
	r := &LocalRunner{}
	out, err := r.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestLocalRunnerExitCode(t *testing.T) {
	r := &LocalRunner{}
	_, err := r.Run(context.Background(), "sh", "-c", "echo oops >&2; exit 2")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))

	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, ee.Error(), "oops")
}

func TestLocalRunnerInput(t *testing.T) {
	r := &LocalRunner{}
	out, err := r.RunInput(context.Background(), "rule\n", "cat")
	require.NoError(t, err)
	assert.Equal(t, "rule\n", out)
}

func TestLocalRunnerContextDeadline(t *testing.T) {
	r := &LocalRunner{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, "sleep", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, ExitCode(err))
}

func TestLocalRunnerMissingBinary(t *testing.T) {
	r := &LocalRunner{}
	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-yst")
	require.Error(t, err)
	assert.Equal(t, -1, ExitCode(err))
}

func TestLocalRunnerStart(t *testing.T) {
	r := &LocalRunner{}
	done, err := r.Start("sh", "-c", "exit 3")
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process not reaped")
	}

	_, err = r.Start("definitely-not-a-command-yst")
	require.Error(t, err)
	_, err = r.Start()
	require.Error(t, err)
}
