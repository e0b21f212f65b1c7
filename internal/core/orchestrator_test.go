package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yay-sys-tray/yst/internal/discovery"
	"github.com/yay-sys-tray/yst/pkg/api"
)

type mockLocal struct {
	mu     sync.Mutex
	calls  int
	gate   chan struct{}
	result *api.CheckResult
	err    error
}

func (m *mockLocal) InspectLocal(ctx context.Context) (*api.CheckResult, error) {
	m.mu.Lock()
	m.calls++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return m.result, m.err
}

func (m *mockLocal) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRemote struct {
	failing  map[string]bool
	delay    time.Duration
	inflight int32
	peak     int32
}

func (m *mockRemote) InspectRemote(ctx context.Context, hostname string, timeout time.Duration) api.HostResult {
	n := atomic.AddInt32(&m.inflight, 1)
	defer atomic.AddInt32(&m.inflight, -1)
	for {
		p := atomic.LoadInt32(&m.peak)
		if n <= p || atomic.CompareAndSwapInt32(&m.peak, p, n) {
			break
		}
	}
	time.Sleep(m.delay)
	if m.failing[hostname] {
		return api.HostFailure(hostname, "connection timed out after "+timeout.String())
	}
	return api.NewHostResult(hostname, []api.UpdateInfo{{Package: "glibc", OldVersion: "2.38-1", NewVersion: "2.39-1"}}, nil)
}

type mockDiscoverer struct {
	hosts    []string
	err      error
	tags     []string
	lastTags []string
}

func (m *mockDiscoverer) DiscoverHosts(ctx context.Context, tags []string) ([]string, error) {
	m.lastTags = tags
	return m.hosts, m.err
}

func (m *mockDiscoverer) AllTags(ctx context.Context) []string { return m.tags }

func localResult(pkgs ...string) *api.CheckResult {
	var updates []api.UpdateInfo
	for _, p := range pkgs {
		updates = append(updates, api.UpdateInfo{Package: p, OldVersion: "1", NewVersion: "2"})
	}
	return api.NewCheckResult(updates, nil, nil)
}

func testConfig(tailscale bool) func() api.AppConfig {
	cfg := api.DefaultConfig()
	cfg.TailscaleEnabled = tailscale
	return func() api.AppConfig { return cfg }
}

func TestResultNilUntilFirstRunCompletes(t *testing.T) {
	local := &mockLocal{gate: make(chan struct{}), result: localResult("vim")}
	o := NewOrchestrator(local, &mockRemote{}, &mockDiscoverer{}, testConfig(false))

	assert.Nil(t, o.Result())
	require.True(t, o.StartCheck())
	assert.True(t, o.Running())
	assert.False(t, o.StartCheck(), "second start while running is a no-op")
	assert.Nil(t, o.Result())

	close(local.gate)
	o.Wait()
	assert.False(t, o.Running())
	res := o.Result()
	require.NotNil(t, res)
	assert.Equal(t, 1, res.TotalUpdates())
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, local.Calls())
}

func TestRemoteFanOutWithFailures(t *testing.T) {
	hosts := []string{"web3", "db1", "web1", "web2", "cache1", "web1"}
	remote := &mockRemote{failing: map[string]bool{"web2": true, "db1": true}}
	d := &mockDiscoverer{hosts: hosts}
	o := NewOrchestrator(&mockLocal{result: localResult()}, remote, d, testConfig(true))

	require.True(t, o.StartCheck())
	o.Wait()
	res := o.Result()
	require.NotNil(t, res)

	var names []string
	failed := 0
	for _, h := range res.Remote {
		names = append(names, h.Hostname)
		if h.Failed() {
			failed++
			assert.Empty(t, h.Updates)
		}
	}
	assert.Equal(t, []string{"cache1", "db1", "web1", "web2", "web3"}, names)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 3, res.TotalUpdates())
	assert.Equal(t, []string{"server", "arch"}, d.lastTags)

	stats := o.Metrics()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(5), stats.Hosts)
	assert.Equal(t, int64(2), stats.HostErrors)
}

func TestRemoteConcurrencyIsBounded(t *testing.T) {
	var hosts []string
	for i := 0; i < 30; i++ {
		hosts = append(hosts, fmt.Sprintf("host%02d", i))
	}
	remote := &mockRemote{delay: 20 * time.Millisecond}
	o := NewOrchestrator(&mockLocal{result: localResult()}, remote, &mockDiscoverer{hosts: hosts}, testConfig(true))

	o.StartCheck()
	o.Wait()
	assert.Len(t, o.Result().Remote, 30)
	assert.LessOrEqual(t, atomic.LoadInt32(&remote.peak), int32(DefaultConcurrency))
}

func TestDiscoveryErrorKeepsLocal(t *testing.T) {
	d := &mockDiscoverer{err: fmt.Errorf("%w: tailscale not running", discovery.ErrDiscovery)}
	o := NewOrchestrator(&mockLocal{result: localResult("vim", "git")}, &mockRemote{}, d, testConfig(true))

	o.StartCheck()
	o.Wait()
	res := o.Result()
	require.NotNil(t, res)
	assert.Empty(t, res.Remote)
	assert.NotNil(t, res.Remote)
	assert.Contains(t, res.DiscoveryError, "tailscale not running")
	require.NotNil(t, res.Local)
	assert.Len(t, res.Local.Updates, 2)
}

func TestLocalErrorKeepsRemote(t *testing.T) {
	local := &mockLocal{err: errors.New("local inspection failed: unable to lock database")}
	o := NewOrchestrator(local, &mockRemote{}, &mockDiscoverer{hosts: []string{"web1"}}, testConfig(true))

	o.StartCheck()
	o.Wait()
	res := o.Result()
	require.NotNil(t, res)
	assert.Nil(t, res.Local)
	assert.Contains(t, res.LocalError, "unable to lock database")
	require.Len(t, res.Remote, 1)
	assert.False(t, res.Remote[0].Failed())
	assert.Equal(t, int64(1), o.Metrics().LocalErrors)
}

func TestLocalDisabled(t *testing.T) {
	local := &mockLocal{result: localResult("vim")}
	cfg := api.DefaultConfig()
	cfg.LocalEnabled = false
	o := NewOrchestrator(local, &mockRemote{}, &mockDiscoverer{}, func() api.AppConfig { return cfg })

	o.StartCheck()
	o.Wait()
	assert.Zero(t, local.Calls())
	assert.Nil(t, o.Result().Local)
	assert.Empty(t, o.Result().Remote)
}

func TestInvalidateDuringRunRepeatsIt(t *testing.T) {
	local := &mockLocal{gate: make(chan struct{}), result: localResult("vim")}
	var completed int32
	o := NewOrchestrator(local, &mockRemote{}, &mockDiscoverer{}, testConfig(false))
	o.OnComplete(func(*api.FullCheckResult) { atomic.AddInt32(&completed, 1) })

	require.True(t, o.StartCheck())
	require.Eventually(t, func() bool { return local.Calls() == 1 }, time.Second, 5*time.Millisecond)
	o.Invalidate()
	local.gate <- struct{}{}

	require.Eventually(t, func() bool { return local.Calls() == 2 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, o.Result(), "the invalidated run is not published")
	local.gate <- struct{}{}

	o.Wait()
	assert.NotNil(t, o.Result())
	assert.Equal(t, int32(1), atomic.LoadInt32(&completed))
}

func TestInvalidateWhenIdle(t *testing.T) {
	o := NewOrchestrator(&mockLocal{result: localResult()}, &mockRemote{}, &mockDiscoverer{}, testConfig(false))
	o.StartCheck()
	o.Wait()
	require.NotNil(t, o.Result())

	o.Invalidate()
	assert.Nil(t, o.Result())
	assert.False(t, o.Running())
}

func TestCloseRefusesChecksWhileWaiting(t *testing.T) {
	local := &mockLocal{gate: make(chan struct{}), result: localResult("vim")}
	o := NewOrchestrator(local, &mockRemote{}, &mockDiscoverer{}, testConfig(false))
	require.True(t, o.StartCheck())

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.closing
	}, time.Second, 5*time.Millisecond)

	// a finish hook racing shutdown must not start another run
	assert.False(t, o.StartCheck())

	close(local.gate)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, o.Running())
	assert.False(t, o.StartCheck())
}

func TestWaitIncludesCompletionHook(t *testing.T) {
	o := NewOrchestrator(&mockLocal{result: localResult("vim")}, &mockRemote{}, &mockDiscoverer{}, testConfig(false))
	var hooked atomic.Bool
	o.OnComplete(func(*api.FullCheckResult) {
		time.Sleep(20 * time.Millisecond)
		hooked.Store(true)
	})
	require.True(t, o.StartCheck())
	o.Wait()
	assert.True(t, hooked.Load())

	// restarting from idle after Wait returned is allowed
	require.True(t, o.StartCheck())
	o.Wait()
}
