package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yay-sys-tray/yst/internal/discovery"
	"github.com/yay-sys-tray/yst/pkg/api"
)

// DefaultConcurrency bounds how many hosts are inspected at once.
const DefaultConcurrency = 8

type LocalInspector interface {
	InspectLocal(ctx context.Context) (*api.CheckResult, error)
}

type RemoteInspector interface {
	InspectRemote(ctx context.Context, hostname string, timeout time.Duration) api.HostResult
}

// Orchestrator runs at most one check at a time and caches the last
// completed result. The running flag and the cache share one mutex.
type Orchestrator struct {
	local       LocalInspector
	remote      RemoteInspector
	discoverer  discovery.Discoverer
	config      func() api.AppConfig
	metrics     *Metrics
	concurrency int

	mu         sync.Mutex
	running    bool
	stale      bool
	result     *api.FullCheckResult
	onComplete func(*api.FullCheckResult)

	// active counts run goroutines, including their completion hook
	active  int
	idle    *sync.Cond
	closing bool
}

// NewOrchestrator builds an orchestrator. config is called once at the
// start of every run and the snapshot is used for the whole run.
func NewOrchestrator(local LocalInspector, remote RemoteInspector, d discovery.Discoverer, config func() api.AppConfig) *Orchestrator {
	o := &Orchestrator{
		local:       local,
		remote:      remote,
		discoverer:  d,
		config:      config,
		metrics:     NewMetrics(),
		concurrency: DefaultConcurrency,
	}
	o.idle = sync.NewCond(&o.mu)
	return o
}

// OnComplete registers fn to be called after each published result.
func (o *Orchestrator) OnComplete(fn func(*api.FullCheckResult)) {
	o.mu.Lock()
	o.onComplete = fn
	o.mu.Unlock()
}

// StartCheck starts a run in the background. It returns false, doing
// nothing, when a run is already in progress or the orchestrator is closed.
func (o *Orchestrator) StartCheck() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running || o.closing {
		return false
	}
	o.running = true
	cfg := o.config()
	o.active++
	go o.loop(cfg)
	return true
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Result returns the last completed result, or nil. It never blocks on a
// run in progress.
func (o *Orchestrator) Result() *api.FullCheckResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Invalidate drops the cached result. A run in progress when this is called
// started before the change that made the cache stale: its result is
// discarded and it is immediately repeated.
func (o *Orchestrator) Invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.result = nil
	if o.running {
		o.stale = true
	}
}

// Wait blocks until no run is in progress and the completion hook of the
// last one has returned. StartCheck may be called concurrently.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	for o.active > 0 {
		o.idle.Wait()
	}
	o.mu.Unlock()
}

// Close refuses further checks and waits for the one in progress.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.Wait()
}

func (o *Orchestrator) Metrics() Stats { return o.metrics.GetStats() }

func (o *Orchestrator) loop(cfg api.AppConfig) {
	defer func() {
		o.mu.Lock()
		o.active--
		if o.active == 0 {
			o.idle.Broadcast()
		}
		o.mu.Unlock()
	}()
	for {
		res := o.run(context.Background(), cfg)

		o.mu.Lock()
		if o.stale {
			o.stale = false
			cfg = o.config()
			o.mu.Unlock()
			log.Debug().Str("run_id", res.RunID).Msg("result invalidated during run, checking again")
			continue
		}
		o.result = res
		o.running = false
		hook := o.onComplete
		o.mu.Unlock()

		if hook != nil {
			hook(res)
		}
		return
	}
}

func (o *Orchestrator) run(ctx context.Context, cfg api.AppConfig) *api.FullCheckResult {
	start := time.Now()
	res := &api.FullCheckResult{RunID: uuid.NewString(), Remote: []api.HostResult{}}
	logger := log.With().Str("run_id", res.RunID).Logger()
	logger.Info().Bool("local", cfg.LocalEnabled).Bool("tailscale", cfg.TailscaleEnabled).Msg("check started")

	var g errgroup.Group
	if cfg.LocalEnabled {
		g.Go(func() error {
			local, err := o.local.InspectLocal(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("local inspection")
				res.LocalError = err.Error()
				return nil
			}
			res.Local = local
			return nil
		})
	}
	if cfg.TailscaleEnabled {
		g.Go(func() error {
			res.Remote, res.DiscoveryError = o.checkRemote(ctx, cfg, logger)
			return nil
		})
	}
	_ = g.Wait()
	res.CheckedAt = time.Now()

	failed := 0
	for _, h := range res.Remote {
		if h.Failed() {
			failed++
		}
	}
	o.metrics.RecordRun(time.Since(start), len(res.Remote), failed, res.LocalError != "")
	logger.Info().
		Int("updates", res.TotalUpdates()).
		Int("hosts", len(res.Remote)).
		Int("failed_hosts", failed).
		Dur("elapsed", time.Since(start)).
		Msg("check finished")
	return res
}

func (o *Orchestrator) checkRemote(ctx context.Context, cfg api.AppConfig, logger zerolog.Logger) ([]api.HostResult, string) {
	timeout := time.Duration(cfg.TailscaleTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(api.DefaultConfig().TailscaleTimeout) * time.Second
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	hosts, err := o.discoverer.DiscoverHosts(dctx, ParseTags(cfg.TailscaleTags))
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("host discovery")
		return []api.HostResult{}, err.Error()
	}
	hosts = uniqueSorted(hosts)

	results := make([]api.HostResult, len(hosts))
	g := errgroup.Group{}
	g.SetLimit(o.concurrency)
	for i, h := range hosts {
		i, h := i, h
		g.Go(func() error {
			results[i] = o.remote.InspectRemote(ctx, h, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results, ""
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
