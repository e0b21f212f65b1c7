package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/system"
)

const (
	tagPrefix    = "tag:"
	tagsCacheKey = "tags"
	tagsCacheTTL = 30 * time.Second
)

type peerStatus struct {
	HostName string   `json:"HostName"`
	DNSName  string   `json:"DNSName"`
	Online   bool     `json:"Online"`
	Tags     []string `json:"Tags"`
}

type status struct {
	Peer map[string]peerStatus `json:"Peer"`
}

// Tailscale discovers peers from `tailscale status --json`.
type Tailscale struct {
	runner system.Runner
	cmd    []string
	tags   *cache.Cache
}

func NewTailscale(r system.Runner) *Tailscale {
	return &Tailscale{
		runner: r,
		cmd:    []string{"tailscale", "status", "--json"},
		tags:   cache.New(tagsCacheTTL, 2*tagsCacheTTL),
	}
}

func (t *Tailscale) status(ctx context.Context) (*status, error) {
	out, err := t.runner.Run(ctx, t.cmd...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrDiscoveryTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	var st status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		return nil, fmt.Errorf("%w: decode status: %v", ErrDiscovery, err)
	}
	return &st, nil
}

func (t *Tailscale) DiscoverHosts(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return []string{}, nil
	}
	st, err := t.status(ctx)
	if err != nil {
		return nil, err
	}

	want := make([]string, len(tags))
	for i, tag := range tags {
		want[i] = tagPrefix + strings.TrimPrefix(tag, tagPrefix)
	}

	seen := map[string]struct{}{}
	hosts := []string{}
	for _, p := range st.Peer {
		if !p.Online || p.HostName == "" || !hasAll(p.Tags, want) {
			continue
		}
		if _, dup := seen[p.HostName]; dup {
			continue
		}
		seen[p.HostName] = struct{}{}
		hosts = append(hosts, p.HostName)
	}
	sort.Strings(hosts)
	log.Debug().Strs("tags", tags).Int("hosts", len(hosts)).Msg("tailscale discovery")
	return hosts, nil
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (t *Tailscale) AllTags(ctx context.Context) []string {
	if v, ok := t.tags.Get(tagsCacheKey); ok {
		return append([]string(nil), v.([]string)...)
	}
	st, err := t.status(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("listing tailscale tags")
		return []string{}
	}
	set := map[string]struct{}{}
	for _, p := range st.Peer {
		for _, tag := range p.Tags {
			if name := strings.TrimPrefix(tag, tagPrefix); name != "" {
				set[name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	t.tags.SetDefault(tagsCacheKey, out)
	return append([]string(nil), out...)
}
