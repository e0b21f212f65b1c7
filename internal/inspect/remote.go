package inspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/pkgmgr"
	"github.com/yay-sys-tray/yst/internal/ssh"
	"github.com/yay-sys-tray/yst/pkg/api"
)

// QueryGrace is added to the connect timeout to bound a whole host.
const QueryGrace = 30 * time.Second

type HostConnector interface {
	Connect(ctx context.Context, hostname string, timeout time.Duration) (ssh.Host, error)
}

// Remote inspects one host over SSH with the backend's fixed update query.
type Remote struct {
	connector HostConnector
	registry  *pkgmgr.Registry
	grace     time.Duration
}

func NewRemote(c HostConnector, reg *pkgmgr.Registry) *Remote {
	return &Remote{connector: c, registry: reg, grace: QueryGrace}
}

// InspectRemote never fails: every problem is recorded in the returned
// HostResult so one host cannot affect another.
func (r *Remote) InspectRemote(ctx context.Context, hostname string, timeout time.Duration) api.HostResult {
	limit := timeout + r.grace
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	start := time.Now()
	res, err := r.inspect(ctx, hostname, timeout)
	if err != nil {
		msg := err.Error()
		switch {
		case ctx.Err() != nil:
			msg = fmt.Sprintf("timed out after %s", limit)
		case errors.Is(err, context.DeadlineExceeded):
			msg = fmt.Sprintf("connection timed out after %s", timeout)
		}
		log.Warn().Str("host", hostname).Dur("elapsed", time.Since(start)).Msg(msg)
		return api.HostFailure(hostname, msg)
	}
	log.Debug().Str("host", hostname).Int("updates", len(res.Updates)).Dur("elapsed", time.Since(start)).Msg("remote inspection")
	return res
}

func (r *Remote) inspect(ctx context.Context, hostname string, timeout time.Duration) (api.HostResult, error) {
	host, err := r.connector.Connect(ctx, hostname, timeout)
	if err != nil {
		return api.HostResult{}, err
	}
	defer host.Close()

	b, err := r.registry.DetectFor(ctx, host)
	if err != nil {
		return api.HostResult{}, err
	}
	updates, err := b.ListUpdates(ctx, host, pkgmgr.QueryOptions{})
	if err != nil {
		return api.HostResult{}, err
	}
	return api.NewHostResult(hostname, updates, b.RestartPackages(updates)), nil
}
