package ssh

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// ReadFile fetches a remote file over SFTP. Hosts without the sftp
// subsystem fall back to cat.
func (r *Runner) ReadFile(ctx context.Context, path string) ([]byte, error) {
	sf, err := sftp.NewClient(r.client)
	if err != nil {
		log.Debug().Err(err).Str("host", r.host).Msg("sftp unavailable, using cat")
		out, err := r.Run(ctx, "cat", path)
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	}
	defer sf.Close()

	type res struct {
		data []byte
		err  error
	}
	ch := make(chan res, 1)
	go func() {
		src, err := sf.Open(path)
		if err != nil {
			ch <- res{err: err}
			return
		}
		defer src.Close()
		data, err := io.ReadAll(src)
		ch <- res{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: read %s: %w", r.host, path, ctx.Err())
	case rs := <-ch:
		if rs.err != nil {
			return nil, fmt.Errorf("%s: read %s: %w", r.host, path, rs.err)
		}
		return rs.data, nil
	}
}
