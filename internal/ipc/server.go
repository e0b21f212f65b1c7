// Package ipc serves the daemon's boundary calls as JSON over HTTP on a
// Unix socket, one POST route per call.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/core"
	"github.com/yay-sys-tray/yst/internal/executor"
	"github.com/yay-sys-tray/yst/internal/pkgmgr"
	"github.com/yay-sys-tray/yst/pkg/api"
)

const socketName = "yst.sock"

// DefaultSocketPath is $XDG_RUNTIME_DIR/yst.sock, or a per-user path in
// the temp dir when the runtime dir is unset.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketName)
	}
	return filepath.Join(os.TempDir(), "yst-"+strconv.Itoa(os.Getuid())+".sock")
}

// Service is everything the daemon exposes.
type Service interface {
	GetConfig() api.AppConfig
	SaveConfig(cfg api.AppConfig) error
	StartCheck() bool
	CheckResult() *api.FullCheckResult
	RunLocalUpdate(ctx context.Context, restart bool) error
	RunRemoteUpdate(ctx context.Context, hostname string, restart bool) error
	RunRemove(ctx context.Context, pkg, flags string) error
	IsArchLinux(ctx context.Context) bool
	Pactree(ctx context.Context, pkg string, reverse bool) (string, error)
	TailscaleTags(ctx context.Context) []string
	ManageAutostart(enable bool) error
	ManagePasswordless(ctx context.Context, enable bool) (bool, error)
	Version() string
}

type Server struct {
	svc Service
	srv *http.Server
}

func NewServer(svc Service) *Server {
	s := &Server{svc: svc}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the router with every boundary call.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)
	v1 := r.PathPrefix("/v1").Subrouter()
	s.routes(v1)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown call %s", r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("%s not allowed", r.Method))
	})
	return r
}

func (s *Server) routes(r *mux.Router) {
	post := func(call string, h http.HandlerFunc) {
		r.HandleFunc("/"+call, h).Methods(http.MethodPost)
	}

	post(api.CallGetConfig, handle(func(_ *http.Request, _ api.Empty) (api.AppConfig, error) {
		return s.svc.GetConfig(), nil
	}))
	post(api.CallSaveConfig, handle(func(_ *http.Request, req api.SaveConfigRequest) (api.Empty, error) {
		return api.Empty{}, s.svc.SaveConfig(req.Config)
	}))
	post(api.CallStartCheck, handle(func(_ *http.Request, _ api.Empty) (api.StartCheckResponse, error) {
		return api.StartCheckResponse{Started: s.svc.StartCheck()}, nil
	}))
	post(api.CallGetCheckResult, handle(func(_ *http.Request, _ api.Empty) (api.CheckResultResponse, error) {
		return api.CheckResultResponse{Result: s.svc.CheckResult()}, nil
	}))
	post(api.CallRunLocalUpdate, handle(func(r *http.Request, req api.LocalUpdateRequest) (api.Empty, error) {
		return api.Empty{}, s.svc.RunLocalUpdate(r.Context(), req.Restart)
	}))
	post(api.CallRunRemoteUpdate, handle(func(r *http.Request, req api.RemoteUpdateRequest) (api.Empty, error) {
		return api.Empty{}, s.svc.RunRemoteUpdate(r.Context(), req.Hostname, req.Restart)
	}))
	post(api.CallRunRemove, handle(func(r *http.Request, req api.RemoveRequest) (api.Empty, error) {
		return api.Empty{}, s.svc.RunRemove(r.Context(), req.Package, req.Flags)
	}))
	post(api.CallIsArchLinux, handle(func(r *http.Request, _ api.Empty) (api.BoolResponse, error) {
		return api.BoolResponse{Value: s.svc.IsArchLinux(r.Context())}, nil
	}))
	post(api.CallGetPactree, handle(func(r *http.Request, req api.PactreeRequest) (api.TextResponse, error) {
		text, err := s.svc.Pactree(r.Context(), req.Package, req.Reverse)
		return api.TextResponse{Text: text}, err
	}))
	post(api.CallDiscoverTailscaleTags, handle(func(r *http.Request, _ api.Empty) (api.TagsResponse, error) {
		return api.TagsResponse{Tags: s.svc.TailscaleTags(r.Context())}, nil
	}))
	post(api.CallManageAutostart, handle(func(_ *http.Request, req api.EnableRequest) (api.Empty, error) {
		return api.Empty{}, s.svc.ManageAutostart(req.Enable)
	}))
	// the effective state matters even when the change partly failed
	post(api.CallManagePasswordlessUpdates, handle(func(r *http.Request, req api.EnableRequest) (api.BoolResponse, error) {
		state, err := s.svc.ManagePasswordless(r.Context(), req.Enable)
		resp := api.BoolResponse{Value: state}
		if err != nil {
			resp.Error = err.Error()
		}
		return resp, nil
	}))
	post(api.CallGetVersion, handle(func(_ *http.Request, _ api.Empty) (api.TextResponse, error) {
		return api.TextResponse{Text: s.svc.Version()}, nil
	}))
}

// handle decodes Req from the body, calls fn and encodes its result. An
// empty body decodes as the zero Req.
func handle[Req, Resp any](fn func(r *http.Request, req Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		resp, err := fn(r, req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, executor.ErrInvalidArgument),
		errors.Is(err, pkgmgr.ErrInvalidArgument),
		errors.Is(err, core.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, pkgmgr.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, obj any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		ev := log.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("call", r.URL.Path).Int("status", rec.status).Dur("elapsed", time.Since(start)).Msg("ipc")
	})
}

// Listen creates the socket at path, replacing a stale one, readable and
// writable by the owner only.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := removeStale(path); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return l, nil
}

// removeStale deletes a socket no daemon answers on. A live one is an error.
func removeStale(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if c, err := net.DialTimeout("unix", path, time.Second); err == nil {
		c.Close()
		return fmt.Errorf("daemon already listening on %s", path)
	}
	return os.Remove(path)
}

// Serve blocks serving l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	log.Info().Str("socket", l.Addr().String()).Msg("ipc listening")
	err := s.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting calls and waits for those in flight.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
