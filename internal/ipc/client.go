package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/yay-sys-tray/yst/pkg/api"
)

// CallError is a call the daemon answered with an error.
type CallError struct {
	Call    string
	Status  int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Call, e.Message)
}

// ChangeError reports a privilege change that did not fully take effect.
// The state returned with it is still the effective one.
type ChangeError struct {
	Message string
}

func (e *ChangeError) Error() string { return e.Message }

// Client calls a daemon over its Unix socket.
type Client struct {
	http *http.Client
	base string
}

// NewClient talks to the daemon listening on socket. Calls have no timeout
// of their own; bound them with the context.
func NewClient(socket string) *Client {
	dialer := &net.Dialer{}
	return &Client{
		http: &http.Client{Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socket)
			},
		}},
		base: "http://yst/v1/",
	}
}

func (c *Client) call(ctx context.Context, name string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		var e api.ErrorResponse
		data, _ := io.ReadAll(res.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = fmt.Sprintf("status %d: %s", res.StatusCode, bytes.TrimSpace(data))
		}
		return &CallError{Call: name, Status: res.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(res.Body).Decode(resp); err != nil {
		return fmt.Errorf("%s: decode: %w", name, err)
	}
	return nil
}

func (c *Client) GetConfig(ctx context.Context) (api.AppConfig, error) {
	var cfg api.AppConfig
	err := c.call(ctx, api.CallGetConfig, api.Empty{}, &cfg)
	return cfg, err
}

func (c *Client) SaveConfig(ctx context.Context, cfg api.AppConfig) error {
	return c.call(ctx, api.CallSaveConfig, api.SaveConfigRequest{Config: cfg}, &api.Empty{})
}

func (c *Client) StartCheck(ctx context.Context) (bool, error) {
	var resp api.StartCheckResponse
	err := c.call(ctx, api.CallStartCheck, api.Empty{}, &resp)
	return resp.Started, err
}

// CheckResult returns nil until the daemon has completed a check.
func (c *Client) CheckResult(ctx context.Context) (*api.FullCheckResult, error) {
	var resp api.CheckResultResponse
	err := c.call(ctx, api.CallGetCheckResult, api.Empty{}, &resp)
	return resp.Result, err
}

func (c *Client) RunLocalUpdate(ctx context.Context, restart bool) error {
	return c.call(ctx, api.CallRunLocalUpdate, api.LocalUpdateRequest{Restart: restart}, &api.Empty{})
}

func (c *Client) RunRemoteUpdate(ctx context.Context, hostname string, restart bool) error {
	return c.call(ctx, api.CallRunRemoteUpdate, api.RemoteUpdateRequest{Hostname: hostname, Restart: restart}, &api.Empty{})
}

func (c *Client) RunRemove(ctx context.Context, pkg, flags string) error {
	return c.call(ctx, api.CallRunRemove, api.RemoveRequest{Package: pkg, Flags: flags}, &api.Empty{})
}

func (c *Client) IsArchLinux(ctx context.Context) (bool, error) {
	var resp api.BoolResponse
	err := c.call(ctx, api.CallIsArchLinux, api.Empty{}, &resp)
	return resp.Value, err
}

func (c *Client) Pactree(ctx context.Context, pkg string, reverse bool) (string, error) {
	var resp api.TextResponse
	err := c.call(ctx, api.CallGetPactree, api.PactreeRequest{Package: pkg, Reverse: reverse}, &resp)
	return resp.Text, err
}

func (c *Client) TailscaleTags(ctx context.Context) ([]string, error) {
	var resp api.TagsResponse
	err := c.call(ctx, api.CallDiscoverTailscaleTags, api.Empty{}, &resp)
	return resp.Tags, err
}

func (c *Client) ManageAutostart(ctx context.Context, enable bool) error {
	return c.call(ctx, api.CallManageAutostart, api.EnableRequest{Enable: enable}, &api.Empty{})
}

// ManagePasswordless returns the effective state, together with the error
// that kept it from matching enable, if any.
func (c *Client) ManagePasswordless(ctx context.Context, enable bool) (bool, error) {
	var resp api.BoolResponse
	if err := c.call(ctx, api.CallManagePasswordlessUpdates, api.EnableRequest{Enable: enable}, &resp); err != nil {
		return false, err
	}
	if resp.Error != "" {
		return resp.Value, &ChangeError{Message: resp.Error}
	}
	return resp.Value, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var resp api.TextResponse
	err := c.call(ctx, api.CallGetVersion, api.Empty{}, &resp)
	return resp.Text, err
}
