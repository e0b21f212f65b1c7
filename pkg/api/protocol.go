package api

// Boundary calls served by the daemon. Each call has exactly one request and
// one response type below; calls without parameters or results use Empty.
const (
	CallGetConfig                 = "get_config"
	CallSaveConfig                = "save_config"
	CallStartCheck                = "start_check"
	CallGetCheckResult            = "get_check_result"
	CallRunLocalUpdate            = "run_local_update"
	CallRunRemoteUpdate           = "run_remote_update"
	CallRunRemove                 = "run_remove"
	CallIsArchLinux               = "is_arch_linux"
	CallGetPactree                = "get_pactree"
	CallDiscoverTailscaleTags     = "discover_tailscale_tags"
	CallManageAutostart           = "manage_autostart"
	CallManagePasswordlessUpdates = "manage_passwordless_updates"
	CallGetVersion                = "get_version"
)

type Empty struct{}

type SaveConfigRequest struct {
	Config AppConfig `json:"config"`
}

type StartCheckResponse struct {
	Started bool `json:"started"`
}

// CheckResultResponse carries a nil Result until a check has completed.
type CheckResultResponse struct {
	Result *FullCheckResult `json:"result"`
}

type LocalUpdateRequest struct {
	Restart bool `json:"restart"`
}

type RemoteUpdateRequest struct {
	Hostname string `json:"hostname"`
	Restart  bool   `json:"restart"`
}

type RemoveRequest struct {
	Package string `json:"package"`
	Flags   string `json:"flags"`
}

type BoolResponse struct {
	Value bool `json:"value"`
	// Error reports a partial failure; Value is still the effective state.
	Error string `json:"error,omitempty"`
}

type PactreeRequest struct {
	Package string `json:"package"`
	Reverse bool   `json:"reverse"`
}

type TextResponse struct {
	Text string `json:"text"`
}

type TagsResponse struct {
	Tags []string `json:"tags"`
}

type EnableRequest struct {
	Enable bool `json:"enable"`
}

// ErrorResponse is returned with a non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
