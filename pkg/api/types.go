package api

import (
	"sort"
	"time"
)

// UpdateInfo is one pending package change as reported by a backend.
type UpdateInfo struct {
	Package     string `json:"package" yaml:"package"`
	OldVersion  string `json:"old_version" yaml:"old_version"`
	NewVersion  string `json:"new_version" yaml:"new_version"`
	Description string `json:"description" yaml:"description"`
	Repository  string `json:"repository" yaml:"repository"`
	URL         string `json:"url" yaml:"url"`
}

// RebootInfo compares the running kernel with the most recently installed one.
type RebootInfo struct {
	Needed          bool   `json:"needed"`
	RunningKernel   string `json:"running_kernel"`
	InstalledKernel string `json:"installed_kernel"`
}

// KernelMatcher reports whether two kernel identifiers name the same build.
type KernelMatcher func(running, installed string) bool

// NewRebootInfo derives Needed from the two identifiers. A nil matcher
// falls back to plain string equality.
func NewRebootInfo(running, installed string, same KernelMatcher) RebootInfo {
	if same == nil {
		same = func(a, b string) bool { return a == b }
	}
	return RebootInfo{
		Needed:          !same(running, installed),
		RunningKernel:   running,
		InstalledKernel: installed,
	}
}

// CheckResult is the local machine's update and reboot status.
type CheckResult struct {
	Updates         []UpdateInfo `json:"updates"`
	NeedsRestart    bool         `json:"needs_restart"`
	RestartPackages []string     `json:"restart_packages"`
	RebootInfo      *RebootInfo  `json:"reboot_info"`
}

// NewCheckResult builds a CheckResult whose restart fields are consistent:
// NeedsRestart holds iff restart packages exist or a reboot is pending.
func NewCheckResult(updates []UpdateInfo, restartPackages []string, reboot *RebootInfo) *CheckResult {
	pkgs := normalizeSet(restartPackages)
	return &CheckResult{
		Updates:         dedupeUpdates(updates),
		NeedsRestart:    len(pkgs) > 0 || (reboot != nil && reboot.Needed),
		RestartPackages: pkgs,
		RebootInfo:      reboot,
	}
}

// HostResult is one remote host's status. When Error is set the update data
// is empty and must be ignored.
type HostResult struct {
	Hostname        string       `json:"hostname"`
	Updates         []UpdateInfo `json:"updates"`
	NeedsRestart    bool         `json:"needs_restart"`
	RestartPackages []string     `json:"restart_packages"`
	Error           string       `json:"error,omitempty"`
}

func NewHostResult(hostname string, updates []UpdateInfo, restartPackages []string) HostResult {
	pkgs := normalizeSet(restartPackages)
	return HostResult{
		Hostname:        hostname,
		Updates:         dedupeUpdates(updates),
		NeedsRestart:    len(pkgs) > 0,
		RestartPackages: pkgs,
	}
}

// HostFailure records a host whose inspection failed.
func HostFailure(hostname, msg string) HostResult {
	return HostResult{
		Hostname:        hostname,
		Updates:         []UpdateInfo{},
		RestartPackages: []string{},
		Error:           msg,
	}
}

func (h HostResult) Failed() bool { return h.Error != "" }

// FullCheckResult is what one orchestration run produces.
type FullCheckResult struct {
	RunID          string       `json:"run_id"`
	CheckedAt      time.Time    `json:"checked_at"`
	Local          *CheckResult `json:"local"`
	LocalError     string       `json:"local_error,omitempty"`
	Remote         []HostResult `json:"remote"`
	DiscoveryError string       `json:"discovery_error,omitempty"`
}

// TotalUpdates counts pending updates across the local machine and every
// host that reported data.
func (r *FullCheckResult) TotalUpdates() int {
	if r == nil {
		return 0
	}
	n := 0
	if r.Local != nil {
		n += len(r.Local.Updates)
	}
	for _, h := range r.Remote {
		n += len(h.Updates)
	}
	return n
}

func dedupeUpdates(in []UpdateInfo) []UpdateInfo {
	out := make([]UpdateInfo, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, u := range in {
		if _, ok := seen[u.Package]; ok {
			continue
		}
		seen[u.Package] = struct{}{}
		out = append(out, u)
	}
	return out
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
