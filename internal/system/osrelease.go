package system

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// OSRelease holds the KEY=VALUE pairs of an os-release file.
type OSRelease map[string]string

var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// ReadOSRelease reads os-release through r. A missing file yields an empty
// result, not an error.
func ReadOSRelease(ctx context.Context, r Runner) OSRelease {
	for _, p := range osReleasePaths {
		data, err := r.ReadFile(ctx, p)
		if err == nil {
			return ParseOSRelease(data)
		}
	}
	return OSRelease{}
}

// ParseOSRelease parses KEY=VALUE lines. Lines starting with # are ignored
// and surrounding quotes are stripped from values.
func ParseOSRelease(data []byte) OSRelease {
	out := OSRelease{}
	s := bufio.NewScanner(bytes.NewReader(data))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			out[k] = strings.Trim(v, `"'`)
		}
	}
	return out
}

func (o OSRelease) ID() string { return o["ID"] }

// Like reports whether the distribution is id or declares itself like id.
func (o OSRelease) Like(id string) bool {
	if o["ID"] == id {
		return true
	}
	for _, l := range strings.Fields(o["ID_LIKE"]) {
		if l == id {
			return true
		}
	}
	return false
}

// IsArchLinux probes the local machine for an Arch-based distribution.
func IsArchLinux(ctx context.Context, r Runner) bool {
	if _, err := r.ReadFile(ctx, "/etc/arch-release"); err == nil {
		return true
	}
	return ReadOSRelease(ctx, r).Like("arch")
}
