package pkgmgr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	debversion "github.com/knqyf263/go-deb-version"
	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

var aptRestartPackages = map[string]struct{}{
	"systemd": {},
	"libc6":   {},
	"dbus":    {},
}

// Apt handles Debian, Ubuntu and derivatives.
type Apt struct {
	updateCacheCmd []string
	upgradableCmd  []string
	summaryCmd     []string
	modulesCmd     []string
	dependsCmd     []string
	rdependsCmd    []string
	binary         string
}

func NewApt() *Apt {
	return &Apt{
		updateCacheCmd: []string{"sudo", "-n", "apt-get", "update"},
		upgradableCmd:  []string{"apt", "list", "--upgradable"},
		summaryCmd:     []string{"dpkg-query", "-W", "--showformat=${Package}\t${binary:Summary}\n"},
		modulesCmd:     []string{"ls", "-1", "/lib/modules"},
		dependsCmd:     []string{"apt-cache", "depends"},
		rdependsCmd:    []string{"apt-cache", "rdepends"},
		binary:         "/usr/bin/apt-get",
	}
}

func (p *Apt) Name() string { return "apt" }

func (p *Apt) Supports(rel system.OSRelease) bool {
	return rel.Like("debian") || rel.Like("ubuntu")
}

func (p *Apt) PrivilegedBinary() string { return p.binary }

func (p *Apt) ListUpdates(ctx context.Context, r system.Runner, opts QueryOptions) ([]api.UpdateInfo, error) {
	// refreshing the lists needs root and apt's lock; without either the
	// cached lists are used
	if _, err := r.Run(ctx, p.updateCacheCmd...); err != nil {
		log.Debug().Err(err).Msg("apt cache refresh skipped")
	}

	out, err := r.Run(ctx, p.upgradableCmd...)
	if err != nil {
		return nil, fmt.Errorf("apt list: %w", err)
	}
	updates := parseAptUpgradable(out)
	if opts.Metadata && len(updates) > 0 {
		p.fillSummaries(ctx, r, updates)
	}
	return updates, nil
}

// parseAptUpgradable parses lines such as
//
//	bash/jammy-updates 5.1-6ubuntu1.1 amd64 [upgradable from: 5.1-6ubuntu1]
func parseAptUpgradable(output string) []api.UpdateInfo {
	var updates []api.UpdateInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		i := strings.Index(line, "[upgradable from: ")
		if i < 0 {
			continue
		}
		fields := strings.Fields(line[:i])
		if len(fields) < 2 {
			continue
		}
		name, suite, _ := strings.Cut(fields[0], "/")
		old := strings.TrimSuffix(line[i+len("[upgradable from: "):], "]")
		updates = append(updates, api.UpdateInfo{
			Package:    name,
			OldVersion: strings.TrimSpace(old),
			NewVersion: fields[1],
			Repository: strings.Split(suite, ",")[0],
		})
	}
	return updates
}

func (p *Apt) fillSummaries(ctx context.Context, r system.Runner, updates []api.UpdateInfo) {
	names := make([]string, 0, len(updates))
	for _, u := range updates {
		names = append(names, u.Package)
	}
	summaries := map[string]string{}
	for _, chunk := range chunkNames(names, metadataChunkSize) {
		out, err := r.Run(ctx, append(append([]string{}, p.summaryCmd...), chunk...)...)
		if err != nil && system.ExitCode(err) < 0 {
			log.Debug().Err(err).Msg("package summaries unavailable")
			return
		}
		for _, line := range strings.Split(out, "\n") {
			if name, summary, ok := strings.Cut(line, "\t"); ok {
				summaries[name] = strings.TrimSpace(summary)
			}
		}
	}
	for i := range updates {
		updates[i].Description = summaries[updates[i].Package]
	}
}

func (p *Apt) RestartPackages(updates []api.UpdateInfo) []string {
	var out []string
	for _, u := range updates {
		if _, ok := aptRestartPackages[u.Package]; ok || strings.HasPrefix(u.Package, "linux-image-") {
			out = append(out, u.Package)
		}
	}
	return out
}

// splitFlavour splits 6.8.0-45-generic into 6.8.0-45 and generic.
func splitFlavour(release string) (string, string) {
	i := strings.LastIndexByte(release, '-')
	if i < 0 {
		return release, ""
	}
	suffix := release[i+1:]
	if suffix == "" || strings.IndexFunc(suffix, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0 {
		return release, ""
	}
	return release[:i], suffix
}

// InstalledKernel returns the newest module directory of the same flavour
// as the running kernel.
func (p *Apt) InstalledKernel(ctx context.Context, r system.Runner, running string) string {
	out, err := r.Run(ctx, p.modulesCmd...)
	if err != nil {
		log.Debug().Err(err).Msg("installed kernels unknown")
		return ""
	}
	_, flavour := splitFlavour(running)

	type candidate struct {
		release string
		ver     debversion.Version
	}
	var cands []candidate
	for _, name := range strings.Fields(out) {
		base, f := splitFlavour(name)
		if f != flavour {
			continue
		}
		v, err := debversion.NewVersion(base)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{release: name, ver: v})
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].ver.LessThan(cands[j].ver) })
	return cands[len(cands)-1].release
}

func (p *Apt) SameKernel(running, installed string) bool { return running == installed }

func (p *Apt) DependencyTree(ctx context.Context, r system.Runner, pkg string, reverse bool) (string, error) {
	if !ValidPackageName(pkg) {
		return "", fmt.Errorf("%w: package %q", ErrInvalidArgument, pkg)
	}
	cmd := p.dependsCmd
	if reverse {
		cmd = p.rdependsCmd
	}
	return r.Run(ctx, append(append([]string{}, cmd...), pkg)...)
}

func (p *Apt) UpgradeCommand(opts UpgradeOptions) []string {
	if opts.Headless {
		return []string{"sudo", "-n", "apt-get", "-y", "dist-upgrade"}
	}
	cmd := []string{"sudo", "apt-get", "dist-upgrade"}
	if opts.NoConfirm {
		cmd = append(cmd, "-y")
	}
	return cmd
}

// RemoveCommand accepts pacman-style flags: n purges configuration and s
// removes dependencies that are no longer needed.
func (p *Apt) RemoveCommand(pkg, flags string, opts UpgradeOptions) ([]string, error) {
	if !ValidPackageName(pkg) {
		return nil, fmt.Errorf("%w: package %q", ErrInvalidArgument, pkg)
	}
	if !removeFlagsRegex.MatchString(flags) {
		return nil, fmt.Errorf("%w: remove flags %q", ErrInvalidArgument, flags)
	}
	cmd := []string{"sudo"}
	if opts.Headless {
		cmd = append(cmd, "-n")
	}
	cmd = append(cmd, "apt-get", "remove")
	if strings.Contains(flags, "n") {
		cmd = append(cmd, "--purge")
	}
	if strings.Contains(flags, "s") {
		cmd = append(cmd, "--autoremove")
	}
	if opts.NoConfirm || opts.Headless {
		cmd = append(cmd, "-y")
	}
	return append(cmd, pkg), nil
}
