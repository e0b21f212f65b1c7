package pkgmgr

import (
	"context"
	"fmt"
	"strings"

	rpmversion "github.com/knqyf263/go-rpm-version"
	"github.com/rs/zerolog/log"

	"github.com/yay-sys-tray/yst/internal/system"
	"github.com/yay-sys-tray/yst/pkg/api"
)

const metadataChunkSize = 64

// pacmanRestartPackages require a system restart when updated.
var pacmanRestartPackages = map[string]struct{}{
	"linux":          {},
	"linux-lts":      {},
	"linux-zen":      {},
	"linux-hardened": {},
	"systemd":        {},
	"glibc":          {},
	"nvidia":         {},
	"nvidia-lts":     {},
}

// kernel flavour suffix of `uname -r` -> package providing it
var pacmanKernelFlavours = []struct {
	suffix string
	pkg    string
}{
	{"-zen", "linux-zen"},
	{"-hardened", "linux-hardened"},
	{"-lts", "linux-lts"},
}

// Pacman handles Arch Linux and derivatives. Foreign (AUR) packages are
// queried through an AUR helper when one is installed.
type Pacman struct {
	checkCmd      []string
	foreignCmd    []string
	localInfoCmd  []string
	syncInfoCmd   []string
	kernelInfoCmd []string
	treeCmd       string
	helper        string
	binary        string
	lookPath      func(string) bool
}

func NewPacman() *Pacman {
	return &Pacman{
		checkCmd:      []string{"checkupdates"},
		foreignCmd:    []string{"yay", "-Qua"},
		localInfoCmd:  []string{"pacman", "-Qi"},
		syncInfoCmd:   []string{"pacman", "-Si"},
		kernelInfoCmd: []string{"pacman", "-Q"},
		treeCmd:       "pactree",
		helper:        "yay",
		binary:        "/usr/bin/pacman",
		lookPath:      system.LookPath,
	}
}

func (p *Pacman) Name() string { return "pacman" }

func (p *Pacman) Supports(rel system.OSRelease) bool { return rel.Like("arch") }

func (p *Pacman) PrivilegedBinary() string { return p.binary }

func (p *Pacman) ListUpdates(ctx context.Context, r system.Runner, opts QueryOptions) ([]api.UpdateInfo, error) {
	// checkupdates syncs a temporary database copy: exit 0 = updates,
	// exit 2 = nothing to do, anything else is a failure
	out, err := r.Run(ctx, p.checkCmd...)
	var updates []api.UpdateInfo
	switch {
	case err == nil:
		updates = ParseUpdateLines(out)
	case system.ExitCode(err) == 2:
	default:
		return nil, fmt.Errorf("checkupdates: %w", err)
	}
	repoCount := len(updates)

	if opts.Foreign {
		// the helper exits non-zero when nothing is pending or when it is
		// not installed; neither is a failure of the inspection
		if out, err := r.Run(ctx, p.foreignCmd...); err == nil {
			for _, u := range ParseUpdateLines(out) {
				u.Repository = "aur"
				u.URL = "https://aur.archlinux.org/packages/" + u.Package
				updates = append(updates, u)
			}
		} else {
			log.Debug().Err(err).Msg("foreign package query skipped")
		}
	}

	if opts.Metadata && len(updates) > 0 {
		p.fillDescriptions(ctx, r, updates)
		p.fillRepositories(ctx, r, updates[:repoCount])
	}
	return updates, nil
}

func (p *Pacman) fillDescriptions(ctx context.Context, r system.Runner, updates []api.UpdateInfo) {
	names := make([]string, 0, len(updates))
	for _, u := range updates {
		names = append(names, u.Package)
	}
	descs := map[string]string{}
	for _, chunk := range chunkNames(names, metadataChunkSize) {
		// pacman exits non-zero if any name is unknown but still prints the rest
		out, err := r.Run(ctx, append(append([]string{}, p.localInfoCmd...), chunk...)...)
		if err != nil && system.ExitCode(err) < 0 {
			log.Debug().Err(err).Msg("package descriptions unavailable")
			return
		}
		for _, b := range parseInfoBlocks(out) {
			if b["Name"] != "" {
				descs[b["Name"]] = b["Description"]
			}
		}
	}
	for i := range updates {
		if d, ok := descs[updates[i].Package]; ok {
			updates[i].Description = d
		}
	}
}

func (p *Pacman) fillRepositories(ctx context.Context, r system.Runner, updates []api.UpdateInfo) {
	if len(updates) == 0 {
		return
	}
	names := make([]string, 0, len(updates))
	for _, u := range updates {
		names = append(names, u.Package)
	}
	type repoArch struct{ repo, arch string }
	repos := map[string]repoArch{}
	for _, chunk := range chunkNames(names, metadataChunkSize) {
		out, err := r.Run(ctx, append(append([]string{}, p.syncInfoCmd...), chunk...)...)
		if err != nil && system.ExitCode(err) < 0 {
			log.Debug().Err(err).Msg("package repositories unavailable")
			return
		}
		for _, b := range parseInfoBlocks(out) {
			if b["Name"] != "" && b["Repository"] != "" {
				repos[b["Name"]] = repoArch{b["Repository"], b["Architecture"]}
			}
		}
	}
	for i := range updates {
		if ra, ok := repos[updates[i].Package]; ok {
			updates[i].Repository = ra.repo
			updates[i].URL = fmt.Sprintf("https://archlinux.org/packages/%s/%s/%s/", ra.repo, ra.arch, updates[i].Package)
		}
	}
}

func (p *Pacman) RestartPackages(updates []api.UpdateInfo) []string {
	var out []string
	for _, u := range updates {
		if _, ok := pacmanRestartPackages[u.Package]; ok {
			out = append(out, u.Package)
		}
	}
	return out
}

// kernelPackage maps a running kernel release to the package providing it.
func (p *Pacman) kernelPackage(running string) string {
	for _, f := range pacmanKernelFlavours {
		if strings.Contains(running, f.suffix) {
			return f.pkg
		}
	}
	return "linux"
}

func (p *Pacman) InstalledKernel(ctx context.Context, r system.Runner, running string) string {
	out, err := r.Run(ctx, append(append([]string{}, p.kernelInfoCmd...), p.kernelPackage(running))...)
	if err != nil {
		log.Debug().Err(err).Msg("installed kernel unknown")
		return ""
	}
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// SameKernel compares `uname -r` output such as 6.6.1-arch1-1 with pacman's
// 6.6.1.arch1-1: the flavour suffix is dropped, '-' and '.' are made
// equivalent and the rest is compared segment-wise as a version.
func (p *Pacman) SameKernel(running, installed string) bool {
	if running == installed {
		return true
	}
	r := running
	for _, f := range pacmanKernelFlavours {
		r = strings.TrimSuffix(r, f.suffix)
	}
	rv := rpmversion.NewVersion(strings.ReplaceAll(r, "-", "."))
	return rv.Equal(rpmversion.NewVersion(strings.ReplaceAll(installed, "-", ".")))
}

func (p *Pacman) DependencyTree(ctx context.Context, r system.Runner, pkg string, reverse bool) (string, error) {
	if !ValidPackageName(pkg) {
		return "", fmt.Errorf("%w: package %q", ErrInvalidArgument, pkg)
	}
	args := []string{p.treeCmd}
	if reverse {
		args = append(args, "-r")
	}
	return r.Run(ctx, append(args, pkg)...)
}

func (p *Pacman) UpgradeCommand(opts UpgradeOptions) []string {
	var cmd []string
	switch {
	case opts.Headless:
		cmd = []string{"sudo", "-n", "pacman", "-Syu", "--noconfirm"}
	case opts.Foreign && p.lookPath(p.helper):
		cmd = []string{p.helper, "-Syu"}
	default:
		cmd = []string{"sudo", "pacman", "-Syu"}
	}
	if opts.NoConfirm && !opts.Headless {
		cmd = append(cmd, "--noconfirm")
	}
	return cmd
}

func (p *Pacman) RemoveCommand(pkg, flags string, opts UpgradeOptions) ([]string, error) {
	if !ValidPackageName(pkg) {
		return nil, fmt.Errorf("%w: package %q", ErrInvalidArgument, pkg)
	}
	if !removeFlagsRegex.MatchString(flags) {
		return nil, fmt.Errorf("%w: remove flags %q", ErrInvalidArgument, flags)
	}
	var cmd []string
	switch {
	case opts.Headless:
		cmd = []string{"sudo", "-n", "pacman", "-" + flags, pkg, "--noconfirm"}
		return cmd, nil
	case opts.Foreign && p.lookPath(p.helper):
		cmd = []string{p.helper, "-" + flags, pkg}
	default:
		cmd = []string{"sudo", "pacman", "-" + flags, pkg}
	}
	if opts.NoConfirm {
		cmd = append(cmd, "--noconfirm")
	}
	return cmd, nil
}
