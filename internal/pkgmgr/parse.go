package pkgmgr

import (
	"regexp"
	"strings"

	"github.com/yay-sys-tray/yst/pkg/api"
)

var (
	packageNameRegex = regexp.MustCompile(`^[a-zA-Z0-9@._+-]+$`)
	removeFlagsRegex = regexp.MustCompile(`^R[a-zA-Z]*$`)
)

// ValidPackageName reports whether name is safe to pass as an argument.
func ValidPackageName(name string) bool {
	return packageNameRegex.MatchString(name) && !strings.HasPrefix(name, "-")
}

// ValidRemoveFlags accepts pacman-style removal operations such as "Rns".
func ValidRemoveFlags(flags string) bool {
	return removeFlagsRegex.MatchString(flags)
}

// ParseUpdateLines parses "package old_version -> new_version" lines as
// printed by checkupdates and AUR helpers. Other lines are skipped.
func ParseUpdateLines(output string) []api.UpdateInfo {
	var updates []api.UpdateInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, " -> ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 4 && parts[len(parts)-2] == "->" {
			updates = append(updates, api.UpdateInfo{
				Package:    parts[0],
				OldVersion: parts[1],
				NewVersion: parts[len(parts)-1],
			})
		}
	}
	return updates
}

// parseInfoBlocks parses "Key : Value" blocks separated by blank lines, as
// printed by pacman -Qi and -Si. Continuation lines are ignored.
func parseInfoBlocks(output string) []map[string]string {
	var blocks []map[string]string
	cur := map[string]string{}
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, cur)
			cur = map[string]string{}
		}
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		cur[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	flush()
	return blocks
}
