package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yay-sys-tray/yst/internal/ipc"
	"github.com/yay-sys-tray/yst/pkg/api"
)

const pollInterval = 500 * time.Millisecond

// Start a check
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Start an update check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetBool("wait")
			c := client()
			prev, err := c.CheckResult(cmd.Context())
			if err != nil {
				return err
			}
			started, err := c.StartCheck(cmd.Context())
			if err != nil {
				return err
			}
			if !started {
				fmt.Println("a check is already running")
			}
			if !wait {
				return nil
			}
			res, err := waitForResult(cmd.Context(), c.CheckResult, prev)
			if err != nil {
				return err
			}
			printResult(os.Stdout, res)
			return nil
		},
	}
	cmd.Flags().Bool("wait", false, "wait for the check and print its result")
	return cmd
}

// waitForResult polls until a result other than prev is published.
func waitForResult(ctx context.Context, get func(context.Context) (*api.FullCheckResult, error), prev *api.FullCheckResult) (*api.FullCheckResult, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		res, err := get(ctx)
		if err != nil {
			return nil, err
		}
		if res != nil && (prev == nil || res.RunID != prev.RunID) {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Show the last result
func newResultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Print the result of the last completed check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			res, err := client().CheckResult(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if res == nil {
				fmt.Println("no check has completed yet")
				return nil
			}
			printResult(os.Stdout, res)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the raw result")
	return cmd
}

func printResult(w io.Writer, res *api.FullCheckResult) {
	fmt.Fprintf(w, "checked %s, %d updates\n", res.CheckedAt.Local().Format(time.RFC1123), res.TotalUpdates())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch {
	case res.LocalError != "":
		fmt.Fprintf(tw, "local\terror: %s\n", res.LocalError)
	case res.Local != nil:
		fmt.Fprintf(tw, "local\t%d updates%s\n", len(res.Local.Updates), restartNote(res.Local.NeedsRestart, res.Local.RestartPackages, res.Local.RebootInfo))
		printUpdates(tw, res.Local.Updates)
	}
	if res.DiscoveryError != "" {
		fmt.Fprintf(tw, "tailscale\terror: %s\n", res.DiscoveryError)
	}
	for _, h := range res.Remote {
		if h.Failed() {
			fmt.Fprintf(tw, "%s\terror: %s\n", h.Hostname, h.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d updates%s\n", h.Hostname, len(h.Updates), restartNote(h.NeedsRestart, h.RestartPackages, nil))
		printUpdates(tw, h.Updates)
	}
	tw.Flush()
}

func printUpdates(w io.Writer, updates []api.UpdateInfo) {
	for _, u := range updates {
		fmt.Fprintf(w, "  %s\t%s -> %s\t%s\n", u.Package, u.OldVersion, u.NewVersion, u.Repository)
	}
}

func restartNote(needed bool, pkgs []string, reboot *api.RebootInfo) string {
	if reboot != nil && reboot.Needed {
		return fmt.Sprintf(" (reboot: running %s, installed %s)", reboot.RunningKernel, reboot.InstalledKernel)
	}
	if !needed {
		return ""
	}
	return fmt.Sprintf(" (restart: %s)", strings.Join(pkgs, ", "))
}

// Read or change the daemon config
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the daemon config",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print the config, or one key of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := client().GetConfig(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return yaml.NewEncoder(os.Stdout).Encode(cfg)
			}
			v, err := configValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one key and save the config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			cfg, err := c.GetConfig(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err = setConfigValue(cfg, args[0], args[1])
			if err != nil {
				return err
			}
			return c.SaveConfig(cmd.Context(), cfg)
		},
	})
	return cmd
}

// configFields flattens cfg into its YAML keys.
func configFields(cfg api.AppConfig) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func unknownKey(key string, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown config key %q, want one of: %s", key, strings.Join(keys, ", "))
}

func configValue(cfg api.AppConfig, key string) (any, error) {
	fields, err := configFields(cfg)
	if err != nil {
		return nil, err
	}
	v, ok := fields[key]
	if !ok {
		return nil, unknownKey(key, fields)
	}
	return v, nil
}

// setConfigValue parses value as YAML into key. Type mismatches are errors;
// range checks are left to the daemon.
func setConfigValue(cfg api.AppConfig, key, value string) (api.AppConfig, error) {
	fields, err := configFields(cfg)
	if err != nil {
		return cfg, err
	}
	if _, ok := fields[key]; !ok {
		return cfg, unknownKey(key, fields)
	}
	var v any
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		return cfg, fmt.Errorf("%s: %w", key, err)
	}
	fields[key] = v
	data, err := yaml.Marshal(fields)
	if err != nil {
		return cfg, err
	}
	var out api.AppConfig
	if err := yaml.Unmarshal(data, &out); err != nil {
		return cfg, fmt.Errorf("%s: %w", key, err)
	}
	return out, nil
}

// Apply updates
func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Upgrade this machine, or a peer with --host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			restart, _ := cmd.Flags().GetBool("restart")
			if host == "" {
				return client().RunLocalUpdate(cmd.Context(), restart)
			}
			return client().RunRemoteUpdate(cmd.Context(), host, restart)
		},
	}
	cmd.Flags().String("host", "", "Tailscale peer to upgrade over SSH")
	cmd.Flags().Bool("restart", false, "reboot once the upgrade succeeded")
	return cmd
}

// Remove a package
func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <pkg>",
		Short: "Remove a package from this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, _ := cmd.Flags().GetString("flags")
			return client().RunRemove(cmd.Context(), args[0], flags)
		},
	}
	cmd.Flags().String("flags", "Rns", "removal operation flags, starting with R")
	return cmd
}

// Show a dependency tree
func newPactreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pactree <pkg>",
		Short: "Print the dependency tree of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reverse, _ := cmd.Flags().GetBool("reverse")
			text, err := client().Pactree(cmd.Context(), args[0], reverse)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
	cmd.Flags().BoolP("reverse", "r", false, "show packages depending on pkg")
	return cmd
}

// List tailnet tags
func newTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the tags used on the tailnet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := client().TailscaleTags(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Println(t)
			}
			return nil
		},
	}
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}

// Toggle autostart
func newAutostartCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "autostart on|off",
		Short:     "Start the daemon with the graphical session",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enable, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			c := client()
			if err := c.ManageAutostart(cmd.Context(), enable); err != nil {
				return err
			}
			return saveFlag(cmd.Context(), func(cfg *api.AppConfig) { cfg.Autostart = enable })
		},
	}
}

// Toggle passwordless updates
func newPasswordlessCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "passwordless on|off",
		Short:     "Allow headless upgrades through a sudo rule",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enable, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			state, callErr := client().ManagePasswordless(cmd.Context(), enable)
			var change *ipc.ChangeError
			if callErr != nil && !errors.As(callErr, &change) {
				return callErr
			}
			// record what sudo reports, even when the change failed
			if err := saveFlag(cmd.Context(), func(cfg *api.AppConfig) { cfg.PasswordlessUpdates = state }); err != nil {
				return err
			}
			fmt.Printf("passwordless updates: %t\n", state)
			return callErr
		},
	}
}

// saveFlag applies fn to the daemon config and saves it.
func saveFlag(ctx context.Context, fn func(*api.AppConfig)) error {
	c := client()
	cfg, err := c.GetConfig(ctx)
	if err != nil {
		return err
	}
	fn(&cfg)
	return c.SaveConfig(ctx, cfg)
}

// Probe for Arch
func newIsArchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "is-arch",
		Short: "Report whether this machine runs Arch Linux or a derivative",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arch, err := client().IsArchLinux(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(arch)
			if !arch {
				os.Exit(1)
			}
			return nil
		},
	}
}
