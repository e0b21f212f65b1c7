package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yay-sys-tray/yst/internal/ipc"
)

var (
	version   = "0.4.0"
	commit    = ""
	buildDate = "10/18/2026"
)

// settings holds the bootstrap flags, overridable through YST_* variables.
var settings = viper.New()

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yst",
		Short: "yst: package update checks for this machine and tagged Tailscale peers",
		Long:  "yst runs a per-user daemon that checks this machine and tagged Tailscale peers for package updates, and a client to drive it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("log-file", "", "also write logs to this file, rotated")
	cmd.PersistentFlags().String("socket", ipc.DefaultSocketPath(), "daemon socket")
	cmd.PersistentFlags().String("store", "", "config store: a .yaml file, or a .db file for SQLite (default ~/.config/yay-sys-tray/config.yaml)")

	settings.SetEnvPrefix("yst")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	_ = settings.BindPFlags(cmd.PersistentFlags())

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		setupLogger(parseLevel(settings.GetString("log")), settings.GetString("log-file"))
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newResultCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newPactreeCmd())
	cmd.AddCommand(newTagsCmd())
	cmd.AddCommand(newAutostartCmd())
	cmd.AddCommand(newPasswordlessCmd())
	cmd.AddCommand(newIsArchCmd())
	return cmd
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Create the version command. The daemon's version is shown when one
// answers on the socket.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("yst %s (%s) %s\n", version, commit, buildDate)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Second)
			defer cancel()
			if v, err := client().Version(ctx); err == nil {
				fmt.Printf("daemon %s\n", v)
			}
		},
	}
}

// Setup the logger. With a file, the console output is kept and JSON lines
// go to the rotated file.
func setupLogger(level zerolog.Level, file string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if file != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}
	log.Logger = log.Output(out)
	zerolog.SetGlobalLevel(level)
}

func client() *ipc.Client {
	return ipc.NewClient(settings.GetString("socket"))
}

// Main entry point
func main() {
	setupLogger(zerolog.InfoLevel, "")
	root := newRootCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
