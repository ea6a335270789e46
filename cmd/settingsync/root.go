package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/settingsync/internal/app"
	"github.com/dshills/settingsync/internal/config/loader"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	format     string
	address    string
	logLevel   string
	logJSON    bool
	debounce   time.Duration
	standalone bool
}

func (g *globalFlags) options() app.Options {
	cfg := app.DefaultLoggerConfig()
	cfg.Level = app.ParseLogLevel(g.logLevel)
	cfg.JSON = g.logJSON

	return app.Options{
		ConfigPath: g.configPath,
		Format:     g.format,
		Address:    g.address,
		Debounce:   g.debounce,
		Standalone: g.standalone,
		Logger:     app.NewLogger(cfg),
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "settingsync",
		Short: "Keep one settings file consistent across processes",
		Long: `settingsync owns a settings file shared by several processes.

Run "settingsync owner" once per user session. Other invocations edit the
settings through a debounced save queue and signal the owner, which
reloads and passes the signal on to every other connected editor.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.format != "" {
				if _, err := loader.CodecByName(flags.format); err != nil {
					return err
				}
			}
			switch flags.logLevel {
			case "trace", "debug", "info", "warn", "error", "off":
				return nil
			default:
				return fmt.Errorf("invalid log level %q (must be trace, debug, info, warn, error or off)", flags.logLevel)
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", app.DefaultConfigPath(), "settings file (.json, .toml or .yaml)")
	pf.StringVar(&flags.format, "format", "", "settings file format: json, toml or yaml (default from extension)")
	pf.StringVar(&flags.address, "socket", "", "bridge socket path or pipe name (default per user)")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error, off)")
	pf.BoolVar(&flags.logJSON, "log-json", false, "write logs as JSON lines")
	pf.DurationVar(&flags.debounce, "debounce", 0, "save queue delay (default 500ms)")
	pf.BoolVar(&flags.standalone, "standalone", false, "do not use the bridge")

	rootCmd.AddCommand(
		newOwnerCommand(flags),
		newGetCommand(flags),
		newSetCommand(flags),
		newAddServerCommand(flags),
		newRemoveServerCommand(flags),
		newServersCommand(flags),
	)

	return rootCmd
}
