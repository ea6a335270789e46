package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/settingsync/internal/app"
	"github.com/dshills/settingsync/internal/config"
	"github.com/dshills/settingsync/internal/config/savestate"
)

const shutdownTimeout = 5 * time.Second

func newOwnerCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "owner",
		Short: "Hold the settings file and relay reload signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			owner, err := app.NewOwner(ctx, flags.options())
			if err != nil {
				return err
			}
			return owner.Run(ctx)
		},
	}
}

func newGetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get [section [key]]",
		Short: "Print the settings, a section or a single value as JSON",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Open(cmd.Context(), flags.options())
			if err != nil {
				return err
			}
			defer store.Close()

			var out any = store.Read()
			switch len(args) {
			case 1:
				section, ok := store.Read()[args[0]]
				if !ok {
					return fmt.Errorf("no section %q", args[0])
				}
				out = section
			case 2:
				v, ok := store.Get(args[0], args[1])
				if !ok {
					return fmt.Errorf("no key %s.%s", args[0], args[1])
				}
				out = v
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newSetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <section> <key> <value>",
		Short: "Save one value; value is JSON, or a plain string",
		Example: `  settingsync set appOptions autostart false
  settingsync set appOptions trayIconTheme dark
  settingsync set appOptions notifications '{"flashWindow":2}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, flags, func(e *app.Editor) error {
				return e.Edit(args[0], args[1], parseValue(args[2]))
			})
		},
	}
}

func newAddServerCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add-server <name> <url>",
		Short: "Add a server as the last tab",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, flags, func(e *app.Editor) error {
				return e.AddServer(config.Server{Name: args[0], URL: args[1]})
			})
		},
	}
}

func newRemoveServerCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-server <name>",
		Short: "Remove a server and renumber the remaining tabs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, flags, func(e *app.Editor) error {
				return e.RemoveServer(args[0])
			})
		},
	}
}

func newServersCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the servers shown in the menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Open(cmd.Context(), flags.options())
			if err != nil {
				return err
			}
			defer store.Close()

			servers, err := store.Servers()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderServers(config.MenuServers(servers)))
			return nil
		},
	}
}

// runEdit opens an editor, applies edit, waits for the save and prints the
// save indicator of every section as it changes.
func runEdit(cmd *cobra.Command, flags *globalFlags, edit func(*app.Editor) error) error {
	editor, err := app.NewEditor(cmd.Context(), flags.options())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	editor.OnSaveState(func(section string, _, to savestate.State) {
		if to != savestate.Done {
			fmt.Fprintln(out, renderState(section, to))
		}
	})

	editErr := edit(editor)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := editor.Close(ctx)

	if editErr != nil {
		return editErr
	}
	return closeErr
}

// parseValue reads s as JSON, falling back to the literal string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
