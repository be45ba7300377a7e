package commands

import (
	"fmt"
	"os"

	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/plugins"
	"github.com/spf13/cobra"
)

func newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugin",
		Aliases: []string{"plugins"},
		Short:   "Manage remote plugins",
	}
	cmd.AddCommand(
		newPluginListCmd(),
		newPluginAddCmd(),
		newPluginRemoveCmd(),
	)
	return cmd
}

func newPluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, registry, err := pluginEnv(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.Plugins().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No plugins registered.")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plugins (%d):\n", len(records))
			for _, r := range records {
				status := "fetched"
				if _, ok := registry.LocalFile(r.Name); !ok {
					status = "pending"
				}
				fmt.Fprintf(out, "  %-20s %-8s %s\n", r.Name, status, r.URL)
			}
			return nil
		},
	}
}

func newPluginAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Fetch a plugin and register it",
		Long: `Download a plugin manifest (.yaml) or shared object (.so), check that
it loads and register it. It becomes active on the next start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, registry, err := pluginEnv(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = plugins.NameFromURL(args[0])
			}
			sum, _ := cmd.Flags().GetString("sha256")
			rec := database.PluginRecord{Name: name, URL: args[0], SHA256: sum}

			if _, err := db.Plugins().Get(cmd.Context(), name); err == nil {
				return fmt.Errorf("%w: %s", database.ErrPluginExists, name)
			}
			p, err := registry.Install(cmd.Context(), rec)
			if err != nil {
				return err
			}
			if err := db.Plugins().Add(cmd.Context(), rec); err != nil {
				registry.RemoveFiles(name)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s (%d commands). Restart to activate.\n", name, len(p.Commands))
			return nil
		},
	}
	cmd.Flags().String("name", "", "plugin name (default: derived from the url)")
	cmd.Flags().String("sha256", "", "expected hex digest of the file")
	return cmd
}

func newPluginRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister a plugin and delete its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, registry, err := pluginEnv(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Plugins().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			if _, err := registry.RemoveFiles(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s. Restart to apply.\n", args[0])
			return nil
		},
	}
}

func pluginEnv(cmd *cobra.Command) (*database.DB, *plugins.Registry, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cfg, os.Stderr)
	db, err := openDatabase(cmd, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.Plugins.Dir, 0o755); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create plugin dir: %w", err)
	}
	return db, plugins.NewRegistry(cfg.Plugins, db.Plugins(), logger), nil
}
