// Command migrate manages the pipeline_runs schema on PostgreSQL.
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/loanpurchase/backend/internal/infrastructure/config"
	"github.com/loanpurchase/backend/internal/infrastructure/logger"
	"github.com/loanpurchase/backend/internal/infrastructure/migration"
	"github.com/loanpurchase/backend/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	configPath string
	path       string
	logLevel   string
	log        *zap.Logger
}

func main() {
	c := &cli{}
	if err := c.root().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool for the loan purchase pipeline",
		Long: `Applies the versioned SQL migrations that create the pipeline run tables.

Migrations are read from the binary unless --path points at a directory.
The connection comes from the [database] config section or the
LPP_DATABASE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logger.New(&logger.Config{
				Level:      c.logLevel,
				Format:     "console",
				Output:     "stdout",
				TimeFormat: "2006-01-02 15:04:05",
			})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			c.log = log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync(c.log)
		},
	}
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file")
	cmd.PersistentFlags().StringVar(&c.path, "path", "", "migrations directory (default: embedded migrations)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		c.withMigrator("up", "Apply all pending migrations", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			return m.Up()
		}),
		c.withMigrator("down", "Roll back all migrations", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			return m.Down()
		}),
		c.withMigrator("step <n>", "Apply n migrations (negative rolls back)", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return m.Steps(n)
		}),
		c.withMigrator("goto <version>", "Migrate to a specific version", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return m.GoTo(uint(v))
		}),
		c.withMigrator("version", "Show the applied version", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if v == 0 {
				c.log.Info("No migrations applied")
				return nil
			}
			c.log.Info("Current migration version", zap.Uint("version", v), zap.Bool("dirty", dirty))
			return nil
		}),
		c.withMigrator("force <version>", "Set the version without running migrations", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			c.log.Warn("Forcing migration version")
			return m.Force(v)
		}),
		c.dropCmd(),
		c.createCmd(),
		c.listCmd(),
	)
	return cmd
}

func (c *cli) dropCmd() *cobra.Command {
	var confirm bool
	cmd := c.withMigrator("drop", "Drop every object in the database", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
		if !confirm {
			return errors.New("drop cancelled: pass --confirm")
		}
		return m.Drop()
	})
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the drop")
	return cmd
}

func (c *cli) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name> [description]",
		Short: "Create the next up/down migration pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := c.path
			if dir == "" {
				dir = "migrations"
			}
			desc := ""
			if len(args) > 1 {
				desc = args[1]
			}
			mf, err := migration.CreateMigration(dir, args[0], desc)
			if err != nil {
				return err
			}
			c.log.Info("Migration created",
				zap.String("version", mf.Version),
				zap.String("up_file", mf.UpPath),
				zap.String("down_file", mf.DownPath),
			)
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				names []string
				err   error
			)
			if c.path == "" {
				names, err = migration.ListMigrations(migrations.FS)
			} else {
				names, err = migration.ListMigrations(os.DirFS(c.path))
			}
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

// withMigrator builds a command that runs fn against a connected migrator
func (c *cli) withMigrator(use, short string, args cobra.PositionalArgs, fn func(*migration.Migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(c.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cfg.Database.Driver != "" && cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrations target postgres, configured driver is %s", cfg.Database.Driver)
			}

			db, err := sql.Open("postgres", cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.Ping(); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}

			src := migration.FromFS(migrations.FS, ".")
			if c.path != "" {
				src = migration.FromDir(c.path)
			}
			m, err := migration.New(db, c.log, src)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m, args)
		},
	}
}
