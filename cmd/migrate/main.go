package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"docpipe/internal/config"
)

func main() {
	if err := newRootCmd(openMigrator).Execute(); err != nil {
		os.Exit(1)
	}
}

// migrator is the part of *migrate.Migrate the commands drive.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

type openFunc func(sourceURL string) (migrator, error)

func openMigrator(sourceURL string) (migrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.DB.Driver != "postgres" {
		return nil, fmt.Errorf("DOCPIPE_DB_DRIVER is %q; migrations only apply to postgres", cfg.DB.Driver)
	}
	m, err := migrate.New(sourceURL, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

func newRootCmd(open openFunc) *cobra.Command {
	var dir string

	// with opens the migrator for one command and always closes it.
	with := func(fn func(m migrator) error) error {
		m, err := open("file://" + dir)
		if err != nil {
			return err
		}
		defer func() { _, _ = m.Close() }()
		return fn(m)
	}

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply docpipe's PostgreSQL schema migrations",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dir, "path", envOr("DOCPIPE_MIGRATIONS_PATH", "db/migrations"), "Directory holding the migration files")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return with(func(m migrator) error {
					if err := ignoreNoChange(m.Up()); err != nil {
						return fmt.Errorf("migration up failed: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return with(func(m migrator) error {
					if err := ignoreNoChange(m.Down()); err != nil {
						return fmt.Errorf("migration down failed: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations reverted")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations, or revert them when n is negative",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
				}
				return with(func(m migrator) error {
					if err := ignoreNoChange(m.Steps(n)); err != nil {
						return fmt.Errorf("migration steps failed: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration steps\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return with(func(m migrator) error {
					return printVersion(cmd.OutOrStdout(), m)
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark the schema as <version> and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < -1 {
					return fmt.Errorf("force needs a version >= -1, got %q", args[0])
				}
				return with(func(m migrator) error {
					if err := m.Force(v); err != nil {
						return fmt.Errorf("migration force failed: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "forced version %d\n", v)
					return nil
				})
			},
		},
	)
	return rootCmd
}

func printVersion(w io.Writer, m migrator) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(w, "version: none")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading version: %w", err)
	}
	fmt.Fprintf(w, "version: %d, dirty: %v\n", v, dirty)
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
