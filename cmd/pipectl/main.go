package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/middleware"
	"docpipe/internal/repository/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		apiURL string
		userID string
	)

	// client is built lazily so that --help works without configuration.
	client := func() (*apiClient, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		uid, err := uuid.Parse(userID)
		if err != nil {
			return nil, fmt.Errorf("--user must be a uuid: %w", err)
		}
		token, err := middleware.IssueToken(cfg.JWT, uid, 5*time.Minute)
		if err != nil {
			return nil, err
		}
		return newAPIClient(apiURL, token), nil
	}

	rootCmd := &cobra.Command{
		Use:          "pipectl",
		Short:        "Operate a running docpipe server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "Base URL of the docpipe API")
	rootCmd.PersistentFlags().StringVar(&userID, "user", uuid.Nil.String(), "User id the operator token is issued for")

	rerunCmd := &cobra.Command{
		Use:   "rerun <file-id>",
		Short: "Re-run part of the pipeline for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			mode, _ := cmd.Flags().GetString("mode")
			c, err := client()
			if err != nil {
				return err
			}
			f, err := c.Rerun(cmd.Context(), id, mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file %d: %s\n", f.ID, f.ParseState)
			return nil
		},
	}
	rerunCmd.Flags().String("mode", string(domain.RerunParseOnly), "parse-only|predict-only|audit-only|judge-only")

	cancelCmd := &cobra.Command{
		Use:   "cancel <file-id>",
		Short: "Cancel processing of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client()
			if err != nil {
				return err
			}
			f, err := c.Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file %d: %s\n", f.ID, f.ParseState)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <file-id>...",
		Short: "Show the processing status of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			c, err := client()
			if err != nil {
				return err
			}
			statuses, err := c.Status(cmd.Context(), ids)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", s.FileID, s.Status, s.Extra.ParseState, s.Message)
			}
			return nil
		},
	}

	queueCmd := &cobra.Command{
		Use:   "queue-depth",
		Short: "Count files waiting for a pipeline worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			n, err := queueDepth(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	queueCmd.Flags().Int("limit", 100000, "Maximum number of files to count")

	rootCmd.AddCommand(rerunCmd, cancelCmd, statusCmd, queueCmd)
	return rootCmd
}

// queueDepth counts pending files straight from the database, which also
// covers files a stopped server has not picked up yet.
func queueDepth(ctx context.Context, limit int) (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, fmt.Errorf("loading config: %w", err)
	}
	db, err := postgres.NewDB(&cfg.DB)
	if err != nil {
		return 0, fmt.Errorf("connecting to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	files, err := postgres.NewFileRepo(db).ListByState(ctx, []domain.ParseState{domain.ParseStatePending}, limit)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid file id %q", s)
	}
	return id, nil
}
