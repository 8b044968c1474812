package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/coinsplit/internal/adapter/driven/vault"
	"github.com/ericfisherdev/coinsplit/internal/config"
	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.DBPath)
			return nil
		},
	}
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random COINSPLIT_SECRET_KEY",
		Long: `Print a new random 32-byte credential encryption key as hex.

Changing the key makes every stored provider connection unreadable;
users must reconnect afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <split-id>",
		Short: "Show how a split is synced on each provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			splitID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid split id %q: %w", args[0], err)
			}

			logger := slog.Default()
			a, err := openApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.close(logger)

			views, err := a.syncSvc.SyncStatus(cmd.Context(), splitID)
			if err != nil {
				return err
			}
			return printViews(cmd.OutOrStdout(), views)
		},
	}
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <record-id>",
		Short: "Retry a failed sync record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q: %w", args[0], err)
			}

			logger := slog.Default()
			a, err := openApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.close(logger)

			rec, err := a.syncSvc.RetrySync(cmd.Context(), recordID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "record %s: %s (retries: %d)\n", rec.ID, rec.Status, rec.RetryCount)
			if rec.LastError != "" {
				fmt.Fprintf(out, "last error: %s\n", rec.LastError)
			}
			return nil
		},
	}
}

// NewFailedCommand creates the failed command.
func NewFailedCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List failed sync records that can still be retried",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.Default()
			a, err := openApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.close(logger)

			views, err := a.syncSvc.RetryableFailures(cmd.Context())
			if err != nil {
				return err
			}
			return printViews(cmd.OutOrStdout(), views)
		},
	}
}

func printViews(out io.Writer, views []model.SyncStatusView) error {
	if len(views) == 0 {
		_, err := fmt.Fprintln(out, "no sync records")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tSPLIT\tPROVIDER\tSTATUS\tEXPENSE\tRETRIES\tLAST SYNC\tLAST ERROR")
	for _, v := range views {
		lastSync := "-"
		if v.LastSyncAt != nil {
			lastSync = v.LastSyncAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			v.RecordID, v.SplitID, orDash(string(v.ProviderType)), v.Status,
			orDash(v.ExternalExpenseID), v.RetryCount, lastSync, orDash(v.LastError))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
