package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/callmeahab/energy-management-sub000/common/database"
	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/repository"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Print recent sync ledger entries and local row counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.NewPostgresDB(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close(db)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			ledger := repository.NewPostgresSyncStatusRepository(db, log)
			entries, err := ledger.RecentEntries(ctx, limit)
			if err != nil {
				return err
			}
			stats, err := ledger.DatabaseStats(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), entries, stats)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of ledger entries to show")
	return cmd
}

func printStatus(out io.Writer, entries []models.SyncStatusEntry, stats *models.DatabaseStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "CREATED AT\tTYPE\tSTATUS\tRECORDS\tERRORS\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%dms\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.SyncType, e.Status, e.RecordsSynced, e.ErrorsCount, e.DurationMs)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "(no sync runs recorded)")
	}
	if stats != nil {
		fmt.Fprintf(w, "\nbuildings=%d floors=%d spaces=%d points=%d energy_usage=%d sync_status=%d\n",
			stats.Buildings, stats.Floors, stats.Spaces, stats.Points, stats.EnergyUsage, stats.SyncStatus)
	}
}
