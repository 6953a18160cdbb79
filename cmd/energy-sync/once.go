package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newOnceCmd() *cobra.Command {
	var syncType string

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single sync pass and exit",
		Example: `  energy-sync once
  energy-sync once --type incremental`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := models.ParseSyncType(syncType)
			if err != nil {
				return err
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			svc, err := service.NewEnergySyncService(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					log.Error("Error closing service", zap.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := svc.RunOnce(ctx, mode)
			fmt.Fprintf(cmd.OutOrStdout(), "%s sync: success=%t records=%d errors=%d duration=%dms\n",
				result.SyncType, result.Success, result.RecordsSynced, result.ErrorsCount, result.DurationMs)
			if !result.Success {
				if result.ErrorMessage != "" {
					return fmt.Errorf("sync failed: %s", result.ErrorMessage)
				}
				return fmt.Errorf("sync completed with %d errors", result.ErrorsCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&syncType, "type", string(models.SyncFull), "sync type: full or incremental")
	return cmd
}
