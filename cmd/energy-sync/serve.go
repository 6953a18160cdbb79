package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var interval, warmUp time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync scheduler",
		Example: `  # hourly sync after the default warm-up
  energy-sync serve

  # sync every 15 minutes, first pass after 5 seconds
  energy-sync serve --interval 15m --warmup 5s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			// 命令行参数覆盖环境变量
			if cmd.Flags().Changed("interval") {
				if interval <= 0 {
					return fmt.Errorf("--interval must be positive, got %s", interval)
				}
				cfg.Sync.Interval = interval
			}
			if cmd.Flags().Changed("warmup") {
				if warmUp < 0 {
					return fmt.Errorf("--warmup must not be negative, got %s", warmUp)
				}
				cfg.Sync.WarmUp = warmUp
			}

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

			if err := svc.Serve(ctx); err != nil {
				log.Error("Service error", zap.Error(err))
				return err
			}
			log.Info("Service stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "sync interval (overrides SYNC_INTERVAL)")
	cmd.Flags().DurationVar(&warmUp, "warmup", 30*time.Second, "delay before the first sync (overrides SYNC_WARMUP)")
	return cmd
}
