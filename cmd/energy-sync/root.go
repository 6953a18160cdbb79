package main

import (
	"fmt"

	logpkg "github.com/callmeahab/energy-management-sub000/common/logger"
	"github.com/callmeahab/energy-management-sub000/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "energy-sync"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Synchronizes building hierarchy and energy telemetry into PostgreSQL",
		Long: `energy-sync pulls the building/floor/space hierarchy and sensor readings
from the Mapped GraphQL API, normalizes readings into hourly energy usage
records and keeps an append-only ledger of every sync pass.

Configuration is read from the environment (DB_*, REDIS_*, MAPPED_API_*, SYNC_*, ...).`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newOnceCmd(), newStatusCmd())
	return root
}

// setup 加载配置并初始化日志
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName, cfg.Log.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}
