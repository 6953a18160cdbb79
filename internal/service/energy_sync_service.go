package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/callmeahab/energy-management-sub000/common/database"
	commonmqtt "github.com/callmeahab/energy-management-sub000/common/mqtt"
	rediscommon "github.com/callmeahab/energy-management-sub000/common/redis"
	"github.com/callmeahab/energy-management-sub000/internal/config"
	httpapi "github.com/callmeahab/energy-management-sub000/internal/http"
	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/normalizer"
	"github.com/callmeahab/energy-management-sub000/internal/notify"
	"github.com/callmeahab/energy-management-sub000/internal/remote"
	"github.com/callmeahab/energy-management-sub000/internal/repository"
	"github.com/callmeahab/energy-management-sub000/internal/scheduler"
	"github.com/callmeahab/energy-management-sub000/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	syncLockKey     = "energy-sync:lock"
	shutdownTimeout = 30 * time.Second
)

// EnergySyncService 按配置组装同步引擎、调度器和 HTTP API
type EnergySyncService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client
	kafka       *notify.KafkaNotifier
	sync        *SyncService
	scheduler   *scheduler.Scheduler
	server      *Server
}

// NewEnergySyncService 创建服务；Redis/MQTT/Kafka 连接失败只降级不退出
func NewEnergySyncService(cfg *config.Config, logger *zap.Logger) (*EnergySyncService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &EnergySyncService{config: cfg, logger: logger, db: db}

	// 初始化 Redis（同步锁 + 事件流）
	if cfg.Redis.Enabled {
		client, err := rediscommon.Connect(context.Background(), &cfg.Redis.RedisConfig)
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-process lock", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			s.redisClient = client
		}
	}

	var notifiers notify.Multi
	if s.redisClient != nil && cfg.Events.RedisStream != "" {
		notifiers = append(notifiers, notify.NewRedisStreamNotifier(s.redisClient, cfg.Events.RedisStream, cfg.Events.RedisStreamMaxLen))
	}

	// 初始化 MQTT
	if cfg.MQTT.Enabled {
		client, err := commonmqtt.NewClient(&cfg.MQTT.MQTTConfig, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, status events disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			s.mqttClient = client
			notifiers = append(notifiers, notify.NewMQTTNotifier(client, cfg.Events.MQTTTopic, client.QoS()))
		}
	}

	// 初始化 Kafka（Writer 惰性连接）
	if cfg.Kafka.Enabled {
		s.kafka = notify.NewKafkaNotifier(cfg.Kafka.KafkaConfig, cfg.Events.KafkaTopic)
		notifiers = append(notifiers, s.kafka)
	}

	var locker store.Locker
	if cfg.Sync.LockEnabled {
		if s.redisClient != nil {
			locker = store.NewRedisLocker(s.redisClient, syncLockKey, cfg.Sync.LockTTL, logger)
		} else {
			locker = store.NewLocalLocker()
		}
	}

	// 创建 Repository
	schemaRepo := repository.NewPostgresSchemaRepository(db, logger)
	energyRepo := repository.NewPostgresEnergyUsageRepository(db, cfg.Energy.CollisionPolicy, schemaRepo, logger)
	logger.Info("Energy usage collision policy", zap.String("policy", string(energyRepo.Policy())))
	deps := SyncDeps{
		Source: remote.NewClient(remote.Options{
			URL:        cfg.Remote.URL,
			APIKey:     cfg.Remote.APIKey,
			Timeout:    cfg.Remote.Timeout,
			RetryCount: cfg.Remote.RetryCount,
			RateLimit:  cfg.Remote.RateLimit,
			RateBurst:  cfg.Remote.RateBurst,
		}, logger),
		Schema:    schemaRepo,
		Hierarchy: repository.NewPostgresHierarchyRepository(db, logger),
		Energy:    energyRepo,
		Ledger:    repository.NewPostgresSyncStatusRepository(db, logger),
		Locker:    locker,
	}
	if len(notifiers) > 0 {
		deps.Notifier = notifiers
	}

	s.sync = NewSyncService(deps, SyncOptions{
		PointTypes:      cfg.Remote.PointTypes,
		Workers:         cfg.Sync.Workers,
		SensorBatchSize: cfg.Sync.SensorBatchSize,
		Tariff:          newTariff(cfg),
		Source:          cfg.Energy.Source,
	}, logger)

	s.scheduler = scheduler.New(s.sync, scheduler.Options{
		Interval: cfg.Sync.Interval,
		WarmUp:   cfg.Sync.WarmUp,
		SyncType: models.SyncFull,
	}, logger)

	handler := httpapi.NewSyncHandler(s.sync, s.scheduler, cfg.Sync.HistoryLimit, logger)
	s.server = NewServer(cfg.HTTP.Addr, httpapi.NewRouter(handler, logger), logger)

	return s, nil
}

// newTariff 配置了峰时电价则使用分时电价
func newTariff(cfg *config.Config) normalizer.Tariff {
	if cfg.Energy.PeakRateUSDPerKWh > 0 {
		return normalizer.TimeOfUseTariff{
			PeakUSDPerKWh:    cfg.Energy.PeakRateUSDPerKWh,
			OffPeakUSDPerKWh: cfg.Energy.TariffUSDPerKWh,
			PeakStartHour:    cfg.Energy.PeakStartHour,
			PeakEndHour:      cfg.Energy.PeakEndHour,
		}
	}
	return normalizer.ConstantTariff{USDPerKWh: cfg.Energy.TariffUSDPerKWh}
}

// Sync 同步引擎
func (s *EnergySyncService) Sync() *SyncService {
	return s.sync
}

// RunOnce 执行一次同步
func (s *EnergySyncService) RunOnce(ctx context.Context, mode models.SyncType) *models.SyncResult {
	return s.sync.Synchronize(ctx, mode)
}

// Serve 启动调度器和 HTTP API，ctx 取消后优雅退出
func (s *EnergySyncService) Serve(ctx context.Context) error {
	s.logger.Info("Starting energy sync service",
		zap.Duration("interval", s.config.Sync.Interval),
		zap.Duration("warm_up", s.config.Sync.WarmUp),
		zap.Bool("redis_enabled", s.redisClient != nil),
		zap.Bool("lock_enabled", s.config.Sync.LockEnabled),
	)
	s.scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		serveErr = err
	}

	// 停止调度，等待正在执行的同步结束
	s.scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.scheduler.Wait()
	return serveErr
}

// Close 释放外部连接
func (s *EnergySyncService) Close() error {
	var errs []error
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}
