package config

import (
	"fmt"
	"strings"
	"time"

	commoncfg "github.com/callmeahab/energy-management-sub000/common/config"
	"github.com/callmeahab/energy-management-sub000/internal/models"

	"github.com/spf13/viper"
)

// Config energy-sync 服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Database commoncfg.DatabaseConfig

	Redis struct {
		Enabled bool
		commoncfg.RedisConfig
	}
	MQTT struct {
		Enabled bool
		commoncfg.MQTTConfig
	}
	Kafka struct {
		Enabled bool
		commoncfg.KafkaConfig
	}

	// Remote 远端元数据/遥测 API（Mapped GraphQL）
	Remote struct {
		URL        string
		APIKey     string
		Timeout    time.Duration // 单次请求超时
		RetryCount int
		RateLimit  float64 // 每秒请求数，<=0 表示不限速
		RateBurst  int
		PointTypes []string // 能耗点位过滤（单位名或 exactType）
	}

	Sync struct {
		Interval        time.Duration // 调度周期
		WarmUp          time.Duration // 首次执行前的预热延迟
		Workers         int           // 单次同步内的并发度
		SensorBatchSize int           // 每次遥测查询包含的建筑数
		LockEnabled     bool
		LockTTL         time.Duration
		HistoryLimit    int
	}

	Energy struct {
		CollisionPolicy models.CollisionPolicy
		TariffUSDPerKWh float64
		// 分时电价；PeakRate <= 0 时使用固定电价
		PeakRateUSDPerKWh float64
		PeakStartHour     int
		PeakEndHour       int
		Source            string
	}

	Events struct {
		RedisStream       string
		RedisStreamMaxLen int64
		MQTTTopic         string
		KafkaTopic        string
	}

	Log struct {
		Level  string
		Format string
		File   string
	}
}

// Load 加载配置（默认值 + 环境变量）
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{}
	cfg.HTTP.Addr = v.GetString("HTTP_ADDR")

	cfg.Database.Host = v.GetString("DB_HOST")
	cfg.Database.Port = v.GetInt("DB_PORT")
	cfg.Database.User = v.GetString("DB_USER")
	cfg.Database.Password = v.GetString("DB_PASSWORD")
	cfg.Database.Database = v.GetString("DB_NAME")
	cfg.Database.SSLMode = v.GetString("DB_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DB_MAX_CONNS")
	cfg.Database.MaxIdle = v.GetInt("DB_MAX_IDLE")

	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Addr = v.GetString("REDIS_ADDR")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	cfg.MQTT.Enabled = v.GetBool("MQTT_ENABLED")
	cfg.MQTT.Broker = v.GetString("MQTT_BROKER")
	cfg.MQTT.ClientID = v.GetString("MQTT_CLIENT_ID")
	cfg.MQTT.Username = v.GetString("MQTT_USERNAME")
	cfg.MQTT.Password = v.GetString("MQTT_PASSWORD")
	cfg.MQTT.QoS = byte(v.GetUint("MQTT_QOS"))

	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = commoncfg.ParseBrokers(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.Acks = v.GetInt("KAFKA_ACKS")

	cfg.Remote.URL = v.GetString("MAPPED_API_URL")
	cfg.Remote.APIKey = v.GetString("MAPPED_API_KEY")
	cfg.Remote.Timeout = v.GetDuration("REMOTE_TIMEOUT")
	cfg.Remote.RetryCount = v.GetInt("REMOTE_RETRY_COUNT")
	cfg.Remote.RateLimit = v.GetFloat64("REMOTE_RATE_LIMIT")
	cfg.Remote.RateBurst = v.GetInt("REMOTE_RATE_BURST")
	cfg.Remote.PointTypes = splitList(v.GetString("ENERGY_POINT_TYPES"))

	cfg.Sync.Interval = v.GetDuration("SYNC_INTERVAL")
	cfg.Sync.WarmUp = v.GetDuration("SYNC_WARMUP")
	cfg.Sync.Workers = v.GetInt("SYNC_WORKERS")
	cfg.Sync.SensorBatchSize = v.GetInt("SYNC_SENSOR_BATCH_SIZE")
	cfg.Sync.LockEnabled = v.GetBool("SYNC_LOCK_ENABLED")
	cfg.Sync.LockTTL = v.GetDuration("SYNC_LOCK_TTL")
	cfg.Sync.HistoryLimit = v.GetInt("SYNC_HISTORY_LIMIT")

	policy, err := models.ParseCollisionPolicy(v.GetString("ENERGY_COLLISION_POLICY"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENERGY_COLLISION_POLICY: %w", err)
	}
	cfg.Energy.CollisionPolicy = policy
	cfg.Energy.TariffUSDPerKWh = v.GetFloat64("ENERGY_TARIFF_USD_PER_KWH")
	cfg.Energy.PeakRateUSDPerKWh = v.GetFloat64("ENERGY_PEAK_RATE_USD_PER_KWH")
	cfg.Energy.PeakStartHour = v.GetInt("ENERGY_PEAK_START_HOUR")
	cfg.Energy.PeakEndHour = v.GetInt("ENERGY_PEAK_END_HOUR")
	cfg.Energy.Source = v.GetString("ENERGY_SOURCE")

	cfg.Events.RedisStream = v.GetString("EVENTS_REDIS_STREAM")
	cfg.Events.RedisStreamMaxLen = v.GetInt64("EVENTS_REDIS_STREAM_MAXLEN")
	cfg.Events.MQTTTopic = v.GetString("EVENTS_MQTT_TOPIC")
	cfg.Events.KafkaTopic = v.GetString("EVENTS_KAFKA_TOPIC")

	cfg.Log.Level = v.GetString("LOG_LEVEL")
	cfg.Log.Format = v.GetString("LOG_FORMAT")
	cfg.Log.File = v.GetString("LOG_FILE")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "energy_efficiency")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("MQTT_ENABLED", false)
	v.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "energy-sync")
	v.SetDefault("MQTT_QOS", 1)

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_ACKS", 1)

	v.SetDefault("MAPPED_API_URL", "https://api.mapped.com/graphql")
	v.SetDefault("MAPPED_API_KEY", "")
	v.SetDefault("REMOTE_TIMEOUT", "30s")
	v.SetDefault("REMOTE_RETRY_COUNT", 2)
	v.SetDefault("REMOTE_RATE_LIMIT", 5.0)
	v.SetDefault("REMOTE_RATE_BURST", 5)
	v.SetDefault("ENERGY_POINT_TYPES", "Watt")

	v.SetDefault("SYNC_INTERVAL", "1h")
	v.SetDefault("SYNC_WARMUP", "30s")
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("SYNC_SENSOR_BATCH_SIZE", 10)
	v.SetDefault("SYNC_LOCK_ENABLED", true)
	v.SetDefault("SYNC_LOCK_TTL", "2h")
	v.SetDefault("SYNC_HISTORY_LIMIT", 10)

	v.SetDefault("ENERGY_COLLISION_POLICY", string(models.PolicyUpsert))
	v.SetDefault("ENERGY_TARIFF_USD_PER_KWH", 0.12)
	v.SetDefault("ENERGY_PEAK_RATE_USD_PER_KWH", 0.0)
	v.SetDefault("ENERGY_PEAK_START_HOUR", 9)
	v.SetDefault("ENERGY_PEAK_END_HOUR", 18)
	v.SetDefault("ENERGY_SOURCE", models.SourceRemoteAPI)

	v.SetDefault("EVENTS_REDIS_STREAM", "energy:sync:events")
	v.SetDefault("EVENTS_REDIS_STREAM_MAXLEN", 1000)
	v.SetDefault("EVENTS_MQTT_TOPIC", "energy-sync/status")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "energy-sync-status")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
}

func (c *Config) validate() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.WarmUp < 0 {
		return fmt.Errorf("SYNC_WARMUP must not be negative, got %s", c.Sync.WarmUp)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive, got %s", c.Remote.Timeout)
	}
	if c.Sync.Workers < 1 {
		c.Sync.Workers = 1
	}
	if c.Sync.SensorBatchSize < 1 {
		c.Sync.SensorBatchSize = 1
	}
	if c.Energy.PeakStartHour < 0 || c.Energy.PeakStartHour > 23 || c.Energy.PeakEndHour < 0 || c.Energy.PeakEndHour > 24 {
		return fmt.Errorf("invalid peak window %d-%d", c.Energy.PeakStartHour, c.Energy.PeakEndHour)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	return nil
}

// splitList 解析逗号分隔的列表
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
