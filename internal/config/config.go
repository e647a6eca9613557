package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const envPrefix = "BCAST"

type Config struct {
	Log        LogConfig                            `mapstructure:"log"`
	HTTP       HTTPConfig                           `mapstructure:"http"`
	MySQL      DatabaseConfig                       `mapstructure:"mysql"`
	ClickHouse DatabaseConfig                       `mapstructure:"clickhouse"`
	Redis      RedisConfig                          `mapstructure:"redis"`
	Kafka      KafkaConfig                          `mapstructure:"kafka"`
	Gateway    GatewayConfig                        `mapstructure:"gateway"`
	Broadcast  BroadcastConfig                      `mapstructure:"broadcast"`
	Deliveries DeliveriesConfig                     `mapstructure:"deliveries"`
	RateLimit  RateLimitConfig                      `mapstructure:"rate_limit"`
	Tenants    map[string]broadcast.TenantOverrides `mapstructure:"tenants"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	Topic          string   `mapstructure:"topic"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	SendPath  string        `mapstructure:"send_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type BroadcastConfig struct {
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	Defaults     TenantDefaults `mapstructure:"defaults"`
}

// TenantDefaults is the YAML shape of broadcast.TenantConfig.
type TenantDefaults struct {
	DelayBetweenMessages time.Duration `mapstructure:"delay_between_messages"`
	DelayBetweenBatches  time.Duration `mapstructure:"delay_between_batches"`
	BatchSize            int           `mapstructure:"batch_size"`
	MaxPerMinute         int           `mapstructure:"max_per_minute"`
	MaxPerHour           int           `mapstructure:"max_per_hour"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	AllowedHourStart     int           `mapstructure:"allowed_hour_start"`
	AllowedHourEnd       int           `mapstructure:"allowed_hour_end"`
	Timezone             string        `mapstructure:"timezone"`
}

func (d TenantDefaults) TenantConfig() broadcast.TenantConfig {
	return broadcast.TenantConfig{
		QueueConfig: broadcast.QueueConfig{
			DelayBetweenMessages: d.DelayBetweenMessages,
			DelayBetweenBatches:  d.DelayBetweenBatches,
			BatchSize:            d.BatchSize,
			MaxPerMinute:         d.MaxPerMinute,
			MaxPerHour:           d.MaxPerHour,
			MaxRetries:           d.MaxRetries,
			RetryDelay:           d.RetryDelay,
		},
		AllowedHours: broadcast.AllowedHours{Start: d.AllowedHourStart, End: d.AllowedHourEnd},
		Timezone:     d.Timezone,
	}
}

type DeliveriesConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Buffer        int           `mapstructure:"buffer"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (BCAST_*).
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// BCAST_MYSQL_DSN -> mysql.dsn
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
