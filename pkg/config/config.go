package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"dev" validate:"required,oneof=dev test staging prod"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Observer    ObserverConfig   `yaml:"observer"`
	Backend     BackendConfig    `yaml:"backend"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Finnhub     FinnhubConfig    `yaml:"finnhub"`
	Redis       RedisConfig      `yaml:"redis"`
	Cache       CacheConfig      `yaml:"cache"`
	Queue       QueueConfig      `yaml:"queue"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Analytics   AnalyticsConfig  `yaml:"analytics"`
}

type LogConfig struct {
	Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output    string `yaml:"output" default:"stdout"`
	Collector struct {
		Enabled   bool          `yaml:"enabled"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100"`
		Topic     string        `yaml:"topic" default:"tam.logs"`
	} `yaml:"collector"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// ConstraintConfig is the raw friction/min-move pair for a stream.
type ConstraintConfig struct {
	FrictionFloor float64 `yaml:"friction_floor" validate:"gte=0"`
	MinMove       float64 `yaml:"min_move" validate:"gte=0"`
}

type ObserverConfig struct {
	ConstraintConfig `yaml:",inline"`
	Timeframe        string                      `yaml:"timeframe" default:"1m" validate:"oneof=1s 1m 5m"`
	Overrides        map[string]ConstraintConfig `yaml:"overrides" validate:"dive"`
}

// ConstraintsFor returns the override for symbol, or the default pair.
func (o ObserverConfig) ConstraintsFor(symbol string) ConstraintConfig {
	if c, ok := o.Overrides[symbol]; ok {
		return c
	}
	return o.ConstraintConfig
}

type BackendConfig struct {
	Type      string `yaml:"type" default:"both" validate:"oneof=kafka clickhouse both"`
	BatchSize int    `yaml:"batch_size" default:"500" validate:"gte=1"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers" validate:"required,min=1"`
	BarsTopic    string   `yaml:"bars_topic" default:"tam.bars"`
	RecordsTopic string   `yaml:"records_topic" default:"tam.records"`
	RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"lz4" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"20ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"500"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		Enabled    bool          `yaml:"enabled" default:"true"`
		GroupID    string        `yaml:"group_id" default:"tam-observer"`
		Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
		BufferSize int           `yaml:"buffer_size" default:"1000"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"tam.bars.dlq"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"tam" validate:"required"`
	CandlesTable     string        `yaml:"candles_table" default:"candles_1m"`
	SecondsTable     string        `yaml:"seconds_table" default:"candles_1s"`
	RecordsTable     string        `yaml:"records_table" default:"observations"`
	InitSchema       bool          `yaml:"init_schema" default:"true"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"gte=1"`
	MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" default:"5m"`
}

type FinnhubConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIKey         string        `yaml:"api_key"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	BufferSize     int           `yaml:"buffer_size" default:"2000"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"tam"`
	Pool     struct {
		Size        int           `yaml:"size" default:"10" validate:"gte=1"`
		MinIdle     int           `yaml:"min_idle" default:"2"`
		WaitTimeout time.Duration `yaml:"wait_timeout" default:"30s"`
	} `yaml:"pool"`
}

type CacheConfig struct {
	LatestTTL     time.Duration `yaml:"latest_ttl" default:"24h"`
	ReplayTTL     time.Duration `yaml:"replay_ttl" default:"5m"`
	MemoryEntries int           `yaml:"memory_entries" default:"10000"`
	MemoryTTL     time.Duration `yaml:"memory_ttl" default:"1m"`
	MemorySweep   time.Duration `yaml:"memory_sweep" default:"5m"`
}

type QueueConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Name        string        `yaml:"name" default:"replay"`
	Workers     int           `yaml:"workers" default:"2" validate:"gte=1"`
	MaxAttempts int           `yaml:"max_attempts" default:"3"`
	RetryDelay  time.Duration `yaml:"retry_delay" default:"10s"`
}

type RateLimitConfig struct {
	Capacity     float64 `yaml:"capacity" default:"20"`
	RefillPerSec float64 `yaml:"refill_per_sec" default:"5"`
}

type AnalyticsConfig struct {
	RegimeVeto struct {
		Enabled         bool          `yaml:"enabled"`
		ServiceURL      string        `yaml:"service_url" validate:"omitempty,url"`
		Timeout         time.Duration `yaml:"timeout" default:"5s"`
		VetoedStates    []string      `yaml:"vetoed_states" default:"[\"volatile\"]"`
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"1m"`
		Lookback        int           `yaml:"lookback" default:"600" validate:"gte=2"`
	} `yaml:"regime_veto"`
}

var validate = validator.New()

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse is Load without the file read.
func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("TAM_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = splitList(v)
	}
	if v := getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("BARS_TOPIC"); v != "" {
		c.Kafka.BarsTopic = v
	}
	if v := getenv("RECORDS_TOPIC"); v != "" {
		c.Kafka.RecordsTopic = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate runs struct tag validation and the cross-field checks tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Finnhub.Enabled {
		if len(c.Finnhub.Symbols) == 0 {
			return fmt.Errorf("finnhub.symbols cannot be empty when finnhub is enabled")
		}
		if c.Finnhub.APIKey == "" {
			return fmt.Errorf("finnhub.api_key is required when finnhub is enabled")
		}
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue requires redis.enabled")
	}
	if c.Analytics.RegimeVeto.Enabled && c.Analytics.RegimeVeto.ServiceURL == "" {
		return fmt.Errorf("analytics.regime_veto.service_url is required when the veto is enabled")
	}
	return nil
}
