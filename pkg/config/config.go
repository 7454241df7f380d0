package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"QuantSync/pkg/util"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Instance    struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"instance"`
	Logger struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"json"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collect    struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"quantsync.logs"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collect"`
	} `yaml:"logger"`
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Storage struct {
		// postgres or memory
		Backend string `yaml:"backend" default:"postgres"`
	} `yaml:"storage"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"20"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"quantsync"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		DecisionsTopic string   `yaml:"decisions_topic" default:"quantsync.decisions"`
		PositionsTopic string   `yaml:"positions_topic" default:"quantsync.positions"`
		BarsTopic      string   `yaml:"bars_topic" default:"quantsync.bars"`
		RequiredAcks   int      `yaml:"required_acks" default:"1"`
		Compression    string   `yaml:"compression" default:"snappy"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"quantsync"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Trading struct {
		Symbols     []string      `yaml:"symbols"`
		Strategy    string        `yaml:"strategy" default:"fusion"`
		Interval    time.Duration `yaml:"interval" default:"1m"`
		MaxParallel int           `yaml:"max_parallel" default:"8"`
		OrderQty    float64       `yaml:"order_qty" default:"0.01"`
		// Orders per symbol per minute.
		OrderRate   float64 `yaml:"order_rate" default:"6"`
		HistoryBars int     `yaml:"history_bars" default:"120"`
	} `yaml:"trading"`
	Broker struct {
		// paper or http
		Type    string        `yaml:"type" default:"paper"`
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"broker"`
	Producers struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout" default:"5s"`
		SentimentPath string        `yaml:"sentiment_path" default:"/score/sentiment"`
		OrderBookPath string        `yaml:"order_book_path" default:"/score/orderbook"`
		MathPath      string        `yaml:"math_path" default:"/score/math"`
		Feed          struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url"`
			MaxAge         time.Duration `yaml:"max_age" default:"2m"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		} `yaml:"feed"`
	} `yaml:"producers"`
	Phase struct {
		// Optional override per phase index.
		MinConfidence map[int]float64 `yaml:"min_confidence"`
	} `yaml:"phase"`
	Fusion struct {
		Weights struct {
			Sentiment     float64 `yaml:"sentiment" default:"0.30"`
			Markov        float64 `yaml:"markov" default:"0.25"`
			OrderBook     float64 `yaml:"order_book" default:"0.20"`
			MathIntuition float64 `yaml:"math_intuition" default:"0.20"`
			CrossSite     float64 `yaml:"cross_site" default:"0.10"`
		} `yaml:"weights"`
		AgreeThreshold        float64 `yaml:"agree_threshold" default:"0.10"`
		ConflictThreshold     float64 `yaml:"conflict_threshold" default:"0.30"`
		ConflictMinConfidence float64 `yaml:"conflict_min_confidence" default:"0.30"`
		ConflictPenalty       float64 `yaml:"conflict_penalty" default:"0.05"`
		MarkovNeutralReturn   float64 `yaml:"markov_neutral_return" default:"0.0005"`
	} `yaml:"fusion"`
	Markov struct {
		Window               int     `yaml:"window" default:"10"`
		TrendThreshold       float64 `yaml:"trend_threshold" default:"0.005"`
		StrongTrendThreshold float64 `yaml:"strong_trend_threshold" default:"0.02"`
		HighVolThreshold     float64 `yaml:"high_vol_threshold" default:"0.01"`
		ConfidenceHalfLife   float64 `yaml:"confidence_half_life" default:"20"`
		LowReliabilityCap    float64 `yaml:"low_reliability_cap" default:"0.5"`
		RecommendedMinTrades int     `yaml:"recommended_min_trades" default:"1000"`
	} `yaml:"markov"`
	Consolidation struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Interval        time.Duration `yaml:"interval" default:"3m"`
		AggregateWindow time.Duration `yaml:"aggregate_window" default:"24h"`
		AggregateTTL    time.Duration `yaml:"aggregate_ttl" default:"5m"`
		Retry           struct {
			MaxAttempts int           `yaml:"max_attempts" default:"3"`
			Min         time.Duration `yaml:"min" default:"100ms"`
			Max         time.Duration `yaml:"max" default:"2s"`
			Factor      float64       `yaml:"factor" default:"2"`
		} `yaml:"retry"`
	} `yaml:"consolidation"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes the YAML document on top of them and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
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

	if v := os.Getenv("INSTANCE_ID"); v != "" {
		c.Instance.ID = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Trading.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	c.Server.Port = util.ParseIntDefault(os.Getenv("SERVER_PORT"), c.Server.Port)
	c.Redis.DB = util.ParseIntDefault(os.Getenv("REDIS_DB"), c.Redis.DB)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("instance.id is required")
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols cannot be empty")
	}
	switch c.Storage.Backend {
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for storage.backend=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be 'postgres' or 'memory', got '%s'", c.Storage.Backend)
	}
	switch c.Broker.Type {
	case "paper":
	case "http":
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required for broker.type=http")
		}
	default:
		return fmt.Errorf("broker.type must be 'paper' or 'http', got '%s'", c.Broker.Type)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Trading.OrderQty <= 0 {
		return fmt.Errorf("trading.order_qty must be positive")
	}
	if c.Markov.Window < 2 {
		return fmt.Errorf("markov.window must be at least 2, got %d", c.Markov.Window)
	}
	if c.Markov.LowReliabilityCap <= 0 || c.Markov.LowReliabilityCap >= 1 {
		return fmt.Errorf("markov.low_reliability_cap must be in (0,1)")
	}
	if c.Consolidation.Retry.MaxAttempts < 1 {
		return fmt.Errorf("consolidation.retry.max_attempts must be at least 1")
	}
	for p, v := range c.Phase.MinConfidence {
		if p < 0 || p > 4 || v < 0 || v > 1 {
			return fmt.Errorf("phase.min_confidence[%d]=%v out of range", p, v)
		}
	}
	return nil
}
