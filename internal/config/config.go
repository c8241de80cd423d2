package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Workflow  WorkflowConfig  `yaml:"workflow" envconfig:"WORKFLOW"`
	Warehouse WarehouseConfig `yaml:"warehouse" envconfig:"WAREHOUSE"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" validate:"min=1"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format      string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// WorkflowConfig contains the promotion workflow settings
type WorkflowConfig struct {
	Schema        string        `yaml:"schema" envconfig:"SCHEMA" validate:"oneof=promo-retail product-id"`
	Markets       []string      `yaml:"markets" envconfig:"MARKETS" validate:"min=1,dive,required"`
	TablePrefix   string        `yaml:"table_prefix" envconfig:"TABLE_PREFIX" validate:"required"`
	UploadTimeout time.Duration `yaml:"upload_timeout" envconfig:"UPLOAD_TIMEOUT" validate:"gt=0"`
	LargeFileMB   float64       `yaml:"large_file_mb" envconfig:"LARGE_FILE_MB" validate:"gte=0"`
	StreamingMB   float64       `yaml:"streaming_mb" envconfig:"STREAMING_MB" validate:"gte=0"`
	MaxUploadMB   float64       `yaml:"max_upload_mb" envconfig:"MAX_UPLOAD_MB" validate:"gte=0"`
	RowLimits     []string      `yaml:"row_limits" envconfig:"ROW_LIMITS" validate:"min=1"`
	PreviewLimits []string      `yaml:"preview_limits" envconfig:"PREVIEW_LIMITS" validate:"min=1"`
	MaxLogEntries int           `yaml:"max_log_entries" envconfig:"MAX_LOG_ENTRIES" validate:"gt=0"`
	SessionTTL    time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL" validate:"gte=0"`
}

// WarehouseConfig selects the upload destination
type WarehouseConfig struct {
	Driver    string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite3 pgx"`
	DSN       string `yaml:"dsn" envconfig:"DSN" validate:"required"`
	BatchSize int    `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gt=0"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" validate:"gt=0"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" validate:"gt=0"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" validate:"gtfield=PingPeriod"`
}

// TelemetryConfig selects the trace and metric exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" validate:"required"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// Load resolves the configuration from defaults, the YAML file at path
// (or the discovered one when path is empty) and the environment
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Unset variables leave the field untouched since no field carries a default tag
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file at filePath onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Workflow.Schema = strings.ToLower(strings.TrimSpace(c.Workflow.Schema))
	for i, m := range c.Workflow.Markets {
		c.Workflow.Markets[i] = strings.ToUpper(strings.TrimSpace(m))
	}
}

// Validate checks the struct tags of every section
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// getConfigFilePath returns the path to the config file, "" when none exists
func getConfigFilePath() string {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    DefaultUploadTimeout + 30*time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Workflow: WorkflowConfig{
			Schema:        DefaultSchema,
			Markets:       append([]string(nil), DefaultMarkets...),
			TablePrefix:   DefaultTablePrefix,
			UploadTimeout: DefaultUploadTimeout,
			LargeFileMB:   DefaultLargeFileMB,
			StreamingMB:   DefaultStreamingMB,
			MaxUploadMB:   DefaultMaxUploadMB,
			RowLimits:     append([]string(nil), DefaultRowLimits...),
			PreviewLimits: append([]string(nil), DefaultPreviewLimits...),
			MaxLogEntries: DefaultMaxLogEntries,
			SessionTTL:    DefaultSessionIdleTTL,
		},
		Warehouse: WarehouseConfig{
			Driver:    DefaultWarehouseDriver,
			DSN:       DefaultWarehouseDSN,
			BatchSize: DefaultBatchSize,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
