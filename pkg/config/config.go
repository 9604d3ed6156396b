// Package config provides configuration file support for appledex.
// It handles loading, validation, and environment variable interpolation
// for appledex.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full appledex configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ProviderConfig holds embedding and reranker provider settings.
type ProviderConfig struct {
	// APIKeys seeds the shared key pool. Keys stored in the database
	// are appended at startup.
	APIKeys []string `mapstructure:"api_keys"`

	EmbedModel    string `mapstructure:"embed_model"`
	EmbedBaseURL  string `mapstructure:"embed_base_url"`
	RerankModel   string `mapstructure:"rerank_model"`
	RerankBaseURL string `mapstructure:"rerank_base_url"`
}

// VectorConfig selects and configures the semantic index backend.
type VectorConfig struct {
	Backend  string         `mapstructure:"backend"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Pinecone PineconeConfig `mapstructure:"pinecone"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	GRPCPort   int    `mapstructure:"grpc_port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// PineconeConfig holds Pinecone settings.
type PineconeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	IndexName string `mapstructure:"index"`
	IndexHost string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
}

// PostgresConfig holds relational storage settings.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the optional shared cache settings. An empty URL
// selects the in-process memory cache.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GovernanceConfig holds rate limiting and threat detection settings.
type GovernanceConfig struct {
	// WeekStart names the weekday the weekly quota window opens on.
	WeekStart string `mapstructure:"week_start"`

	// Timezone locates the weekly window boundary. Empty means UTC.
	Timezone string `mapstructure:"timezone"`

	// MaxRequestsPerMinute is the per-IP threat detection ceiling.
	MaxRequestsPerMinute int `mapstructure:"max_requests_per_minute"`

	// WebhookURL receives critical threat alerts when set.
	WebhookURL string `mapstructure:"webhook_url"`

	SubscriptionURL string `mapstructure:"subscription_url"`
	UpgradeURL      string `mapstructure:"upgrade_url"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Provider: ProviderConfig{
			APIKeys:     []string{},
			EmbedModel:  "embed-v4.0",
			RerankModel: "rerank-v3.5",
		},
		Vector: VectorConfig{
			Backend: "qdrant",
			Qdrant: QdrantConfig{
				GRPCPort:   6334,
				Collection: "apple_docs",
			},
		},
		Redis: RedisConfig{},
		Governance: GovernanceConfig{
			WeekStart:            "sunday",
			MaxRequestsPerMinute: 30,
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Interpolate environment variables in string fields
	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// weekdays maps accepted week_start values to their canonical form.
var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekStartDay returns the configured weekly window weekday.
func (g GovernanceConfig) WeekStartDay() time.Weekday {
	if d, ok := weekdays[strings.ToLower(g.WeekStart)]; ok {
		return d
	}
	return time.Sunday
}

// Location resolves the configured timezone, defaulting to UTC.
func (g GovernanceConfig) Location() (*time.Location, error) {
	if g.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(g.Timezone)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}

	// Vector validation
	validBackends := map[string]bool{"qdrant": true, "pinecone": true, "": true}
	if !validBackends[cfg.Vector.Backend] {
		errs = append(errs, fmt.Sprintf("vector.backend: unsupported backend %q (supported: qdrant, pinecone)", cfg.Vector.Backend))
	}
	if cfg.Vector.Qdrant.GRPCPort < 0 || cfg.Vector.Qdrant.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("vector.qdrant.grpc_port: must be between 0 and 65535, got %d", cfg.Vector.Qdrant.GRPCPort))
	}

	// Governance validation
	if cfg.Governance.WeekStart != "" {
		if _, ok := weekdays[strings.ToLower(cfg.Governance.WeekStart)]; !ok {
			errs = append(errs, fmt.Sprintf("governance.week_start: unknown weekday %q", cfg.Governance.WeekStart))
		}
	}
	if cfg.Governance.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Governance.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("governance.timezone: %v", err))
		}
	}
	if cfg.Governance.MaxRequestsPerMinute < 0 {
		errs = append(errs, "governance.max_requests_per_minute: must be non-negative")
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)

	for i, key := range cfg.Provider.APIKeys {
		cfg.Provider.APIKeys[i] = InterpolateEnv(key)
	}
	cfg.Provider.EmbedModel = InterpolateEnv(cfg.Provider.EmbedModel)
	cfg.Provider.EmbedBaseURL = InterpolateEnv(cfg.Provider.EmbedBaseURL)
	cfg.Provider.RerankModel = InterpolateEnv(cfg.Provider.RerankModel)
	cfg.Provider.RerankBaseURL = InterpolateEnv(cfg.Provider.RerankBaseURL)

	cfg.Vector.Backend = InterpolateEnv(cfg.Vector.Backend)
	cfg.Vector.Qdrant.Host = InterpolateEnv(cfg.Vector.Qdrant.Host)
	cfg.Vector.Qdrant.Collection = InterpolateEnv(cfg.Vector.Qdrant.Collection)
	cfg.Vector.Qdrant.APIKey = InterpolateEnv(cfg.Vector.Qdrant.APIKey)
	cfg.Vector.Pinecone.APIKey = InterpolateEnv(cfg.Vector.Pinecone.APIKey)
	cfg.Vector.Pinecone.IndexName = InterpolateEnv(cfg.Vector.Pinecone.IndexName)
	cfg.Vector.Pinecone.IndexHost = InterpolateEnv(cfg.Vector.Pinecone.IndexHost)
	cfg.Vector.Pinecone.Namespace = InterpolateEnv(cfg.Vector.Pinecone.Namespace)

	cfg.Postgres.DSN = InterpolateEnv(cfg.Postgres.DSN)
	cfg.Redis.URL = InterpolateEnv(cfg.Redis.URL)
	cfg.Redis.Password = InterpolateEnv(cfg.Redis.Password)

	cfg.Governance.WeekStart = InterpolateEnv(cfg.Governance.WeekStart)
	cfg.Governance.Timezone = InterpolateEnv(cfg.Governance.Timezone)
	cfg.Governance.WebhookURL = InterpolateEnv(cfg.Governance.WebhookURL)
	cfg.Governance.SubscriptionURL = InterpolateEnv(cfg.Governance.SubscriptionURL)
	cfg.Governance.UpgradeURL = InterpolateEnv(cfg.Governance.UpgradeURL)

	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// an appledex.yaml file.
func GenerateTemplate() string {
	return `# appledex Configuration

server:
  port: 8080
  host: 0.0.0.0
  read_timeout: 30s
  write_timeout: 60s

provider:
  api_keys:
    # - ${APPLEDEX_PROVIDER_KEY}
  embed_model: embed-v4.0
  embed_base_url: ""
  rerank_model: rerank-v3.5
  rerank_base_url: ""

vector:
  backend: qdrant        # qdrant or pinecone
  qdrant:
    host: ""
    grpc_port: 6334
    collection: apple_docs
    api_key: ""
    use_tls: false
  pinecone:
    api_key: ""
    index: ""
    host: ""             # resolved from index when empty
    namespace: ""

postgres:
  dsn: ${DATABASE_URL}

redis:
  url: ""                # empty selects the in-process cache
  password: ""
  db: 0

governance:
  week_start: sunday
  timezone: ""           # IANA name, empty means UTC
  max_requests_per_minute: 30
  webhook_url: ""
  subscription_url: ""
  upgrade_url: ""

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
