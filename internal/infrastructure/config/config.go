package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported backend types.
const (
	BackendVictoriaMetrics = "victoriametrics"
	BackendInfluxDB        = "influxdb"
)

// Supported fail strategies.
var failStrategies = []string{"noop", "log", "failfast", "retry"}

// Config is the root configuration structure for tsdbsink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Sink       SinkConfig       `yaml:"sink"`
	Source     SourceConfig     `yaml:"source"`
	Backend    BackendConfig    `yaml:"backend"`
	TSDB       TSDBConfig       `yaml:"tsdb"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	DeadLetter DeadLetterConfig `yaml:"deadletter"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServiceConfig identifies this sink instance.
type ServiceConfig struct {
	ID string `yaml:"id"`
}

// SinkConfig controls write orchestration.
type SinkConfig struct {
	// Async acknowledges records from the completion path instead of
	// waiting for the writes on the processing goroutine.
	Async bool `yaml:"async"`

	// TimeoutMS bounds the synchronous wait. 0 waits indefinitely.
	TimeoutMS int `yaml:"timeout_ms"`

	// FailStrategy is one of noop, log, failfast, retry.
	FailStrategy string `yaml:"fail_strategy"`

	// ValidTags is the default tag allow-list for mappers without their own.
	ValidTags []string `yaml:"valid_tags"`

	// PreserveOrder keeps write results in mapper order.
	PreserveOrder bool `yaml:"preserve_order"`

	// EmitResults re-emits results downstream instead of a plain ack.
	// Implies PreserveOrder.
	EmitResults bool `yaml:"emit_results"`

	// CooldownMS is the minimum duration of a throttled record.
	CooldownMS int `yaml:"cooldown_ms"`

	// OverloadRetries is how often an overloaded write is re-issued.
	OverloadRetries int `yaml:"overload_retries"`

	// OverloadBackoffMS is the delay before an overloaded write is re-issued.
	OverloadBackoffMS int `yaml:"overload_backoff_ms"`

	// MaxRedeliveries bounds redelivery under the retry strategy.
	MaxRedeliveries int `yaml:"max_redeliveries"`

	DefaultTag TagConfig      `yaml:"default_tag"`
	Mappers    []MapperConfig `yaml:"mappers"`
}

// TagConfig is a single tag pair.
type TagConfig struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// MapperConfig describes one field mapper. Empty field names use the
// defaults "metric", "timestamp", "value" and "tags".
type MapperConfig struct {
	Event     string            `yaml:"event"`
	Metric    string            `yaml:"metric"`
	Timestamp string            `yaml:"timestamp"`
	Value     string            `yaml:"value"`
	Tags      string            `yaml:"tags"`
	ValidTags []string          `yaml:"valid_tags"`
	When      map[string]string `yaml:"when"`
}

// SourceConfig contains the MQTT record source settings.
type SourceConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topics    []string            `yaml:"topics"`
	Buffer    int                 `yaml:"buffer"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// OutputTopic receives emitted results. Required when sink.emit_results is set.
	OutputTopic string `yaml:"output_topic"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// BackendConfig selects the storage backend.
type BackendConfig struct {
	Type string `yaml:"type"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
	MaxPending    int    `yaml:"max_pending"`
	Gzip          bool   `yaml:"gzip"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`
	Org        string `yaml:"org"`
	Bucket     string `yaml:"bucket"`
	MaxPending int    `yaml:"max_pending"`
}

// DeadLetterConfig contains the SQLite dead-letter journal settings.
type DeadLetterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains admin token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// TokenTTL is the default admin token lifetime in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TSDBSINK_SECTION_KEY
// For example: TSDBSINK_TSDB_URL, TSDBSINK_SINK_ASYNC
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID: "tsdbsink",
		},
		Sink: SinkConfig{
			Async:             true,
			TimeoutMS:         0,
			FailStrategy:      "log",
			CooldownMS:        1000,
			OverloadRetries:   2,
			OverloadBackoffMS: 100,
			MaxRedeliveries:   3,
			DefaultTag:        TagConfig{Key: "sink", Value: "tsdbsink"},
		},
		Source: SourceConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tsdbsink",
			},
			QoS:    1,
			Buffer: 256,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Backend: BackendConfig{
			Type: BackendVictoriaMetrics,
		},
		TSDB: TSDBConfig{
			Enabled:       true,
			URL:           "http://localhost:8428",
			BatchSize:     1000,
			FlushInterval: 1,
			MaxPending:    10000,
			Gzip:          true,
		},
		InfluxDB: InfluxDBConfig{
			MaxPending: 1000,
		},
		DeadLetter: DeadLetterConfig{
			Enabled:     true,
			Path:        "./data/deadletter.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TSDBSINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Sink
	if v, ok := envBool("TSDBSINK_SINK_ASYNC"); ok {
		cfg.Sink.Async = v
	}
	if v, ok := envInt("TSDBSINK_SINK_TIMEOUT_MS"); ok {
		cfg.Sink.TimeoutMS = v
	}
	if v := os.Getenv("TSDBSINK_SINK_FAIL_STRATEGY"); v != "" {
		cfg.Sink.FailStrategy = v
	}

	// Source
	if v := os.Getenv("TSDBSINK_MQTT_HOST"); v != "" {
		cfg.Source.Broker.Host = v
	}
	if v, ok := envInt("TSDBSINK_MQTT_PORT"); ok {
		cfg.Source.Broker.Port = v
	}
	if v := os.Getenv("TSDBSINK_MQTT_USERNAME"); v != "" {
		cfg.Source.Auth.Username = v
	}
	if v := os.Getenv("TSDBSINK_MQTT_PASSWORD"); v != "" {
		cfg.Source.Auth.Password = v
	}

	// Backends
	if v := os.Getenv("TSDBSINK_BACKEND_TYPE"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv("TSDBSINK_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
	}
	if v := os.Getenv("TSDBSINK_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("TSDBSINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Dead letters
	if v := os.Getenv("TSDBSINK_DEADLETTER_PATH"); v != "" {
		cfg.DeadLetter.Path = v
	}

	// API
	if v := os.Getenv("TSDBSINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("TSDBSINK_API_PORT"); ok {
		cfg.API.Port = v
	}

	// Logging
	if v := os.Getenv("TSDBSINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("TSDBSINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Sink validation
	if c.Sink.TimeoutMS < 0 {
		errs = append(errs, "sink.timeout_ms must not be negative")
	}
	if !isFailStrategy(c.Sink.FailStrategy) {
		errs = append(errs, fmt.Sprintf("sink.fail_strategy must be one of %s", strings.Join(failStrategies, ", ")))
	}
	if c.Sink.CooldownMS < 0 {
		errs = append(errs, "sink.cooldown_ms must not be negative")
	}
	if c.Sink.OverloadRetries < 0 || c.Sink.OverloadBackoffMS < 0 {
		errs = append(errs, "sink.overload_retries and sink.overload_backoff_ms must not be negative")
	}
	if (c.Sink.DefaultTag.Key == "") != (c.Sink.DefaultTag.Value == "") {
		errs = append(errs, "sink.default_tag needs both key and value")
	}
	for i, m := range c.Sink.Mappers {
		if m.Event != "" && strings.Contains(m.Event, " ") {
			errs = append(errs, fmt.Sprintf("sink.mappers[%d].event must not contain spaces", i))
		}
	}

	// Source validation
	if c.Source.QoS < 0 || c.Source.QoS > 2 {
		errs = append(errs, "source.qos must be 0, 1, or 2")
	}
	if len(c.Source.Topics) == 0 {
		errs = append(errs, "source.topics requires at least one topic")
	}
	if c.Sink.EmitResults && c.Source.OutputTopic == "" {
		errs = append(errs, "source.output_topic is required when sink.emit_results is set")
	}

	// Backend validation
	switch c.Backend.Type {
	case BackendVictoriaMetrics:
		if c.TSDB.URL == "" {
			errs = append(errs, "tsdb.url is required for the victoriametrics backend")
		}
	case BackendInfluxDB:
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required for the influxdb backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.type must be %q or %q", BackendVictoriaMetrics, BackendInfluxDB))
	}

	// Dead letter validation
	if c.DeadLetter.Enabled && c.DeadLetter.Path == "" {
		errs = append(errs, "deadletter.path is required when the journal is enabled")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The admin API exposes record payloads and replay; the secret is required.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set TSDBSINK_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func isFailStrategy(s string) bool {
	for _, fs := range failStrategies {
		if strings.EqualFold(s, fs) {
			return true
		}
	}
	return false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Timeout returns the synchronous wait bound. Zero means wait indefinitely.
func (s SinkConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// Cooldown returns the minimum duration of a throttled record.
func (s SinkConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownMS) * time.Millisecond
}

// OverloadBackoff returns the delay before re-issuing an overloaded write.
func (s SinkConfig) OverloadBackoff() time.Duration {
	return time.Duration(s.OverloadBackoffMS) * time.Millisecond
}
