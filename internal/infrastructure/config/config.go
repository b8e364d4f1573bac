package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt/topic"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the root configuration structure for the MQTT call service.
// All configuration is loaded from YAML and can be overridden by environment variables.
// Unknown keys are ignored so the file can be shared with other tools.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
	CallService CallServiceConfig `yaml:"mqtt_call_service"`
}

// DatabaseConfig contains SQLite database settings for the call history.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Enabled is the enablement flag of the MQTT integration.
	// When false the call service refuses to set up.
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
// The same delays drive the integration setup-retry loop.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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

// JWTConfig contains JWT token settings for the HTTP API.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes, default lifetime of minted tokens
}

// CallServiceConfig is the mqtt_call_service section.
type CallServiceConfig struct {
	// SubscribeTopic is the MQTT filter to receive service calls on.
	// Empty means the bridge sets up but never subscribes.
	SubscribeTopic string `yaml:"subscribe_topic"`

	// QoS is the maximum QoS requested for the subscription. Default: 0
	QoS int `yaml:"qos"`

	// MaxConcurrentCalls bounds in-flight dispatches. 0 means unbounded.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTCALL_SECTION_KEY
// For example: MQTTCALL_MQTT_HOST, MQTTCALL_SUBSCRIBE_TOPIC
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes using the same rules as Load.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()

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
		Database: DatabaseConfig{
			Path:          "./data/mqtt-call-service.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 10,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mqtt-call-service",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8123,
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
				AccessTokenTTL: 60 * 24 * 365,
			},
		},
	}
}

// envString and envInt map MQTTCALL_* variables onto config fields.
// Secrets belong here rather than in the YAML file.
func envString(cfg *Config) map[string]*string {
	return map[string]*string{
		"MQTTCALL_DATABASE_PATH":   &cfg.Database.Path,
		"MQTTCALL_MQTT_HOST":       &cfg.MQTT.Broker.Host,
		"MQTTCALL_MQTT_CLIENT_ID":  &cfg.MQTT.Broker.ClientID,
		"MQTTCALL_MQTT_USERNAME":   &cfg.MQTT.Auth.Username,
		"MQTTCALL_MQTT_PASSWORD":   &cfg.MQTT.Auth.Password,
		"MQTTCALL_SUBSCRIBE_TOPIC": &cfg.CallService.SubscribeTopic,
		"MQTTCALL_API_HOST":        &cfg.API.Host,
		"MQTTCALL_INFLUXDB_URL":    &cfg.InfluxDB.URL,
		"MQTTCALL_INFLUXDB_TOKEN":  &cfg.InfluxDB.Token,
		"MQTTCALL_LOG_LEVEL":       &cfg.Logging.Level,
		"MQTTCALL_JWT_SECRET":      &cfg.Security.JWT.Secret,
	}
}

func envInt(cfg *Config) map[string]*int {
	return map[string]*int{
		"MQTTCALL_MQTT_PORT": &cfg.MQTT.Broker.Port,
		"MQTTCALL_API_PORT":  &cfg.API.Port,
	}
}

// applyEnvOverrides copies set MQTTCALL_* variables over cfg.
// Integer variables that do not parse are ignored and left to Validate.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envString(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	for name, field := range envInt(cfg) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*field = n
			}
		}
	}
	if v := os.Getenv("MQTTCALL_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
}

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// Validate reports every problem at once, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if t := c.CallService.SubscribeTopic; t != "" {
		if err := topic.ValidSubscribe(t); err != nil {
			fail("mqtt_call_service.subscribe_topic: %v", err)
		}
	}
	if !validQoS(c.CallService.QoS) {
		fail("mqtt_call_service.qos must be 0, 1, or 2")
	}
	if c.CallService.MaxConcurrentCalls < 0 {
		fail("mqtt_call_service.max_concurrent_calls must not be negative")
	}

	if c.Database.Path == "" {
		fail("database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		fail("database.retention_days must not be negative")
	}

	if !validQoS(c.MQTT.QoS) {
		fail("mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		fail("mqtt.broker.host is required when mqtt is enabled")
	}
	if r := c.MQTT.Reconnect; r.InitialDelay <= 0 || r.MaxDelay <= 0 {
		fail("mqtt.reconnect.initial_delay and max_delay must be positive")
	} else if r.MaxDelay < r.InitialDelay {
		fail("mqtt.reconnect.max_delay must not be less than initial_delay")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		fail("mqtt.reconnect.max_attempts must not be negative")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			fail("api.port must be between 1 and 65535")
		}
		switch secret := c.Security.JWT.Secret; {
		case secret == "":
			fail("security.jwt.secret is required when the api is enabled (set MQTTCALL_JWT_SECRET)")
		case len(secret) < minJWTSecretLength:
			fail("security.jwt.secret must be at least %d characters", minJWTSecretLength)
		}
		if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
			fail("api.tls.cert_file and api.tls.key_file are required when tls is enabled")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		fail("influxdb.url is required when influxdb is enabled")
	}

	return errors.Join(errs...)
}

func validQoS(q int) bool {
	return q >= 0 && q <= 2
}

// ReadTimeout returns the HTTP read timeout.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the HTTP keep-alive idle timeout.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

// GetRetention returns how long call history is kept.
// Zero means history is never purged automatically.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
