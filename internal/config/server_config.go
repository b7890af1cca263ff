package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afroash/parking-monitor/internal/models"
)

// Poll modes
const (
	ModeMerge   = "merge"
	ModeReplace = "replace"
)

// AppConfig holds all configuration for the parking monitor server
type AppConfig struct {
	Server   ServerSettings   `yaml:"server"`
	Upstream UpstreamSettings `yaml:"upstream"`
	Poll     PollSettings     `yaml:"poll"`
	Sensors  models.Registry  `yaml:"sensors"`
	Database DatabaseSettings `yaml:"database"`
	MQTT     MQTTSettings     `yaml:"mqtt"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"` // guards manual refresh when set
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	DashboardPath  string        `yaml:"dashboard_path"`
}

// UpstreamSettings describes the parking sensor API
type UpstreamSettings struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	CredentialsFile string        `yaml:"credentials_file"`
	EnvFile         string        `yaml:"env_file"`
	Timeout         time.Duration `yaml:"timeout"`
}

// PollSettings controls when and how the upstream API is polled
type PollSettings struct {
	Interval         time.Duration `yaml:"interval"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	Retention        time.Duration `yaml:"retention"`         // readings older than this are dropped from memory
	DisableRetention bool          `yaml:"disable_retention"` // keep every reading; overrides retention
	StartDate        int64         `yaml:"start_date"`        // fixed startDate in epoch seconds; 0 derives it
	Mode             string        `yaml:"mode"`
}

// DatabaseSettings contains SQLite history configuration
type DatabaseSettings struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	Retention     time.Duration `yaml:"retention"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// MQTTSettings configures publishing of the latest counts to a broker
type MQTTSettings struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retained    bool   `yaml:"retained"`
}

// LoadAppConfig loads server configuration from a YAML file, resolves the API key
// and validates the result.
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyDefaults()
	config.OverrideFromEnv()

	if config.Upstream.APIKey == "" {
		key, err := LoadAPIKey(config.Upstream.EnvFile, config.Upstream.CredentialsFile)
		if err != nil {
			return nil, err
		}
		config.Upstream.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for server config
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Server.DashboardPath == "" {
		ac.Server.DashboardPath = "web/templates/dashboard.html"
	}
	if ac.Upstream.BaseURL == "" {
		ac.Upstream.BaseURL = "https://nextgen.owldms.com/public_api/Data"
	}
	if ac.Upstream.CredentialsFile == "" {
		ac.Upstream.CredentialsFile = "dms_credentials.json"
	}
	if ac.Upstream.EnvFile == "" {
		ac.Upstream.EnvFile = ".env"
	}
	if ac.Upstream.Timeout == 0 {
		ac.Upstream.Timeout = 30 * time.Second
	}
	if ac.Poll.Interval == 0 {
		ac.Poll.Interval = 60 * time.Second
	}
	if ac.Poll.CheckInterval == 0 {
		ac.Poll.CheckInterval = 1 * time.Second
	}
	switch {
	case ac.Poll.DisableRetention:
		ac.Poll.Retention = 0
	case ac.Poll.Retention == 0:
		ac.Poll.Retention = 60 * time.Minute
	}
	if ac.Poll.Mode == "" {
		ac.Poll.Mode = ModeMerge
	}
	if ac.Database.Path == "" {
		ac.Database.Path = "./data/parking-monitor.db"
	}
	if ac.Database.BatchSize == 0 {
		ac.Database.BatchSize = 100
	}
	if ac.Database.FlushPeriod == 0 {
		ac.Database.FlushPeriod = 5 * time.Second
	}
	if ac.Database.ChannelSize == 0 {
		ac.Database.ChannelSize = 1000
	}
	if ac.Database.Retention == 0 {
		ac.Database.Retention = 30 * 24 * time.Hour
	}
	if ac.Database.CleanupPeriod == 0 {
		ac.Database.CleanupPeriod = 1 * time.Hour
	}
	if ac.MQTT.ClientID == "" {
		ac.MQTT.ClientID = "parking-monitor"
	}
	if ac.MQTT.TopicPrefix == "" {
		ac.MQTT.TopicPrefix = "parking/spots"
	}
	ac.Logging.ApplyDefaults()
}

// OverrideFromEnv overrides config from environment variables
func (ac *AppConfig) OverrideFromEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			ac.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("DMS_BASE_URL"); v != "" {
		ac.Upstream.BaseURL = v
	}
	if v := os.Getenv(apiKeyEnv); v != "" {
		ac.Upstream.APIKey = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			ac.Poll.Interval = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
}

// Validate checks if server configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if u, err := url.Parse(ac.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream base_url must be an absolute URL")
	}
	if ac.Upstream.APIKey == "" {
		return fmt.Errorf("upstream API key is required")
	}
	if ac.Poll.Interval < 1*time.Second {
		return fmt.Errorf("poll interval must be at least 1 second")
	}
	if ac.Poll.CheckInterval <= 0 || ac.Poll.CheckInterval > ac.Poll.Interval {
		return fmt.Errorf("poll check_interval must be positive and no longer than the poll interval")
	}
	if ac.Poll.Retention < 0 {
		return fmt.Errorf("poll retention cannot be negative")
	}
	if ac.Poll.StartDate < 0 {
		return fmt.Errorf("poll start_date must be a valid unix timestamp")
	}
	if ac.Poll.Mode != ModeMerge && ac.Poll.Mode != ModeReplace {
		return fmt.Errorf("poll mode must be %q or %q", ModeMerge, ModeReplace)
	}
	if len(ac.Sensors) == 0 {
		return fmt.Errorf("at least one sensor is required")
	}
	seen := make(map[string]bool)
	for _, s := range ac.Sensors {
		if s.ID == "" {
			return fmt.Errorf("sensor id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate sensor id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
			return fmt.Errorf("sensor %q has invalid coordinates", s.ID)
		}
	}
	if ac.Database.Enabled && ac.Database.BatchSize < 1 {
		return fmt.Errorf("database batch size must be at least 1")
	}
	if ac.MQTT.Enabled {
		if ac.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if ac.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2")
		}
	}
	return nil
}

// String returns a safe string representation (hides secrets)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: [%s:%d, Token=%s], Upstream: [URL=%s, Key=%s, Timeout=%s], Poll: %+v, Sensors: %d, Database: %+v, MQTT: %+v, Logging: %+v}",
		ac.Server.Host,
		ac.Server.Port,
		maskToken(ac.Server.AuthToken),
		ac.Upstream.BaseURL,
		maskToken(ac.Upstream.APIKey),
		ac.Upstream.Timeout,
		ac.Poll,
		len(ac.Sensors),
		ac.Database,
		ac.MQTT,
		ac.Logging,
	)
}
