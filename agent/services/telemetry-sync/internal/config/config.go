package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	libconfig "fieldagent/agent/libs/config"
	"fieldagent/agent/libs/logging"
	libredis "fieldagent/agent/libs/redis"
	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// Session backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Position locators.
const (
	LocatorBridge = "bridge"
	LocatorStatic = "static"
)

// Config represents service configuration loaded from YAML/env.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Session     SessionConfig     `yaml:"session"`
	Redis       libredis.Options  `yaml:"redis"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Power       PowerConfig       `yaml:"power"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Control     ControlConfig     `yaml:"control"`
	Log         logging.Options   `yaml:"log"`
}

// ServerConfig points at the field service API.
type ServerConfig struct {
	BaseURL        string        `yaml:"baseURL" env:"SYNC_BASE_URL"`
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"SYNC_REQUEST_TIMEOUT"`
	AuthMarkers    []string      `yaml:"authMarkers" env:"SYNC_AUTH_MARKERS"`
}

// CredentialsConfig is used by the headless host to log in when no session is stored.
type CredentialsConfig struct {
	UserType     string        `yaml:"userType" env:"SYNC_USER_TYPE"`
	Username     string        `yaml:"username" env:"SYNC_USERNAME"`
	Password     string        `yaml:"password" env:"SYNC_PASSWORD"`
	ReloginEvery time.Duration `yaml:"reloginEvery" env:"SYNC_RELOGIN_EVERY"`
}

// SessionConfig selects where the session is persisted.
type SessionConfig struct {
	Backend       string `yaml:"backend" env:"SYNC_SESSION_BACKEND"`
	FilePath      string `yaml:"filePath" env:"SYNC_SESSION_FILE"`
	EncryptionKey string `yaml:"encryptionKey" env:"SYNC_SESSION_KEY"`
	RedisPrefix   string `yaml:"redisPrefix" env:"SYNC_SESSION_REDIS_PREFIX"`
	DeviceIDPath  string `yaml:"deviceIDPath" env:"SYNC_DEVICE_ID_FILE"`
}

// TrackingConfig tunes the position source.
type TrackingConfig struct {
	Locator         string        `yaml:"locator" env:"SYNC_LOCATOR"`
	BridgeURL       string        `yaml:"bridgeURL" env:"SYNC_BRIDGE_URL"`
	HighAccuracy    bool          `yaml:"highAccuracy" env:"SYNC_HIGH_ACCURACY"`
	Timeout         time.Duration `yaml:"timeout" env:"SYNC_TRACKING_TIMEOUT"`
	MaxStaleness    time.Duration `yaml:"maxStaleness" env:"SYNC_TRACKING_MAX_STALENESS"`
	Interval        time.Duration `yaml:"interval" env:"SYNC_TRACKING_INTERVAL"`
	StaticLatitude  float64       `yaml:"staticLatitude" env:"SYNC_STATIC_LATITUDE"`
	StaticLongitude float64       `yaml:"staticLongitude" env:"SYNC_STATIC_LONGITUDE"`
	StaticAccuracy  float64       `yaml:"staticAccuracy" env:"SYNC_STATIC_ACCURACY"`
}

// PowerConfig selects the battery source. FixedLevel > 0 overrides sysfs.
type PowerConfig struct {
	SysfsRoot  string `yaml:"sysfsRoot" env:"SYNC_POWER_SYSFS_ROOT"`
	FixedLevel int    `yaml:"fixedLevel" env:"SYNC_POWER_FIXED_LEVEL"`
}

// DiagnosticsConfig enables the PostgreSQL diagnostics sink when DSN is set.
type DiagnosticsConfig struct {
	DSN       string `yaml:"dsn" env:"SYNC_DIAGNOSTICS_DSN"`
	QueueSize int    `yaml:"queueSize" env:"SYNC_DIAGNOSTICS_QUEUE"`
}

// ControlConfig enables the local control server when Addr is set.
type ControlConfig struct {
	Addr  string `yaml:"addr" env:"SYNC_CONTROL_ADDR"`
	Token string `yaml:"token" env:"SYNC_CONTROL_TOKEN"`
}

// Default returns configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			RequestTimeout: 15 * time.Second,
		},
		Credentials: CredentialsConfig{
			UserType:     string(models.UserTypeAgent),
			ReloginEvery: time.Minute,
		},
		Session: SessionConfig{
			Backend:      BackendFile,
			FilePath:     "data/session.json",
			DeviceIDPath: "data/device-id",
		},
		Tracking: TrackingConfig{
			Locator:      LocatorBridge,
			BridgeURL:    "ws://127.0.0.1:8765/position",
			HighAccuracy: true,
			Timeout:      10 * time.Second,
			MaxStaleness: 30 * time.Second,
			Interval:     10 * time.Second,
		},
		Power: PowerConfig{
			SysfsRoot: "/sys",
		},
		Log: logging.Options{Name: "telemetry-sync"},
	}
}

// Load reads configuration using the shared config loader.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and normalizes enumerations.
func (c *Config) Validate() error {
	base := strings.TrimSpace(c.Server.BaseURL)
	if base == "" {
		return errors.New("config: server base URL is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("config: server base URL %q must be an absolute http(s) URL", base)
	}
	c.Server.BaseURL = base
	if c.Server.RequestTimeout <= 0 {
		return errors.New("config: request timeout must be positive")
	}

	userType, err := models.ParseUserType(c.Credentials.UserType)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Credentials.UserType = string(userType)
	hasUser := strings.TrimSpace(c.Credentials.Username) != ""
	if hasUser != (c.Credentials.Password != "") {
		return errors.New("config: username and password must be set together")
	}
	if c.Credentials.ReloginEvery <= 0 {
		return errors.New("config: relogin interval must be positive")
	}

	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	switch c.Session.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Session.FilePath) == "" {
			return errors.New("config: session file path is required for the file backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	if _, err := c.SessionKey(); err != nil {
		return err
	}

	c.Tracking.Locator = strings.ToLower(strings.TrimSpace(c.Tracking.Locator))
	switch c.Tracking.Locator {
	case LocatorBridge:
		if strings.TrimSpace(c.Tracking.BridgeURL) == "" {
			return errors.New("config: bridge URL is required for the bridge locator")
		}
	case LocatorStatic:
	default:
		return fmt.Errorf("config: unknown locator %q", c.Tracking.Locator)
	}
	if c.Tracking.Timeout <= 0 {
		return errors.New("config: tracking timeout must be positive")
	}
	if c.Tracking.MaxStaleness < 0 {
		return errors.New("config: tracking staleness must not be negative")
	}
	if c.Tracking.Interval <= 0 {
		return errors.New("config: tracking interval must be positive")
	}

	if c.Power.FixedLevel < 0 || c.Power.FixedLevel > 100 {
		return errors.New("config: fixed power level must be within 0..100")
	}
	if c.Diagnostics.QueueSize < 0 {
		return errors.New("config: diagnostics queue size must not be negative")
	}
	return nil
}

// UserType returns the validated user type.
func (c *Config) UserType() models.UserType {
	return models.UserType(c.Credentials.UserType)
}

// HasCredentials reports whether the host should log in by itself.
func (c *Config) HasCredentials() bool {
	return strings.TrimSpace(c.Credentials.Username) != "" && c.Credentials.Password != ""
}

// SessionKey decodes the optional session encryption key (64 hex chars).
func (c *Config) SessionKey() ([]byte, error) {
	raw := strings.TrimSpace(c.Session.EncryptionKey)
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil || len(key) != 32 {
		return nil, errors.New("config: session encryption key must be 64 hex characters")
	}
	return key, nil
}
