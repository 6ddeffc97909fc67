// Package config resolves daemon settings from an optional .env file, an
// optional YAML file and CELERIX_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	DefaultDataDir       = "./data"
	DefaultPort          = "7001"
	DefaultHTTPPort      = "7002"
	DefaultStoreDriver   = "file"
	DefaultOracleTimeout = 10 * time.Second
	DefaultFramePath     = "./data/frame.jpg"
	DefaultCycleLength   = 30
	DefaultDisplayWindow = 3 * time.Second
	DefaultKafkaTopic    = "presence.attendance"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Oracle OracleConfig `yaml:"oracle"`
	Camera CameraConfig `yaml:"camera"`
	Scan   ScanConfig   `yaml:"scan"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	HTTPPort   string `yaml:"http_port"`
	DisableTLS bool   `yaml:"disable_tls"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DataDir  string `yaml:"data_dir"`
	DSN      string `yaml:"dsn"`
	VaultKey string `yaml:"vault_key"` // hex, 32 bytes
}

type OracleConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type CameraConfig struct {
	FramePath string `yaml:"frame_path"`
}

type ScanConfig struct {
	Timezone      string        `yaml:"timezone"`
	CycleLength   int           `yaml:"cycle_length"`
	DisplayWindow time.Duration `yaml:"display_window"`
	StrictRoster  bool          `yaml:"strict_roster"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Load reads .env (if present), the YAML file named by CELERIX_CONFIG (if
// set), then applies environment overrides and defaults.
func Load() (Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CELERIX_CONFIG")); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile parses a YAML config file. An empty file yields a zero Config.
func LoadFile(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.HTTPPort = strings.TrimSpace(c.Server.HTTPPort)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Store.DataDir = strings.TrimSpace(c.Store.DataDir)
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	c.Store.VaultKey = strings.TrimSpace(c.Store.VaultKey)
	c.Oracle.URL = strings.TrimSpace(c.Oracle.URL)
	c.Oracle.APIKey = strings.TrimSpace(c.Oracle.APIKey)
	c.Camera.FramePath = strings.TrimSpace(c.Camera.FramePath)
	c.Scan.Timezone = strings.TrimSpace(c.Scan.Timezone)
	c.Kafka.Topic = strings.TrimSpace(c.Kafka.Topic)
	c.Kafka.Brokers = splitList(strings.Join(c.Kafka.Brokers, ","))
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CELERIX_PORT", &c.Server.Port)
	str("CELERIX_HTTP_PORT", &c.Server.HTTPPort)
	str("CELERIX_STORE_DRIVER", &c.Store.Driver)
	str("CELERIX_DATA_DIR", &c.Store.DataDir)
	str("CELERIX_DATABASE_DSN", &c.Store.DSN)
	str("CELERIX_VAULT_KEY", &c.Store.VaultKey)
	str("CELERIX_ORACLE_URL", &c.Oracle.URL)
	str("CELERIX_ORACLE_API_KEY", &c.Oracle.APIKey)
	str("CELERIX_CAMERA_FRAME", &c.Camera.FramePath)
	str("CELERIX_TIMEZONE", &c.Scan.Timezone)
	str("CELERIX_KAFKA_TOPIC", &c.Kafka.Topic)
	c.Store.Driver = strings.ToLower(c.Store.Driver)

	if v, ok := lookup("CELERIX_DISABLE_TLS"); ok && v != "" {
		c.Server.DisableTLS = v == "true"
	}
	if v, ok := lookup("CELERIX_STRICT_ROSTER"); ok && v != "" {
		c.Scan.StrictRoster = v == "true"
	}
	if v, ok := lookup("CELERIX_KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("CELERIX_CYCLE_LENGTH"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: CELERIX_CYCLE_LENGTH: %v", ErrInvalid, err)
		}
		c.Scan.CycleLength = n
	}
	for key, dst := range map[string]*time.Duration{
		"CELERIX_ORACLE_TIMEOUT": &c.Oracle.Timeout,
		"CELERIX_DISPLAY_WINDOW": &c.Scan.DisplayWindow,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.HTTPPort == "" {
		c.Server.HTTPPort = DefaultHTTPPort
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = DefaultDataDir
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = DefaultOracleTimeout
	}
	if c.Camera.FramePath == "" {
		c.Camera.FramePath = DefaultFramePath
	}
	if c.Scan.CycleLength <= 0 {
		c.Scan.CycleLength = DefaultCycleLength
	}
	if c.Scan.DisplayWindow <= 0 {
		c.Scan.DisplayWindow = DefaultDisplayWindow
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
}

// Validate checks combinations that defaults cannot fix.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "file":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: postgres store needs CELERIX_DATABASE_DSN", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver)
	}
	if c.Oracle.URL == "" {
		return fmt.Errorf("%w: CELERIX_ORACLE_URL is required", ErrInvalid)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Scan.Timezone, err)
	}
	return nil
}

// Location resolves the timezone that decides calendar days. Empty means the
// host's local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Scan.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Scan.Timezone)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
