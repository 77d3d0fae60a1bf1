package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from an optional YAML file (CONFIG_FILE) and then from
// environment variables, which win.
type AppConfig struct {
	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`

	Calibrate         bool   `yaml:"calibrate"`
	CalibrateNewSetup bool   `yaml:"calibrate_new_setup"`
	Rotate180         bool   `yaml:"board_rotate180"`
	EmptyVotes        bool   `yaml:"board_empty_votes"`
	CalibrationDir    string `yaml:"calibration_dir"`
	CalibrationStore  string `yaml:"calibration_store"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	LichessBaseURL   string `yaml:"lichess_base_url"`
	LichessToken     string `yaml:"lichess_token"`
	LichessTokenFile string `yaml:"lichess_token_file"`
	MovePollMS       int    `yaml:"move_poll_ms"`

	MonitorAddr     string `yaml:"monitor_addr"`
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
}

func defaults() *AppConfig {
	return &AppConfig{
		SerialPort:       "auto",
		SerialBaud:       38400,
		CalibrationDir:   ".",
		CalibrationStore: "file",
		LichessBaseURL:   "https://lichess.org",
		LichessTokenFile: "lichess.token",
		MovePollMS:       100,
		MQTTTopicPrefix:  "cheese",
	}
}

func Load() (*AppConfig, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.LichessToken == "" && cfg.LichessTokenFile != "" {
		data, err := os.ReadFile(cfg.LichessTokenFile)
		switch {
		case err == nil:
			cfg.LichessToken = strings.TrimSpace(string(data))
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read token file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) error {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}
	num := func(key string, dst *int) error {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("SERIAL_PORT", &c.SerialPort)
	str("CALIBRATION_DIR", &c.CalibrationDir)
	str("CALIBRATION_STORE", &c.CalibrationStore)
	str("REDIS_URL", &c.RedisURL)
	str("DATABASE_URL", &c.DatabaseURL)
	str("LICHESS_BASE_URL", &c.LichessBaseURL)
	str("LICHESS_TOKEN", &c.LichessToken)
	str("LICHESS_TOKEN_FILE", &c.LichessTokenFile)
	str("MONITOR_ADDR", &c.MonitorAddr)
	str("MQTT_BROKER", &c.MQTTBroker)
	str("MQTT_TOPIC_PREFIX", &c.MQTTTopicPrefix)

	for key, dst := range map[string]*bool{
		"CALIBRATE":           &c.Calibrate,
		"CALIBRATE_NEW_SETUP": &c.CalibrateNewSetup,
		"BOARD_ROTATE180":     &c.Rotate180,
		"BOARD_EMPTY_VOTES":   &c.EmptyVotes,
	} {
		if err := flag(key, dst); err != nil {
			return err
		}
	}
	if err := num("SERIAL_BAUD", &c.SerialBaud); err != nil {
		return err
	}
	return num("MOVE_POLL_MS", &c.MovePollMS)
}

func (c *AppConfig) Validate() error {
	if c.SerialBaud <= 0 {
		return errors.New("SERIAL_BAUD must be positive")
	}
	if c.MovePollMS <= 0 {
		return errors.New("MOVE_POLL_MS must be positive")
	}
	c.CalibrationStore = strings.ToLower(c.CalibrationStore)
	switch c.CalibrationStore {
	case "file":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when CALIBRATION_STORE=redis")
		}
	default:
		return fmt.Errorf("CALIBRATION_STORE %q: want file or redis", c.CalibrationStore)
	}
	if c.SerialPort == "" {
		c.SerialPort = "auto"
	}
	return nil
}

// MovePoll is MOVE_POLL_MS as a duration.
func (c *AppConfig) MovePoll() time.Duration {
	return time.Duration(c.MovePollMS) * time.Millisecond
}

// OnlinePlay reports whether a Lichess token is configured.
func (c *AppConfig) OnlinePlay() bool { return c.LichessToken != "" }
