package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type RedisConfig struct {
	Addr        string
	User        string
	Password    string
	DB          int
	Channel     string
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

type GeoConfig struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

type AlertConfig struct {
	Mode      string
	PlayerCmd string
	Sound     string
}

type Config struct {
	APIBaseURL   string
	AccessToken  string
	HTTPAddr     string
	LogLevel     string
	Source       string
	ReplayFile   string
	Redis        RedisConfig
	MQTT         MQTTConfig
	Geo          GeoConfig
	Alert        AlertConfig
	ReportEvery  time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// LoadDotEnv reads .env when present; a missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:9090"),
		AccessToken: os.Getenv("ACCESS_TOKEN"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Source:      getEnv("LOCATION_SOURCE", "replay"),
		ReplayFile:  os.Getenv("REPLAY_FILE"),
		Redis:       GetRedisConfig(),
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "collection-tracker"),
			Topic:    getEnv("MQTT_TOPIC", "/device/location"),
		},
		Alert: AlertConfig{
			Mode:      getEnv("ALERT_MODE", "edge"),
			PlayerCmd: os.Getenv("ALERT_PLAYER_CMD"),
			Sound:     os.Getenv("ALERT_SOUND"),
		},
	}

	var err error
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Geo.HighAccuracy, err = getBool("GEO_HIGH_ACCURACY", true); err != nil {
		return nil, err
	}
	if cfg.Geo.Timeout, err = getDuration("GEO_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Geo.MaximumAge, err = getDuration("GEO_MAXIMUM_AGE", 0); err != nil {
		return nil, err
	}
	if cfg.ReportEvery, err = getDuration("REPORT_MIN_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = getDuration("POLL_FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("ACCESS_TOKEN is empty")
	}
	switch c.Source {
	case "replay":
		if c.ReplayFile == "" {
			return fmt.Errorf("REPLAY_FILE is required for LOCATION_SOURCE=replay")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for LOCATION_SOURCE=redis")
		}
	case "mqtt":
	default:
		return fmt.Errorf("LOCATION_SOURCE: unknown source %q", c.Source)
	}
	switch c.Alert.Mode {
	case "edge", "every_tick":
	default:
		return fmt.Errorf("ALERT_MODE: must be edge or every_tick, got %q", c.Alert.Mode)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL: must be positive")
	}
	return nil
}

func GetRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		User:     os.Getenv("REDIS_USER"),
		Password: os.Getenv("REDIS_PASSWORD"),
		Channel:  getEnv("REDIS_CHANNEL", "device:location"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
