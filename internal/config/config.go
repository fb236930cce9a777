// Package config loads gateway settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/events"
	"github.com/ukydev/fleet-tracking/internal/provider"
)

const (
	defaultPort       = "8080"
	defaultBaseURL    = "https://api.iopgps.com"
	defaultAppID      = "A-TRACKER"
	defaultAppKey     = "default-app-key-change-in-production"
	defaultJWTSecret  = "default-secret-key-change-in-production"
	defaultMongoDB    = "fleet_tracking"
	defaultKafkaTopic = "fleet-tracking-events"
)

// Config is the full gateway configuration.
type Config struct {
	Port     string
	Provider provider.Config

	PollMaxBackoff time.Duration
	AlertLimit     int

	JWTSecret string
	JWTExpiry time.Duration

	MongoURI string
	MongoDB  string

	Events events.Config

	CommandRateLimit  int
	CommandRateWindow time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the environment. A missing
// .env is not an error; malformed values are.
func Load() (*Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv files. Variables already set in
// the environment win over the files.
func LoadFiles(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var errs []error
	cfg := &Config{
		Port: getEnv("PORT", defaultPort),
		Provider: provider.Config{
			BaseURL: getEnv("IOPGPS_BASE_URL", defaultBaseURL),
			AppID:   getEnv("IOPGPS_APP_ID", defaultAppID),
			AppKey:  getEnv("IOPGPS_API_KEY", defaultAppKey),
			Timeout: getDuration("IOPGPS_TIMEOUT", 10*time.Second, &errs),
		},
		PollMaxBackoff: getDuration("POLL_MAX_BACKOFF", 2*time.Minute, &errs),
		AlertLimit:     getInt("ALERT_ARCHIVE_LIMIT", provider.DefaultAlertLimit, &errs),
		JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpiry:      getDuration("JWT_EXPIRY", 24*time.Hour, &errs),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        getEnv("MONGO_DB", defaultMongoDB),
		Events: events.Config{
			Driver:       strings.ToLower(getEnv("EVENTS_DRIVER", events.DriverNone)),
			MQTTBroker:   os.Getenv("MQTT_BROKER"),
			NATSURL:      os.Getenv("NATS_URL"),
			KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
			KafkaTopic:   getEnv("KAFKA_TOPIC", defaultKafkaTopic),
			ClientID:     getEnv("EVENTS_CLIENT_ID", "fleet-tracking"),
		},
		CommandRateLimit:  getInt("COMMAND_RATE_LIMIT", 10, &errs),
		CommandRateWindow: getDuration("COMMAND_RATE_WINDOW", time.Minute, &errs),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}

	switch cfg.Events.Driver {
	case events.DriverNone, events.DriverMQTT, events.DriverNATS, events.DriverKafka:
	default:
		errs = append(errs, fmt.Errorf("EVENTS_DRIVER: %w: %q", events.ErrUnknownDriver, cfg.Events.Driver))
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds.
		if secs, nerr := strconv.Atoi(v); nerr == nil {
			return time.Duration(secs) * time.Second
		}
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func getInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
