package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedKeys = []string{
	"PORT", "IOPGPS_BASE_URL", "IOPGPS_APP_ID", "IOPGPS_API_KEY", "IOPGPS_TIMEOUT",
	"POLL_MAX_BACKOFF", "ALERT_ARCHIVE_LIMIT", "JWT_SECRET", "JWT_EXPIRY", "MONGO_URI", "MONGO_DB",
	"EVENTS_DRIVER", "MQTT_BROKER", "NATS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "EVENTS_CLIENT_ID",
	"COMMAND_RATE_LIMIT", "COMMAND_RATE_WINDOW", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every variable Load reads and restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range managedKeys {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFiles(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://api.iopgps.com", cfg.Provider.BaseURL)
	assert.Equal(t, "A-TRACKER", cfg.Provider.AppID)
	assert.NotEmpty(t, cfg.Provider.AppKey)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.PollMaxBackoff)
	assert.Equal(t, 50, cfg.AlertLimit)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Empty(t, cfg.MongoURI)
	assert.Equal(t, "fleet_tracking", cfg.MongoDB)
	assert.Equal(t, "none", cfg.Events.Driver)
	assert.Equal(t, "fleet-tracking-events", cfg.Events.KafkaTopic)
	assert.Empty(t, cfg.Events.KafkaBrokers)
	assert.Equal(t, 10, cfg.CommandRateLimit)
	assert.Equal(t, time.Minute, cfg.CommandRateWindow)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "9000")
	os.Setenv("IOPGPS_BASE_URL", "http://localhost:8090")
	os.Setenv("IOPGPS_TIMEOUT", "3s")
	os.Setenv("POLL_MAX_BACKOFF", "0")
	os.Setenv("EVENTS_DRIVER", "Kafka")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	os.Setenv("COMMAND_RATE_LIMIT", "3")
	os.Setenv("JWT_EXPIRY", "90")

	cfg, err := LoadFiles()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "http://localhost:8090", cfg.Provider.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, time.Duration(0), cfg.PollMaxBackoff)
	assert.Equal(t, "kafka", cfg.Events.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 3, cfg.CommandRateLimit)
	assert.Equal(t, 90*time.Second, cfg.JWTExpiry)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "7000")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=6000\nMONGO_DB=tracking_test\n"), 0o600))

	cfg, err := LoadFiles(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port, "environment wins over .env")
	assert.Equal(t, "tracking_test", cfg.MongoDB)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "IOPGPS_TIMEOUT", "soon"},
		{"bad int", "COMMAND_RATE_LIMIT", "many"},
		{"bad driver", "EVENTS_DRIVER", "smoke-signals"},
		{"bad level", "LOG_LEVEL", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			os.Setenv(tt.key, tt.value)

			_, err := LoadFiles()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	cfg = &Config{LogLevel: "warn", LogFormat: "text"}
	logger = cfg.NewLogger()
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
