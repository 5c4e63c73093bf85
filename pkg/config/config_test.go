package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load("../../config/local.yaml")
	require.NoError(t, err)

	require.Equal(t, DriverAMQP, cfg.Broker.Driver)
	require.Equal(t, "connectivity", cfg.Broker.Exchange)
	require.Equal(t, "local-development-secret", cfg.Auth.JWTSecret)
	require.Equal(t, 3, cfg.Centralizer.MaxAttempts)
	require.Equal(t, "auth.user.registered", cfg.Pipelines.Registration.Queue)
	require.Equal(t, "document.authentication.completed", cfg.Pipelines.Document.ResultRoutingKey)
}

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("BROKER_DRIVER", DriverKafka)
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("EXTERNAL_API_TIMEOUT", "5s")

	cfg, err := Load(writeConfig(t, "env: test\n"))
	require.NoError(t, err)

	require.Equal(t, DriverKafka, cfg.Broker.Driver)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Broker.KafkaBrokers)
	require.Equal(t, 5*time.Second, cfg.Centralizer.Timeout)
	require.Equal(t, 10*time.Second, cfg.Centralizer.BreakerCooldown)
	require.Equal(t, PublishFailureAck, cfg.Pipelines.PublishFailure)
	require.Equal(t, "citizen.registration.completed", cfg.Pipelines.Registration.ResultRoutingKey)
	require.Equal(t, ":3000", cfg.HTTP.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown driver": "broker:\n  driver: nats\n",
		"unknown policy": "pipelines:\n  publish_failure: drop\n",
		"no attempts":    "centralizer:\n  max_attempts: -1\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "does not exist")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "debug", Env: "prod", Service: "consumer"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	require.Error(t, err)
}
