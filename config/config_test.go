package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-micros/micros/logger"
	"github.com/go-micros/micros/micros"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_LegacyJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "serial": {"port": "/dev/ttyUSB0", "baudrate": 19200, "timeout": 0.5},
  "reliability": {
    "retries": 4,
    "confirm_timeout_ms": 600,
    "ack_timeout_ms": 300,
    "retry_delay_ms": 200,
    "post_send_gap_ms": 100,
    "pre_send_flush": false
  }
}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 0.5, cfg.Serial.Timeout)
	assert.Equal(t, 4, cfg.Reliability.Retries)
	assert.False(t, cfg.Reliability.PreSendFlush)
	// sections missing from the file keep their defaults
	assert.Equal(t, 50, cfg.Reliability.RetryStepMS)
	assert.Equal(t, micros.DefaultQueueCapacity, cfg.Driver.QueueCapacity)
	assert.True(t, cfg.Driver.EventReporting)

	dc, err := cfg.DriverConfig(logger.GetLogger())
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, dc.ReadTimeout())
	assert.Equal(t, 4, dc.Retries())
	assert.Equal(t, 600*time.Millisecond, dc.ConfirmTimeout())
	// ack_timeout_ms is not read
	assert.Equal(t, int(micros.DefaultAckTimeout.Milliseconds()), cfg.Reliability.SetAckTimeoutMS)
	assert.Equal(t, micros.DefaultAckTimeout, dc.AckTimeout())
	assert.Equal(t, 200*time.Millisecond, dc.RetryDelay())
	assert.Equal(t, 100*time.Millisecond, dc.SendGap())
	assert.False(t, dc.PreSendFlush())
}

func TestLoad_SetAckTimeout(t *testing.T) {
	path := writeFile(t, "micros.yaml", `
serial:
  port: /dev/ttyS0
reliability:
  ack_timeout_ms: 300
  set_ack_timeout_ms: 50
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	dc, err := cfg.DriverConfig(logger.GetLogger())
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, dc.AckTimeout())
	assert.Equal(t, 100*time.Millisecond, dc.MoodAckTimeout())
}

func TestLoad_YAMLWithEnvAndFlags(t *testing.T) {
	path := writeFile(t, "micros.yaml", `
serial:
  port: /dev/ttyS0
driver:
  frame_ttl: 10s
  event_reporting: false
logging:
  level: warn
`)

	t.Setenv("MICROS_RELIABILITY_RETRIES", "7")
	t.Setenv("MICROS_HTTP_ADDR", "127.0.0.1:9090")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("port", "", "")
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--port", "tcp://10.1.1.1:4001"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.1.1.1:4001", cfg.Serial.Port)
	assert.Equal(t, 7, cfg.Reliability.Retries)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Driver.FrameTTL)
	assert.False(t, cfg.Driver.EventReporting)
	assert.Equal(t, "/metrics", cfg.HTTP.MetricsPath)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing port", func(t *testing.T) {
		path := writeFile(t, "micros.yaml", "serial:\n  baudrate: 9600\n")

		_, err := Load(path, nil)
		require.ErrorIs(t, err, micros.ErrInvalidConfig)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		require.Error(t, err)
	})

	t.Run("bad level", func(t *testing.T) {
		path := writeFile(t, "micros.yaml", "serial:\n  port: COM1\nlogging:\n  level: loud\n")

		_, err := Load(path, nil)
		require.ErrorIs(t, err, micros.ErrInvalidConfig)
	})

	t.Run("out of range option", func(t *testing.T) {
		path := writeFile(t, "micros.yaml", "serial:\n  port: COM1\nreliability:\n  retries: 99\n")

		cfg, err := Load(path, nil)
		require.NoError(t, err)

		_, err = cfg.DriverConfig(nil)
		require.ErrorIs(t, err, micros.ErrInvalidConfig)
	})
}

func TestConfig_YAML(t *testing.T) {
	path := writeFile(t, "micros.yaml", "serial:\n  port: COM4\n")
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "COM4", back.Serial.Port)
	assert.Equal(t, micros.DefaultFrameTTL, back.Driver.FrameTTL)
	assert.Contains(t, string(out), "confirm_timeout_ms: 800")
}

func TestConfig_NewLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "micros.log")
	cfg := &Config{Logging: LoggingConfig{
		Level:   "debug",
		Backend: "zap",
		Format:  "json",
		File:    FileConfig{Filename: logFile, MaxSizeMB: 1},
	}}

	l, closer, err := cfg.NewLogger()
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Equal(t, logger.DebugLevel, l.Level())

	cfg.Logging = LoggingConfig{Level: "info", Backend: "slog"}
	l, closer, err = cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logger.InfoLevel, l.Level())
	assert.NoError(t, closer.Close())
}
