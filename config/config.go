// Package config loads the driver, logging and HTTP settings from a YAML,
// JSON or TOML file, with MICROS_* environment variables and command line
// flags taking precedence.
//
// The serial and reliability sections keep the layout of the legacy JSON
// configuration files:
//
//	{
//	  "serial":      {"port": "/dev/ttyUSB0", "baudrate": 19200, "timeout": 1.0},
//	  "reliability": {"retries": 3, "confirm_timeout_ms": 800, "retry_delay_ms": 250}
//	}
//
// The ack_timeout_ms key found in those files is ignored. Those tools never
// applied it and always waited 100 ms for a SET ack and 200 ms for a mood ack.
// The SET ack window is set with set_ack_timeout_ms instead; the mood window
// is twice that value.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-micros/micros/logger"
	"github.com/go-micros/micros/micros"
)

// EnvPrefix prefixes every environment override, e.g. MICROS_SERIAL_PORT.
const EnvPrefix = "MICROS"

// SerialConfig describes the port.
type SerialConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate int    `mapstructure:"baudrate" yaml:"baudrate"`
	// Timeout is the read timeout in seconds.
	Timeout float64 `mapstructure:"timeout" yaml:"timeout"`
}

// ReliabilityConfig tunes the confirmation engine. Durations are in milliseconds.
type ReliabilityConfig struct {
	Retries          int  `mapstructure:"retries" yaml:"retries"`
	ConfirmTimeoutMS int  `mapstructure:"confirm_timeout_ms" yaml:"confirm_timeout_ms"`
	SetAckTimeoutMS  int  `mapstructure:"set_ack_timeout_ms" yaml:"set_ack_timeout_ms"`
	RetryDelayMS     int  `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	RetryStepMS      int  `mapstructure:"retry_step_ms" yaml:"retry_step_ms"`
	PostSendGapMS    int  `mapstructure:"post_send_gap_ms" yaml:"post_send_gap_ms"`
	PreSendFlush     bool `mapstructure:"pre_send_flush" yaml:"pre_send_flush"`
}

// DriverConfig holds the queue and lifecycle settings.
type DriverConfig struct {
	QueueCapacity    int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	FrameTTL         time.Duration `mapstructure:"frame_ttl" yaml:"frame_ttl"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
	NotifyBufferSize int           `mapstructure:"notify_buffer_size" yaml:"notify_buffer_size"`
	EventReporting   bool          `mapstructure:"event_reporting" yaml:"event_reporting"`
}

// FileConfig enables size based rotation of the log file.
type FileConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// LoggingConfig selects the level, backend and output of the logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Backend is "slog" or "zap".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Format is "json" or "console"; the slog backend picks console output from ENV=development.
	Format string     `mapstructure:"format" yaml:"format"`
	File   FileConfig `mapstructure:"file" yaml:"file"`
}

// HTTPConfig configures the control API server.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	MetricsPath  string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Config is the top level configuration.
type Config struct {
	Serial      SerialConfig      `mapstructure:"serial" yaml:"serial"`
	Reliability ReliabilityConfig `mapstructure:"reliability" yaml:"reliability"`
	Driver      DriverConfig      `mapstructure:"driver" yaml:"driver"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"port":      "serial.port",
	"baudrate":  "serial.baudrate",
	"log-level": "logging.level",
	"http-addr": "http.addr",
}

// Load reads path (or micros.yaml in . and ./configs when path is empty),
// applies MICROS_* environment overrides and the changed flags in flags, and
// validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("micros")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// without an explicit path the file is optional
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.baudrate", micros.DefaultBaudRate)
	v.SetDefault("serial.timeout", micros.DefaultReadTimeout.Seconds())

	v.SetDefault("reliability.retries", micros.DefaultRetries)
	v.SetDefault("reliability.confirm_timeout_ms", micros.DefaultConfirmTimeout.Milliseconds())
	v.SetDefault("reliability.set_ack_timeout_ms", micros.DefaultAckTimeout.Milliseconds())
	v.SetDefault("reliability.retry_delay_ms", micros.DefaultRetryDelay.Milliseconds())
	v.SetDefault("reliability.retry_step_ms", micros.DefaultRetryStep.Milliseconds())
	v.SetDefault("reliability.post_send_gap_ms", micros.DefaultSendGap.Milliseconds())
	v.SetDefault("reliability.pre_send_flush", true)

	v.SetDefault("driver.queue_capacity", micros.DefaultQueueCapacity)
	v.SetDefault("driver.frame_ttl", micros.DefaultFrameTTL)
	v.SetDefault("driver.close_timeout", micros.DefaultCloseTimeout)
	v.SetDefault("driver.notify_buffer_size", micros.DefaultNotifyBufferSize)
	v.SetDefault("driver.event_reporting", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.backend", "slog")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age", 30)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
}

// Validate checks the settings that can be checked without building the driver config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Serial.Port) == "" {
		return fmt.Errorf("%w: serial.port is required", micros.ErrInvalidConfig)
	}
	if c.Serial.Timeout <= 0 {
		return fmt.Errorf("%w: serial.timeout must be positive", micros.ErrInvalidConfig)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %w", micros.ErrInvalidConfig, err)
	}
	switch c.Logging.Backend {
	case "", "slog", "zap":
	default:
		return fmt.Errorf("%w: logging.backend %q, want slog or zap", micros.ErrInvalidConfig, c.Logging.Backend)
	}

	return nil
}

// DriverOptions converts the serial, reliability and driver sections to driver options.
func (c *Config) DriverOptions(l logger.Logger) []micros.Option {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	opts := []micros.Option{
		micros.WithBaudRate(c.Serial.BaudRate),
		micros.WithReadTimeout(time.Duration(c.Serial.Timeout * float64(time.Second))),
		micros.WithRetries(c.Reliability.Retries),
		micros.WithConfirmTimeout(ms(c.Reliability.ConfirmTimeoutMS)),
		micros.WithAckTimeout(ms(c.Reliability.SetAckTimeoutMS)),
		micros.WithRetryDelay(ms(c.Reliability.RetryDelayMS), ms(c.Reliability.RetryStepMS)),
		micros.WithSendGap(ms(c.Reliability.PostSendGapMS)),
		micros.WithPreSendFlush(c.Reliability.PreSendFlush),
		micros.WithQueueCapacity(c.Driver.QueueCapacity),
		micros.WithFrameTTL(c.Driver.FrameTTL),
		micros.WithCloseTimeout(c.Driver.CloseTimeout),
		micros.WithNotifyBufferSize(c.Driver.NotifyBufferSize),
		micros.WithEventReporting(c.Driver.EventReporting),
	}
	if l != nil {
		opts = append(opts, micros.WithLogger(l))
	}

	return opts
}

// DriverConfig builds and range checks the driver configuration.
func (c *Config) DriverConfig(l logger.Logger) (*micros.Config, error) {
	return micros.NewConfig(c.Serial.Port, c.DriverOptions(l)...)
}

// NewLogger builds the configured logger. The returned closer releases the log
// file and is a no-op when logging to stdout.
func (c *Config) NewLogger() (logger.Logger, io.Closer, error) {
	level, err := logger.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if f := c.Logging.File; f.Filename != "" {
		w := logger.NewRotatingWriter(logger.RotateConfig{
			Filename:   f.Filename,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		})
		out, closer = w, w
	}

	if c.Logging.Backend == "zap" {
		return logger.NewZap(level, c.Logging.Format, out), closer, nil
	}

	return logger.NewSlogWithOutput(level, false, out), closer, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
