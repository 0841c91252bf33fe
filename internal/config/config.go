package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	dotenv "github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/monitor"
	"example.com/bolt/internal/transport"
)

const (
	DefaultTitle = "Bolt CAN Monitor"
	DefaultHost  = "127.0.0.1"
	DefaultPort  = 8075
	// DefaultBaud is what the dashboard proposes; the transport itself
	// falls back to transport.DefaultBaudRate.
	DefaultBaud = 921600
)

type Config struct {
	Title        string           `yaml:"title"`
	StorageDir   string           `yaml:"storageDir"`
	HTTP         HTTPConfig       `yaml:"http"`
	Serial       SerialConfig     `yaml:"serial"`
	Dictionaries []string         `yaml:"dictionaries"`
	Pipeline     PipelineConfig   `yaml:"pipeline"`
	History      HistoryConfig    `yaml:"history"`
	Logs         common.LogConfig `yaml:"logs"`
	Influx       InfluxConfig     `yaml:"influx"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	AutoConnect bool          `yaml:"autoConnect"`
}

// Transport converts the section into a transport config.
func (s SerialConfig) Transport() transport.Config {
	return transport.Config{Address: s.Port, BaudRate: s.Baud, ReadTimeout: s.ReadTimeout}
}

type PipelineConfig struct {
	QueueSize    int           `yaml:"queueSize"`
	BatchSize    int           `yaml:"batchSize"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

type HistoryConfig struct {
	Capacity int           `yaml:"capacity"`
	MaxAge   time.Duration `yaml:"maxAge"`
	TopN     int           `yaml:"topN"`
	LogLines int           `yaml:"logLines"`
}

// InfluxConfig enables the InfluxDB export when URL is set.
type InfluxConfig struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	Measurement   string        `yaml:"measurement"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

func (c InfluxConfig) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

// MonitorOptions maps the pipeline and history sections onto monitor
// options; callers add Opener, Metrics and Sink.
func (c Config) MonitorOptions() monitor.Options {
	return monitor.Options{
		QueueSize:    c.Pipeline.QueueSize,
		BatchSize:    c.Pipeline.BatchSize,
		PollInterval: c.Pipeline.PollInterval,
		History: history.Options{
			Capacity: c.History.Capacity,
			MaxAge:   c.History.MaxAge,
		},
		LogLines: c.History.LogLines,
	}
}

// Load reads the YAML file at path. A missing file is not an error when
// optional is set; defaults are filled in either way and relative paths
// are resolved against the file's directory.
func Load(path string, optional bool) (Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			dec := yaml.NewDecoder(f)
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
			baseDir = filepath.Dir(path)
		case optional && errors.Is(err, os.ErrNotExist):
		default:
			return cfg, err
		}
	}
	cfg.resolvePaths(baseDir)
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) resolvePaths(baseDir string) {
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	for i, p := range c.Dictionaries {
		c.Dictionaries[i] = resolve(p)
	}
	c.StorageDir = resolve(c.StorageDir)
	c.Logs.Directory = resolve(c.Logs.Directory)
}

func (c *Config) fillDefaults() {
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(".", "data")
	}
	if c.HTTP.Host == "" {
		c.HTTP.Host = DefaultHost
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultPort
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 60 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 60 * time.Second
	}
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = DefaultBaud
	}
	if c.Serial.ReadTimeout <= 0 {
		c.Serial.ReadTimeout = transport.DefaultReadTimeout
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = monitor.DefaultQueueSize
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = monitor.DefaultBatchSize
	}
	if c.Pipeline.PollInterval <= 0 {
		c.Pipeline.PollInterval = monitor.DefaultPollInterval
	}
	if c.History.Capacity <= 0 {
		c.History.Capacity = history.DefaultCapacity
	}
	if c.History.MaxAge <= 0 {
		c.History.MaxAge = history.DefaultMaxAge
	}
	if c.History.TopN <= 0 {
		c.History.TopN = history.DefaultTopN
	}
	if c.History.LogLines <= 0 {
		c.History.LogLines = history.DefaultLogLines
	}
	if c.Logs.Directory == "" {
		c.Logs.Directory = filepath.Join(c.StorageDir, "logs")
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "can"
	}
	if c.Influx.FlushInterval <= 0 {
		c.Influx.FlushInterval = time.Second
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := dotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from BOLT_* and INFLUX_* variables. Unparsable
// numbers keep the current value.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	text := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	number := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			if b, ok := truthy(v); ok {
				*dst = b
			}
		}
	}
	text("BOLT_TITLE", &c.Title)
	text("BOLT_HOST", &c.HTTP.Host)
	number("BOLT_PORT", &c.HTTP.Port)
	text("BOLT_LOG_LEVEL", &c.Logs.Level)
	text("BOLT_SERIAL_PORT", &c.Serial.Port)
	number("BOLT_BAUD", &c.Serial.Baud)
	flag("BOLT_AUTOCONNECT", &c.Serial.AutoConnect)
	if v, ok := lookup("BOLT_DBC"); ok {
		for _, p := range filepath.SplitList(v) {
			if p = strings.TrimSpace(p); p != "" {
				c.Dictionaries = append(c.Dictionaries, p)
			}
		}
	}
	text("INFLUX_URL", &c.Influx.URL)
	text("INFLUX_TOKEN", &c.Influx.Token)
	text("INFLUX_ORG", &c.Influx.Org)
	text("INFLUX_BUCKET", &c.Influx.Bucket)
}

func truthy(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
