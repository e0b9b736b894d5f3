package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env            string
	ServiceName    string
	ServiceVersion string

	DatabaseURL string
	RedisURL    string

	// JWTSecret enables the identity middleware when set.
	JWTSecret string

	// DownstreamURL is called by the network error route.
	DownstreamURL string
	// DataDir is read by the filesystem error route.
	DataDir string

	OtelExporterOTLPEndpoint string
	OtelExporterOTLPHeaders  string
	SentryDSN                string

	Port string

	Observe ObserveConfig
}

type ObserveConfig struct {
	Environment      string   `yaml:"environment"`
	Release          string   `yaml:"release"`
	TracesSampleRate *float64 `yaml:"traces_sample_rate"`
	MaxBreadcrumbs   int      `yaml:"max_breadcrumbs"`
	SendDefaultPII   bool     `yaml:"send_default_pii"`
	AttachStacktrace bool     `yaml:"attach_stacktrace"`
	ScrubKeys        []string `yaml:"scrub_keys"`
	// Sink is one of "log", "sentry", "queue" or "otlp"; a comma separated list fans out.
	Sink      string `yaml:"sink"`
	QueueSize int    `yaml:"queue_size"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                      os.Getenv("ENV"),
		ServiceName:              os.Getenv("SERVICE_NAME"),
		ServiceVersion:           os.Getenv("SERVICE_VERSION"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisURL:                 os.Getenv("REDIS_URL"),
		JWTSecret:                os.Getenv("JWT_SECRET"),
		DownstreamURL:            os.Getenv("DOWNSTREAM_URL"),
		DataDir:                  os.Getenv("DATA_DIR"),
		OtelExporterOTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OtelExporterOTLPHeaders:  os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		SentryDSN:                os.Getenv("SENTRY_DSN"),
		Port:                     os.Getenv("PORT"),
	}
	cfg.Observe.Sink = os.Getenv("OBSERVE_SINK")
	if v := os.Getenv("TRACES_SAMPLE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TRACES_SAMPLE_RATE %q: %w", v, err)
		}
		cfg.Observe.TracesSampleRate = &rate
	}

	// Load from YAML file if available
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if err := cfg.LoadFromYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load YAML config: %w", err)
	}

	// Set defaults
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "beacon"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "1.0.0"
	}
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.DownstreamURL == "" {
		cfg.DownstreamURL = "http://127.0.0.1:9/unreachable"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = os.TempDir()
	}

	cfg.SetObserveDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func (c *Config) LoadFromYAML(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is not an error
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlConfig struct {
		Observe ObserveConfig `yaml:"observe"`
	}

	if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Values already set from the environment win over the file
	o := yamlConfig.Observe
	if o.Environment != "" && c.Observe.Environment == "" {
		c.Observe.Environment = o.Environment
	}
	if o.Release != "" && c.Observe.Release == "" {
		c.Observe.Release = o.Release
	}
	if o.TracesSampleRate != nil && c.Observe.TracesSampleRate == nil {
		c.Observe.TracesSampleRate = o.TracesSampleRate
	}
	if o.MaxBreadcrumbs != 0 {
		c.Observe.MaxBreadcrumbs = o.MaxBreadcrumbs
	}
	if o.SendDefaultPII {
		c.Observe.SendDefaultPII = true
	}
	if o.AttachStacktrace {
		c.Observe.AttachStacktrace = true
	}
	if len(o.ScrubKeys) > 0 {
		c.Observe.ScrubKeys = o.ScrubKeys
	}
	if o.Sink != "" && c.Observe.Sink == "" {
		c.Observe.Sink = o.Sink
	}
	if o.QueueSize > 0 {
		c.Observe.QueueSize = o.QueueSize
	}

	return nil
}

func (c *Config) SetObserveDefaults() {
	if c.Observe.Environment == "" {
		c.Observe.Environment = c.Env
	}
	if c.Observe.Release == "" {
		c.Observe.Release = c.ServiceName + "@" + c.ServiceVersion
	}
	if c.Observe.TracesSampleRate == nil {
		rate := 1.0
		c.Observe.TracesSampleRate = &rate
	}
	if c.Observe.MaxBreadcrumbs == 0 {
		c.Observe.MaxBreadcrumbs = 100
	}
	if len(c.Observe.ScrubKeys) == 0 {
		c.Observe.ScrubKeys = []string{"password", "token", "secret"}
	}
	if c.Observe.Sink == "" {
		c.Observe.Sink = "log"
	}
}

// Sinks returns the configured sink names.
func (c *Config) Sinks() []string {
	var sinks []string
	for _, s := range strings.Split(c.Observe.Sink, ",") {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

func (c *Config) validate() error {
	rate := *c.Observe.TracesSampleRate
	if rate < 0 || rate > 1 {
		return fmt.Errorf("traces_sample_rate must be within [0, 1], got %v", rate)
	}
	for _, s := range c.Sinks() {
		switch s {
		case "log", "otlp":
		case "sentry":
			if c.SentryDSN == "" {
				return fmt.Errorf("SENTRY_DSN is required for the sentry sink")
			}
		case "queue":
			if c.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required for the queue sink")
			}
		default:
			return fmt.Errorf("unknown sink %q", s)
		}
	}
	return nil
}
