package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the process configuration. Values come from an optional YAML
// file, with CUTOUT_* environment variables taking precedence.
type Config struct {
	Addr        string        `yaml:"addr"`
	LogLevel    string        `yaml:"log_level"`
	Constrained bool          `yaml:"constrained"`
	Segment     SegmentConfig `yaml:"segment"`
	Export      ExportConfig  `yaml:"export"`
	SampleURLs  []string      `yaml:"sample_urls"`
}

// SegmentConfig configures the remote segmentation backend. Sources larger
// than MaxSize on their longest side are downscaled before inference.
type SegmentConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	MaxSize int      `yaml:"max_size"`
}

// ExportConfig configures where rendered exports are written and how long
// they are kept before the sweeper removes them.
type ExportConfig struct {
	Dir      string   `yaml:"dir"`
	TTL      Duration `yaml:"ttl"`
	Schedule string   `yaml:"schedule"`
}

func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Segment: SegmentConfig{
			BaseURL: "http://127.0.0.1:7000",
			Timeout: Duration(2 * time.Minute),
			MaxSize: 2048,
		},
		Export: ExportConfig{
			Dir:      "./output",
			TTL:      Duration(time.Hour),
			Schedule: "@every 10m",
		},
	}
}

// Load reads the YAML file at path (if any) over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("CUTOUT_ADDR", c.Addr)
	c.LogLevel = getEnv("CUTOUT_LOG_LEVEL", c.LogLevel)
	c.Segment.BaseURL = getEnv("CUTOUT_SEGMENT_URL", c.Segment.BaseURL)
	c.Export.Dir = getEnv("CUTOUT_EXPORT_DIR", c.Export.Dir)

	if v := os.Getenv("CUTOUT_CONSTRAINED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Constrained = b
		}
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
