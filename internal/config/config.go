package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxUploadBytes int64 = 10 * 1024 * 1024
	DefaultPreviewWidth         = 240
	// 40 MP decodes to 160 MiB of NRGBA.
	DefaultMaxSourcePixels  int64 = 40_000_000
	DefaultMaxPreviewHeight       = 4096
)

var ErrStorageNotSet = errors.New("STORAGE is not set")

type Config struct {
	Storage     string `yaml:"storage"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPort string `yaml:"metrics_port"`

	// Upload pipeline
	MaxUploadBytes     int64 `yaml:"max_upload_bytes"`
	PreviewWidth       int   `yaml:"preview_width"`
	PreviewConcurrency int   `yaml:"preview_concurrency"`
	MaxSourcePixels    int64 `yaml:"max_source_pixels"`
	MaxPreviewHeight   int   `yaml:"max_preview_height"`
	UploadRateLimit    int   `yaml:"upload_rate_limit"` // per IP per minute, 0 disables

	// Preview reconciler, 0 disables
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	CORSOrigins []string `yaml:"cors_origins"`

	// Logging
	Dev          bool   `yaml:"dev"`
	LogFile      string `yaml:"log_file"`
	LogUTCOffset int    `yaml:"log_utc_offset"` // hours
	Tracing      bool   `yaml:"tracing"`
}

// DefaultConfig returns a Config with every optional value filled in.
// Storage has no default.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:         ":3000",
		MetricsPort:        "9090",
		MaxUploadBytes:     DefaultMaxUploadBytes,
		PreviewWidth:       DefaultPreviewWidth,
		PreviewConcurrency: runtime.NumCPU(),
		MaxSourcePixels:    DefaultMaxSourcePixels,
		MaxPreviewHeight:   DefaultMaxPreviewHeight,
		UploadRateLimit:    60,
		ReconcileInterval:  0,
		CORSOrigins:        []string{"*"},
	}
}

// Load reads an optional YAML file and then applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := getEnv("STORAGE"); v != "" {
		c.Storage = v
	}
	if v := getEnv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := getEnv("METRICS_PORT"); v != "" {
		c.MetricsPort = v
	}
	if v := getEnv("LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := getEnv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	var err error
	if c.MaxUploadBytes, err = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes); err != nil {
		return err
	}
	if c.PreviewWidth, err = envInt("PREVIEW_WIDTH", c.PreviewWidth); err != nil {
		return err
	}
	if c.PreviewConcurrency, err = envInt("PREVIEW_CONCURRENCY", c.PreviewConcurrency); err != nil {
		return err
	}
	if c.MaxSourcePixels, err = envInt64("MAX_SOURCE_PIXELS", c.MaxSourcePixels); err != nil {
		return err
	}
	if c.MaxPreviewHeight, err = envInt("MAX_PREVIEW_HEIGHT", c.MaxPreviewHeight); err != nil {
		return err
	}
	if c.UploadRateLimit, err = envInt("UPLOAD_RATE_LIMIT", c.UploadRateLimit); err != nil {
		return err
	}
	if c.LogUTCOffset, err = envInt("LOG_UTC_OFFSET", c.LogUTCOffset); err != nil {
		return err
	}
	if c.Dev, err = envBool("DEV", c.Dev); err != nil {
		return err
	}
	if c.Tracing, err = envBool("TRACING", c.Tracing); err != nil {
		return err
	}
	if v := getEnv("RECONCILE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RECONCILE_INTERVAL %q: %w", v, err)
		}
		c.ReconcileInterval = d
	}

	return nil
}

func (c *Config) fillDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.PreviewWidth <= 0 {
		c.PreviewWidth = DefaultPreviewWidth
	}
	if c.PreviewConcurrency <= 0 {
		c.PreviewConcurrency = runtime.NumCPU()
	}
	if c.MaxSourcePixels <= 0 {
		c.MaxSourcePixels = DefaultMaxSourcePixels
	}
	if c.MaxPreviewHeight <= 0 {
		c.MaxPreviewHeight = DefaultMaxPreviewHeight
	}
}

// Validate reports configuration that the server cannot start with.
func (c *Config) Validate() error {
	if c.Storage == "" {
		return ErrStorageNotSet
	}
	if c.LogUTCOffset < -12 || c.LogUTCOffset > 14 {
		return fmt.Errorf("log_utc_offset out of range: %d", c.LogUTCOffset)
	}
	return nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string, fallback int) (int, error) {
	v := getEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := getEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := getEnv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
