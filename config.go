package pagegen

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eringen/pagegen/pipeline"
)

// SiteConfig holds all configuration for a pagegen site.
type SiteConfig struct {
	Name        string `yaml:"name"`        // Site name (default "Insurance Guides")
	URL         string `yaml:"url"`         // Canonical URL (default "http://localhost:3000")
	Description string `yaml:"description"` // Site description for RSS and meta tags

	Addr         string `yaml:"addr"`          // Listen address (default ":3000")
	DatabasePath string `yaml:"database_path"` // SQLite path (default "data/pagegen.db")

	AdminPassword string `yaml:"admin_password"` // Required: admin login password
	SessionSecret string `yaml:"session_secret"` // Required: session encryption secret
	CookieSecure  bool   `yaml:"cookie_secure"`  // Set true for HTTPS

	PageCacheTTL     time.Duration `yaml:"page_cache_ttl"`    // Page cache TTL (default 5m)
	CheckpointEvery  int           `yaml:"checkpoint_every"`  // Rows between progress writes (default 10)
	DispatchInterval time.Duration `yaml:"dispatch_interval"` // QUEUED job poll interval (default 5s)

	RevalidateURL    string `yaml:"revalidate_url"`    // Downstream site notified on page updates
	RevalidateSecret string `yaml:"revalidate_secret"` // Shared secret for /api/revalidate

	NATSURL     string `yaml:"nats_url"`     // Optional: fan invalidations out over NATS
	NATSSubject string `yaml:"nats_subject"` // default "pagegen.invalidate"

	DisableMetrics bool   `yaml:"disable_metrics"` // Hide /metrics
	LogLevel       string `yaml:"log_level"`       // debug, info, warn, error (default info)
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Insurance Guides"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/pagegen.db"
	}
	if c.PageCacheTTL == 0 {
		c.PageCacheTTL = 5 * time.Minute
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 10
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 5 * time.Second
	}
	if c.NATSSubject == "" {
		c.NATSSubject = "pagegen.invalidate"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadConfig builds a SiteConfig from a .env file in the working directory,
// the YAML file at path (optional when empty or missing) and PAGEGEN_*
// environment variables, in increasing precedence. Variables already set in
// the process environment are not overridden by .env. ${VAR} references in
// the YAML are expanded.
func LoadConfig(path string) (SiteConfig, error) {
	var cfg SiteConfig
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.setDefaults()
	return cfg, nil
}

func applyEnv(cfg *SiteConfig) error {
	strs := map[string]*string{
		"PAGEGEN_NAME":              &cfg.Name,
		"PAGEGEN_URL":               &cfg.URL,
		"PAGEGEN_DESCRIPTION":       &cfg.Description,
		"PAGEGEN_ADDR":              &cfg.Addr,
		"PAGEGEN_DATABASE_PATH":     &cfg.DatabasePath,
		"PAGEGEN_ADMIN_PASSWORD":    &cfg.AdminPassword,
		"PAGEGEN_SESSION_SECRET":    &cfg.SessionSecret,
		"PAGEGEN_REVALIDATE_URL":    &cfg.RevalidateURL,
		"PAGEGEN_REVALIDATE_SECRET": &cfg.RevalidateSecret,
		"PAGEGEN_NATS_URL":          &cfg.NATSURL,
		"PAGEGEN_NATS_SUBJECT":      &cfg.NATSSubject,
		"PAGEGEN_LOG_LEVEL":         &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"PAGEGEN_COOKIE_SECURE":   &cfg.CookieSecure,
		"PAGEGEN_DISABLE_METRICS": &cfg.DisableMetrics,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	durations := map[string]*time.Duration{
		"PAGEGEN_PAGE_CACHE_TTL":    &cfg.PageCacheTTL,
		"PAGEGEN_DISPATCH_INTERVAL": &cfg.DispatchInterval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv("PAGEGEN_CHECKPOINT_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PAGEGEN_CHECKPOINT_EVERY: %w", err)
		}
		cfg.CheckpointEvery = n
	}
	return nil
}

// NewLogger builds a production zap logger at the named level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for user-owned static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}

// WithLogger replaces the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		a.Logger = l
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) {
		a.registry = reg
	}
}

// WithInvalidator adds an invalidation target notified after page updates,
// alongside the local page cache.
func WithInvalidator(inv pipeline.Invalidator) Option {
	return func(a *App) {
		a.extraInvalidators = append(a.extraInvalidators, inv)
	}
}

// WithRunnerOptions passes options through to the job runner.
func WithRunnerOptions(opts ...pipeline.RunnerOption) Option {
	return func(a *App) {
		a.runnerOpts = append(a.runnerOpts, opts...)
	}
}
