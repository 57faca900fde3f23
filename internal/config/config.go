// Package config provides layered configuration loading for the sync
// engine: defaults, a YAML file, then environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"eventwish-sync/internal/domain/resource"
)

// Environment is the deployment environment name.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration for the sync engine.
type Config struct {
	Environment Environment `yaml:"environment" validate:"oneof=development staging production"`

	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Sync      SyncConfig      `yaml:"sync"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// APIConfig configures the upstream resource API.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PageSize       int           `yaml:"page_size" validate:"gt=0"`
}

// CacheConfig configures the memory and durable cache tiers.
type CacheConfig struct {
	MaxItems      int                      `yaml:"max_items" validate:"gt=0"`
	MaxBytes      int64                    `yaml:"max_bytes"`
	SweepInterval time.Duration            `yaml:"sweep_interval"`
	DefaultTTL    time.Duration            `yaml:"default_ttl" validate:"gt=0"`
	TypeTTLs      map[string]time.Duration `yaml:"type_ttls"`
}

// TTLFor returns the configured freshness window for a resource type.
func (c CacheConfig) TTLFor(t resource.Type) time.Duration {
	if ttl, ok := c.TypeTTLs[string(t)]; ok && ttl > 0 {
		return ttl
	}
	return c.DefaultTTL
}

// StorageConfig configures the durable stores on disk.
type StorageConfig struct {
	ResourceDBPath string `yaml:"resource_db_path" validate:"required"`
	PendingOpsPath string `yaml:"pending_ops_path" validate:"required"`
}

// FirestoreConfig configures the interaction backend.
type FirestoreConfig struct {
	ProjectID           string `yaml:"project_id"`
	CredentialsFile     string `yaml:"credentials_file"`
	TemplatesCollection string `yaml:"templates_collection"`
	UsersCollection     string `yaml:"users_collection"`
}

// SyncConfig configures the pending-operation retry worker and the
// debounce window for interaction toggles.
type SyncConfig struct {
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	RetryMaxAttempts  int           `yaml:"retry_max_attempts" validate:"gt=0"`
	DebounceWindow    time.Duration `yaml:"debounce_window"`
	DrainInterval     time.Duration `yaml:"drain_interval"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// Default returns the built-in configuration, suitable for
// development against a local API.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		API: APIConfig{
			BaseURL:        "http://localhost:3000/api",
			RequestTimeout: 30 * time.Second,
			PageSize:       20,
		},
		Cache: CacheConfig{
			MaxItems:      1000,
			MaxBytes:      64 << 20,
			SweepInterval: 5 * time.Minute,
			DefaultTTL:    time.Hour,
			TypeTTLs: map[string]time.Duration{
				string(resource.TypeTemplate):     24 * time.Hour,
				string(resource.TypeCategory):     24 * time.Hour,
				string(resource.TypeIcon):         24 * time.Hour,
				string(resource.TypeCategoryIcon): 24 * time.Hour,
			},
		},
		Storage: StorageConfig{
			ResourceDBPath: "data/resources.db",
			PendingOpsPath: "data/pending-ops",
		},
		Firestore: FirestoreConfig{
			TemplatesCollection: "templates",
			UsersCollection:     "users",
		},
		Sync: SyncConfig{
			RetryInitialDelay: time.Second,
			RetryMaxDelay:     5 * time.Minute,
			RetryMaxAttempts:  8,
			DebounceWindow:    500 * time.Millisecond,
			DrainInterval:     30 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "eventwish-sync",
			SampleRate:  0.1,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// and environment variables, then validates it. An empty path skips
// the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var invalid []string
			for _, fe := range verrs {
				invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies SYNC_* environment variables on top of
// the file layer.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*target = d
			}
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}

	if v := os.Getenv("SYNC_ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	setString("SYNC_SERVER_ADDR", &cfg.Server.Addr)
	setString("SYNC_API_BASE_URL", &cfg.API.BaseURL)
	setDuration("SYNC_API_TIMEOUT", &cfg.API.RequestTimeout)
	setInt("SYNC_API_PAGE_SIZE", &cfg.API.PageSize)
	setString("SYNC_RESOURCE_DB_PATH", &cfg.Storage.ResourceDBPath)
	setString("SYNC_PENDING_OPS_PATH", &cfg.Storage.PendingOpsPath)
	setString("SYNC_FIRESTORE_PROJECT", &cfg.Firestore.ProjectID)
	setString("SYNC_FIRESTORE_CREDENTIALS", &cfg.Firestore.CredentialsFile)
	setDuration("SYNC_CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTL)
	setDuration("SYNC_DEBOUNCE_WINDOW", &cfg.Sync.DebounceWindow)
	setString("SYNC_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	if v := os.Getenv("SYNC_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
}
