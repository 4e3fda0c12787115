package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres or memory
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProjectionConfig holds plan-wide projection defaults.
type ProjectionConfig struct {
	InflationRate    float64 `yaml:"inflation_rate" mapstructure:"inflation_rate"`
	DiscountRate     float64 `yaml:"discount_rate" mapstructure:"discount_rate"`
	DurationYears    int     `yaml:"duration_years" mapstructure:"duration_years"`
	GeographicFactor float64 `yaml:"geographic_factor" mapstructure:"geographic_factor"`
	GeoIndexPath     string  `yaml:"geo_index_path" mapstructure:"geo_index_path"`
}

// WorkflowConfig configures the approval engine.
type WorkflowConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	StrictNotes         bool    `yaml:"strict_notes" mapstructure:"strict_notes"`
	RecalcConcurrency   int     `yaml:"recalc_concurrency" mapstructure:"recalc_concurrency"`
}

// IngestConfig configures research file decoding.
type IngestConfig struct {
	Sheet    string `yaml:"sheet" mapstructure:"sheet"`
	SkipRows int    `yaml:"skip_rows" mapstructure:"skip_rows"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LIFECARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lifecare.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("projection.inflation_rate", 0.025)
	v.SetDefault("projection.discount_rate", 0.03)
	v.SetDefault("projection.duration_years", 30)
	v.SetDefault("projection.geographic_factor", 1.0)
	v.SetDefault("projection.geo_index_path", "")
	v.SetDefault("workflow.confidence_threshold", 0.8)
	v.SetDefault("workflow.strict_notes", false)
	v.SetDefault("workflow.recalc_concurrency", 4)
	v.SetDefault("ingest.sheet", "")
	v.SetDefault("ingest.skip_rows", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode "cli" covers
// every store-backed command; "serve" adds the server settings.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "cli", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
		if c.Store.MaxConns < 1 {
			problems = append(problems, "store.max_conns must be > 0")
		}
		if c.Store.MinConns < 0 || c.Store.MinConns > c.Store.MaxConns {
			problems = append(problems, "store.min_conns must be between 0 and store.max_conns")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the sqlite driver")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be one of sqlite, postgres, memory", c.Store.Driver))
	}

	p := c.Projection
	if p.DurationYears < 0 {
		problems = append(problems, "projection.duration_years must be >= 0")
	}
	if p.GeographicFactor <= 0 {
		problems = append(problems, "projection.geographic_factor must be > 0")
	}
	if p.DiscountRate == -1 {
		problems = append(problems, "projection.discount_rate must not be -1")
	}

	w := c.Workflow
	if w.ConfidenceThreshold < 0 || w.ConfidenceThreshold > 1 {
		problems = append(problems, "workflow.confidence_threshold must be between 0 and 1")
	}
	if w.RecalcConcurrency < 1 || w.RecalcConcurrency > 64 {
		problems = append(problems, "workflow.recalc_concurrency must be between 1 and 64")
	}

	if c.Ingest.SkipRows < 0 {
		problems = append(problems, "ingest.skip_rows must be >= 0")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimitRPS < 0 {
			problems = append(problems, "server.rate_limit_rps must be >= 0")
		}
		if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
			problems = append(problems, "server.rate_limit_burst must be > 0 when rate limiting is on")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
