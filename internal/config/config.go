// Package config loads service configuration from a YAML file,
// environment variables, and defaults, in that ascending priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonesrussell/newsbrief/internal/crawl"
	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/logger"
	"github.com/jonesrussell/newsbrief/internal/report"
	"github.com/jonesrussell/newsbrief/internal/scheduler"
	"github.com/jonesrussell/newsbrief/internal/stream"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"       yaml:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"  yaml:"idle_timeout"`
}

// CrawlerConfig wraps the crawl runner config with fetch settings.
type CrawlerConfig struct {
	crawl.Config  `mapstructure:",squash" yaml:",inline"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"   yaml:"fetch_timeout"`
	SitemapMaxAge time.Duration `mapstructure:"sitemap_max_age" yaml:"sitemap_max_age"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"    yaml:"server"`
	Database  database.Config        `mapstructure:"database"  yaml:"database"`
	Redis     stream.RedisConfig     `mapstructure:"redis"     yaml:"redis"`
	Crawler   CrawlerConfig          `mapstructure:"crawler"   yaml:"crawler"`
	Report    report.GeneratorConfig `mapstructure:"report"    yaml:"report"`
	Scheduler scheduler.Config       `mapstructure:"scheduler" yaml:"scheduler"`
	Logger    logger.Config          `mapstructure:"logger"    yaml:"logger"`
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database.host and database.dbname are required")
	}
	return nil
}

// Load reads configuration. A missing config file is not an error:
// defaults plus environment variables are a complete configuration.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("NEWSBRIEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
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

// bindEnvVars maps well-known unprefixed environment variables onto
// config keys.
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.host":     {"DATABASE_HOST", "PGHOST"},
		"database.port":     {"DATABASE_PORT", "PGPORT"},
		"database.user":     {"DATABASE_USER", "PGUSER"},
		"database.password": {"DATABASE_PASSWORD", "PGPASSWORD"},
		"database.dbname":   {"DATABASE_NAME", "PGDATABASE"},
		"redis.addr":        {"REDIS_ADDR"},
		"redis.password":    {"REDIS_PASSWORD"},
		"report.api_key":    {"ANTHROPIC_API_KEY"},
		"logger.level":      {"LOG_LEVEL"},
	}

	for key, vars := range bindings {
		args := append([]string{key}, vars...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults applies production-safe defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server", map[string]any{
		"address":       ":8080",
		"read_timeout":  "15s",
		"write_timeout": "0s", // streaming responses must not be cut off
		"idle_timeout":  "60s",
	})

	v.SetDefault("database", map[string]any{
		"host":    "localhost",
		"port":    5432,
		"user":    "newsbrief",
		"dbname":  "newsbrief",
		"sslmode": "disable",
	})

	v.SetDefault("redis", map[string]any{
		"addr": "",
		"db":   0,
	})

	crawlDefaults := crawl.DefaultConfig()
	v.SetDefault("crawler", map[string]any{
		"retry_ceiling":   crawlDefaults.RetryCeiling,
		"default_delay":   crawlDefaults.DefaultDelay,
		"default_limit":   crawlDefaults.DefaultLimit,
		"user_agent":      crawlDefaults.UserAgent,
		"fetch_timeout":   "30s",
		"sitemap_max_age": "168h",
	})

	reportDefaults := report.DefaultGeneratorConfig()
	v.SetDefault("report", map[string]any{
		"model":      reportDefaults.Model,
		"max_tokens": reportDefaults.MaxTokens,
	})

	schedDefaults := scheduler.DefaultConfig()
	v.SetDefault("scheduler", map[string]any{
		"crawl_schedule": schedDefaults.CrawlSchedule,
		"retry_schedule": schedDefaults.RetrySchedule,
	})

	v.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"output_paths": []string{"stdout"},
	})
}
