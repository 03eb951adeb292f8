// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/subreddit-archiver/internal/crawler"
	collyfetcher "github.com/JakeFAU/subreddit-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/subreddit-archiver/internal/source/reddit"
	"github.com/JakeFAU/subreddit-archiver/internal/storage/local"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. ARCHIVER_PIPELINE_WORKERS=4.
const EnvPrefix = "ARCHIVER"

// Config captures all archiver configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig identifies the subreddit and the API credentials.
type SourceConfig struct {
	Subreddit         string   `mapstructure:"subreddit"`
	ClientID          string   `mapstructure:"client_id"`
	ClientSecret      string   `mapstructure:"client_secret"`
	UserAgent         string   `mapstructure:"user_agent"`
	Views             []string `mapstructure:"views"`
	TopTimeFilter     string   `mapstructure:"top_time_filter"`
	PageSize          int      `mapstructure:"page_size"`
	RequestsPerMinute float64  `mapstructure:"requests_per_minute"`
	BaseURL           string   `mapstructure:"base_url"`
	TokenURL          string   `mapstructure:"token_url"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

// ArchiveConfig sets where records are written and when files rotate.
type ArchiveConfig struct {
	Dir          string `mapstructure:"dir"`
	MaxFileBytes int64  `mapstructure:"max_file_bytes"`
}

// ResolverConfig configures linked-page title lookups.
type ResolverConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
}

// ServerConfig controls the optional status server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps keys to the variable names used by older deployments, which
// kept credentials in a .env file.
var legacyEnv = map[string]string{
	"source.client_id":     "REDDIT_CLIENT_ID",
	"source.client_secret": "REDDIT_CLIENT_SECRET",
	"source.user_agent":    "REDDIT_USER_AGENT",
	"source.subreddit":     "SUBREDDIT_NAME",
}

// Option customizes Load.
type Option func(*loader)

type loader struct {
	envFile string
	flags   map[string]*pflag.Flag
}

// WithEnvFile loads variables from path before reading the environment.
// A missing file is ignored. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(l *loader) {
		l.envFile = path
	}
}

// WithFlag binds a command-line flag to a configuration key. Flags that were
// not set on the command line do not override other sources.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(l *loader) {
		if flag != nil {
			l.flags[key] = flag
		}
	}
}

// Load builds a Config from defaults, an optional file, the environment and
// bound flags, in increasing order of precedence.
func Load(path string, opts ...Option) (Config, error) {
	l := &loader{envFile: ".env", flags: make(map[string]*pflag.Flag)}
	for _, opt := range opts {
		opt(l)
	}

	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}
	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	views := make([]string, 0, 4)
	for _, view := range crawler.DefaultViews() {
		views = append(views, string(view))
	}
	v.SetDefault("source.views", views)
	v.SetDefault("source.top_time_filter", reddit.DefaultTopTimeFilter)
	v.SetDefault("source.page_size", reddit.DefaultPageSize)
	v.SetDefault("source.requests_per_minute", reddit.DefaultRequestsPerMinute)
	v.SetDefault("source.base_url", reddit.DefaultBaseURL)
	v.SetDefault("source.token_url", reddit.DefaultTokenURL)
	v.SetDefault("source.timeout_seconds", int(reddit.DefaultTimeout/time.Second))
	v.SetDefault("pipeline.workers", 7)
	v.SetDefault("archive.dir", ".")
	v.SetDefault("archive.max_file_bytes", local.DefaultMaxFileBytes)
	v.SetDefault("resolver.timeout_seconds", int(collyfetcher.DefaultTimeout/time.Second))
	v.SetDefault("resolver.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("resolver.per_host_rps", 0)
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", true)
}

// bindEnv registers keys that have no default so AutomaticEnv can see them
// during Unmarshal, and adds the legacy aliases.
func bindEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		primary := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, primary, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source.Subreddit) == "" {
		return fmt.Errorf("source.subreddit is required")
	}
	if c.Source.ClientID == "" || c.Source.ClientSecret == "" || c.Source.UserAgent == "" {
		return fmt.Errorf("source.client_id, source.client_secret and source.user_agent are required")
	}
	if _, err := c.Views(); err != nil {
		return err
	}
	if c.Source.PageSize <= 0 || c.Source.PageSize > 100 {
		return fmt.Errorf("source.page_size must be between 1 and 100")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Archive.MaxFileBytes <= 0 {
		return fmt.Errorf("archive.max_file_bytes must be > 0")
	}
	if c.Resolver.TimeoutSeconds <= 0 {
		return fmt.Errorf("resolver.timeout_seconds must be > 0")
	}
	if c.Resolver.PerHostRPS < 0 {
		return fmt.Errorf("resolver.per_host_rps must be >= 0")
	}
	return nil
}

// Views parses the configured listing views, preserving order.
func (c Config) Views() ([]crawler.View, error) {
	if len(c.Source.Views) == 0 {
		return nil, fmt.Errorf("source.views must name at least one view")
	}
	views := make([]crawler.View, 0, len(c.Source.Views))
	for _, raw := range c.Source.Views {
		view, err := crawler.ParseView(raw)
		if err != nil {
			return nil, fmt.Errorf("source.views: %w", err)
		}
		views = append(views, view)
	}
	return views, nil
}

// RedditConfig converts the source section into the client configuration.
func (c Config) RedditConfig() reddit.Config {
	return reddit.Config{
		Subreddit:         c.Source.Subreddit,
		ClientID:          c.Source.ClientID,
		ClientSecret:      c.Source.ClientSecret,
		UserAgent:         c.Source.UserAgent,
		BaseURL:           c.Source.BaseURL,
		TokenURL:          c.Source.TokenURL,
		PageSize:          c.Source.PageSize,
		TopTimeFilter:     c.Source.TopTimeFilter,
		RequestsPerMinute: c.Source.RequestsPerMinute,
		Timeout:           time.Duration(c.Source.TimeoutSeconds) * time.Second,
	}
}

// ArchiveWriterConfig names archive files after the subreddit.
func (c Config) ArchiveWriterConfig() local.Config {
	return local.Config{
		Dir:          c.Archive.Dir,
		Name:         c.Source.Subreddit,
		MaxFileBytes: c.Archive.MaxFileBytes,
	}
}

// TitleResolverConfig converts the resolver section.
func (c Config) TitleResolverConfig() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:  c.Resolver.UserAgent,
		Timeout:    time.Duration(c.Resolver.TimeoutSeconds) * time.Second,
		PerHostRPS: c.Resolver.PerHostRPS,
	}
}
