package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alovak/cardflow-checkout/internal/apitoken"
	"github.com/alovak/cardflow-checkout/internal/chargeclient"
	"github.com/alovak/cardflow-checkout/internal/expiry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"
)

const envPrefix = "CHECKOUT"

// Config is read from flags, CHECKOUT_* env vars and an optional YAML file,
// in that order of precedence.
type Config struct {
	Backend   string        `mapstructure:"backend"`
	Business  string        `mapstructure:"business"`
	APISecret string        `mapstructure:"api-secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Verbose   bool          `mapstructure:"verbose"`

	// ExpiryLocation is the IANA zone whose month end a card expires at.
	ExpiryLocation string `mapstructure:"expiry-location"`
}

func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", "http://localhost:9090")
	v.SetDefault("business", "biz_local")
	v.SetDefault("api-secret", "")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("verbose", false)
	v.SetDefault("expiry-location", "UTC")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Backend == "" {
		return nil, errors.New("backend URL is required")
	}
	if cfg.Business == "" {
		return nil, errors.New("business id is required")
	}

	loc, err := time.LoadLocation(cfg.ExpiryLocation)
	if err != nil {
		return nil, fmt.Errorf("loading expiry location %q: %w", cfg.ExpiryLocation, err)
	}
	expiry.SetDefaultExpiryLocation(loc)
	return &cfg, nil
}

func (c *Config) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (c *Config) client() *chargeclient.Client {
	business := c.Business
	opts := []chargeclient.Option{
		chargeclient.WithBusinessID(func() string { return business }),
	}
	if c.APISecret != "" {
		secret := c.APISecret
		opts = append(opts, chargeclient.WithToken(func() (string, error) {
			return apitoken.Issue(secret, business, time.Hour)
		}))
	}
	return chargeclient.New(c.Backend, &http.Client{Timeout: c.Timeout}, opts...)
}
