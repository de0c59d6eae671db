// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

// Package config loads identity service settings from defaults, an optional
// YAML file, IDENTITY_ environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/publicdesk/identity/internal/auth"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "IDENTITY_"

// Config is the full service configuration.
type Config struct {
	OTP      OTP      `koanf:"otp"`
	JWT      JWT      `koanf:"jwt"`
	Password Password `koanf:"password"`
	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Log      Log      `koanf:"log"`
	Metrics  Metrics  `koanf:"metrics"`
}

// OTP holds one-time code settings.
type OTP struct {
	Length        int           `koanf:"length"`
	ExpiryMinutes int           `koanf:"expiryMinutes"`
	MaxAttempts   int           `koanf:"maxAttempts"`
	IssueLimit    int           `koanf:"issueLimit"`
	IssueWindow   time.Duration `koanf:"issueWindow"`
	PurgeInterval time.Duration `koanf:"purgeInterval"`
}

// JWT holds token signing settings.
type JWT struct {
	AccessSecret  string        `koanf:"accessSecret"`
	AccessExpiry  time.Duration `koanf:"accessExpiry"`
	RefreshSecret string        `koanf:"refreshSecret"`
	RefreshExpiry time.Duration `koanf:"refreshExpiry"`
	Issuer        string        `koanf:"issuer"`
}

// Password holds password hashing settings.
type Password struct {
	HashCost int `koanf:"hashCost"`
}

// Database holds the PostgreSQL connection settings.
type Database struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"maxConns"`
}

// Redis holds the optional Redis settings. An empty Addr disables the
// issue limiter and the stream notifier.
type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Stream   string `koanf:"stream"`
}

// Log holds logger settings.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Metrics holds the observability server settings. An empty Addr disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

func defaults() map[string]any {
	return map[string]any{
		"otp.length":        auth.DefaultOTPLength,
		"otp.expiryMinutes": int(auth.DefaultOTPExpiry / time.Minute),
		"otp.maxAttempts":   auth.DefaultOTPMaxAttempts,
		"otp.issueLimit":    5,
		"otp.issueWindow":   "10m",
		"otp.purgeInterval": "15m",
		"jwt.accessSecret":  "",
		"jwt.accessExpiry":  auth.DefaultAccessExpiry.String(),
		"jwt.refreshSecret": "",
		"jwt.refreshExpiry": auth.DefaultRefreshExpiry.String(),
		"jwt.issuer":        auth.DefaultIssuer,
		"password.hashCost": auth.DefaultHashCost,
		"database.url":      "",
		"database.maxConns": 0,
		"redis.addr":        "",
		"redis.password":    "",
		"redis.db":          0,
		"redis.stream":      "identity:notifications",
		"log.format":        "json",
		"log.level":         "info",
		"metrics.addr":      "127.0.0.1:9100",
	}
}

// envKeys maps the lower-cased form of every key to its canonical spelling,
// so both IDENTITY_OTP_MAXATTEMPTS and IDENTITY_OTP_MAX_ATTEMPTS land on
// otp.maxAttempts.
var envKeys = func() map[string]string {
	m := make(map[string]string)
	for k := range defaults() {
		m[strings.ToLower(k)] = k
	}
	return m
}()

func envKey(name string) string {
	section, rest, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_")
	if !ok {
		return ""
	}
	if canonical, ok := envKeys[section+"."+strings.ReplaceAll(rest, "_", "")]; ok {
		return canonical
	}
	return ""
}

// Flags are the command-line overrides understood by Load, keyed by flag name.
var Flags = map[string]string{
	"database-url":   "database.url",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"metrics-addr":   "metrics.addr",
	"redis-addr":     "redis.addr",
	"otp-length":     "otp.length",
	"otp-expiry-min": "otp.expiryMinutes",
}

// RegisterFlags adds the override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("log-format", "", "log format (json or text)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("metrics-addr", "", "observability server address")
	fs.String("redis-addr", "", "Redis address for rate limiting and notification streams")
	fs.Int("otp-length", 0, "one-time code length")
	fs.Int("otp-expiry-min", 0, "one-time code lifetime in minutes")
}

// Load builds a Config. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := Flags[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks the settings needed to serve requests.
func (c *Config) Validate() error {
	if err := c.OTPConfig().Validate(); err != nil {
		return err
	}
	if err := c.TokenConfig().Validate(); err != nil {
		return err
	}
	if c.Password.HashCost < 1 || c.Password.HashCost > auth.MaxHashCost {
		return oops.Code("CONFIG_INVALID").With("password.hashCost", c.Password.HashCost).
			Errorf("password hash cost must be between 1 and %d", auth.MaxHashCost)
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	if c.Redis.Addr != "" && (c.OTP.IssueLimit <= 0 || c.OTP.IssueWindow <= 0) {
		return oops.Code("CONFIG_INVALID").
			With("otp.issueLimit", c.OTP.IssueLimit).
			With("otp.issueWindow", c.OTP.IssueWindow).
			Errorf("otp issue limit and window must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").With("log.format", c.Log.Format).Errorf("log format must be json or text")
	}
	return nil
}

// OTPConfig returns the OTP engine settings.
func (c *Config) OTPConfig() auth.OTPConfig {
	return auth.OTPConfig{
		Length:      c.OTP.Length,
		Expiry:      time.Duration(c.OTP.ExpiryMinutes) * time.Minute,
		MaxAttempts: c.OTP.MaxAttempts,
	}
}

// TokenConfig returns the token issuer settings.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  []byte(c.JWT.AccessSecret),
		AccessExpiry:  c.JWT.AccessExpiry,
		RefreshSecret: []byte(c.JWT.RefreshSecret),
		RefreshExpiry: c.JWT.RefreshExpiry,
		Issuer:        c.JWT.Issuer,
	}
}

// SweeperConfig returns the purge sweeper settings.
func (c *Config) SweeperConfig() auth.SweeperConfig {
	cfg := auth.DefaultSweeperConfig()
	if c.OTP.PurgeInterval > 0 {
		cfg.Interval = c.OTP.PurgeInterval
	}
	return cfg
}
