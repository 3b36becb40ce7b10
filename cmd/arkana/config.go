package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/avilainc/arkana"
	"github.com/avilainc/arkana/delivery"
)

// serviceConfig is everything outside the engine: listeners, backing
// stores, logging, tracing and mail.
type serviceConfig struct {
	HTTPAddr        string        `koanf:"http-addr" env:"HTTP_ADDR"`
	MetricsAddr     string        `koanf:"metrics-addr" env:"METRICS_ADDR"`
	GRPCAddr        string        `koanf:"grpc-addr" env:"GRPC_ADDR"`
	RedisAddr       string        `koanf:"redis-addr" env:"REDIS_ADDR"`
	RedisPassword   string        `koanf:"redis-password" env:"REDIS_PASSWORD"`
	DatabaseURL     string        `koanf:"database-url" env:"DATABASE_URL"`
	AutoMigrate     bool          `koanf:"auto-migrate" env:"AUTO_MIGRATE"`
	LogFormat       string        `koanf:"log-format" env:"LOG_FORMAT"`
	LogLevel        string        `koanf:"log-level" env:"LOG_LEVEL"`
	OTLPEndpoint    string        `koanf:"otlp-endpoint" env:"OTLP_ENDPOINT"`
	TrustForwarded  bool          `koanf:"trust-forwarded" env:"TRUST_FORWARDED"`
	StartupTimeout  time.Duration `koanf:"startup-timeout" env:"STARTUP_TIMEOUT"`
	ShutdownTimeout time.Duration `koanf:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT"`

	SMTP delivery.SMTPConfig `koanf:"smtp" envPrefix:"SMTP_"`
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		HTTPAddr:        ":8080",
		MetricsAddr:     ":9100",
		GRPCAddr:        ":9090",
		RedisAddr:       "localhost:6379",
		LogFormat:       "json",
		LogLevel:        "info",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		SMTP:            delivery.DefaultSMTPConfig(),
	}
}

func registerServiceFlags(fs *pflag.FlagSet) {
	d := defaultServiceConfig()
	fs.String("http-addr", d.HTTPAddr, "HTTP API listen address")
	fs.String("metrics-addr", d.MetricsAddr, "metrics and health listen address")
	fs.String("grpc-addr", d.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.String("redis-addr", d.RedisAddr, "Redis address")
	fs.String("database-url", d.DatabaseURL, "PostgreSQL connection string")
	fs.Bool("auto-migrate", d.AutoMigrate, "apply schema migrations on startup")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("otlp-endpoint", d.OTLPEndpoint, "OTLP/HTTP trace endpoint URL (empty disables tracing)")
	fs.Bool("trust-forwarded", d.TrustForwarded, "take the client address from X-Forwarded-For")
	fs.Duration("startup-timeout", d.StartupTimeout, "how long to wait for Redis and PostgreSQL")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "graceful shutdown budget")
}

// loadServiceConfig layers defaults, the YAML file, explicitly set flags
// and ARKANA_* environment variables, in that order.
func loadServiceConfig(path string, fs *pflag.FlagSet) (serviceConfig, error) {
	cfg := defaultServiceConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.Code("CONFIG_FILE").With("path", path).Wrap(err)
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return cfg, oops.Code("CONFIG_FLAGS").Wrap(err)
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, oops.Code("CONFIG_DECODE").Wrap(err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: arkana.EnvPrefix}); err != nil {
		return cfg, oops.Code("CONFIG_ENV").Wrap(err)
	}
	return cfg, nil
}
