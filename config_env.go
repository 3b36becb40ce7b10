package arkana

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by [LoadConfigFromEnv],
// for example ARKANA_TOKENS_ACCESS_TTL or ARKANA_RATE_LIMIT_LOGIN_LIMIT.
const EnvPrefix = "ARKANA_"

// LoadConfigFromEnv overlays environment variables on [DefaultConfig].
// Unset variables keep their defaults. The result is not validated.
func LoadConfigFromEnv() (Config, error) {
	cfg := defaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on cfg in place.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
