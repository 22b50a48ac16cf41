package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "CITYCHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("CITYCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("config: unknown codec %q", c.Codec)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("config: reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.BaseDelay < 0 || c.Reconnect.MaxDelay < 0 {
		return errors.New("config: reconnect delays must not be negative")
	}
	return nil
}

// setDefaults registers every key so env vars resolve for nested values too.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("api_url", cfg.APIURL)
	v.SetDefault("token", cfg.Token)
	v.SetDefault("username", cfg.Username)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("global_room", cfg.GlobalRoom)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("dial_timeout", cfg.DialTimeout)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("typing_timeout", cfg.TypingTimeout)
	v.SetDefault("search_cache_ttl", cfg.SearchCacheTTL)
	v.SetDefault("dm_request_sweep", cfg.DMRequestSweep)
	v.SetDefault("rejoin_on_reconnect", cfg.RejoinOnReconnect)

	v.SetDefault("reconnect.max_attempts", cfg.Reconnect.MaxAttempts)
	v.SetDefault("reconnect.base_delay", cfg.Reconnect.BaseDelay)
	v.SetDefault("reconnect.max_delay", cfg.Reconnect.MaxDelay)

	d := cfg.DevServer
	v.SetDefault("devserver.addr", d.Addr)
	v.SetDefault("devserver.read_header_timeout", d.ReadHeaderTimeout)
	v.SetDefault("devserver.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("devserver.database_path", d.DatabasePath)
	v.SetDefault("devserver.jwt_secret", d.JWTSecret)
	v.SetDefault("devserver.jwt_issuer", d.JWTIssuer)
	v.SetDefault("devserver.token_ttl", d.TokenTTL)
	v.SetDefault("devserver.rate_limit_per_minute", d.RateLimitPerMinute)
	v.SetDefault("devserver.dm_request_ttl", d.DMRequestTTL)
	v.SetDefault("devserver.blocked_words", d.BlockedWords)
	v.SetDefault("devserver.moderators", d.Moderators)
	v.SetDefault("devserver.global_room", d.GlobalRoom)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
