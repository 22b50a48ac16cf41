package config

import "time"

// Config holds client and development backend settings.
type Config struct {
	ServerURL         string        `mapstructure:"server_url" yaml:"server_url"`
	APIURL            string        `mapstructure:"api_url" yaml:"api_url"`
	Token             string        `mapstructure:"token" yaml:"token"`
	Username          string        `mapstructure:"username" yaml:"username"`
	Codec             string        `mapstructure:"codec" yaml:"codec"`
	GlobalRoom        string        `mapstructure:"global_room" yaml:"global_room"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	TypingTimeout     time.Duration `mapstructure:"typing_timeout" yaml:"typing_timeout"`
	SearchCacheTTL    time.Duration `mapstructure:"search_cache_ttl" yaml:"search_cache_ttl"`
	DMRequestSweep    time.Duration `mapstructure:"dm_request_sweep" yaml:"dm_request_sweep"`
	RejoinOnReconnect bool          `mapstructure:"rejoin_on_reconnect" yaml:"rejoin_on_reconnect"`
	Reconnect         Reconnect     `mapstructure:"reconnect" yaml:"reconnect"`
	DevServer         DevServer     `mapstructure:"devserver" yaml:"devserver"`
}

// Reconnect controls the backoff after an unexpected close.
type Reconnect struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// DevServer configures the local development backend.
type DevServer struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath       string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret          string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer          string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	TokenTTL           time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	DMRequestTTL       time.Duration `mapstructure:"dm_request_ttl" yaml:"dm_request_ttl"`
	BlockedWords       []string      `mapstructure:"blocked_words" yaml:"blocked_words"`
	Moderators         []string      `mapstructure:"moderators" yaml:"moderators"`
	GlobalRoom         string        `mapstructure:"global_room" yaml:"global_room"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:      "ws://localhost:8080/ws",
		APIURL:         "http://localhost:8080",
		Codec:          "json",
		GlobalRoom:     "global",
		LogLevel:       "info",
		DialTimeout:    10 * time.Second,
		RequestTimeout: 10 * time.Second,
		TypingTimeout:  2 * time.Second,
		SearchCacheTTL: 30 * time.Second,
		DMRequestSweep: 30 * time.Second,
		Reconnect: Reconnect{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		DevServer: DevServer{
			Addr:               ":8080",
			ReadHeaderTimeout:  5 * time.Second,
			ShutdownTimeout:    5 * time.Second,
			DatabasePath:       "citychat.db",
			JWTSecret:          "dev-secret-change-me",
			JWTIssuer:          "citychat",
			TokenTTL:           24 * time.Hour,
			RateLimitPerMinute: 30,
			DMRequestTTL:       24 * time.Hour,
			GlobalRoom:         "global",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.Username != "" {
		c.Username = other.Username
	}
	if other.Codec != "" {
		c.Codec = other.Codec
	}
	if other.GlobalRoom != "" {
		c.GlobalRoom = other.GlobalRoom
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DialTimeout != 0 {
		c.DialTimeout = other.DialTimeout
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.TypingTimeout != 0 {
		c.TypingTimeout = other.TypingTimeout
	}
	if other.RejoinOnReconnect {
		c.RejoinOnReconnect = true
	}
	if other.DevServer.Addr != "" {
		c.DevServer.Addr = other.DevServer.Addr
	}
	if other.DevServer.DatabasePath != "" {
		c.DevServer.DatabasePath = other.DevServer.DatabasePath
	}
}
