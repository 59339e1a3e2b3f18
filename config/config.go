package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "RENDEZVOUS"

// MinSecretLength is the shortest accepted JWT secret in bytes.
const MinSecretLength = 32

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Push providers.
const (
	PushLog = "log"
	PushFCM = "fcm"
)

type Config struct {
	App     AppSettings     `mapstructure:"app"`
	Auth    AuthSettings    `mapstructure:"auth"`
	Session SessionSettings `mapstructure:"session"`
	Store   StoreSettings   `mapstructure:"store"`
	Redis   RedisSettings   `mapstructure:"redis"`
	Push    PushSettings    `mapstructure:"push"`
	Events  EventsSettings  `mapstructure:"events"`
	Metrics MetricsSettings `mapstructure:"metrics"`
}

type AppSettings struct {
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr is the listen address of the HTTP server.
func (a AppSettings) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type AuthSettings struct {
	JWTSecret                string        `mapstructure:"jwt_secret"`
	TokenTTL                 time.Duration `mapstructure:"token_ttl"`
	ChallengeTTL             time.Duration `mapstructure:"challenge_ttl"`
	ReservationTTL           time.Duration `mapstructure:"reservation_ttl"`
	ReservationSweepInterval time.Duration `mapstructure:"reservation_sweep_interval"`
}

type SessionSettings struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
}

type StoreSettings struct {
	Backend string `mapstructure:"backend"`
}

type RedisSettings struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

type PushSettings struct {
	Provider        string `mapstructure:"provider"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type EventsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

var keys = []string{
	"app.env",
	"app.host",
	"app.port",
	"auth.jwt_secret",
	"auth.token_ttl",
	"auth.challenge_ttl",
	"auth.reservation_ttl",
	"auth.reservation_sweep_interval",
	"session.timeout",
	"session.sweep_interval",
	"session.keep_alive_interval",
	"store.backend",
	"redis.url",
	"redis.prefix",
	"push.provider",
	"push.credentials_file",
	"events.enabled",
	"events.topic",
	"metrics.enabled",
}

// Load reads configuration from defaults, the optional file at path and
// RENDEZVOUS_* environment variables, in increasing priority.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := bindEnvs(v, keys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 9000)

	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.challenge_ttl", "2m")
	v.SetDefault("auth.reservation_ttl", "1m")
	v.SetDefault("auth.reservation_sweep_interval", "5m")

	v.SetDefault("session.timeout", "5m")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("session.keep_alive_interval", "30s")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.prefix", "rendezvous:")

	v.SetDefault("push.provider", PushLog)
	v.SetDefault("push.credentials_file", "")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "rendezvous.sessions")

	v.SetDefault("metrics.enabled", true)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate reports every setting that cannot be used to start the server.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("auth.challenge_ttl must be positive"))
	}
	if c.Auth.ReservationTTL <= 0 {
		errs = append(errs, errors.New("auth.reservation_ttl must be positive"))
	}
	if c.Auth.ReservationSweepInterval <= 0 {
		errs = append(errs, errors.New("auth.reservation_sweep_interval must be positive"))
	}

	if c.Session.Timeout <= 0 {
		errs = append(errs, errors.New("session.timeout must be positive"))
	}
	if c.Session.SweepInterval <= 0 || c.Session.SweepInterval >= c.Session.Timeout {
		errs = append(errs, errors.New("session.sweep_interval must be positive and shorter than session.timeout"))
	}
	if c.Session.KeepAliveInterval <= 0 || c.Session.KeepAliveInterval >= c.Session.Timeout {
		errs = append(errs, errors.New("session.keep_alive_interval must be positive and shorter than session.timeout"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of %s, %s", c.Store.Backend, BackendMemory, BackendRedis))
	}

	switch c.Push.Provider {
	case PushLog:
	case PushFCM:
		if c.Push.CredentialsFile == "" {
			errs = append(errs, errors.New("push.credentials_file is required for the fcm provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("push.provider %q is not one of %s, %s", c.Push.Provider, PushLog, PushFCM))
	}

	if c.Events.Enabled {
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required when events are enabled"))
		}
		if c.Events.Topic == "" {
			errs = append(errs, errors.New("events.topic must not be blank"))
		}
	}

	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Store.Backend == BackendRedis || c.Events.Enabled
}
