// Package config loads armature.yml, layering file values over defaults
// and letting ARMATURE_* environment variables override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full armature configuration.
type Config struct {
	ProjectName string       `mapstructure:"project_name"`
	EntitiesDir string       `mapstructure:"entities_dir"`
	Server      ServerConfig `mapstructure:"server"`
	Store       StoreConfig  `mapstructure:"store"`
	Cache       CacheConfig  `mapstructure:"cache"`
	Auth        AuthConfig   `mapstructure:"auth"`
	Feed        FeedConfig   `mapstructure:"feed"`
	CORS        CORSConfig   `mapstructure:"cors"`
	Log         LogConfig    `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is the allowed requests per minute per client IP.
	// Zero disables rate limiting.
	RateLimit int `mapstructure:"rate_limit"`

	// DebugAddr is the listen address for the pprof sidecar server,
	// e.g. "localhost:6060". Empty disables it. Keep it on loopback
	// or a firewalled interface.
	DebugAddr string `mapstructure:"debug_addr"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver string `mapstructure:"driver"`

	// URL is the sqlite file path or postgres DSN. Unused by memory.
	URL string `mapstructure:"url"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	// Driver is one of none, memory, redis.
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
	Redis  RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds token and session settings. An empty secret disables
// the auth surface entirely.
type AuthConfig struct {
	Secret     string        `mapstructure:"secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	Users      UsersConfig   `mapstructure:"users"`
}

// UsersConfig names the collection and fields the login endpoint reads.
type UsersConfig struct {
	Collection  string `mapstructure:"collection"`
	LoginField  string `mapstructure:"login_field"`
	SecretField string `mapstructure:"secret_field"`
	NameField   string `mapstructure:"name_field"`
	RoleField   string `mapstructure:"role_field"`
}

// FeedConfig controls the websocket change feed.
type FeedConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CORSConfig lists the allowed origins.
type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

// LogConfig controls the logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is console or json.
	Format string `mapstructure:"format"`
}

const configName = "armature"

// Load reads armature.yml or armature.yaml from dir, falling back to
// defaults when no file exists. An empty dir means the current
// directory.
func Load(dir string) (*Config, error) {
	v := newViper()
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)
	v.SetConfigName(configName)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("entities_dir", "entities")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.debug_addr", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("cache.driver", "none")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.users.collection", "users")
	v.SetDefault("auth.users.login_field", "login")
	v.SetDefault("auth.users.secret_field", "password")
	v.SetDefault("auth.users.name_field", "name")
	v.SetDefault("auth.users.role_field", "role")
	v.SetDefault("feed.enabled", true)
	v.SetDefault("cors.origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetEnvPrefix("ARMATURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if cfg.Store.URL == "" {
			return fmt.Errorf("store.url is required for the %s driver", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}

	switch cfg.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache driver: %s", cfg.Cache.Driver)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format: %s", cfg.Log.Format)
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit cannot be negative: %d", cfg.Server.RateLimit)
	}
	return nil
}

// InProject reports whether dir holds an armature project: a config
// file or an entity definitions directory.
func InProject(dir string) bool {
	if dir == "" {
		dir = "."
	}
	for _, name := range []string{"armature.yml", "armature.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	if info, err := os.Stat(filepath.Join(dir, "entities")); err == nil && info.IsDir() {
		return true
	}
	return false
}

// FindProjectRoot walks up from the working directory looking for an
// armature config file.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		for _, name := range []string{"armature.yml", "armature.yaml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in an armature project (no armature.yml found)")
		}
		dir = parent
	}
}
