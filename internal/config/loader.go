package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"storefront/pkg/log"
)

// EnvPrefix is the prefix of every environment override, e.g. STOREFRONT_SERVER_PORT
const EnvPrefix = "STOREFRONT"

var (
	// GlobalConfig holds the global configuration instance
	GlobalConfig *Config

	mu     sync.RWMutex
	active *viper.Viper
)

// LoadConfig loads configuration for the named service from file and environment variables.
// Files are layered: config.yaml, then config.<service>.yaml, then config.<env>.yaml
// where env comes from STOREFRONT_ENV.
func LoadConfig(service, configPath string) (*Config, error) {
	v := viper.New()
	setViperDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
		v.AddConfigPath("/etc/storefront")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Warn("Config file not found, using defaults and environment variables")
	} else {
		log.WithField("file", v.ConfigFileUsed()).Info("Using config file")
	}

	env := GetEnv(EnvPrefix+"_ENV", "dev")
	for _, overlay := range []string{service, env} {
		if overlay == "" {
			continue
		}
		if err := mergeOverlay(v, overlay); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(v, service)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	GlobalConfig = cfg
	active = v
	mu.Unlock()

	return cfg, nil
}

// mergeOverlay merges config.<name>.yaml next to the base file when it exists
func mergeOverlay(v *viper.Viper, name string) error {
	base := v.ConfigFileUsed()
	if base == "" {
		return nil
	}

	path := filepath.Join(filepath.Dir(base), fmt.Sprintf("config.%s.yaml", name))
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("failed to merge %s: %w", path, err)
	}
	log.WithField("file", path).Info("Loaded overlay config")
	return nil
}

func decode(v *viper.Viper, service string) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Service == "" {
		cfg.Service = service
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setViperDefaults registers defaults whose zero value is a meaningful setting
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("circuit_break.enabled", true)
	v.SetDefault("cache.catalog.enabled", true)
	v.SetDefault("cache.bloom.enabled", true)
	v.SetDefault("security.cors.enabled", true)
	v.SetDefault("catalog.seed.enabled", true)
}

// MustLoadConfig loads configuration and panics on error
func MustLoadConfig(service, configPath string) *Config {
	cfg, err := LoadConfig(service, configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return cfg
}

// GetConfig returns the global configuration instance
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if GlobalConfig == nil {
		panic("Config not loaded. Call LoadConfig first.")
	}
	return GlobalConfig
}

// ReloadConfig re-decodes the active viper instance into GlobalConfig
func ReloadConfig() (*Config, error) {
	mu.RLock()
	v := active
	var service string
	if GlobalConfig != nil {
		service = GlobalConfig.Service
	}
	mu.RUnlock()

	if v == nil {
		return nil, fmt.Errorf("config not initialized")
	}

	cfg, err := decode(v, service)
	if err != nil {
		return nil, fmt.Errorf("failed to reload config: %w", err)
	}

	mu.Lock()
	GlobalConfig = cfg
	mu.Unlock()
	return cfg, nil
}

// WatchConfig watches the config file and invokes callback with the reloaded configuration
func WatchConfig(callback func(*Config)) {
	mu.RLock()
	v := active
	mu.RUnlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.WithField("file", e.Name).Info("Config file changed")
		cfg, err := ReloadConfig()
		if err != nil {
			log.WithError(err).Error("Failed to reload config")
			return
		}
		if callback != nil {
			callback(cfg)
		}
	})
	v.WatchConfig()
}

// GetEnv returns environment variable value with fallback
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// IsProduction returns true if running in production mode
func IsProduction() bool {
	env := GetEnv(EnvPrefix+"_ENV", "dev")
	return env == "prod" || env == "production"
}
