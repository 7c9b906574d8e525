package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/permitfence/pkg/permitfence"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for permitfence.yaml/.yml in standard locations.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then reports ConfigFileNotFoundError, which LoadConfig tolerates
		viper.SetConfigName("permitfence")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: PERMITFENCE_STORE_ADDR
	viper.SetEnvPrefix("PERMITFENCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".permitfence"),
		"/etc/permitfence",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "permitfence"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every scalar config key so it can be overridden from the environment.
// Per-key limiters are a map and can only come from the config file.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("store.addr")
	_ = viper.BindEnv("store.password")
	_ = viper.BindEnv("store.db")
	_ = viper.BindEnv("store.prefix")

	_ = viper.BindEnv("lock.lease_seconds")
	_ = viper.BindEnv("lock.safety_timeout_seconds")

	_ = viper.BindEnv("defaults.permits_per_second")
	_ = viper.BindEnv("defaults.max_burst_seconds")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and validates the result.
func LoadConfig() (*permitfence.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg permitfence.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
