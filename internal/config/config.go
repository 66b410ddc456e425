package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/AirmashQ/airmash-ground-control/internal/logging"
)

// Defaults
const (
	DefaultMaxWingmen = 5
	DefaultName       = "GROUND-CTRL"
	DefaultLogLevel   = "info"

	envPrefix = "GC"
)

// Config is the validated runtime configuration
type Config struct {
	Servers    []string
	MaxWingmen uint8
	Announce   bool
	Name       string
	LogLevel   string
	LogFile    string
	Terrain    string // empty selects the built-in terrain
}

// SetDefaults registers default values for every key
func SetDefaults() {
	viper.SetDefault("max-wingmen", DefaultMaxWingmen)
	viper.SetDefault("no-announce", false)
	viper.SetDefault("name", DefaultName)
	viper.SetDefault("log-level", DefaultLogLevel)
	viper.SetDefault("log-file", "")
	viper.SetDefault("terrain", "")
	viper.SetDefault("servers", []string{})
}

// Load merges flags, GC_* environment variables and an optional config
// file, then validates the result. Server URLs given as arguments replace
// any listed in the file.
func Load(flags *pflag.FlagSet, file string, servers []string) (Config, error) {
	SetDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if flags != nil {
		if err := viper.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if len(servers) == 0 {
		servers = viper.GetStringSlice("servers")
	}

	maxWingmen := viper.GetInt("max-wingmen")
	if maxWingmen < 1 || maxWingmen > 255 {
		return Config{}, fmt.Errorf("max-wingmen must be between 1 and 255, got %d", maxWingmen)
	}

	cfg := Config{
		Servers:    servers,
		MaxWingmen: uint8(maxWingmen),
		Announce:   !viper.GetBool("no-announce"),
		Name:       strings.TrimSpace(viper.GetString("name")),
		LogLevel:   viper.GetString("log-level"),
		LogFile:    viper.GetString("log-file"),
		Terrain:    viper.GetString("terrain"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields Load cannot coerce
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("name must not be empty")
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if len(c.Servers) == 0 {
		return errors.New("at least one server URL is required")
	}
	for _, s := range c.Servers {
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid server URL %q: %w", s, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", s)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid server URL %q: missing host", s)
		}
	}
	return nil
}
