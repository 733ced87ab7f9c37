package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/structs"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	CONFIGS_DIR_NAME           = ".config"
	QUICKSHARE_CONFIG_DIR_NAME = "quickshare"
	CONFIG_FILE_NAME           = "config"
	CONFIG_FILE_EXT            = "yml"

	StyleRich = "rich"
	StyleRaw  = "raw"
)

type Config struct {
	Engine              string        `mapstructure:"engine"`
	Verbose             bool          `mapstructure:"verbose"`
	TuiStyle            string        `mapstructure:"tui_style"`
	ApiPort             int           `mapstructure:"api_port"`
	CopyTextToClipboard bool          `mapstructure:"copy_text_to_clipboard"`
	DiscoveryTimeout    time.Duration `mapstructure:"discovery_timeout"`
}

func GetDefault() Config {
	return Config{
		Engine:              "127.0.0.1:9300",
		Verbose:             false,
		TuiStyle:            StyleRich,
		ApiPort:             9301,
		CopyTextToClipboard: true,
		DiscoveryTimeout:    5 * time.Second,
	}
}

func (config Config) Map() map[string]any {
	m := map[string]any{}
	for _, field := range structs.Fields(config) {
		key := field.Tag("mapstructure")
		value := field.Value()
		m[key] = value
	}
	return m
}

// Yaml renders the config as it is written to the config file.
func (config Config) Yaml() []byte {
	b, err := yaml.Marshal(config.Map())
	if err != nil {
		// A map of scalars always marshals.
		panic(fmt.Sprintf("marshalling config: %v", err))
	}
	return b
}

// Load reads the effective config out of viper.
func Load() (Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	switch config.TuiStyle {
	case StyleRich, StyleRaw:
	default:
		return Config{}, fmt.Errorf("invalid tui_style %q, expected %s or %s", config.TuiStyle, StyleRich, StyleRaw)
	}
	return config, nil
}

// IsDefault reports whether the effective value of key is its default. Values
// are compared in their printed form since the config file holds strings for
// durations.
func IsDefault(key string) bool {
	defaults := GetDefault().Map()
	return fmt.Sprint(viper.Get(key)) == fmt.Sprint(defaults[key])
}

// Init initializes the viper config.
// `config.yml` is created in $HOME/.config/quickshare if not already existing.
// NOTE: The precedence levels of viper are the following: flags -> config file -> defaults.
func Init() error {
	home, err := homedir.Dir()
	if err != nil {
		return fmt.Errorf("resolving home dir: %w", err)
	}
	return InitAt(filepath.Join(home, CONFIGS_DIR_NAME, QUICKSHARE_CONFIG_DIR_NAME))
}

// InitAt initializes the viper config from the config file in dir.
func InitAt(configPath string) error {
	viper.AddConfigPath(configPath)
	viper.SetConfigName(CONFIG_FILE_NAME)
	viper.SetConfigType(CONFIG_FILE_EXT)

	for k, v := range GetDefault().Map() {
		viper.SetDefault(k, v)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Create config file if not found.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("could not read config file: %w", err)
		}
		if err := os.MkdirAll(configPath, os.ModePerm); err != nil {
			return fmt.Errorf("could not create config directory: %w", err)
		}
		file := filepath.Join(configPath, fmt.Sprintf("%s.%s", CONFIG_FILE_NAME, CONFIG_FILE_EXT))
		if err := os.WriteFile(file, GetDefault().Yaml(), 0o644); err != nil {
			return fmt.Errorf("could not write defaults to config file: %w", err)
		}
		viper.SetConfigFile(file)
	}
	return nil
}
