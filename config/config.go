/*
Package config loads and saves the tool configuration.

The file lives at ~/.config/kimaitool/config.yaml and holds the Kimai
credentials plus run defaults. Flags override file values; the configure
command writes the merged result back with 0600 permissions since the
file carries an API token.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const appName = "kimaitool"

// Config is the persisted tool configuration.
type Config struct {
	KimaiURL      string  `mapstructure:"kimaiUrl"`
	KimaiUsername string  `mapstructure:"kimaiUsername"`
	KimaiToken    string  `mapstructure:"kimaiToken"`
	KimaiUserID   int     `mapstructure:"kimaiUserId"`
	VATRate       float64 `mapstructure:"vatRate"`
	Template      string  `mapstructure:"template"`
	OutputDir     string  `mapstructure:"outputDir"`
}

// DefaultPath returns the standard config file location, creating the
// parent directory if needed.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config file. A missing file yields the zero config.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config file with owner-only permissions.
func Save(path string, cfg Config) error {
	v := viper.New()
	v.Set("kimaiUrl", cfg.KimaiURL)
	v.Set("kimaiUsername", cfg.KimaiUsername)
	v.Set("kimaiToken", cfg.KimaiToken)
	v.Set("kimaiUserId", cfg.KimaiUserID)
	v.Set("vatRate", cfg.VATRate)
	v.Set("template", cfg.Template)
	v.Set("outputDir", cfg.OutputDir)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	// The file holds an API token.
	return os.Chmod(path, 0o600)
}
