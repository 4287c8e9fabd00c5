package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AppName is the canonical application name
const AppName = "wabridge"

// HomeDir returns ~/.wabridge
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Bootstrap ensures the public-serving directory exists and writes a default
// config file to configPath when none is there. Existing files are never
// overwritten.
func Bootstrap(cfg *Config, configPath string, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.Storage.PublicDir, 0o755); err != nil {
		return fmt.Errorf("create public dir %s: %w", cfg.Storage.PublicDir, err)
	}

	if configPath == "" {
		return nil
	}
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("Config file present", zap.String("path", configPath))
		return nil
	}

	if err := WriteFile(Default(), configPath); err != nil {
		return err
	}
	logger.Info("Default config written", zap.String("path", configPath))
	return nil
}

// WriteFile marshals cfg as YAML to path, creating parent directories.
func WriteFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
