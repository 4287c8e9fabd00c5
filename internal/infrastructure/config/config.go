package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Wuzapi   WuzapiConfig   `mapstructure:"wuzapi" yaml:"wuzapi"`
	Media    MediaConfig    `mapstructure:"media" yaml:"media"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	Mode string `mapstructure:"mode" yaml:"mode"` // local, production
}

// Addr 返回监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type     string `mapstructure:"type" yaml:"type"` // sqlite, postgres, memory
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// StorageConfig is the public-serving media directory and the base URL it is
// reachable under.
type StorageConfig struct {
	PublicDir     string `mapstructure:"public_dir" yaml:"public_dir"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

// WuzapiConfig 网关配置
type WuzapiConfig struct {
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	AdminToken         string        `mapstructure:"admin_token" yaml:"admin_token"`
	WebhookBaseURL     string        `mapstructure:"webhook_base_url" yaml:"webhook_base_url"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval" yaml:"status_poll_interval"` // 0 关闭定时状态同步
}

// MediaConfig 转码配置
type MediaConfig struct {
	FFmpegPath       string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath      string        `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
	TranscodeTimeout time.Duration `mapstructure:"transcode_timeout" yaml:"transcode_timeout"`
	MaxConcurrent    int64         `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	VoiceBitrate     string        `mapstructure:"voice_bitrate" yaml:"voice_bitrate"`
	VoiceSampleRate  int           `mapstructure:"voice_sample_rate" yaml:"voice_sample_rate"`
	VoiceChannels    int           `mapstructure:"voice_channels" yaml:"voice_channels"`
}

// RealtimeConfig 实时推送配置
type RealtimeConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// EnvPrefix 环境变量前缀
const EnvPrefix = "WABRIDGE"

// Load reads configuration. Precedence (low to high): defaults, the first
// config file found, WABRIDGE_* environment variables. An explicit path must
// exist.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadWithViper is Load but also returns the viper instance for Watch.
func LoadWithViper(path string) (*Config, *viper.Viper, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return v, nil
	}

	// 依次检查 ./config/config.yaml, ./config.yaml, ~/.wabridge/config.yaml
	for _, dir := range []string{"./config", ".", HomeDir()} {
		candidate := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		v.SetConfigFile(candidate)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", candidate, err)
		}
		break
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.PublicDir == "" {
		return fmt.Errorf("storage.public_dir is required")
	}
	return nil
}

// Watch calls onChange with the re-decoded config whenever the backing file
// changes. Decode failures are reported through onError and the previous
// config stays in effect.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Server 默认值
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "local")

	// Database 默认值
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "wabridge.db")
	v.SetDefault("database.log_level", "warn")

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	// Storage 默认值
	v.SetDefault("storage.public_dir", "./public")
	v.SetDefault("storage.public_base_url", "http://localhost:8080")

	// Wuzapi 默认值
	v.SetDefault("wuzapi.base_url", "http://localhost:8081")
	v.SetDefault("wuzapi.admin_token", "")
	v.SetDefault("wuzapi.webhook_base_url", "http://localhost:8080")
	v.SetDefault("wuzapi.timeout", "30s")
	v.SetDefault("wuzapi.status_poll_interval", "1m")

	// Media 默认值
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.transcode_timeout", "45s")
	v.SetDefault("media.max_concurrent", 2)
	v.SetDefault("media.voice_bitrate", "64k")
	v.SetDefault("media.voice_sample_rate", 48000)
	v.SetDefault("media.voice_channels", 1)

	// Realtime 默认值
	v.SetDefault("realtime.buffer_size", 256)
}
