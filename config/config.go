package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fidgetfighter/physics"
)

// ErrInvalid 配置校验失败
var ErrInvalid = errors.New("invalid config")

// Config 进程配置：YAML 文件 → .env → 环境变量，后者覆盖前者
type Config struct {
	Mode      string       `yaml:"mode"` // client | relay
	AdminAddr string       `yaml:"admin_addr"`
	Client    ClientConfig `yaml:"client"`
	Relay     RelayConfig  `yaml:"relay"`
	Log       LogConfig    `yaml:"log"`
}

// ClientConfig 客户端会话配置
type ClientConfig struct {
	URL          string        `yaml:"url"` // ws://host:port，不带路径与查询参数
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SignPolicy   string        `yaml:"sign_policy"`
	Seat         int           `yaml:"seat"` // 无法从结果推断时的默认座位（1 或 2）
	Bot          BotConfig     `yaml:"bot"`
}

// BotConfig 无界面客户端的自动操作
type BotConfig struct {
	FlingVelocity float64       `yaml:"fling_velocity"` // 像素/秒
	FlingDuration time.Duration `yaml:"fling_duration"`
	Rematch       bool          `yaml:"rematch"`
}

// RelayConfig 本地中继服务配置
type RelayConfig struct {
	Addr           string        `yaml:"addr"`
	MatchDuration  time.Duration `yaml:"match_duration"`
	TicksPerSecond int           `yaml:"ticks_per_second"`
}

// LogConfig 日志输出；File 为空时输出到 stderr
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default 默认配置
func Default() Config {
	return Config{
		Mode: "client",
		Client: ClientConfig{
			URL:          "ws://127.0.0.1:3000",
			WriteTimeout: 5 * time.Second,
			SignPolicy:   "signed",
			Seat:         1,
			Bot: BotConfig{
				FlingVelocity: 1800,
				FlingDuration: 120 * time.Millisecond,
			},
		},
		Relay: RelayConfig{
			Addr:           ":3000",
			MatchDuration:  10 * time.Second,
			TicksPerSecond: 20,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load 读取配置。path 为空时跳过文件；.env 不存在时忽略
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv 用 FIDGET_* 环境变量覆盖
func (c *Config) ApplyEnv() {
	c.Mode = getEnv("FIDGET_MODE", c.Mode)
	c.AdminAddr = getEnv("FIDGET_ADMIN_ADDR", c.AdminAddr)
	c.Client.URL = getEnv("FIDGET_URL", c.Client.URL)
	c.Client.SignPolicy = getEnv("FIDGET_SIGN_POLICY", c.Client.SignPolicy)
	c.Relay.Addr = getEnv("FIDGET_RELAY_ADDR", c.Relay.Addr)
	c.Log.File = getEnv("FIDGET_LOG_FILE", c.Log.File)
	c.Log.Level = getEnv("FIDGET_LOG_LEVEL", c.Log.Level)
}

// Validate 校验配置
func (c Config) Validate() error {
	switch c.Mode {
	case "client", "relay":
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalid, c.Mode)
	}
	if c.Mode == "client" {
		if err := ValidateEndpoint(c.Client.URL); err != nil {
			return err
		}
	}
	if _, err := physics.ParseSignPolicy(c.Client.SignPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Client.Seat != 1 && c.Client.Seat != 2 {
		return fmt.Errorf("%w: seat must be 1 or 2, got %d", ErrInvalid, c.Client.Seat)
	}
	if c.Client.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative write timeout", ErrInvalid)
	}
	if c.Relay.MatchDuration <= 0 {
		return fmt.Errorf("%w: match duration must be positive", ErrInvalid)
	}
	if c.Relay.TicksPerSecond <= 0 {
		return fmt.Errorf("%w: ticks per second must be positive", ErrInvalid)
	}
	return nil
}

// ValidateEndpoint 端点必须是 ws/wss 且只有 host:port
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: url %q: %v", ErrInvalid, raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: url %q: scheme must be ws or wss", ErrInvalid, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url %q: missing host", ErrInvalid, raw)
	}
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" {
		return fmt.Errorf("%w: url %q: path and query are not allowed", ErrInvalid, raw)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
