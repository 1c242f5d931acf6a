package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	InstanceID string `mapstructure:"instance_id"`

	// Secret gates the administrative surface; SignalToken gates the
	// websocket handshake.
	Secret      string `mapstructure:"secret"`
	SignalToken string `mapstructure:"signal_token"`

	NumWorkers int    `mapstructure:"num_workers"`
	RTCMinPort uint16 `mapstructure:"rtc_min_port"`
	RTCMaxPort uint16 `mapstructure:"rtc_max_port"`

	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	BacklogSize    int           `mapstructure:"backlog_size"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("instance_id", "")
	v.SetDefault("secret", "")
	v.SetDefault("signal_token", "")
	v.SetDefault("num_workers", 4)
	v.SetDefault("rtc_min_port", 10000)
	v.SetDefault("rtc_max_port", 59999)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("pong_timeout", "60s")
	v.SetDefault("reconnect_grace", "2m")
	v.SetDefault("backlog_size", 256)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PingPeriod >= cfg.PongTimeout {
		return nil, fmt.Errorf("ping_period (%s) must be below pong_timeout (%s)", cfg.PingPeriod, cfg.PongTimeout)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Workers: %d\n", cfg.Mode, cfg.Port, cfg.NumWorkers)
	return &cfg, nil
}
