package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// Liveness: the staleness threshold is the only timeout mechanism
	// in the room; everything else hangs off it.
	SessionStaleAfter time.Duration `mapstructure:"session_stale_after"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	StatsInterval     time.Duration `mapstructure:"stats_interval"`

	ICEServers     []string      `mapstructure:"ice_servers"`
	LevelInterval  time.Duration `mapstructure:"level_interval"`
	LevelThreshold int           `mapstructure:"level_threshold"`

	RedisAddr string `mapstructure:"redis_addr"`

	JoinRateLimit  int           `mapstructure:"join_rate_limit"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window"`
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
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("session_stale_after", "15s")
	v.SetDefault("reap_interval", "2s")
	v.SetDefault("stats_interval", "3s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("level_interval", "300ms")
	v.SetDefault("level_threshold", 65)
	v.SetDefault("redis_addr", "")
	v.SetDefault("join_rate_limit", 10)
	v.SetDefault("join_rate_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Stale after: %s\n", cfg.Mode, cfg.Port, cfg.SessionStaleAfter)
	return &cfg, nil
}
