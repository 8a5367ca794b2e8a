package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	RedisHost string `mapstructure:"REDIS_HOST"`
	RedisPort string `mapstructure:"REDIS_PORT"`
	RedisDB   int    `mapstructure:"REDIS_DB"`

	BackendPort string `mapstructure:"BACKEND_PORT"`

	TileSize         int  `mapstructure:"TILE_SIZE"`
	ExportWindowSize int  `mapstructure:"EXPORT_WINDOW_SIZE"`
	MemoSize         int  `mapstructure:"MEMO_SIZE"`
	MinZoomGate      bool `mapstructure:"MIN_ZOOM_GATE"`
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// Explicitly bind environment variables
	viper.BindEnv("REDIS_HOST")
	viper.BindEnv("REDIS_PORT")
	viper.BindEnv("REDIS_DB")
	viper.BindEnv("BACKEND_PORT")
	viper.BindEnv("TILE_SIZE")
	viper.BindEnv("EXPORT_WINDOW_SIZE")
	viper.BindEnv("MEMO_SIZE")
	viper.BindEnv("MIN_ZOOM_GATE")

	// Defaults
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("BACKEND_PORT", "8000")
	viper.SetDefault("TILE_SIZE", 256)
	viper.SetDefault("EXPORT_WINDOW_SIZE", 4096)
	viper.SetDefault("MEMO_SIZE", 64)
	viper.SetDefault("MIN_ZOOM_GATE", true)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: no .env file found, using environment variables")
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		log.Fatalf("Failed to unmarshal config: %v", err)
	}

	return cfg
}
