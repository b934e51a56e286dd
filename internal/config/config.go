package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string        `mapstructure:"ENV"`
	Port        string        `mapstructure:"PORT"`
	CORSAllowed string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string        `mapstructure:"LOG_LEVEL"`
	GatewayURL  string        `mapstructure:"GATEWAY_URL"`
	PendingTTL  time.Duration `mapstructure:"PENDING_TTL"`
	ExpirySweep time.Duration `mapstructure:"EXPIRY_SWEEP_INTERVAL"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GATEWAY_URL", "http://localhost:8080")
	v.SetDefault("PENDING_TTL", "30m")
	v.SetDefault("EXPIRY_SWEEP_INTERVAL", "1m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
