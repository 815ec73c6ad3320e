package main

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config is the auditor configuration.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,required=true"`
	NATSURL         string        `env:"NATS_URL,default=nats://localhost:4222"`
	MetricsAddr     string        `env:"METRICS_ADDR,default=:9102"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT,default=30s"`
	WriteTimeout    time.Duration `env:"AUDIT_TIMEOUT,default=5s"`
	RepeatThreshold int           `env:"REPORT_REPEAT_THRESHOLD,default=3"`
	RepeatWindow    time.Duration `env:"REPORT_REPEAT_WINDOW,default=24h"`
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
