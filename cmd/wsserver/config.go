package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config is the pairing server configuration, read from the environment
// and an optional .env file.
type Config struct {
	ListenAddr        string        `env:"LISTEN_ADDR,default=:8080"`
	WorkerPoolSize    int           `env:"WORKER_POOL_SIZE,default=256"`
	MaxConnections    int           `env:"MAX_CONNECTIONS,default=100000"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT,default=10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT,default=10s"`
	TrustForwardedFor bool          `env:"TRUST_FORWARDED_FOR,default=false"`

	NATSURL    string `env:"NATS_URL,default=nats://localhost:4222"`
	RedisAddr  string `env:"REDIS_ADDR,default=localhost:6379"`
	ServerName string `env:"SERVER_NAME"`

	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=30s"`
	RePairGrace     time.Duration `env:"REPAIR_GRACE,default=1s"`
	ChatTypes       string        `env:"CHAT_TYPES"` // comma separated, default "video,text"
	DefaultChatType string        `env:"DEFAULT_CHAT_TYPE,default=video"`
	AuditTimeout    time.Duration `env:"AUDIT_TIMEOUT,default=5s"`

	ICEServers string `env:"ICE_SERVERS"`
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	if cfg.ChatTypes == "" {
		cfg.ChatTypes = "video,text"
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _ = os.Hostname()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "ws-1"
	}
	if cfg.WorkerPoolSize <= 0 || cfg.MaxConnections <= 0 {
		return cfg, fmt.Errorf("config: WORKER_POOL_SIZE and MAX_CONNECTIONS must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return cfg, fmt.Errorf("config: SWEEP_INTERVAL must be positive")
	}
	return cfg, nil
}

// chatTypeList returns the configured chat types, always including the
// default one.
func (c Config) chatTypeList() []string {
	types := lo.Uniq(lo.Compact(lo.Map(strings.Split(c.ChatTypes, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
	if !lo.Contains(types, c.DefaultChatType) {
		types = append(types, c.DefaultChatType)
	}
	return types
}
