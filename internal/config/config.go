package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	AllowedOrigins []string

	// RedisAddr enables cross-instance presence pub/sub when set.
	RedisAddr string

	RoomCapacity     int
	ReconnectGrace   time.Duration
	HistoryRetention time.Duration

	// ExecURL is the external code-execution service proxied by /execute.
	ExecURL string

	StunServers  []string
	TurnURL      string
	TurnUsername string
	TurnPassword string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		RedisAddr:      os.Getenv("REDIS_ADDR"),

		RoomCapacity:     getEnvInt("ROOM_CAPACITY", 8),
		ReconnectGrace:   getEnvSeconds("RECONNECT_GRACE_SECONDS", 30),
		HistoryRetention: getEnvSeconds("HISTORY_RETENTION_SECONDS", 60),

		ExecURL: getEnv("EXEC_URL", "https://emkc.org/api/v2/piston"),

		StunServers: splitList(getEnv("STUN_SERVERS",
			"stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")),
		TurnURL:      os.Getenv("TURN_URL"),
		TurnUsername: os.Getenv("TURN_USERNAME"),
		TurnPassword: os.Getenv("TURN_PASSWORD"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int64) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defaultValue) * time.Second
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
