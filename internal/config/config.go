package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	// Shore backend
	ShoreBaseURL string
	CrewToken    string

	// Local persistence
	DBDriver string
	DBDSN    string

	// Optional handoff queue for the sync daemon
	RedisURL string

	// Device UI
	UIOrigins []string
	WSSecret  string
}

func FromEnv() Config {
	// .env is a convenience for dev builds; deployed agents use real
	// environment variables.
	_ = godotenv.Load()

	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:         mode,
		HTTPAddr:     envOr("HTTP_ADDR", ":8090"),
		ShoreBaseURL: envOr("SHORE_BASE_URL", "https://onboarding.marinersgate.com"),
		CrewToken:    os.Getenv("CREW_TOKEN"),
		DBDriver:     envOr("DB_DRIVER", "sqlite"),
		DBDSN:        envOr("DB_DSN", ""),
		RedisURL:     os.Getenv("REDIS_URL"),
		UIOrigins:    csvOr("UI_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		WSSecret:     envOr("WS_SECRET", ""),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
