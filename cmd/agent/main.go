package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	api "github.com/marinersgate/crewtrain/internal/api/http"
	"github.com/marinersgate/crewtrain/internal/config"
	"github.com/marinersgate/crewtrain/internal/db"
	"github.com/marinersgate/crewtrain/internal/notify"
	"github.com/marinersgate/crewtrain/internal/offline"
	"github.com/marinersgate/crewtrain/internal/sched"
	"github.com/marinersgate/crewtrain/internal/shore"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := offline.NewSQLStore(dbh)

	// --- Sync handoff (optional redis) ---
	var notifier offline.Notifier = offline.NopNotifier{}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url: %v", err)
		}
		notifier = offline.NewRedisNotifier(redis.NewClient(opt), "")
	}
	monitor := offline.NewMonitor(store, notifier, cfg.Mode == config.ModeOnline)

	// --- Shore client ---
	if cfg.CrewToken == "" {
		log.Printf("warning: CREW_TOKEN not set, shore requests will be rejected")
	} else if crewID, err := shore.CrewID(cfg.CrewToken); err != nil {
		log.Printf("warning: crew token unreadable: %v", err)
	} else {
		log.Printf("onboarding agent for crew member %s", crewID)
	}
	client := shore.NewClient(shore.Config{BaseURL: cfg.ShoreBaseURL, Token: cfg.CrewToken})

	// --- Engine + event feed ---
	hub := notify.NewHub(cfg.WSSecret)
	monitor.Subscribe(func(online bool, pending int) {
		hub.Publish("link", map[string]interface{}{"online": online, "pending": pending})
	})
	engine := api.NewEngine(client, client, store, monitor, sched.New(), hub.Publish)
	defer engine.Close()

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.UIOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", engine.Mount)
	r.Get("/ws", hub.HandleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (mode=%s, db=%s, shore=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver, cfg.ShoreBaseURL)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
