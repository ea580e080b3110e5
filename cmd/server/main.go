package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"interview/internal/api"
	"interview/internal/config"
	"interview/internal/models"
	"interview/internal/presence"
	"interview/internal/routers"
	"interview/internal/utils"
)

// Seams for tests.
var (
	listenAndServe = http.ListenAndServe
	exitFunc       = defaultExit
	exit           = os.Exit
)

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func run(ctx context.Context) error {
	logger := utils.NewLogger()
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	handlers := api.NewHandlers(logger, cfg)

	// Cross-instance presence fan-out is optional: a single instance keeps
	// everything in memory.
	if cfg.RedisAddr != "" {
		pub := presence.NewPublisher(cfg.RedisAddr, logger)
		defer pub.Close()
		handlers.Hub().SetPresencePublisher(pub)
		go pub.Run(func(event models.PresenceEvent) {
			logger.Debug("remote presence event",
				zap.String("type", event.Type),
				zap.String("room", event.RoomCode),
				zap.String("participant", event.Participant.ID))
		})
	}

	r := chi.NewRouter()
	r.Get("/healthz", healthHandler)
	r.Mount("/", routers.New(logger, handlers, cfg))

	addr := ":" + cfg.Port
	logger.Info("session service listening", zap.String("addr", addr))
	return listenAndServe(addr, r)
}

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	log.Printf("server error: %v", err)
	exit(1)
}
