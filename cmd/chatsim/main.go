package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/querydesk/chat/internal/config"
	"github.com/querydesk/chat/internal/gateway"
	"github.com/querydesk/chat/internal/models"
	"github.com/querydesk/chat/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "chatsim").Logger()

	store := gateway.NewStore()
	hub := gateway.NewHub(logger)
	seedDemo(store)

	router := gateway.Router(cfg, store, hub, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go expiryLoop(ctx, cfg, store, hub, logger)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("gateway simulator started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("gateway simulator stopped")
}

// expiryLoop flips stale pending conversations to expired and announces it on
// their channels.
func expiryLoop(ctx context.Context, cfg config.Config, store *gateway.Store, hub *gateway.Hub, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.ExpirySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conv := range store.ExpireStale(cfg.PendingTTL) {
				logger.Info().Str("conversation_id", conv.ID).Msg("conversation expired")
				// Clients learn the terminal status itself on refetch; the
				// channel carries only the workflow notice.
				if len(conv.Messages) > 0 {
					notice := conv.Messages[len(conv.Messages)-1]
					if payload, err := json.Marshal(notice); err == nil {
						hub.Broadcast(conv.ID, realtime.Envelope{Event: realtime.EventNewMessage, Data: payload})
					}
				}
			}
		}
	}
}

func seedDemo(store *gateway.Store) {
	store.Seed(models.Conversation{
		ID:                    "demo",
		Status:                models.StatusInProgress,
		CustomerID:            "cust-1",
		AssignedParticipantID: "agent-1",
		Subject:               "Card payment failing",
		Messages: []models.Message{
			{
				ID:         "demo-1",
				Body:       "Hi, my card payment keeps failing",
				SenderID:   "cust-1",
				SenderRole: models.RoleCustomer,
				SenderName: "Dana",
				Timestamp:  time.Now().UTC().Add(-5 * time.Minute),
			},
		},
		CreatedAt: time.Now().UTC().Add(-10 * time.Minute),
	})
}
