package gateway

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/querydesk/chat/internal/config"
)

func Router(cfg config.Config, store *Store, hub *Hub, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &Handler{
		Store:     store,
		Hub:       hub,
		Validator: validator.New(),
		Logger:    logger,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/ws", h.Channel)

	api := r.Group("/api")
	{
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations/:id", h.GetConversation)
		api.POST("/conversations/:id/messages", h.PostMessage)
		api.POST("/conversations/:id/resolve", h.Resolve)
		api.POST("/conversations/:id/accept", h.Accept)
		api.POST("/conversations/:id/transfer", h.RequestTransfer)
		api.POST("/conversations/:id/transfer/decide", h.DecideTransfer)
		api.POST("/conversations/:id/feedback", h.SubmitFeedback)
	}

	return r
}
