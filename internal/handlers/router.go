package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/videoroom-relay/config"
	"github.com/mossy-p/videoroom-relay/internal/livestream"
	"github.com/mossy-p/videoroom-relay/internal/middleware"
	"github.com/mossy-p/videoroom-relay/internal/relay"
)

// Deps are the services the router exposes.
type Deps struct {
	Relay    *relay.Relay
	Mounts   *livestream.Mounts
	Presence PresenceReader
	Store    MountReader
}

// NewRouter wires every HTTP and WebSocket route.
func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/login", Login(cfg.JWTSecret))

		api.GET("/room", GetRoom(cfg.Room.ID, d.Presence))

		auth := middleware.JWTAuth(cfg.JWTSecret)
		api.POST("/streams", auth, CreateStream(d.Mounts))
		api.GET("/streams/:streamId", GetStream(d.Store))
		api.DELETE("/streams/:streamId", auth, DeleteStream(d.Mounts, d.Store))
	}

	room := RoomSocket(d.Relay)
	router.GET("/ws", room)
	router.GET("/ws/room", room)
	router.GET("/ws/live", LiveSocket(d.Mounts))

	if cfg.StaticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.StaticDir))))
	}

	return router
}
