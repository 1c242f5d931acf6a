package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Fleet/internal/adapters/signal"
	"github.com/dkeye/Fleet/internal/app"
	"github.com/dkeye/Fleet/internal/config"
)

// Request headers for the administrative surface.
const (
	HeaderSecret = "X-Admin-Secret"
	HeaderTenant = "X-Client-ID"
)

func genConnToken() string {
	return uuid.NewString()
}

// ConnTokenMiddleware pins a connection identity cookie; the signaling
// channel keys its reconnection state on it.
func ConnTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genConnToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// CORSMiddleware stamps permissive cross-origin headers on every
// response and short-circuits preflight with 204.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+HeaderSecret+", "+HeaderTenant)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SecretAuth requires an exact match of the shared admin secret.
func SecretAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader(HeaderSecret) != secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, fleet *app.FleetState, adm *app.AdmissionController, sig *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("FleetSessions", store))
	r.Use(ConnTokenMiddleware())
	r.Use(CORSMiddleware())

	h := &handlers{cfg: cfg, fleet: fleet, adm: adm}

	r.GET("/health", h.health)
	r.POST("/join", h.joinBridge)
	r.GET("/ws", func(c *gin.Context) {
		sig.HandleSignal(ctx, c)
	})

	admin := r.Group("/", SecretAuth(cfg.Secret))
	admin.GET("/rooms", h.rooms)
	admin.GET("/status", h.status)
	admin.POST("/drain", h.drain)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")
	return r
}
