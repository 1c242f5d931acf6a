package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Fleet/internal/app"
	"github.com/dkeye/Fleet/internal/config"
	"github.com/dkeye/Fleet/internal/core"
	"github.com/dkeye/Fleet/internal/domain"
)

type handlers struct {
	cfg   *config.Config
	fleet *app.FleetState
	adm   *app.AdmissionController
}

// statusOf maps the control-plane error taxonomy onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDraining), errors.Is(err, core.ErrWorkerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// health is the unauthenticated probe for load balancers: 503 exactly
// when zero workers are healthy.
func (h *handlers) health(c *gin.Context) {
	stats := h.fleet.Pool.Stats()
	status, code := "ok", http.StatusOK
	if stats.Healthy == 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    h.fleet.Uptime().Seconds(),
		"port":      h.cfg.Port,
		"workers":   stats,
	})
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"instanceId": h.fleet.InstanceID,
		"version":    h.fleet.Version,
		"draining":   h.fleet.Draining(),
		"rooms":      h.fleet.Rooms.Count(),
		"uptime":     h.fleet.Uptime().Seconds(),
	})
}

// rooms lists id and occupancy for the caller's tenant only; no
// session-level detail leaves through the administrative channel.
func (h *handlers) rooms(c *gin.Context) {
	tenant := domain.TenantID(c.GetHeader(HeaderTenant))
	c.JSON(http.StatusOK, gin.H{"rooms": h.fleet.Rooms.ListForTenant(tenant)})
}

func (h *handlers) drain(c *gin.Context) {
	var body struct {
		Draining *bool `json:"draining"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Draining == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid draining field"})
		return
	}
	h.fleet.SetDraining(*body.Draining)
	c.JSON(http.StatusOK, gin.H{"draining": h.fleet.Draining()})
}

// joinBridge is the thin HTTP entry into the admission flow; it relays
// the controller's result or error status verbatim.
func (h *handlers) joinBridge(c *gin.Context) {
	var body struct {
		RoomID      string          `json:"roomId"`
		SessionID   string          `json:"sessionId"`
		User        *domain.UserRef `json:"user,omitempty"`
		DisplayName string          `json:"displayName"`
		IsAdmin     bool            `json:"isAdmin"`
		IsGhost     bool            `json:"isGhost"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	tenant := domain.TenantID(c.GetHeader(HeaderTenant))
	if tenant == "" {
		tenant = "default"
	}

	res, err := h.adm.Join(c.Request.Context(), tenant, app.JoinRequest{
		RoomID:      body.RoomID,
		SessionID:   body.SessionID,
		User:        body.User,
		DisplayName: body.DisplayName,
		IsHost:      body.IsAdmin,
		IsGhost:     body.IsGhost,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("room", body.RoomID).Msg("join bridge rejected")
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
