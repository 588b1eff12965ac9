package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marko-dashboard/internal/dashboard"
)

type HealthHandler struct {
	Dash *dashboard.Dashboard
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports whether the instance list has loaded and is current.
func (h *HealthHandler) ready(c *gin.Context) {
	st := h.Dash.Registry.State()
	switch {
	case st.Loading:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
	case st.Stale:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stale", "error": st.Error})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ready", "backend": h.Dash.Client.BaseURL()})
	}
}
