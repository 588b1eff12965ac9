package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marko-dashboard/internal/dashboard"
)

type TelemetryHandler struct {
	Dash *dashboard.Dashboard
}

func (h *TelemetryHandler) Register(r *gin.Engine) {
	r.GET("/api/telemetry", h.telemetry)
	r.POST("/api/telemetry/refresh", h.refresh)
	r.GET("/api/chart", h.chart)
	r.POST("/api/chart/settings", h.settings)
}

func (h *TelemetryHandler) telemetry(c *gin.Context) {
	st := h.Dash.Stream.State()
	meta := map[string]any{
		"instanceId":  st.InstanceID,
		"loading":     st.Loading,
		"stale":       st.Stale,
		"lastUpdated": st.LastUpdated,
		"generation":  st.Generation,
	}
	if st.Error != "" {
		meta["error"] = st.Error
	}
	Ok(c, st.Telemetry, meta)
}

// refresh issues an immediate telemetry and chart fetch, subject to the
// per-endpoint rate floor.
func (h *TelemetryHandler) refresh(c *gin.Context) {
	ctx := c.Request.Context()
	telemetry := h.Dash.Stream.RefreshTelemetry(ctx)
	chart := h.Dash.Stream.RefreshChart(ctx)
	Ok(c, gin.H{"telemetry": telemetry, "chart": chart}, nil)
}

func (h *TelemetryHandler) chart(c *gin.Context) {
	st := h.Dash.Stream.State()
	meta := map[string]any{
		"instanceId":  st.InstanceID,
		"settings":    st.Settings,
		"loading":     st.ChartLoading,
		"lastUpdated": st.ChartUpdated,
	}
	if st.ChartError != "" {
		meta["error"] = st.ChartError
	}
	Ok(c, st.Chart, meta)
}

type chartSettingsRequest struct {
	Symbol    *string `json:"symbol"`
	BarsLimit *int    `json:"barsLimit"`
}

func (h *TelemetryHandler) settings(c *gin.Context) {
	var req chartSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.BarsLimit != nil {
		if *req.BarsLimit < 10 || *req.BarsLimit > 5000 {
			Error(c, http.StatusBadRequest, "barsLimit must be between 10 and 5000", nil)
			return
		}
		h.Dash.Stream.SetBarsLimit(*req.BarsLimit)
	}
	if req.Symbol != nil {
		h.Dash.Stream.SetChartSymbol(*req.Symbol)
	}
	Ok(c, h.Dash.Stream.State().Settings, nil)
}
