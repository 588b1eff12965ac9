package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"marko-dashboard/internal/dashboard"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
	"marko-dashboard/internal/store"
)

type LogHandler struct {
	Dash *dashboard.Dashboard
}

func (h *LogHandler) Register(r *gin.Engine) {
	r.GET("/api/logs", h.query)
}

func (h *LogHandler) query(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	filter := models.LogFilter{
		Limit:      limit,
		Offset:     offset,
		Level:      models.ParseLogLevel(c.Query("level")),
		InstanceID: c.Query("instance"),
	}

	page, err := h.Dash.Logs.Query(c.Request.Context(), filter)
	if err != nil {
		Error(c, http.StatusBadGateway, apperrors.Message(err), map[string]any{"limit": page.Limit, "offset": page.Offset})
		return
	}
	Ok(c, page.Logs, map[string]any{
		"total":   page.Total,
		"limit":   page.Limit,
		"offset":  page.Offset,
		"hasNext": page.HasNext(),
	})
}

type HistoryHandler struct {
	Dash *dashboard.Dashboard
}

func (h *HistoryHandler) Register(r *gin.Engine) {
	group := r.Group("/api/history")
	group.GET("/snapshots", h.snapshots)
	group.GET("/controls", h.controls)
}

func (h *HistoryHandler) snapshots(c *gin.Context) {
	if h.Dash.History == nil {
		Error(c, http.StatusNotFound, "recording disabled", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter := store.SnapshotFilter{InstanceID: c.Query("instance"), Limit: limit}
	if since, err := time.ParseDuration(c.Query("since")); err == nil {
		filter.From = time.Now().Add(-since)
	}
	snaps, err := h.Dash.History.ListSnapshots(c.Request.Context(), filter)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, snaps, nil)
}

func (h *HistoryHandler) controls(c *gin.Context) {
	if h.Dash.History == nil {
		Error(c, http.StatusNotFound, "recording disabled", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.Dash.History.ListControls(c.Request.Context(), store.ControlFilter{InstanceID: c.Query("instance"), Limit: limit})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, entries, nil)
}
