package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marko-dashboard/internal/dashboard"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

type InstanceHandler struct {
	Dash *dashboard.Dashboard
}

func (h *InstanceHandler) Register(r *gin.Engine) {
	group := r.Group("/api/instances")
	group.GET("", h.list)
	group.POST("", h.create)
	group.POST("/:id/select", h.selectInstance)
	group.POST("/:id/control", h.control)
	group.POST("/:id/delete", h.requestDelete)
	group.POST("/delete/:token/confirm", h.confirmDelete)
	group.POST("/delete/:token/cancel", h.cancelDelete)
	r.POST("/api/strategies/install", h.install)
}

func (h *InstanceHandler) list(c *gin.Context) {
	st := h.Dash.Registry.State()
	meta := map[string]any{
		"selectedId":  st.SelectedID,
		"loading":     st.Loading,
		"stale":       st.Stale,
		"lastUpdated": st.LastUpdated,
	}
	if st.Error != "" {
		meta["error"] = st.Error
	}
	if st.Mutation != nil {
		meta["mutation"] = st.Mutation
	}
	if st.Deleting != "" {
		meta["deleting"] = st.Deleting
	}
	Ok(c, h.Dash.Effective(), meta)
}

func (h *InstanceHandler) selectInstance(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if !h.Dash.Select(id) {
		Error(c, http.StatusNotFound, "instance not found", nil)
		return
	}
	Ok(c, gin.H{"selectedId": id}, nil)
}

type controlRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *InstanceHandler) control(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "action required", nil)
		return
	}
	action, ok := models.ParseControlAction(strings.ToLower(req.Action))
	if !ok {
		Error(c, http.StatusBadRequest, "invalid action "+req.Action, nil)
		return
	}
	res := h.Dash.Control(c.Request.Context(), c.Param("id"), action)
	Result(c, res.Success, res.Message, res.Error, nil)
}

func (h *InstanceHandler) requestDelete(c *gin.Context) {
	id := c.Param("id")
	token, err := h.Dash.Registry.RequestDelete(id)
	if err != nil {
		Error(c, http.StatusNotFound, apperrors.Message(err), nil)
		return
	}
	Ok(c, gin.H{"token": token, "instanceId": id}, nil)
}

func (h *InstanceHandler) confirmDelete(c *gin.Context) {
	res := h.Dash.ConfirmDelete(c.Request.Context(), c.Param("token"))
	Result(c, res.Success, res.Message, res.Error, nil)
}

func (h *InstanceHandler) cancelDelete(c *gin.Context) {
	h.Dash.Registry.CancelDelete(c.Param("token"))
	Ok(c, nil, nil)
}

func (h *InstanceHandler) create(c *gin.Context) {
	var req models.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	res := h.Dash.CreateInstance(c.Request.Context(), req)
	Result(c, res.Success, res.Message, res.Error, nil)
}

func (h *InstanceHandler) install(c *gin.Context) {
	var req models.InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	res := h.Dash.InstallStrategy(c.Request.Context(), req)
	Result(c, res.Success, res.Message, res.Error, nil)
}
