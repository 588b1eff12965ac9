package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marko-dashboard/internal/dashboard"
	apperrors "marko-dashboard/internal/errors"
)

type CatalogHandler struct {
	Dash *dashboard.Dashboard
}

func (h *CatalogHandler) Register(r *gin.Engine) {
	group := r.Group("/api/catalog")
	group.GET("", h.list)
	group.GET("/:id/schema", h.schema)
	group.GET("/:id/readme", h.readme)
}

func (h *CatalogHandler) list(c *gin.Context) {
	ctx := c.Request.Context()
	force := c.Query("refresh") == "true"
	if force {
		h.Dash.Catalog.Invalidate()
	}

	var meta map[string]any
	entries, err := h.Dash.Catalog.Search(ctx, c.Query("q"))
	if err != nil {
		if len(entries) == 0 {
			Error(c, http.StatusBadGateway, apperrors.Message(err), nil)
			return
		}
		meta = map[string]any{"stale": true, "error": apperrors.Message(err)}
	}
	Ok(c, entries, meta)
}

func (h *CatalogHandler) schema(c *gin.Context) {
	schema := h.Dash.Catalog.Schema(c.Request.Context(), c.Param("id"))
	if schema == nil {
		Error(c, http.StatusNotFound, "schema unavailable", nil)
		return
	}
	Ok(c, schema, nil)
}

func (h *CatalogHandler) readme(c *gin.Context) {
	text, ok := h.Dash.Catalog.Readme(c.Request.Context(), c.Param("id"))
	if !ok {
		Error(c, http.StatusNotFound, "readme unavailable", nil)
		return
	}
	Ok(c, gin.H{"readme": text}, nil)
}
