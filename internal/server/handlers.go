package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yomuko/yomuko/internal/extension"
	"github.com/yomuko/yomuko/internal/host"
	"github.com/yomuko/yomuko/internal/logging"
)

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	host *host.Host
	log  *logging.Logger

	fanoutTimeout time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(h *host.Host, fanoutTimeout time.Duration, log *logging.Logger) *Handlers {
	if fanoutTimeout <= 0 {
		fanoutTimeout = 30 * time.Second
	}
	return &Handlers{host: h, log: log, fanoutTimeout: fanoutTimeout}
}

// Health reports liveness and the number of loaded extensions.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"extensions": len(h.host.LoadedIdentifiers()),
	})
}

// ListExtensions returns the manifests of all loaded extensions.
func (h *Handlers) ListExtensions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"extensions": h.host.Manifests(),
	})
}

// LoadExtension loads or replaces an extension from submitted source.
func (h *Handlers) LoadExtension(c *gin.Context) {
	var req struct {
		ID     string `json:"id"`
		Source string `json:"source" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	manifest, err := h.host.Load(c.Request.Context(), req.ID, req.Source)
	if err != nil {
		h.log.Warn("extension load rejected",
			zap.String("extension", req.ID), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"manifest": manifest})
}

// UnloadExtension removes an extension. Unloading an absent identifier
// succeeds.
func (h *Handlers) UnloadExtension(c *gin.Context) {
	h.host.Unload(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SearchAll fans the query out across every loaded extension.
func (h *Handlers) SearchAll(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	page := pageParam(c)

	timeout := h.fanoutTimeout
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = parsed
	}

	results := h.host.SearchAll(c.Request.Context(), query, page, timeout)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Search queries one extension.
func (h *Handlers) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}

	page, err := h.host.Search(c.Request.Context(), c.Param("id"), query, pageParam(c))
	if err != nil {
		h.renderQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Latest returns one extension's latest listing.
func (h *Handlers) Latest(c *gin.Context) {
	page, err := h.host.GetLatest(c.Request.Context(), c.Param("id"), pageParam(c))
	if err != nil {
		h.renderQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Popular returns one extension's popular listing.
func (h *Handlers) Popular(c *gin.Context) {
	page, err := h.host.GetPopular(c.Request.Context(), c.Param("id"), pageParam(c))
	if err != nil {
		h.renderQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Detail returns metadata for one content item.
func (h *Handlers) Detail(c *gin.Context) {
	detail, err := h.host.GetDetail(c.Request.Context(), c.Param("id"), contentIDParam(c))
	if err != nil {
		h.renderQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Sources returns playable sources for one content item.
func (h *Handlers) Sources(c *gin.Context) {
	bundle, err := h.host.GetPlayableSources(c.Request.Context(), c.Param("id"), contentIDParam(c))
	if err != nil {
		h.renderQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// renderQueryError maps query failures onto HTTP statuses. Guest failures
// surface as their category, never as raw interpreter traces.
func (h *Handlers) renderQueryError(c *gin.Context, err error) {
	if errors.Is(err, host.ErrNotLoaded) {
		c.JSON(http.StatusNotFound, gin.H{"error": "extension not loaded"})
		return
	}

	var failure *extension.Failure
	if errors.As(err, &failure) {
		status := http.StatusBadGateway
		if failure.Category == extension.CategoryTimeout {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{
			"error":    string(failure.Category),
			"category": failure.Category,
		})
		return
	}

	h.log.Error("query failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func pageParam(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// Wildcard params carry a leading slash; content identifiers do not.
func contentIDParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("contentId"), "/")
}
