package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/infrastructure/usage"
)

// AdminHandler serves the operational surface: health, usage stats, the
// model listing, and the dashboard page.
type AdminHandler struct {
	cfg    *config.Config
	usage  *usage.Aggregator
	logger *zap.Logger
}

func NewAdminHandler(cfg *config.Config, agg *usage.Aggregator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{cfg: cfg, usage: agg, logger: logger}
}

// HandleHealth echoes the effective routing topology.
func (h *AdminHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"classifier": gin.H{
			"enabled": h.cfg.Classifier.Enabled,
			"baseUrl": h.cfg.Classifier.BaseURL,
			"model":   h.cfg.Classifier.Model,
		},
		"upstreams": gin.H{
			"cheap":    upstreamInfo(h.cfg.Upstreams.Cheap),
			"medium":   upstreamInfo(h.cfg.Upstreams.Medium),
			"frontier": upstreamInfo(h.cfg.Upstreams.Frontier),
		},
	})
}

func upstreamInfo(up *config.Upstream) any {
	if up == nil {
		return nil
	}
	return gin.H{
		"name":    up.Name,
		"baseUrl": up.BaseURL,
		"model":   up.Model,
	}
}

// HandleUsage returns the current usage snapshot.
func (h *AdminHandler) HandleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, h.usage.Snapshot())
}

// HandleUsageReset zeroes all usage buckets.
func (h *AdminHandler) HandleUsageReset(c *gin.Context) {
	h.usage.Reset()
	h.logger.Info("usage buckets reset")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandleModels lists the configured tier models in the OpenAI shape, so
// clients that probe /v1/models see something sensible.
func (h *AdminHandler) HandleModels(c *gin.Context) {
	data := make([]gin.H, 0, 3)
	for _, up := range []*config.Upstream{
		h.cfg.Upstreams.Cheap,
		h.cfg.Upstreams.Medium,
		h.cfg.Upstreams.Frontier,
	} {
		if up == nil {
			continue
		}
		id := up.Model
		if id == "" {
			id = up.Name
		}
		data = append(data, gin.H{
			"id":       id,
			"object":   "model",
			"owned_by": up.Name,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// HandleDashboard serves the static usage dashboard.
func (h *AdminHandler) HandleDashboard(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}
