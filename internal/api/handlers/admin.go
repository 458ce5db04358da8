// Package handlers implements the relay's admin HTTP API.
package handlers

import (
	"net/http"
	"strings"

	"github.com/bhandras/relay/internal/api/middleware"
	"github.com/bhandras/relay/internal/policy"
	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/bhandras/relay/protocol/wire"
	"github.com/gin-gonic/gin"
)

// StatsSource reports live session counts.
type StatsSource interface {
	Stats() session.Stats
}

// AdminHandler serves /v1/admin.
type AdminHandler struct {
	allowlist policy.Allowlist
	stats     StatsSource
}

// NewAdminHandler creates the admin handler. allowlist may be nil when the
// configured policy cannot be edited.
func NewAdminHandler(allowlist policy.Allowlist, stats StatsSource) *AdminHandler {
	return &AdminHandler{allowlist: allowlist, stats: stats}
}

type allowlistRequest struct {
	PubKey string `json:"pubkey" binding:"required"`
}

func (h *AdminHandler) requireAllowlist(c *gin.Context) bool {
	if h.allowlist == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "policy does not support an allowlist"})
		return false
	}
	return true
}

// ListAllowlist handles GET /v1/admin/allowlist
func (h *AdminHandler) ListAllowlist(c *gin.Context) {
	if !h.requireAllowlist(c) {
		return
	}
	keys, err := h.allowlist.List(c.Request.Context())
	if err != nil {
		logger.Errorf("[admin] list allowlist: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list allowlist"})
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"pubkeys": keys})
}

// AddAllowlist handles POST /v1/admin/allowlist
func (h *AdminHandler) AddAllowlist(c *gin.Context) {
	if !h.requireAllowlist(c) {
		return
	}
	var req allowlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	pubkey, ok := normalizePubKey(req.PubKey)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pubkey must be 64 hex characters"})
		return
	}
	if err := h.allowlist.Add(c.Request.Context(), pubkey); err != nil {
		logger.Errorf("[admin] add %s: %v", pubkey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update allowlist"})
		return
	}
	h.audit(c, "added", pubkey)
	c.JSON(http.StatusCreated, gin.H{"pubkey": pubkey})
}

// RemoveAllowlist handles DELETE /v1/admin/allowlist/:pubkey
func (h *AdminHandler) RemoveAllowlist(c *gin.Context) {
	if !h.requireAllowlist(c) {
		return
	}
	pubkey, ok := normalizePubKey(c.Param("pubkey"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pubkey must be 64 hex characters"})
		return
	}
	removed, err := h.allowlist.Remove(c.Request.Context(), pubkey)
	if err != nil {
		logger.Errorf("[admin] remove %s: %v", pubkey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update allowlist"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "pubkey not in allowlist"})
		return
	}
	h.audit(c, "removed", pubkey)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetStats handles GET /v1/admin/stats
func (h *AdminHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats())
}

func (h *AdminHandler) audit(c *gin.Context, action, pubkey string) {
	subject, _ := middleware.GetSubject(c)
	logger.Infof("[admin] %s %s %s", subject, action, pubkey)
}

func normalizePubKey(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, wire.IsLowerHex(s, 64)
}
