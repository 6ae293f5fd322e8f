package handler

import (
	"net/http"
	"reportbot/backend/internal/config"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	maxReportsPage   = 100
	defaultActivity  = 50
	maxActivityLimit = 500
)

// Stats повертає загальні лічильники
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	users, err := h.Store.CountUsers(ctx)
	if err != nil {
		h.internalError(c, "count users", err)
		return
	}
	reports, err := h.Store.CountReports(ctx)
	if err != nil {
		h.internalError(c, "count reports", err)
		return
	}
	admins, err := h.Store.CountAdmins(ctx)
	if err != nil {
		h.internalError(c, "count admins", err)
		return
	}

	resp := gin.H{"users": users, "reports": reports, "admins": admins}
	if h.Hub != nil {
		resp["feed_clients"] = h.Hub.ClientCount(ctx)
	}
	c.JSON(http.StatusOK, resp)
}

// UserReports lists the newest reports of one user.
func (h *Handler) UserReports(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	limit, ok := queryLimit(c, config.RecentReportsLimit, maxReportsPage)
	if !ok {
		return
	}

	reports, err := h.Store.ListReportsByUser(c.Request.Context(), id, limit)
	if err != nil {
		h.internalError(c, "list reports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// Activity returns the audit trail, newest first.
func (h *Handler) Activity(c *gin.Context) {
	limit, ok := queryLimit(c, defaultActivity, maxActivityLimit)
	if !ok {
		return
	}
	entries, err := h.Store.ListActivity(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "list activity", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries})
}

// queryLimit reads ?limit= and clamps it to max.
func queryLimit(c *gin.Context, def, max int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, max), true
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	log.Errorf("admin api: %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}
