package handler

import (
	"context"
	"net/http"
	"reportbot/backend/internal/feed"
	"reportbot/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// Store is what the admin API reads.
type Store interface {
	GetAdmin(ctx context.Context, platformID int64) (*models.Admin, error)
	CountUsers(ctx context.Context) (int64, error)
	CountReports(ctx context.Context) (int64, error)
	CountAdmins(ctx context.Context) (int64, error)
	ListReportsByUser(ctx context.Context, userID int64, limit int) ([]models.Report, error)
	ListActivity(ctx context.Context, limit int) ([]models.ActivityLogEntry, error)
}

// Handler містить залежності адмінського API
type Handler struct {
	Store  Store
	Hub    *feed.Hub
	Secret []byte
}

func NewHandler(store Store, hub *feed.Hub, secret string) *Handler {
	return &Handler{Store: store, Hub: hub, Secret: []byte(secret)}
}

// Router builds the gin engine with every admin route.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Health)

	api := r.Group("/api", h.AuthMiddleware())
	api.GET("/stats", h.Stats)
	api.GET("/users/:id/reports", h.UserReports)
	api.GET("/activity", h.Activity)

	r.GET("/ws/progress", h.AuthMiddleware(), h.ServeWebSocket)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
