package backup

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/radiweb/pacs-gateway/internal/platform/auth"
	"github.com/radiweb/pacs-gateway/internal/platform/metrics"
	"github.com/radiweb/pacs-gateway/internal/platform/middleware"
	"github.com/radiweb/pacs-gateway/pkg/pagination"
)

const webhookKind = "backup"

type Handler struct {
	svc     *Service
	metrics *metrics.Metrics
}

func NewHandler(svc *Service, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, metrics: m}
}

// RegisterWebhookRoutes mounts the backup job callback. The backup job
// posts from inside the archive host and sends no credentials.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group) {
	g.POST("/backup", h.BackupNotification)
}

// RegisterRoutes mounts the backup history. api must already carry the JWT
// middleware.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/backups", h.ListBackups, auth.RequireRole("admin"))
}

func (h *Handler) BackupNotification(c echo.Context) error {
	var n Notification
	if err := middleware.BindAndValidate(c, &n); err != nil {
		h.metrics.Webhook(webhookKind, metrics.OutcomeInvalid)
		return err
	}

	outcome, err := h.svc.Process(c.Request().Context(), &n)
	if err != nil {
		h.metrics.Webhook(webhookKind, metrics.OutcomeError)
		return err
	}

	switch outcome {
	case OutcomeRecorded:
		h.metrics.Webhook(webhookKind, metrics.OutcomeSuccess)
	case OutcomeFailed:
		h.metrics.Webhook(webhookKind, metrics.OutcomeFailed)
	default:
		h.metrics.Webhook(webhookKind, metrics.OutcomeIgnored)
	}
	return c.JSON(http.StatusOK, Ack{Success: true})
}

func (h *Handler) ListBackups(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := c.QueryParam("status")
	switch status {
	case "", RecordCompleted, RecordFailed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	items, total, err := h.svc.List(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
