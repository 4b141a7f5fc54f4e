package imaging

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radiweb/pacs-gateway/internal/platform/auth"
	"github.com/radiweb/pacs-gateway/internal/platform/metrics"
	"github.com/radiweb/pacs-gateway/internal/platform/middleware"
	"github.com/radiweb/pacs-gateway/internal/platform/tokenstore"
	"github.com/radiweb/pacs-gateway/internal/platform/webhook"
	"github.com/radiweb/pacs-gateway/pkg/pagination"
)

const webhookKind = "study_received"

type Handler struct {
	svc     *Service
	links   *ViewerLinks
	metrics *metrics.Metrics
}

func NewHandler(svc *Service, links *ViewerLinks, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, links: links, metrics: m}
}

// RegisterWebhookRoutes mounts the archive callback behind the shared secret.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group, secret string) {
	reject := func(echo.Context) { h.metrics.Webhook(webhookKind, metrics.OutcomeUnauthorized) }
	g.POST("/dicom/study-received", h.StudyReceived, webhook.SecretMiddleware(secret, reject))
}

// RegisterRoutes mounts the authenticated API. api must already carry the
// JWT middleware.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:patientId/studies", h.ListPatientStudies)
	api.GET("/studies/:studyId/viewer-link", h.GetViewerLink)

	// Manual review and token management – admin, radiologist
	review := api.Group("", auth.RequireRole("admin", "radiologist"))
	review.GET("/studies", h.ListStudies)
	review.POST("/studies/:studyId/exam", h.LinkStudy)
	review.DELETE("/studies/:studyId/viewer-tokens", h.RevokeStudyTokens)
	review.DELETE("/viewer-tokens/:jti", h.RevokeViewerToken)
}

// RegisterViewerRoutes mounts the unauthenticated token check used by the
// viewer proxy.
func (h *Handler) RegisterViewerRoutes(g *echo.Group) {
	g.GET("/tokens/validate", h.ValidateViewerToken)
}

func (h *Handler) StudyReceived(c echo.Context) error {
	var n StudyNotification
	if err := middleware.BindAndValidate(c, &n); err != nil {
		h.metrics.Webhook(webhookKind, metrics.OutcomeInvalid)
		return err
	}

	ack, err := h.svc.ProcessStudyReceived(c.Request().Context(), &n)
	if err != nil {
		h.metrics.Webhook(webhookKind, metrics.OutcomeError)
		return err
	}

	if ack.ExamID == "" {
		h.metrics.Webhook(webhookKind, metrics.OutcomeUnassociated)
	} else {
		h.metrics.Webhook(webhookKind, metrics.OutcomeSuccess)
	}
	return c.JSON(http.StatusOK, ack)
}

func (h *Handler) ListPatientStudies(c echo.Context) error {
	pg := pagination.FromContext(c)

	partial := h.svc.listing.Partial
	if v := c.QueryParam("partial"); v != "" {
		p, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid partial parameter")
		}
		partial = p
	}

	items, total, err := h.svc.ListPatientStudies(c.Request().Context(), c.Param("patientId"), pg.Limit, pg.Offset, partial)
	if err != nil {
		return err
	}
	pg.SetHeaders(c, total)
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetViewerLink(c echo.Context) error {
	ctx := c.Request().Context()
	studyID := c.Param("studyId")

	if _, err := h.svc.studies.GetByOrthancID(ctx, studyID); err != nil {
		if errors.Is(err, ErrStudyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "study not found")
		}
		return err
	}

	link, err := h.links.Generate(ctx, studyID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, link)
}

func (h *Handler) ListStudies(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := c.QueryParam("status")
	if status == "" {
		status = StudyStatusUnassociated
	}
	switch status {
	case StudyStatusReceived, StudyStatusLinked, StudyStatusUnassociated:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	items, total, err := h.svc.ListByStatus(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Study{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) LinkStudy(c echo.Context) error {
	var req linkExamRequest
	if err := middleware.BindAndValidate(c, &req); err != nil {
		return err
	}
	examID, _ := uuid.Parse(req.ExamID)

	link, err := h.svc.LinkStudy(c.Request().Context(), c.Param("studyId"), examID)
	switch {
	case errors.Is(err, ErrStudyNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "study not found")
	case errors.Is(err, ErrExamNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "exam not found")
	case errors.Is(err, ErrPatientMismatch):
		return echo.NewHTTPError(http.StatusConflict, "exam belongs to another patient")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, link)
}

func (h *Handler) ValidateViewerToken(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Token required")
	}

	status, err := h.links.Validate(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, ErrInvalidViewerToken) || errors.Is(err, tokenstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) RevokeViewerToken(c echo.Context) error {
	err := h.links.Revoke(c.Request().Context(), c.Param("jti"))
	if errors.Is(err, tokenstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "viewer token not found")
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RevokeStudyTokens(c echo.Context) error {
	n, err := h.links.RevokeStudy(c.Request().Context(), c.Param("studyId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"revoked": n})
}
