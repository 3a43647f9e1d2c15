package processor

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/docproc/internal/domain/documents"
	"github.com/ehr/docproc/internal/domain/effects"
	"github.com/ehr/docproc/internal/domain/runs"
	"github.com/ehr/docproc/internal/platform/auth"
	"github.com/ehr/docproc/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	process := api.Group("", auth.RequireRole("admin", "processor"))
	process.POST("/documents/process", h.Process)

	read := api.Group("", auth.RequireRole("admin", "processor", "reviewer"))
	read.GET("/documents/:id/runs", h.DocumentRuns)
	read.GET("/runs", h.ListRuns)
	read.GET("/runs/:id", h.GetRun)
}

type processResponse struct {
	RunID   string             `json:"run_id"`
	Status  runs.Status        `json:"status"`
	Effects []effects.Envelope `json:"effects"`
	Error   string             `json:"error,omitempty"`
}

// Process handles POST /documents/process.
func (h *Handler) Process(c echo.Context) error {
	var doc documents.Document
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.svc.Process(c.Request().Context(), doc)
	body := processResponse{
		RunID:   res.Run.ID,
		Status:  res.Run.Status,
		Effects: res.Envelopes(),
	}
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, body)
	case errors.Is(err, ErrMissingDocument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrMissingCredentials):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		body.Error = err.Error()
		return c.JSON(http.StatusUnprocessableEntity, body)
	}
}

func (h *Handler) ListRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRuns(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.svc.Run(c.Request().Context(), c.Param("id"))
	if errors.Is(err, runs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) DocumentRuns(c echo.Context) error {
	list, err := h.svc.RunsForDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": list, "total": len(list)})
}
