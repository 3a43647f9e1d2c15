package templates

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read := api.Group("", auth.RequireRole("admin", "processor", "reviewer"))
	read.GET("/templates", h.ListTemplates)
	read.GET("/templates/:id", h.GetTemplate)
}

type templateResponse struct {
	*Template
	Kind   string   `json:"kind"`
	Fields []*Field `json:"fields,omitempty"`
}

func (h *Handler) ListTemplates(c echo.Context) error {
	kind, err := ParseKind(c.QueryParam("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	list, err := h.svc.ListTemplates(c.Request().Context(), kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	pg := pagination.FromContext(c)
	page := pagination.Slice(list, pg)
	out := make([]templateResponse, 0, len(page))
	for _, t := range page {
		out = append(out, templateResponse{Template: t, Kind: t.Kind.String()})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, len(list), pg.Limit, pg.Offset))
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, fields, err := h.svc.GetTemplate(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, templateResponse{Template: t, Kind: t.Kind.String(), Fields: fields})
}
