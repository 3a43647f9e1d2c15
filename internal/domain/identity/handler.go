package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/docproc/internal/domain/extraction"
	"github.com/ehr/docproc/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "processor", "reviewer"))
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/staff/:id", h.GetStaff)
	read.POST("/identity/match", h.Match)

	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/patients", h.CreatePatient)
	write.POST("/staff", h.CreateStaff)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateStaff(c echo.Context) error {
	var s Staff
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateStaff(c.Request().Context(), &s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.svc.GetStaff(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "staff not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

type patientMatchResponse struct {
	Status  string   `json:"status"`
	Tier    string   `json:"tier,omitempty"`
	Error   string   `json:"error,omitempty"`
	Patient *Patient `json:"patient,omitempty"`
}

type reviewerMatchResponse struct {
	Status       string `json:"status"`
	Tier         string `json:"tier,omitempty"`
	AutoAssigned bool   `json:"auto_assigned"`
	Reviewer     *Staff `json:"reviewer,omitempty"`
}

// Match resolves patient and reviewer for an extraction posted as JSON.
func (h *Handler) Match(c echo.Context) error {
	var e extraction.DocumentExtraction
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pm, rm, err := h.svc.Match(c.Request().Context(), &e)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient": patientMatchResponse{
			Status: pm.Status.String(), Tier: pm.Tier, Error: pm.Err, Patient: pm.Patient,
		},
		"reviewer": reviewerMatchResponse{
			Status: rm.Status.String(), Tier: rm.Tier, AutoAssigned: rm.AutoAssigned, Reviewer: rm.Reviewer,
		},
	})
}
