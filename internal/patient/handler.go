package patient

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medscribe/console/internal/platform/auth"
	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/workflow"
	"github.com/medscribe/console/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	p := g.Group("/patients")
	p.GET("", h.list)
	p.POST("", h.create)
	p.GET("/:id", h.get)
	p.GET("/:id/records", h.history)
	p.GET("/:id/records/latest", h.latest)
}

func (h *Handler) list(c echo.Context) error {
	page := pagination.FromContext(c)
	res, err := h.svc.List(c.Request().Context(), auth.EngineSession(c), c.QueryParam("session_id"), page)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) create(c echo.Context) error {
	var req engine.CreatePatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Create(c.Request().Context(), auth.EngineSession(c), req)
	if err != nil {
		if errors.Is(err, workflow.ErrValidation) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return engineError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) get(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), auth.EngineSession(c), id)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) history(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	page := pagination.FromContext(c)
	res, err := h.svc.History(c.Request().Context(), auth.EngineSession(c), id, page)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) latest(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.Latest(c.Request().Context(), auth.EngineSession(c), id)
	if err != nil {
		return engineError(err)
	}
	if entry == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no records for patient")
	}
	return c.JSON(http.StatusOK, entry)
}

func patientID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

// engineError maps proxy failures onto the console's status codes: loss of
// connectivity is 503, engine-reported errors keep their reported status.
func engineError(err error) error {
	if errors.Is(err, engine.ErrUnreachable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "engine unreachable")
	}
	var apiErr *engine.APIError
	if errors.As(err, &apiErr) {
		return echo.NewHTTPError(apiErr.StatusCode, apiErr.Detail)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
