package chat

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medscribe/console/internal/platform/auth"
	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/workflow"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/chat", h.ask)
}

type askRequest struct {
	Question  string `json:"question"`
	PatientID int64  `json:"patient_id"`
}

func (h *Handler) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.svc.Answer(c.Request().Context(), auth.UserEmail(c), auth.EngineSession(c), req.PatientID, req.Question)
	if err != nil {
		if errors.Is(err, workflow.ErrValidation) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		if errors.Is(err, engine.ErrUnreachable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "engine unreachable")
		}
		var apiErr *engine.APIError
		if errors.As(err, &apiErr) {
			return echo.NewHTTPError(apiErr.StatusCode, apiErr.Detail)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, res)
}
