package workflow

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medscribe/console/internal/platform/auth"
	"github.com/medscribe/console/internal/platform/engine"
	"github.com/medscribe/console/internal/soap"
)

// Handler exposes the workflow over REST. Every route requires an
// authenticated console session.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	wf := g.Group("/workflow")
	wf.GET("/session", h.getSession)
	wf.POST("/session/patient", h.selectPatient)
	wf.PUT("/patient-email", h.setPatientEmail)
	wf.POST("/audio", h.processAudio)
	wf.POST("/result", h.loadResult)
	wf.PUT("/draft", h.updateDraft)
	wf.POST("/draft/save", h.saveChanges)
	wf.GET("/draft/export", h.exportDraft)
	wf.POST("/plan/approve", h.approvePlan)
	wf.POST("/email/preview", h.generatePreview)
	wf.PUT("/email/preview", h.editPreview)
	wf.POST("/email/approve", h.approveEmail)
	wf.POST("/email/send", h.sendEmail)
}

type errorResponse struct {
	Error string `json:"error"`
	// Channel tells the client where to surface the failure: "inline" next
	// to the action that caused it, or "banner" for connectivity loss.
	Channel string `json:"channel"`
}

func (h *Handler) getSession(c echo.Context) error {
	snap, err := h.svc.Session(auth.UserEmail(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type selectPatientRequest struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) selectPatient(c echo.Context) error {
	var req selectPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == 0 {
		return respondError(c, fmt.Errorf("%w: patient id is required", ErrValidation))
	}
	snap := h.svc.SelectPatient(auth.UserEmail(c), PatientRef{ID: req.ID, Name: req.Name, Email: req.Email})
	return c.JSON(http.StatusOK, snap)
}

type patientEmailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) setPatientEmail(c echo.Context) error {
	var req patientEmailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.SetPatientEmail(auth.UserEmail(c), req.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) processAudio(c echo.Context) error {
	file, err := c.FormFile("audio")
	if err != nil {
		return respondError(c, fmt.Errorf("%w: audio file is required", ErrValidation))
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read audio file")
	}
	defer src.Close()

	realtime := c.FormValue("is_realtime") == "true"

	snap, err := h.svc.ProcessAudio(c.Request().Context(), auth.UserEmail(c), auth.EngineSession(c), src, file.Filename, realtime)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) loadResult(c echo.Context) error {
	var res engine.ProcessAudioResult
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.LoadResult(c.Request().Context(), auth.UserEmail(c), &res)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type draftRequest struct {
	S string `json:"S"`
	O string `json:"O"`
	A string `json:"A"`
	P string `json:"P"`
}

func (r draftRequest) sections() soap.Sections {
	return soap.Sections{S: r.S, O: r.O, A: r.A, P: r.P}
}

func (h *Handler) updateDraft(c echo.Context) error {
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.UpdateDraft(auth.UserEmail(c), req.sections())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) saveChanges(c echo.Context) error {
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.SaveChanges(c.Request().Context(), auth.UserEmail(c), auth.EngineSession(c), req.sections())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) exportDraft(c echo.Context) error {
	name, export, err := h.svc.ExportDraft(auth.UserEmail(c))
	if err != nil {
		return respondError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.JSON(http.StatusOK, export)
}

func (h *Handler) approvePlan(c echo.Context) error {
	snap, err := h.svc.ApprovePlan(c.Request().Context(), auth.UserEmail(c), auth.EngineSession(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) generatePreview(c echo.Context) error {
	snap, err := h.svc.GeneratePreview(c.Request().Context(), auth.UserEmail(c), auth.EngineSession(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

type previewRequest struct {
	Content string `json:"content"`
}

func (h *Handler) editPreview(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap, err := h.svc.EditPreview(auth.UserEmail(c), req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) approveEmail(c echo.Context) error {
	snap, err := h.svc.ApproveEmail(auth.UserEmail(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) sendEmail(c echo.Context) error {
	snap, err := h.svc.SendEmail(c.Request().Context(), auth.UserEmail(c), auth.EngineSession(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// respondError maps workflow errors to the two client-side surfaces: inline
// messages beside the failing action, and the global connectivity banner.
func respondError(c echo.Context, err error) error {
	var apiErr *engine.APIError
	switch {
	case errors.Is(err, ErrOffline):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{
			Error:   "Network connection failed. Please check your internet.",
			Channel: "banner",
		})
	case errors.Is(err, ErrBusy):
		return c.JSON(http.StatusConflict, errorResponse{
			Error:   "Another action is already in progress.",
			Channel: "inline",
		})
	case errors.Is(err, ErrNoPatient):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:   "Select a patient first.",
			Channel: "inline",
		})
	case errors.Is(err, ErrNoDraft):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:   "No SOAP draft is loaded.",
			Channel: "inline",
		})
	case errors.Is(err, ErrValidation):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:   err.Error(),
			Channel: "inline",
		})
	case errors.As(err, &apiErr):
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   apiErr.Detail,
			Channel: "inline",
		})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   "Internal error.",
			Channel: "inline",
		})
	}
}
