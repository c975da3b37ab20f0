package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medscribe/console/internal/platform/engine"
)

// AuthEngine is the slice of the engine client the auth handlers use.
type AuthEngine interface {
	GoogleAuth(ctx context.Context, token string) (*engine.AuthResult, string, error)
	VerifyToken(ctx context.Context, session string) (*engine.AuthResult, error)
	RefreshToken(ctx context.Context, session string) (*engine.StatusMessage, string, error)
	Logout(ctx context.Context, session string) (*engine.StatusMessage, error)
}

type Handler struct {
	mgr    *Manager
	eng    AuthEngine
	secure bool
}

// NewHandler creates the auth handler. secure controls the Secure flag on
// the session cookie and should be true outside development.
func NewHandler(mgr *Manager, eng AuthEngine, secure bool) *Handler {
	return &Handler{mgr: mgr, eng: eng, secure: secure}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/google", h.GoogleAuth)
	e.GET("/auth/verify", h.Verify)
	e.POST("/auth/refresh", h.Refresh)
	e.POST("/auth/logout", h.Logout)
}

func (h *Handler) GoogleAuth(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	res, engineSession, err := h.eng.GoogleAuth(c.Request().Context(), body.Token)
	if err != nil {
		return authError(err)
	}

	signed, err := h.mgr.Issue(res.User.Email, res.User.Name, res.User.Picture, engineSession)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}
	h.setCookie(c, signed, int(h.mgr.TTL().Seconds()))

	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Verify(c echo.Context) error {
	claims, err := h.claims(c)
	if err != nil {
		return err
	}

	res, err := h.eng.VerifyToken(c.Request().Context(), claims.EngineSession)
	if err != nil {
		return authError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Refresh(c echo.Context) error {
	claims, err := h.claims(c)
	if err != nil {
		return err
	}

	res, newSession, err := h.eng.RefreshToken(c.Request().Context(), claims.EngineSession)
	if err != nil {
		return authError(err)
	}

	signed, err := h.mgr.Issue(claims.Email, claims.Name, claims.Picture, newSession)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to refresh session")
	}
	h.setCookie(c, signed, int(h.mgr.TTL().Seconds()))

	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Logout(c echo.Context) error {
	// Best effort on the engine side; the console session is cleared
	// regardless so the clinician is signed out locally.
	if claims, err := h.claims(c); err == nil {
		_, _ = h.eng.Logout(c.Request().Context(), claims.EngineSession)
	}
	h.setCookie(c, "", -1)

	return c.JSON(http.StatusOK, engine.StatusMessage{Status: "success", Message: "logged out"})
}

func (h *Handler) claims(c echo.Context) (*Claims, error) {
	cookie, err := c.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing session")
	}
	claims, err := h.mgr.Parse(cookie.Value)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	return claims, nil
}

func (h *Handler) setCookie(c echo.Context, value string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func authError(err error) error {
	if errors.Is(err, engine.ErrUnreachable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication service unreachable")
	}
	var apiErr *engine.APIError
	if errors.As(err, &apiErr) {
		return echo.NewHTTPError(apiErr.StatusCode, apiErr.Detail)
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
}
