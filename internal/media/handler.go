package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medscribe/console/internal/platform/auth"
	"github.com/medscribe/console/internal/platform/engine"
)

// EngineAPI is the slice of the engine client the media handler uses.
type EngineAPI interface {
	DownloadAudio(ctx context.Context, session, storagePath string) (io.ReadCloser, string, error)
}

type Handler struct {
	eng      EngineAPI
	registry *Registry
	logger   zerolog.Logger
}

func NewHandler(eng EngineAPI, registry *Registry, logger zerolog.Logger) *Handler {
	return &Handler{eng: eng, registry: registry, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	m := g.Group("/media")
	m.GET("/records/:id/audio", h.streamAudio)
	m.POST("/records/:id/stop", h.stopAudio)
	m.GET("/playing", h.playing)
}

// streamAudio proxies the recording's bytes from the engine. It takes over
// as the user's single active stream, displacing any playback in flight.
func (h *Handler) streamAudio(c echo.Context) error {
	recordID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || recordID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	storagePath := c.QueryParam("storage_path")
	if storagePath == "" || storagePath == "null" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no audio available for this record")
	}

	userID := auth.UserEmail(c)
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	if !h.registry.Start(userID, recordID, cancel) {
		// Same record requested again: treated as a stop toggle.
		return c.NoContent(http.StatusNoContent)
	}
	defer h.registry.Finish(userID, recordID)

	body, contentType, err := h.eng.DownloadAudio(ctx, auth.EngineSession(c), storagePath)
	if err != nil {
		if errors.Is(err, engine.ErrUnreachable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "engine unreachable")
		}
		var apiErr *engine.APIError
		if errors.As(err, &apiErr) {
			return echo.NewHTTPError(apiErr.StatusCode, apiErr.Detail)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	defer body.Close()

	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return c.Stream(http.StatusOK, contentType, body)
}

func (h *Handler) stopAudio(c echo.Context) error {
	recordID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || recordID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	h.registry.Stop(auth.UserEmail(c), recordID)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) playing(c echo.Context) error {
	id, ok := h.registry.Playing(auth.UserEmail(c))
	return c.JSON(http.StatusOK, map[string]any{"playing": ok, "record_id": id})
}
