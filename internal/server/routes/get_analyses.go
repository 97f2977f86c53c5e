package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/castgraph/internal/server/util"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
	"github.com/OFFIS-RIT/castgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

const defaultKeepAlive = 15 * time.Second

// StreamAnalysisEventsHandler streams the updates of a session as
// server-sent events until the client disconnects.
func StreamAnalysisEventsHandler(c echo.Context) error {
	key := c.Param("sessionKey")
	if key == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Missing session key"})
	}

	app := c.(*middleware.AppContext).App
	sub := app.Hub.Subscribe(key)
	defer sub.Close()

	keepAlive := app.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	util.StartSSE(c)
	logger.Debug("[Server] Subscriber joined", "session", key)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("[Server] Subscriber left", "session", key)
			return nil
		case update, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			if err := util.WriteSSEEvent(c, string(update.Type), update); err != nil {
				logger.Debug("[Server] Failed to write event", "session", key, "err", err)
				return nil
			}
		case <-ticker.C:
			if err := util.WriteSSEComment(c, "ping"); err != nil {
				return nil
			}
		}
	}
}

// GetAnalysisHandler returns the stored run of a session.
func GetAnalysisHandler(c echo.Context) error {
	type getAnalysisResponse struct {
		Message string     `json:"message"`
		Run     *store.Run `json:"run,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	if app.Results == nil {
		return c.JSON(http.StatusNotImplemented, getAnalysisResponse{
			Message: "Result storage is not configured",
		})
	}

	run, err := app.Results.GetRun(c.Request().Context(), c.Param("sessionKey"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getAnalysisResponse{
				Message: "Analysis not found",
			})
		}
		logger.Error("[Server] Failed to load run", "session", c.Param("sessionKey"), "err", err)
		return c.JSON(http.StatusInternalServerError, getAnalysisResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getAnalysisResponse{
		Message: "Analysis found",
		Run:     &run,
	})
}
