package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/castgraph/internal/runner"
	"github.com/OFFIS-RIT/castgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CreateAnalysisHandler starts an analysis of a document. The run reports
// its progress to the session's event stream; clients should subscribe
// before starting the run since updates are not replayed.
func CreateAnalysisHandler(c echo.Context) error {
	type createAnalysisBody struct {
		DocumentID string `json:"documentId" validate:"required,max=2048"`
		SessionKey string `json:"sessionKey" validate:"omitempty,max=128"`
	}

	type createAnalysisResponse struct {
		Message    string `json:"message"`
		SessionKey string `json:"sessionKey,omitempty"`
	}

	data := new(createAnalysisBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createAnalysisResponse{
			Message: "Invalid request body",
		})
	}

	data.DocumentID = strings.TrimSpace(data.DocumentID)
	data.SessionKey = strings.TrimSpace(data.SessionKey)
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createAnalysisResponse{
			Message: "Invalid request body",
		})
	}
	if strings.ContainsAny(data.SessionKey, "#*. ") {
		return c.JSON(http.StatusBadRequest, createAnalysisResponse{
			Message: "Invalid session key",
		})
	}

	if data.SessionKey == "" {
		key, err := gonanoid.New()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, createAnalysisResponse{
				Message: "Internal server error",
			})
		}
		data.SessionKey = key
	}

	job := common.AnalysisJob{
		SessionKey: data.SessionKey,
		DocumentID: data.DocumentID,
	}

	app := c.(*middleware.AppContext).App
	if err := app.Dispatcher.Dispatch(c.Request().Context(), job); err != nil {
		if errors.Is(err, runner.ErrShuttingDown) {
			return c.JSON(http.StatusServiceUnavailable, createAnalysisResponse{
				Message: "Server is shutting down",
			})
		}
		logger.Error("[Server] Failed to dispatch analysis", "session", job.SessionKey, "err", err)
		return c.JSON(http.StatusInternalServerError, createAnalysisResponse{
			Message: "Internal server error",
		})
	}

	logger.Info("[Server] Analysis started", "session", job.SessionKey, "document", job.DocumentID)
	return c.JSON(http.StatusAccepted, createAnalysisResponse{
		Message:    "Analysis started",
		SessionKey: job.SessionKey,
	})
}
