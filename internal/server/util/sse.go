package util

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// StartSSE writes the event stream response headers.
func StartSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

func WriteSSEEvent(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(c.Response(), "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}

	c.Response().Flush()
	return nil
}

// WriteSSEComment writes a comment line, which clients ignore. It keeps
// idle connections from being closed by proxies.
func WriteSSEComment(c echo.Context, comment string) error {
	if _, err := fmt.Fprintf(c.Response(), ": %s\n\n", comment); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
