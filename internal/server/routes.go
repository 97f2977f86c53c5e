package server

import (
	"github.com/OFFIS-RIT/castgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Analysis routes
	apiRoutes.POST("/analyses", routes.CreateAnalysisHandler)
	apiRoutes.GET("/analyses/:sessionKey", routes.GetAnalysisHandler)
	apiRoutes.GET("/analyses/:sessionKey/events", routes.StreamAnalysisEventsHandler)
}
