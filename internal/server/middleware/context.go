package middleware

import (
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/runner"
	"github.com/OFFIS-RIT/castgraph/pkg/progress"
	"github.com/OFFIS-RIT/castgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// App holds the process-wide dependencies of the HTTP handlers.
type App struct {
	Hub        *progress.Hub
	Dispatcher runner.Dispatcher
	// Results is nil when no database is configured.
	Results store.ResultStorage
	// KeepAlive is the interval of comment lines on idle event streams.
	KeepAlive time.Duration
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
