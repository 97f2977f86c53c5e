package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/castgraph/internal/config"
	"github.com/OFFIS-RIT/castgraph/internal/migrations"
	"github.com/OFFIS-RIT/castgraph/internal/queue"
	"github.com/OFFIS-RIT/castgraph/internal/runner"
	mid "github.com/OFFIS-RIT/castgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/castgraph/pkg/common"
	"github.com/OFFIS-RIT/castgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/castgraph/pkg/logger"
	"github.com/OFFIS-RIT/castgraph/pkg/progress"
	"github.com/OFFIS-RIT/castgraph/pkg/store"
	pgstore "github.com/OFFIS-RIT/castgraph/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewEcho creates the HTTP server for app with all middleware and routes.
func NewEcho(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := progress.NewHub(progress.DefaultBuffer)
	app := &mid.App{
		Hub:       hub,
		KeepAlive: cfg.KeepAlive,
	}

	var locks runner.Locker
	if cfg.DatabaseURL != "" {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			logger.Fatal("[Server] Failed to migrate database", "err", err)
		}
		conn, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("[Server] Failed to connect to database", "err", err)
		}
		defer conn.Close()

		app.Results = pgstore.NewResultDBStorageWithConnection(conn)
		locks = leaselock.New(conn)
	}

	// In-process runs outlive the signal and are canceled only when they
	// overrun the shutdown grace period.
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	var local *runner.LocalDispatcher
	if cfg.QueueEnabled {
		que := queue.Init()
		defer que.Close()

		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("[Server] Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.AnalysisQueue}); err != nil {
			logger.Fatal("[Server] Failed to set up queues", "err", err)
		}

		relayCh, err := que.Channel()
		if err != nil {
			logger.Fatal("[Server] Failed to open relay channel", "err", err)
		}
		defer relayCh.Close()
		go func() {
			if err := queue.RelayProgress(ctx, relayCh, hub); err != nil {
				logger.Error("[Server] Progress relay stopped", "err", err)
			}
		}()

		app.Dispatcher = runner.NewQueueDispatcher(ch)
		logger.Info("[Server] Queue mode, analyses run on workers")
	} else {
		local = runner.NewLocalDispatcher(runCtx, newLocalRunner(ctx, cfg, hub, app.Results, locks))
		app.Dispatcher = local
		logger.Info("[Server] Running analyses in process")
	}

	e := NewEcho(app)

	// Streams normally end when the hub closes. streamCtx releases the ones
	// whose client stopped reading.
	streamCtx, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()
	e.Server.BaseContext = func(net.Listener) context.Context { return streamCtx }

	go func() {
		logger.Info("[Server] Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("[Server] Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("[Server] Shutdown signal received")

	gracefulShutdown(e, hub, local, stopRuns, closeStreams, 10*time.Second)
}

// gracefulShutdown lets in-process runs finish within timeout and cancels
// the rest, then sends the shutdown notice to every open event stream,
// ends the streams and stops the HTTP server.
func gracefulShutdown(
	e *echo.Echo,
	hub *progress.Hub,
	local *runner.LocalDispatcher,
	stopRuns, closeStreams context.CancelFunc,
	timeout time.Duration,
) {
	if local != nil {
		waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
		err := local.Wait(waitCtx)
		cancel()
		if err != nil {
			logger.Warn("[Server] Canceling analyses still running at shutdown")
			stopRuns()

			// Canceled runs still publish their error update.
			graceCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = local.Wait(graceCtx)
			cancel()
		}
	}

	hub.Close(common.StreamingUpdate{
		Type:    common.UpdateProgress,
		Message: "Server shutting down",
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] Failed to shutdown server", "err", err)
	}
	closeStreams()
}

func newLocalRunner(
	ctx context.Context,
	cfg config.Config,
	hub *progress.Hub,
	results store.ResultStorage,
	locks runner.Locker,
) *runner.Runner {
	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("[Server] Failed to create AI client", "err", err)
	}
	graphClient, err := cfg.NewGraphClient()
	if err != nil {
		logger.Fatal("[Server] Invalid analysis settings", "err", err)
	}
	fetcher, err := cfg.NewFetcher(ctx)
	if err != nil {
		logger.Fatal("[Server] Failed to create document fetcher", "err", err)
	}

	return runner.NewRunner(runner.NewRunnerParams{
		Graph:     graphClient,
		Fetcher:   fetcher,
		Oracle:    cfg.NewOracle(aiClient),
		Reporter:  hub,
		Results:   results,
		Locks:     locks,
		LeaseOpts: cfg.LeaseOptions(),
	})
}
