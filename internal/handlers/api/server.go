// Package api exposes the imagery service over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"terra-imagery/internal/analytics"
	"terra-imagery/internal/cache"
	"terra-imagery/internal/common"
	"terra-imagery/internal/gibs"
	"terra-imagery/internal/imagery"
	"terra-imagery/internal/ratelimit"
	"terra-imagery/internal/sequence"
	"terra-imagery/internal/taskqueue"
)

// Server wires the service components into an HTTP API
type Server struct {
	echo       *echo.Echo
	tiles      gibs.TileFetcher
	fetcher    *sequence.Fetcher
	frames     *imagery.FrameBuilder
	queue      *taskqueue.QueueManager
	rateLimits *ratelimit.Handler
	tracker    *analytics.Tracker
	cache      *cache.TileCache

	defaultConcurrency int
}

// Options carries the components the server serves
type Options struct {
	Tiles      gibs.TileFetcher
	Fetcher    *sequence.Fetcher
	Frames     *imagery.FrameBuilder
	Queue      *taskqueue.QueueManager
	RateLimits *ratelimit.Handler
	Tracker    *analytics.Tracker

	// Cache, when non-nil, backs the tile proxy so repeat requests skip
	// the upstream fetch
	Cache *cache.TileCache

	// DefaultConcurrency fills sequence requests that omit concurrency
	DefaultConcurrency int
}

// NewServer creates the API server and registers all routes
func NewServer(opts Options) *Server {
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = 4
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:               e,
		tiles:              opts.Tiles,
		fetcher:            opts.Fetcher,
		frames:             opts.Frames,
		queue:              opts.Queue,
		rateLimits:         opts.RateLimits,
		tracker:            opts.Tracker,
		cache:              opts.Cache,
		defaultConcurrency: opts.DefaultConcurrency,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/layers", s.handleLayers)
	api.GET("/tiles/url", s.handleResolveURL)
	api.GET("/tiles/:layer/:date/:resolution/:zoom/:y/:x", s.handleTile)
	api.POST("/sequences", s.handleSequence)
	api.GET("/frames", s.handleFrame)
	api.GET("/ratelimit", s.handleRateLimitStatus)
	api.POST("/ratelimit/retry", s.handleRateLimitRetry)

	api.POST("/animations", s.handleCreateAnimation)
	api.GET("/animations", s.handleListAnimations)
	api.GET("/animations/:id", s.handleGetAnimation)
	api.DELETE("/animations/:id", s.handleDeleteAnimation)
	api.POST("/animations/:id/cancel", s.handleCancelAnimation)

	api.GET("/queue", s.handleQueueStatus)
	api.POST("/queue/start", s.handleQueueStart)
	api.POST("/queue/pause", s.handleQueuePause)
	api.POST("/queue/clear-completed", s.handleQueueClearCompleted)
}

// Handler returns the underlying HTTP handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves the API on addr and blocks until Shutdown
func (s *Server) Start(addr string) error {
	log.Printf("[API] Listening on %s", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// httpError maps service errors onto HTTP status codes. Caller mistakes
// become 400, throttling 429, unknown tasks 404, the rest 500. Only the
// first three carry the error text; a 500 stays generic so internal
// detail never leaks to clients.
func httpError(err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, taskqueue.ErrTaskNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	log.Printf("[API] Internal error: %v", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
