package api

import (
	"fmt"
	"image/png"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"terra-imagery/internal/common"
	"terra-imagery/internal/gibs"
	"terra-imagery/internal/imagery"
	"terra-imagery/internal/metrics"
	"terra-imagery/internal/sequence"
	"terra-imagery/internal/taskqueue"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLayers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"layers":      gibs.Layers(),
		"resolutions": gibs.Resolutions(),
	})
}

// handleResolveURL returns the upstream WMTS URL for one tile without
// fetching it
func (s *Server) handleResolveURL(c echo.Context) error {
	req, err := tileRequestFromQuery(c)
	if err != nil {
		return httpError(err)
	}

	url, err := gibs.ResolveRequest(req)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

// handleTile proxies one tile from GIBS
func (s *Server) handleTile(c echo.Context) error {
	zoom, err := intParam(c, "zoom")
	if err != nil {
		return httpError(err)
	}
	y, err := intParam(c, "y")
	if err != nil {
		return httpError(err)
	}
	x, err := intParam(c, "x")
	if err != nil {
		return httpError(err)
	}

	req := gibs.TileRequest{
		Layer:      c.Param("layer"),
		Date:       c.Param("date"),
		Resolution: c.Param("resolution"),
		Zoom:       zoom,
		TileX:      x,
		TileY:      y,
	}
	if err := req.Validate(); err != nil {
		return httpError(err)
	}

	contentType := "image/jpeg"
	if layer, err := gibs.LayerByID(req.Layer); err == nil && layer.Format == "png" {
		contentType = "image/png"
	}

	if s.cache != nil {
		if data, hit := s.cache.Get(req); hit {
			return c.Blob(http.StatusOK, contentType, data)
		}
	}

	data, err := s.tiles.FetchTile(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(req, data); err != nil {
			log.Printf("[API] Failed to cache tile: %v", err)
		}
	}
	return c.Blob(http.StatusOK, contentType, data)
}

// handleSequence fetches one tile position across a date range
func (s *Server) handleSequence(c echo.Context) error {
	var req sequence.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Layer == "" {
		req.Layer = gibs.DefaultLayer
	}
	if req.Concurrency == 0 {
		req.Concurrency = s.defaultConcurrency
	}

	report, err := s.fetcher.FetchSequence(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}

	if m := metrics.Get(); m != nil {
		m.ObserveSequence(report.Layer, report.TotalCount, report.SuccessCount)
	}
	if s.tracker != nil {
		s.tracker.SequenceFetched(report.Layer, report.TotalCount, report.SuccessCount)
	}

	return c.JSON(http.StatusOK, report)
}

// handleFrame composes the tiles covering a region into one image and
// streams it back as JPEG, PNG, or a georeferenced TIFF
func (s *Server) handleFrame(c echo.Context) error {
	zoom, err := intQuery(c, "zoom")
	if err != nil {
		return httpError(err)
	}
	bbox, err := bboxFromQuery(c)
	if err != nil {
		return httpError(err)
	}

	spec := imagery.FrameSpec{
		Layer:      c.QueryParam("layer"),
		Resolution: c.QueryParam("resolution"),
		Date:       c.QueryParam("date"),
		Zoom:       zoom,
		BBox:       bbox,
	}
	if spec.Layer == "" {
		spec.Layer = gibs.DefaultLayer
	}
	if spec.Resolution == "" {
		if layer, err := gibs.LayerByID(spec.Layer); err == nil {
			spec.Resolution = layer.Resolution
		}
	}

	format := c.QueryParam("format")
	switch format {
	case "", "jpeg", "jpg", "png", "geotiff", "tif":
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unknown format %q (want jpeg, png, or geotiff)", format))
	}

	img, err := s.frames.BuildFrame(c.Request().Context(), spec)
	if err != nil {
		return httpError(err)
	}

	switch format {
	case "", "jpeg", "jpg":
		data, err := imagery.EncodeJPEG(img, 90)
		if err != nil {
			return httpError(err)
		}
		return c.Blob(http.StatusOK, "image/jpeg", data)
	case "png":
		c.Response().Header().Set(echo.HeaderContentType, "image/png")
		c.Response().WriteHeader(http.StatusOK)
		return png.Encode(c.Response(), img)
	case "geotiff", "tif":
		bounds, err := imagery.SpecBounds(spec)
		if err != nil {
			return httpError(err)
		}
		c.Response().Header().Set(echo.HeaderContentType, "image/tiff")
		c.Response().WriteHeader(http.StatusOK)
		return imagery.WriteGeoTIFF(c.Response(), img, bounds, spec.Zoom)
	}
	return nil
}

func bboxFromQuery(c echo.Context) (common.BoundingBox, error) {
	var bbox common.BoundingBox
	for name, target := range map[string]*float64{
		"south": &bbox.South,
		"west":  &bbox.West,
		"north": &bbox.North,
		"east":  &bbox.East,
	} {
		raw := c.QueryParam(name)
		if raw == "" {
			return bbox, fmt.Errorf("%w: missing query parameter %s", common.ErrInvalidArgument, name)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return bbox, fmt.Errorf("%w: %s %q is not a number", common.ErrInvalidArgument, name, raw)
		}
		*target = value
	}
	return bbox, nil
}

func (s *Server) handleRateLimitStatus(c echo.Context) error {
	state := s.rateLimits.CurrentState(gibs.Provider)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rateLimited": state != nil,
		"event":       state,
	})
}

func (s *Server) handleRateLimitRetry(c echo.Context) error {
	s.rateLimits.ManualRetry(gibs.Provider)
	return c.NoContent(http.StatusNoContent)
}

// createAnimationRequest is the POST /api/animations body
type createAnimationRequest struct {
	Name       string                 `json:"name"`
	Layer      string                 `json:"layer"`
	Resolution string                 `json:"resolution"`
	BBox       common.BoundingBox     `json:"bbox"`
	Zoom       int                    `json:"zoom"`
	StartDate  string                 `json:"startDate"`
	EndDate    string                 `json:"endDate"`
	Priority   int                    `json:"priority"`
	Video      taskqueue.VideoOptions `json:"video"`
}

func (s *Server) handleCreateAnimation(c echo.Context) error {
	var req createAnimationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Layer == "" {
		req.Layer = gibs.DefaultLayer
	}
	if req.Resolution == "" {
		if layer, err := gibs.LayerByID(req.Layer); err == nil {
			req.Resolution = layer.Resolution
		}
	}
	if req.Video.OutputFormat == "" {
		req.Video.OutputFormat = "mp4"
	}
	if req.Name == "" {
		req.Name = fmt.Sprintf("%s %s to %s", req.Layer, req.StartDate, req.EndDate)
	}

	task := taskqueue.NewAnimationTask(req.Name, req.Layer, req.Resolution,
		req.BBox, req.Zoom, req.StartDate, req.EndDate, req.Video)
	task.Priority = req.Priority

	if err := s.queue.AddTask(task); err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, task)
}

func (s *Server) handleListAnimations(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.GetAllTasks())
}

func (s *Server) handleGetAnimation(c echo.Context) error {
	task, err := s.queue.GetTask(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteAnimation(c echo.Context) error {
	if err := s.queue.DeleteTask(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCancelAnimation(c echo.Context) error {
	if err := s.queue.CancelTask(c.Param("id")); err != nil {
		return httpError(err)
	}
	task, err := s.queue.GetTask(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) handleQueueStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.GetStatus())
}

func (s *Server) handleQueueStart(c echo.Context) error {
	if err := s.queue.StartQueue(); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, s.queue.GetStatus())
}

func (s *Server) handleQueuePause(c echo.Context) error {
	if err := s.queue.PauseQueue(); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, s.queue.GetStatus())
}

func (s *Server) handleQueueClearCompleted(c echo.Context) error {
	s.queue.ClearCompleted()
	return c.NoContent(http.StatusNoContent)
}

func intParam(c echo.Context, name string) (int, error) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", common.ErrInvalidArgument, name, c.Param(name))
	}
	return value, nil
}

func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing query parameter %s", common.ErrInvalidArgument, name)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", common.ErrInvalidArgument, name, raw)
	}
	return value, nil
}

func tileRequestFromQuery(c echo.Context) (gibs.TileRequest, error) {
	zoom, err := intQuery(c, "zoom")
	if err != nil {
		return gibs.TileRequest{}, err
	}
	x, err := intQuery(c, "x")
	if err != nil {
		return gibs.TileRequest{}, err
	}
	y, err := intQuery(c, "y")
	if err != nil {
		return gibs.TileRequest{}, err
	}

	req := gibs.TileRequest{
		Layer:      c.QueryParam("layer"),
		Date:       c.QueryParam("date"),
		Resolution: c.QueryParam("resolution"),
		Zoom:       zoom,
		TileX:      x,
		TileY:      y,
	}
	if req.Layer == "" {
		req.Layer = gibs.DefaultLayer
	}
	return req, req.Validate()
}
