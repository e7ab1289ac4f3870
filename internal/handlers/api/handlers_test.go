package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terra-imagery/internal/cache"
	"terra-imagery/internal/gibs"
	"terra-imagery/internal/imagery"
	"terra-imagery/internal/ratelimit"
	"terra-imagery/internal/sequence"
	"terra-imagery/internal/taskqueue"
)

type stubTiles struct {
	calls   atomic.Int64
	failOn  map[string]bool
	payload []byte
}

func (s *stubTiles) FetchTile(_ context.Context, req gibs.TileRequest) ([]byte, error) {
	s.calls.Add(1)
	if s.failOn[req.Date] {
		return nil, fmt.Errorf("upstream returned HTTP 404")
	}
	if s.payload != nil {
		return s.payload, nil
	}
	return []byte("tile-" + req.Date), nil
}

func newTestServer(t *testing.T, tiles *stubTiles) *Server {
	t.Helper()
	if tiles == nil {
		tiles = &stubTiles{}
	}
	return NewServer(Options{
		Tiles:              tiles,
		Fetcher:            sequence.NewFetcher(tiles, nil, nil),
		Frames:             imagery.NewFrameBuilder(2, tiles, nil),
		Queue:              taskqueue.NewQueueManager(t.TempDir()),
		RateLimits:         ratelimit.NewHandler(nil),
		DefaultConcurrency: 2,
	})
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHealthz(t *testing.T) {
	rec := doJSON(t, newTestServer(t, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestListLayers(t *testing.T) {
	rec := doJSON(t, newTestServer(t, nil), http.MethodGet, "/api/layers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Layers      []gibs.Layer `json:"layers"`
		Resolutions []string     `json:"resolutions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Layers, 8)
	assert.Equal(t, []string{"250m", "500m", "1km", "4km"}, body.Resolutions)
}

func TestResolveURL(t *testing.T) {
	path := "/api/tiles/url?layer=MODIS_Terra_CorrectedReflectance_TrueColor" +
		"&date=2024-01-15&resolution=250m&zoom=3&x=2&y=4"
	rec := doJSON(t, newTestServer(t, nil), http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasSuffix(body["url"],
		"/default/2024-01-15/250m/3/4/2.jpg"), body["url"])
}

func TestResolveURLRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{
		"/api/tiles/url?date=2024-01-15&resolution=250m&zoom=3&x=2", // missing y
		"/api/tiles/url?date=2024-13-40&resolution=250m&zoom=3&x=2&y=4",
		"/api/tiles/url?date=2024-01-15&resolution=9km&zoom=3&x=2&y=4",
		"/api/tiles/url?date=2024-01-15&resolution=250m&zoom=3&x=-1&y=4",
	} {
		rec := doJSON(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestTileProxy(t *testing.T) {
	tiles := &stubTiles{payload: []byte("jpeg-bytes")}
	s := newTestServer(t, tiles)

	rec := doJSON(t, s, http.MethodGet,
		"/api/tiles/MODIS_Terra_CorrectedReflectance_TrueColor/2024-01-15/250m/3/4/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get(echoContentType))
}

func TestTileProxyPNGLayer(t *testing.T) {
	tiles := &stubTiles{payload: []byte("png-bytes")}
	s := newTestServer(t, tiles)

	rec := doJSON(t, s, http.MethodGet,
		"/api/tiles/MODIS_Terra_Aerosol/2024-01-15/1km/3/4/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echoContentType))
}

func TestTileProxyServesFromCache(t *testing.T) {
	tiles := &stubTiles{payload: []byte("jpeg-bytes")}
	tileCache, err := cache.NewTileCache(t.TempDir(), 50, 7)
	require.NoError(t, err)
	t.Cleanup(tileCache.Close)

	s := NewServer(Options{
		Tiles:              tiles,
		Fetcher:            sequence.NewFetcher(tiles, nil, nil),
		Frames:             imagery.NewFrameBuilder(2, tiles, nil),
		Queue:              taskqueue.NewQueueManager(t.TempDir()),
		RateLimits:         ratelimit.NewHandler(nil),
		Cache:              tileCache,
		DefaultConcurrency: 2,
	})

	path := "/api/tiles/MODIS_Terra_CorrectedReflectance_TrueColor/2024-01-15/250m/3/4/2"
	rec := doJSON(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, tiles.calls.Load())

	// Second request is served from the cache without touching upstream
	rec = doJSON(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.EqualValues(t, 1, tiles.calls.Load())
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	// Default stub payloads are not decodable images, so the frame
	// endpoint fails after its input validation passed
	tiles := &stubTiles{}
	s := newTestServer(t, tiles)

	path := "/api/frames?date=2023-08-01&zoom=3&south=20&west=-20&north=45&east=20"
	rec := doJSON(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
	assert.NotContains(t, rec.Body.String(), "no tiles fetched")
}

func TestSequenceEndpoint(t *testing.T) {
	tiles := &stubTiles{failOn: map[string]bool{"2023-08-03": true}}
	s := newTestServer(t, tiles)

	body := `{
		"layer": "MODIS_Terra_CorrectedReflectance_TrueColor",
		"startDate": "2023-08-01",
		"endDate": "2023-08-05",
		"resolution": "250m",
		"zoom": 3, "tileX": 2, "tileY": 4,
		"concurrency": 2
	}`
	rec := doJSON(t, s, http.MethodPost, "/api/sequences", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var report sequence.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 5, report.TotalCount)
	assert.Equal(t, 4, report.SuccessCount)
	require.Len(t, report.Results, 5)
	assert.False(t, report.Results[2].Success)
	assert.Equal(t, "2023-08-03", report.Results[2].Date)
}

func TestSequenceEndpointDefaults(t *testing.T) {
	tiles := &stubTiles{}
	s := newTestServer(t, tiles)

	// No layer, no concurrency: server fills both in
	body := `{
		"startDate": "2023-08-01",
		"endDate": "2023-08-01",
		"resolution": "250m",
		"zoom": 3, "tileX": 2, "tileY": 4
	}`
	rec := doJSON(t, s, http.MethodPost, "/api/sequences", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var report sequence.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, gibs.DefaultLayer, report.Layer)
	assert.Equal(t, 1, report.TotalCount)
}

func TestSequenceEndpointRejectsBadRange(t *testing.T) {
	tiles := &stubTiles{}
	s := newTestServer(t, tiles)

	body := `{
		"startDate": "2023-08-05",
		"endDate": "2023-08-01",
		"resolution": "250m",
		"zoom": 3, "tileX": 2, "tileY": 4,
		"concurrency": 2
	}`
	rec := doJSON(t, s, http.MethodPost, "/api/sequences", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, tiles.calls.Load())
}

func TestAnimationCRUD(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{
		"name": "august",
		"layer": "MODIS_Terra_CorrectedReflectance_TrueColor",
		"bbox": {"south": 20, "west": -20, "north": 45, "east": 20},
		"zoom": 3,
		"startDate": "2023-08-01",
		"endDate": "2023-08-05",
		"video": {"outputFormat": "gif", "frameDelay": 0.5, "quality": 90}
	}`
	rec := doJSON(t, s, http.MethodPost, "/api/animations", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created taskqueue.AnimationTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, taskqueue.TaskStatusPending, created.Status)
	// Resolution defaulted from the layer catalog
	assert.Equal(t, "250m", created.Resolution)

	rec = doJSON(t, s, http.MethodGet, "/api/animations/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/animations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []taskqueue.AnimationTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	rec = doJSON(t, s, http.MethodDelete, "/api/animations/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/animations/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnimationRejectsInvalid(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{
		"layer": "MODIS_Terra_CorrectedReflectance_TrueColor",
		"bbox": {"south": 45, "west": -20, "north": 20, "east": 20},
		"zoom": 3,
		"startDate": "2023-08-01",
		"endDate": "2023-08-05",
		"video": {"outputFormat": "mp4"}
	}`
	rec := doJSON(t, s, http.MethodPost, "/api/animations", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func encodedTile(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestFrameEndpointJPEG(t *testing.T) {
	tiles := &stubTiles{payload: encodedTile(t)}
	s := newTestServer(t, tiles)

	// 2x2 tile region at zoom 3
	path := "/api/frames?date=2023-08-01&zoom=3&south=20&west=-20&north=45&east=20"
	rec := doJSON(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get(echoContentType))

	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
	assert.Equal(t, 512, img.Bounds().Dy())
	assert.EqualValues(t, 4, tiles.calls.Load())
}

func TestFrameEndpointGeoTIFF(t *testing.T) {
	tiles := &stubTiles{payload: encodedTile(t)}
	s := newTestServer(t, tiles)

	path := "/api/frames?date=2023-08-01&zoom=3&south=20&west=-20&north=45&east=20&format=geotiff"
	rec := doJSON(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/tiff", rec.Header().Get(echoContentType))
	// Little-endian TIFF magic
	assert.Equal(t, []byte{'I', 'I', 0x2A, 0x00}, rec.Body.Bytes()[:4])
}

func TestFrameEndpointRejectsBadRegion(t *testing.T) {
	s := newTestServer(t, nil)

	// North below south
	path := "/api/frames?date=2023-08-01&zoom=3&south=45&west=-20&north=20&east=20"
	rec := doJSON(t, s, http.MethodGet, path, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown format
	path = "/api/frames?date=2023-08-01&zoom=3&south=20&west=-20&north=45&east=20&format=bmp"
	rec = doJSON(t, s, http.MethodGet, path, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status taskqueue.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.IsRunning)
	assert.Zero(t, status.TotalTasks)
}

func TestRateLimitStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/ratelimit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rateLimited":false`)

	s.rateLimits.CheckResponse(gibs.Provider, &http.Response{StatusCode: http.StatusTooManyRequests})

	rec = doJSON(t, s, http.MethodGet, "/api/ratelimit", "")
	assert.Contains(t, rec.Body.String(), `"rateLimited":true`)

	rec = doJSON(t, s, http.MethodPost, "/api/ratelimit/retry", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, s.rateLimits.IsRateLimited(gibs.Provider))
}
