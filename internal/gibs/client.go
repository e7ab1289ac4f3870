package gibs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"terra-imagery/internal/common"
	"terra-imagery/internal/ratelimit"
)

const (
	// UserAgent identifies the service to NASA's edge servers
	UserAgent = "terra-imagery/1.0 (+https://gibs.earthdata.nasa.gov)"

	// maxTileBytes caps a single tile read; GIBS tiles are a few hundred KB at most
	maxTileBytes = 8 << 20
)

// TileFetcher fetches the bytes behind a resolved tile request. The sequence
// fetcher and frame builder depend on this interface so tests can substitute
// an instrumented fake transport.
type TileFetcher interface {
	FetchTile(ctx context.Context, req TileRequest) ([]byte, error)
}

// Client handles communication with the NASA GIBS WMTS endpoint
type Client struct {
	httpClient *http.Client
	rateLimits *ratelimit.Handler
}

// NewClient creates a new GIBS client with system proxy support
func NewClient(rateLimits *ratelimit.Handler) *Client {
	// Use http.ProxyFromEnvironment to respect system proxy settings
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		rateLimits: rateLimits,
	}
}

// FetchTile downloads one tile image. Any transport error or non-200 status
// is returned as an error; callers decide whether that fails a batch.
func (c *Client) FetchTile(ctx context.Context, req TileRequest) ([]byte, error) {
	tileURL, err := ResolveRequest(req)
	if err != nil {
		return nil, err
	}
	return c.FetchURL(ctx, tileURL)
}

// FetchURL downloads an already-resolved tile URL
func (c *Client) FetchURL(ctx context.Context, tileURL string) ([]byte, error) {
	if c.rateLimits != nil && c.rateLimits.IsRateLimited(Provider) {
		return nil, fmt.Errorf("%w: %s fetch suppressed", common.ErrRateLimited, Provider)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if c.rateLimits != nil && c.rateLimits.CheckResponse(Provider, resp) {
		return nil, fmt.Errorf("%w: HTTP %d from %s", common.ErrRateLimited, resp.StatusCode, Provider)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile request failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile body: %w", err)
	}
	return data, nil
}
