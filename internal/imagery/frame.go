package imagery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // PNG layers (Aerosol, Chlorophyll) decode through image.Decode
	"log"
	"sync"
	"sync/atomic"

	"terra-imagery/internal/cache"
	"terra-imagery/internal/common"
	"terra-imagery/internal/gibs"
	"terra-imagery/internal/metrics"
)

// MaxFrameTiles caps the tile grid for a single frame. Larger regions
// should drop to a coarser zoom level instead.
const MaxFrameTiles = 25

// FrameSpec describes one composed frame: a layer, a date, and the
// geographic region to cover
type FrameSpec struct {
	Layer      string             `json:"layer"`
	Resolution string             `json:"resolution"`
	Date       string             `json:"date"`
	Zoom       int                `json:"zoom"`
	BBox       common.BoundingBox `json:"bbox"`
}

// Validate rejects a malformed spec before any tiles are fetched
func (s FrameSpec) Validate() error {
	if _, err := gibs.LayerByID(s.Layer); err != nil {
		return err
	}
	if !common.ValidateISO8601(s.Date) {
		return fmt.Errorf("%w: date %q is not in YYYY-MM-DD form", common.ErrInvalidArgument, s.Date)
	}
	if err := common.ValidateCoordinates(s.BBox, s.Zoom); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
	}
	if count := common.EstimateTileCount(s.BBox, s.Zoom); count > MaxFrameTiles {
		return fmt.Errorf("%w: region needs %d tiles at zoom %d, limit is %d (reduce zoom)",
			common.ErrInvalidArgument, count, s.Zoom, MaxFrameTiles)
	}
	return nil
}

// FrameBuilder downloads the tiles covering a region and stitches them
// into a single frame image
type FrameBuilder struct {
	workers int
	tiles   gibs.TileFetcher
	cache   *cache.TileCache
}

// NewFrameBuilder creates a frame builder. tileCache may be nil.
func NewFrameBuilder(workers int, tiles gibs.TileFetcher, tileCache *cache.TileCache) *FrameBuilder {
	if workers <= 0 {
		workers = 4
	}
	return &FrameBuilder{
		workers: workers,
		tiles:   tiles,
		cache:   tileCache,
	}
}

type tileResult struct {
	coord   common.TileCoord
	data    []byte
	success bool
}

// BuildFrame fetches every tile covering the spec's region and composes
// them into one RGBA image. Tiles that fail to download leave black gaps;
// the frame only fails when no tile at all could be fetched.
func (b *FrameBuilder) BuildFrame(ctx context.Context, spec FrameSpec) (image.Image, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	coords := common.TilesForBBox(spec.BBox, spec.Zoom)
	if len(coords) == 0 {
		return nil, fmt.Errorf("%w: region covers no tiles", common.ErrInvalidArgument)
	}

	total := len(coords)
	var fetched int64

	tileChan := make(chan common.TileCoord, total)
	resultChan := make(chan tileResult, total)

	workerCount := b.workers
	if total < workerCount {
		workerCount = total
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for coord := range tileChan {
				data, err := b.fetchTile(ctx, spec, coord)
				atomic.AddInt64(&fetched, 1)
				if err != nil {
					log.Printf("[Frame] Tile %d/%d/%d on %s failed: %v",
						coord.Z, coord.X, coord.Y, spec.Date, err)
					resultChan <- tileResult{coord: coord}
					continue
				}
				resultChan <- tileResult{coord: coord, data: data, success: true}
			}
		}()
	}

	go func() {
		for _, coord := range coords {
			tileChan <- coord
		}
		close(tileChan)
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	bounds, err := common.BoundsForTiles(coords)
	if err != nil {
		return nil, err
	}

	outputImg := image.NewRGBA(image.Rect(0, 0,
		bounds.Cols()*common.TileSize, bounds.Rows()*common.TileSize))

	successCount := 0
	for result := range resultChan {
		if !result.success {
			continue
		}

		img, _, err := image.Decode(bytes.NewReader(result.data))
		if err != nil {
			log.Printf("[Frame] Tile %d/%d/%d on %s decode failed: %v",
				result.coord.Z, result.coord.X, result.coord.Y, spec.Date, err)
			continue
		}

		// GIBS tiles use a top-left origin, so rows map straight down
		xOffset := (result.coord.X - bounds.MinCol) * common.TileSize
		yOffset := (result.coord.Y - bounds.MinRow) * common.TileSize

		destRect := image.Rect(xOffset, yOffset,
			xOffset+common.TileSize, yOffset+common.TileSize)
		draw.Draw(outputImg, destRect, img, image.Point{}, draw.Src)

		successCount++
	}

	if successCount == 0 {
		return nil, fmt.Errorf("no tiles fetched for %s on %s", spec.Layer, spec.Date)
	}
	if successCount < total {
		log.Printf("[Frame] %s %s: %d/%d tiles fetched", spec.Layer, spec.Date, successCount, total)
	}

	return outputImg, nil
}

// fetchTile serves a tile from cache when possible and stores fresh
// downloads back into it
func (b *FrameBuilder) fetchTile(ctx context.Context, spec FrameSpec, coord common.TileCoord) ([]byte, error) {
	req := gibs.TileRequest{
		Layer:      spec.Layer,
		Date:       spec.Date,
		Resolution: spec.Resolution,
		Zoom:       coord.Z,
		TileX:      coord.X,
		TileY:      coord.Y,
	}

	if b.cache != nil {
		if data, hit := b.cache.Get(req); hit {
			if m := metrics.Get(); m != nil {
				m.CacheHits.Inc()
			}
			return data, nil
		}
		if m := metrics.Get(); m != nil {
			m.CacheMisses.Inc()
		}
	}

	data, err := b.tiles.FetchTile(ctx, req)
	if err != nil {
		return nil, err
	}

	if b.cache != nil {
		if err := b.cache.Set(req, data); err != nil {
			log.Printf("[Frame] Failed to cache tile: %v", err)
		}
	}

	return data, nil
}

// EncodeJPEG renders a frame to JPEG bytes at the given quality
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
