package imagery

import (
	"fmt"
	"image"
	"io"
	"math"

	"terra-imagery/internal/common"
	"terra-imagery/pkg/geotiff"
)

// Web Mercator half-world extent in meters
const mercatorOrigin = 20037508.342789244

// SpecBounds returns the tile bounds a frame built from spec covers
func SpecBounds(spec FrameSpec) (common.TileBounds, error) {
	return common.BoundsForTiles(common.TilesForBBox(spec.BBox, spec.Zoom))
}

// WriteGeoTIFF writes a composed frame as a georeferenced TIFF in
// EPSG:3857. bounds must be the tile bounds the frame was stitched from,
// with the image's pixel (0,0) at the bounds' northwest corner.
func WriteGeoTIFF(w io.Writer, img image.Image, bounds common.TileBounds, zoom int) error {
	tileSpan := 2 * mercatorOrigin / math.Pow(2, float64(zoom))
	pixelSize := tileSpan / common.TileSize

	originX := -mercatorOrigin + float64(bounds.MinCol)*tileSpan
	originY := mercatorOrigin - float64(bounds.MinRow)*tileSpan

	extraTags := map[uint16]interface{}{
		// GTModelType projected, GTRasterType pixel-is-area, CRS EPSG:3857
		geotiff.TagGeoKeyDirectory: []uint16{
			1, 1, 0, 3,
			1024, 0, 1, 1,
			1025, 0, 1, 1,
			3072, 0, 1, 3857,
		},
		geotiff.TagModelPixelScale: []float64{pixelSize, pixelSize, 0.0},
		geotiff.TagModelTiepoint:   []float64{0.0, 0.0, 0.0, originX, originY, 0.0},
	}

	if err := geotiff.Encode(w, img, extraTags); err != nil {
		return fmt.Errorf("failed to encode GeoTIFF: %w", err)
	}
	return nil
}
