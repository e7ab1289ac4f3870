package common

import (
	"fmt"
	"math"
)

// BoundingBox represents a geographic bounding box
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Constants for validation
const (
	MinZoom = 0
	MaxZoom = 9 // GIBS EPSG:4326 best endpoint tops out at level 9 for 250m layers

	TileSize = 256 // Standard tile size in pixels (256x256)
)

// Validate checks if the bounding box is valid
func (b BoundingBox) Validate() error {
	if b.South >= b.North {
		return fmt.Errorf("south (%f) must be less than north (%f)", b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("west (%f) must be less than east (%f)", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]: south=%f, north=%f", b.South, b.North)
	}
	if b.West < -180 || b.East > 180 {
		return fmt.Errorf("longitude out of range [-180, 180]: west=%f, east=%f", b.West, b.East)
	}
	return nil
}

// ValidateCoordinates validates zoom level and bounding box together
func ValidateCoordinates(bbox BoundingBox, zoom int) error {
	if zoom < MinZoom || zoom > MaxZoom {
		return fmt.Errorf("zoom level %d out of range [%d, %d]", zoom, MinZoom, MaxZoom)
	}
	return bbox.Validate()
}

// ValidateTileCoordinates validates individual tile coordinates
func ValidateTileCoordinates(z, x, y int) error {
	if z < MinZoom || z > MaxZoom {
		return fmt.Errorf("zoom %d out of range [%d, %d]", z, MinZoom, MaxZoom)
	}

	maxTile := (1 << z) - 1
	if x < 0 || x > maxTile {
		return fmt.Errorf("x %d out of range [0, %d] for zoom %d", x, maxTile, z)
	}
	if y < 0 || y > maxTile {
		return fmt.Errorf("y %d out of range [0, %d] for zoom %d", y, maxTile, z)
	}

	return nil
}

// LatLonToTile converts latitude/longitude to tile coordinates
func LatLonToTile(lat, lon float64, zoom int) (x, y int) {
	n := math.Pow(2, float64(zoom))
	x = int((lon + 180.0) / 360.0 * n)
	latRad := lat * math.Pi / 180.0
	y = int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)

	// Clamp to valid range
	maxTile := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > maxTile {
		x = maxTile
	}
	if y < 0 {
		y = 0
	}
	if y > maxTile {
		y = maxTile
	}

	return x, y
}

// TileToLatLon converts tile coordinates to latitude/longitude (tile center)
func TileToLatLon(x, y, zoom int) (lat, lon float64) {
	n := math.Pow(2, float64(zoom))
	lon = float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	lat = latRad * 180.0 / math.Pi
	return lat, lon
}

// TilesForBBox returns every tile coordinate covering the bounding box at
// the given zoom level, row-major from the northwest corner.
func TilesForBBox(bbox BoundingBox, zoom int) []TileCoord {
	minX, minY := LatLonToTile(bbox.North, bbox.West, zoom)
	maxX, maxY := LatLonToTile(bbox.South, bbox.East, zoom)

	tiles := make([]TileCoord, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, TileCoord{X: x, Y: y, Z: zoom})
		}
	}
	return tiles
}

// TileCoord represents a tile coordinate
type TileCoord struct {
	X, Y, Z int
}

// EstimateTileCount estimates the number of tiles needed for a bbox at a zoom
func EstimateTileCount(bbox BoundingBox, zoom int) int {
	minX, minY := LatLonToTile(bbox.North, bbox.West, zoom)
	maxX, maxY := LatLonToTile(bbox.South, bbox.East, zoom)
	return (maxX - minX + 1) * (maxY - minY + 1)
}
