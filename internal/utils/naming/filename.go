package naming

import (
	"fmt"
	"math"
	"strings"
)

// SanitizeCoordinate formats a coordinate for filenames using N/S/E/W and
// 'p' for the decimal point, keeping names portable across filesystems
func SanitizeCoordinate(coord float64, isLat bool) string {
	dir := "E"
	if isLat {
		if coord < 0 {
			dir = "S"
		} else {
			dir = "N"
		}
	} else if coord < 0 {
		dir = "W"
	}
	coordStr := fmt.Sprintf("%.4f", math.Abs(coord))
	coordStr = strings.Replace(coordStr, ".", "p", 1)
	return coordStr + dir
}

// BBoxString builds the filename fragment for a bounding box
func BBoxString(south, west, north, east float64) string {
	return fmt.Sprintf("%s-%s_%s-%s",
		SanitizeCoordinate(south, true),
		SanitizeCoordinate(north, true),
		SanitizeCoordinate(west, false),
		SanitizeCoordinate(east, false))
}

// AnimationFilename names an exported animation:
// {layer}_{startDate}_to_{endDate}_z{zoom}_{bbox}.{format}
func AnimationFilename(layer, startDate, endDate string, south, west, north, east float64, zoom int, format string) string {
	return fmt.Sprintf("%s_%s_to_%s_z%d_%s.%s",
		layer, startDate, endDate, zoom,
		BBoxString(south, west, north, east), format)
}

// FrameDirName names the working directory holding a job's composed frames
func FrameDirName(layer, startDate, endDate string, zoom int) string {
	return fmt.Sprintf("%s_%s_to_%s_z%d_frames", layer, startDate, endDate, zoom)
}
