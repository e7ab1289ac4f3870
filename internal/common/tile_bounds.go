package common

import "fmt"

// TileBounds is the min/max row and column extent of a tile set
type TileBounds struct {
	MinCol int
	MaxCol int
	MinRow int
	MaxRow int
}

// Cols returns the number of columns in the bounds
func (tb TileBounds) Cols() int {
	return tb.MaxCol - tb.MinCol + 1
}

// Rows returns the number of rows in the bounds
func (tb TileBounds) Rows() int {
	return tb.MaxRow - tb.MinRow + 1
}

// BoundsForTiles calculates the covering bounds of a set of tile coordinates
func BoundsForTiles(tiles []TileCoord) (TileBounds, error) {
	if len(tiles) == 0 {
		return TileBounds{}, fmt.Errorf("no tiles provided")
	}

	bounds := TileBounds{
		MinCol: tiles[0].X,
		MaxCol: tiles[0].X,
		MinRow: tiles[0].Y,
		MaxRow: tiles[0].Y,
	}

	for _, tile := range tiles[1:] {
		if tile.X < bounds.MinCol {
			bounds.MinCol = tile.X
		}
		if tile.X > bounds.MaxCol {
			bounds.MaxCol = tile.X
		}
		if tile.Y < bounds.MinRow {
			bounds.MinRow = tile.Y
		}
		if tile.Y > bounds.MaxRow {
			bounds.MaxRow = tile.Y
		}
	}

	return bounds, nil
}
