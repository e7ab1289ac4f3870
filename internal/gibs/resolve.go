package gibs

import (
	"fmt"

	"terra-imagery/internal/common"
)

// TileRequest addresses a single dated GIBS tile. Values are fixed at
// construction; a sequence fetch builds one per date.
type TileRequest struct {
	Layer      string `json:"layer"`
	Date       string `json:"date"` // YYYY-MM-DD
	Resolution string `json:"resolution"`
	Zoom       int    `json:"zoom"`
	TileX      int    `json:"tileX"`
	TileY      int    `json:"tileY"`
}

// Validate checks every field of the request without touching the network
func (r TileRequest) Validate() error {
	if r.Layer == "" {
		return fmt.Errorf("%w: layer is required", common.ErrInvalidArgument)
	}
	if !common.ValidateISO8601(r.Date) {
		return fmt.Errorf("%w: date %q is not in YYYY-MM-DD form", common.ErrInvalidArgument, r.Date)
	}
	if !ValidResolution(r.Resolution) {
		return fmt.Errorf("%w: resolution %q (must be one of %v)", common.ErrInvalidArgument, r.Resolution, Resolutions())
	}
	if r.Zoom < 0 || r.TileX < 0 || r.TileY < 0 {
		return fmt.Errorf("%w: zoom/tileX/tileY must be non-negative (got %d/%d/%d)",
			common.ErrInvalidArgument, r.Zoom, r.TileX, r.TileY)
	}
	return nil
}

// Resolve builds the GIBS WMTS tile URL for the request. It is pure and
// deterministic: identical requests always produce identical URLs, so the
// output is safe to cache and to test without network access.
//
// URL shape: {base}/{layer}/default/{date}/{resolution}/{zoom}/{tileY}/{tileX}.{ext}
func Resolve(layer, date, resolution string, zoom, tileX, tileY int) (string, error) {
	req := TileRequest{
		Layer:      layer,
		Date:       date,
		Resolution: resolution,
		Zoom:       zoom,
		TileX:      tileX,
		TileY:      tileY,
	}
	return ResolveRequest(req)
}

// ResolveRequest is Resolve for an already-built TileRequest
func ResolveRequest(req TileRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	ext := "jpg"
	if layer, err := LayerByID(req.Layer); err == nil {
		ext = layer.Format
	}

	return fmt.Sprintf("%s/%s/default/%s/%s/%d/%d/%d.%s",
		BaseURL, req.Layer, req.Date, req.Resolution,
		req.Zoom, req.TileY, req.TileX, ext), nil
}
