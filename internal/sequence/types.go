package sequence

import (
	"fmt"

	"terra-imagery/internal/common"
	"terra-imagery/internal/gibs"
)

// Request describes one tile position fetched across a date range.
// Every date in [StartDate, EndDate] produces one result.
type Request struct {
	Layer       string `json:"layer"`
	StartDate   string `json:"startDate"` // YYYY-MM-DD, inclusive
	EndDate     string `json:"endDate"`   // YYYY-MM-DD, inclusive
	Resolution  string `json:"resolution"`
	Zoom        int    `json:"zoom"`
	TileX       int    `json:"tileX"`
	TileY       int    `json:"tileY"`
	Concurrency int    `json:"concurrency"` // max in-flight fetches, must be > 0

	// Persist stores fetched frames through the configured frame store
	Persist bool `json:"persist,omitempty"`
}

// Validate rejects a malformed request before any network traffic
func (r Request) Validate() error {
	if r.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive (got %d)",
			common.ErrInvalidArgument, r.Concurrency)
	}

	start, err := common.ParseISO8601(r.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start date %q: %v", common.ErrInvalidArgument, r.StartDate, err)
	}
	end, err := common.ParseISO8601(r.EndDate)
	if err != nil {
		return fmt.Errorf("%w: end date %q: %v", common.ErrInvalidArgument, r.EndDate, err)
	}
	if start.After(end) {
		return fmt.Errorf("%w: start date %s is after end date %s",
			common.ErrInvalidArgument, r.StartDate, r.EndDate)
	}

	// Tile addressing rules are shared with single-tile fetches
	return r.tileRequest(r.StartDate).Validate()
}

func (r Request) tileRequest(date string) gibs.TileRequest {
	return gibs.TileRequest{
		Layer:      r.Layer,
		Date:       date,
		Resolution: r.Resolution,
		Zoom:       r.Zoom,
		TileX:      r.TileX,
		TileY:      r.TileY,
	}
}

// TileResult is the outcome for one date in the sequence
type TileResult struct {
	Date    string `json:"date"`
	URL     string `json:"url"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`

	// StorageKey is set when the frame was persisted to the frame store
	StorageKey string `json:"storageKey,omitempty"`
}

// Report is the complete outcome of a sequence fetch. Results holds one
// entry per requested date, in the same order as RequestedDates, no matter
// which fetches finished first.
type Report struct {
	Layer          string       `json:"layer"`
	RequestedDates []string     `json:"requestedDates"`
	Results        []TileResult `json:"results"`
	TotalCount     int          `json:"totalCount"`
	SuccessCount   int          `json:"successCount"`
}
