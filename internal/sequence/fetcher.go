package sequence

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"terra-imagery/internal/common"
	"terra-imagery/internal/gibs"
)

// FrameStore persists a fetched tile frame and returns its storage key.
// The blob-backed implementation lives in internal/storage.
type FrameStore interface {
	SaveFrame(ctx context.Context, req gibs.TileRequest, data []byte) (string, error)
}

// Metrics receives fetch outcomes; the Prometheus implementation lives in
// internal/metrics. A nil Metrics is valid and records nothing.
type Metrics interface {
	ObserveTileFetch(layer string, success bool, duration time.Duration)
}

// Fetcher downloads the same tile position across a range of dates with a
// bounded number of in-flight requests
type Fetcher struct {
	tiles   gibs.TileFetcher
	store   FrameStore
	metrics Metrics
}

// NewFetcher creates a sequence fetcher. store and metrics may be nil.
func NewFetcher(tiles gibs.TileFetcher, store FrameStore, metrics Metrics) *Fetcher {
	return &Fetcher{
		tiles:   tiles,
		store:   store,
		metrics: metrics,
	}
}

// FetchSequence fetches one tile per date in the request's inclusive range.
//
// Results come back in requested-date order regardless of completion order:
// each worker writes into a pre-assigned slot. A failed date records its
// error and leaves the rest of the sequence running; only an invalid request
// or a cancelled context aborts the whole fetch.
func (f *Fetcher) FetchSequence(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	dates, err := common.EnumerateDates(req.StartDate, req.EndDate)
	if err != nil {
		// Unreachable after Validate, kept for belt and braces
		return nil, err
	}

	report := &Report{
		Layer:          req.Layer,
		RequestedDates: dates,
		Results:        make([]TileResult, len(dates)),
		TotalCount:     len(dates),
	}

	log.Printf("[Sequence] Fetching %s %s..%s (%d dates, concurrency %d)",
		req.Layer, req.StartDate, req.EndDate, len(dates), req.Concurrency)

	sem := semaphore.NewWeighted(int64(req.Concurrency))
	var wg sync.WaitGroup
	var successCount atomic.Int64

	for i, date := range dates {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot. Mark the
			// remaining dates as failed and stop launching workers.
			for j := i; j < len(dates); j++ {
				report.Results[j] = TileResult{
					Date:  dates[j],
					Error: err.Error(),
				}
			}
			break
		}

		wg.Add(1)
		go func(slot int, date string) {
			defer wg.Done()
			defer sem.Release(1)

			result := f.fetchOne(ctx, req, date)
			if result.Success {
				successCount.Add(1)
			}
			report.Results[slot] = result
		}(i, date)
	}

	wg.Wait()
	report.SuccessCount = int(successCount.Load())

	log.Printf("[Sequence] Done %s %s..%s: %d/%d succeeded",
		req.Layer, req.StartDate, req.EndDate, report.SuccessCount, report.TotalCount)

	return report, nil
}

// fetchOne downloads a single dated tile and converts the outcome into a
// result. Failures never propagate as errors; they are captured per date.
func (f *Fetcher) fetchOne(ctx context.Context, req Request, date string) TileResult {
	tileReq := req.tileRequest(date)
	result := TileResult{Date: date}

	// The URL is recorded even for failed fetches so callers can retry
	if url, err := gibs.ResolveRequest(tileReq); err == nil {
		result.URL = url
	}

	start := time.Now()
	data, err := f.tiles.FetchTile(ctx, tileReq)
	if f.metrics != nil {
		f.metrics.ObserveTileFetch(req.Layer, err == nil, time.Since(start))
	}
	if err != nil {
		result.Error = err.Error()
		log.Printf("[Sequence] %s %s failed: %v", req.Layer, date, err)
		return result
	}

	result.Success = true
	result.Bytes = len(data)

	if req.Persist && f.store != nil {
		key, err := f.store.SaveFrame(ctx, tileReq, data)
		if err != nil {
			// Storage trouble does not undo a successful fetch
			log.Printf("[Sequence] Failed to persist %s %s: %v", req.Layer, date, err)
		} else {
			result.StorageKey = key
		}
	}

	return result
}
