package sequence

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terra-imagery/internal/common"
	"terra-imagery/internal/gibs"
)

// fakeTileFetcher serves canned tile bytes while tracking how many fetches
// run at the same time
type fakeTileFetcher struct {
	mu       sync.Mutex
	inFlight int64
	maxSeen  int64
	calls    int64
	failOn   map[string]error
	delay    time.Duration
	jitter   bool
}

func (f *fakeTileFetcher) FetchTile(ctx context.Context, req gibs.TileRequest) ([]byte, error) {
	current := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)
	atomic.AddInt64(&f.calls, 1)

	f.mu.Lock()
	if current > f.maxSeen {
		f.maxSeen = current
	}
	f.mu.Unlock()

	delay := f.delay
	if f.jitter {
		delay = time.Duration(rand.Intn(20)) * time.Millisecond
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := f.failOn[req.Date]; ok {
		return nil, err
	}
	return []byte("tile-" + req.Date), nil
}

func (f *fakeTileFetcher) maxConcurrent() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

type fakeFrameStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *fakeFrameStore) SaveFrame(_ context.Context, req gibs.TileRequest, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%s", req.Layer, req.Date)
	s.keys = append(s.keys, key)
	return key, nil
}

func baseRequest() Request {
	return Request{
		Layer:       gibs.DefaultLayer,
		StartDate:   "2023-08-01",
		EndDate:     "2023-08-05",
		Resolution:  "250m",
		Zoom:        3,
		TileX:       2,
		TileY:       4,
		Concurrency: 2,
	}
}

func TestFetchSequencePartialFailure(t *testing.T) {
	fake := &fakeTileFetcher{
		failOn: map[string]error{
			"2023-08-03": errors.New("upstream returned 503"),
		},
	}
	fetcher := NewFetcher(fake, nil, nil)

	report, err := fetcher.FetchSequence(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalCount)
	assert.Equal(t, 4, report.SuccessCount)
	require.Len(t, report.Results, 5)

	failed := report.Results[2]
	assert.Equal(t, "2023-08-03", failed.Date)
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Error, "503")

	for i, result := range report.Results {
		if i == 2 {
			continue
		}
		assert.True(t, result.Success, "date %s should have succeeded", result.Date)
		assert.Empty(t, result.Error)
	}
}

func TestFetchSequenceOrderPreserved(t *testing.T) {
	fake := &fakeTileFetcher{jitter: true}
	fetcher := NewFetcher(fake, nil, nil)

	req := baseRequest()
	req.StartDate = "2024-03-01"
	req.EndDate = "2024-03-10"
	req.Concurrency = 4

	report, err := fetcher.FetchSequence(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, report.RequestedDates, 10)
	require.Len(t, report.Results, 10)
	for i, date := range report.RequestedDates {
		assert.Equal(t, date, report.Results[i].Date)
	}
	assert.Equal(t, "2024-03-01", report.Results[0].Date)
	assert.Equal(t, "2024-03-10", report.Results[9].Date)
}

func TestFetchSequenceConcurrencyCap(t *testing.T) {
	fake := &fakeTileFetcher{delay: 10 * time.Millisecond}
	fetcher := NewFetcher(fake, nil, nil)

	req := baseRequest()
	req.EndDate = "2023-08-12" // 12 dates
	req.Concurrency = 2

	report, err := fetcher.FetchSequence(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 12, report.SuccessCount)
	assert.LessOrEqual(t, fake.maxConcurrent(), int64(2))
	assert.Equal(t, int64(12), atomic.LoadInt64(&fake.calls))
}

func TestFetchSequenceSingleDay(t *testing.T) {
	fake := &fakeTileFetcher{}
	fetcher := NewFetcher(fake, nil, nil)

	req := baseRequest()
	req.EndDate = req.StartDate

	report, err := fetcher.FetchSequence(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalCount)
	assert.Equal(t, 1, report.SuccessCount)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "2023-08-01", report.Results[0].Date)
	assert.Contains(t, report.Results[0].URL, "/default/2023-08-01/250m/3/4/2.jpg")
}

func TestFetchSequenceInvalidRequests(t *testing.T) {
	fake := &fakeTileFetcher{}
	fetcher := NewFetcher(fake, nil, nil)

	cases := map[string]func(r *Request){
		"reversed range":   func(r *Request) { r.StartDate, r.EndDate = r.EndDate, r.StartDate },
		"zero concurrency": func(r *Request) { r.Concurrency = 0 },
		"negative concurrency": func(r *Request) { r.Concurrency = -3 },
		"malformed start":  func(r *Request) { r.StartDate = "08/01/2023" },
		"malformed end":    func(r *Request) { r.EndDate = "2023-13-40" },
		"bad resolution":   func(r *Request) { r.Resolution = "100m" },
		"missing layer":    func(r *Request) { r.Layer = "" },
		"negative tile":    func(r *Request) { r.TileX = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := baseRequest()
			mutate(&req)

			report, err := fetcher.FetchSequence(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, common.ErrInvalidArgument)
		})
	}

	// Validation failures must never touch the transport
	assert.Equal(t, int64(0), atomic.LoadInt64(&fake.calls))
}

func TestFetchSequencePersistsFrames(t *testing.T) {
	fake := &fakeTileFetcher{}
	store := &fakeFrameStore{}
	fetcher := NewFetcher(fake, store, nil)

	req := baseRequest()
	req.EndDate = "2023-08-03"
	req.Persist = true

	report, err := fetcher.FetchSequence(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, report.SuccessCount)
	for _, result := range report.Results {
		assert.NotEmpty(t, result.StorageKey)
	}
	assert.Len(t, store.keys, 3)
}

func TestFetchSequenceCancelledContext(t *testing.T) {
	fake := &fakeTileFetcher{delay: time.Second}
	fetcher := NewFetcher(fake, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := fetcher.FetchSequence(ctx, baseRequest())
	require.NoError(t, err)

	assert.Equal(t, 0, report.SuccessCount)
	require.Len(t, report.Results, 5)
	for _, result := range report.Results {
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
	}
}
