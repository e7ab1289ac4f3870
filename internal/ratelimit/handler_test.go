package ratelimit

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int) *http.Response {
	return &http.Response{StatusCode: status}
}

func TestCheckResponseMarksProviderLimited(t *testing.T) {
	h := NewHandler(&RetryStrategy{Intervals: []time.Duration{time.Hour}, MaxRetries: 1})
	defer h.Close()

	assert.False(t, h.IsRateLimited("gibs"))

	limited := h.CheckResponse("gibs", response(http.StatusTooManyRequests))
	assert.True(t, limited)
	assert.True(t, h.IsRateLimited("gibs"))

	state := h.CurrentState("gibs")
	require.NotNil(t, state)
	assert.Equal(t, http.StatusTooManyRequests, state.StatusCode)
	assert.Equal(t, 0, state.RetryAttempt)
	assert.True(t, state.NextRetryAt.After(time.Now()))
}

func TestCheckResponseIgnoresHealthyStatuses(t *testing.T) {
	h := NewHandler(nil)
	defer h.Close()

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		assert.False(t, h.CheckResponse("gibs", response(status)), "status %d", status)
	}
	assert.False(t, h.IsRateLimited("gibs"))
}

func TestRepeatedLimitsIncrementRetryAttempt(t *testing.T) {
	h := NewHandler(&RetryStrategy{Intervals: []time.Duration{time.Hour}, MaxRetries: 0})
	defer h.Close()

	h.CheckResponse("gibs", response(http.StatusTooManyRequests))
	h.CheckResponse("gibs", response(509))

	state := h.CurrentState("gibs")
	require.NotNil(t, state)
	assert.Equal(t, 1, state.RetryAttempt)
	assert.Equal(t, 509, state.StatusCode)
}

func TestCleanResponseClearsLimit(t *testing.T) {
	h := NewHandler(&RetryStrategy{Intervals: []time.Duration{time.Hour}, MaxRetries: 0})
	defer h.Close()

	var recovered []string
	var mu sync.Mutex
	done := make(chan struct{})
	h.SetOnRecovered(func(provider string) {
		mu.Lock()
		recovered = append(recovered, provider)
		mu.Unlock()
		close(done)
	})

	h.CheckResponse("gibs", response(http.StatusForbidden))
	require.True(t, h.IsRateLimited("gibs"))

	h.CheckResponse("gibs", response(http.StatusOK))
	assert.False(t, h.IsRateLimited("gibs"))
	assert.Nil(t, h.CurrentState("gibs"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recovery callback never fired")
	}
	mu.Lock()
	assert.Equal(t, []string{"gibs"}, recovered)
	mu.Unlock()
}

func TestOnRateLimitCallback(t *testing.T) {
	h := NewHandler(&RetryStrategy{Intervals: []time.Duration{time.Hour}, MaxRetries: 0})
	defer h.Close()

	events := make(chan Event, 1)
	h.SetOnRateLimit(func(event Event) { events <- event })

	h.CheckResponse("gibs", response(http.StatusTooManyRequests))

	select {
	case event := <-events:
		assert.Equal(t, "gibs", event.Provider)
		assert.Contains(t, event.Message, "HTTP 429")
	case <-time.After(time.Second):
		t.Fatal("rate limit callback never fired")
	}
}

func TestManualRetryClearsState(t *testing.T) {
	h := NewHandler(&RetryStrategy{Intervals: []time.Duration{time.Hour}, MaxRetries: 0})
	defer h.Close()

	h.CheckResponse("gibs", response(http.StatusTooManyRequests))
	require.True(t, h.IsRateLimited("gibs"))

	h.ManualRetry("gibs")
	assert.False(t, h.IsRateLimited("gibs"))

	// Clearing an unknown provider is a no-op
	h.ManualRetry("nonexistent")
}

func TestProvidersTrackedIndependently(t *testing.T) {
	h := NewHandler(&RetryStrategy{Intervals: []time.Duration{time.Hour}, MaxRetries: 0})
	defer h.Close()

	h.CheckResponse("gibs", response(http.StatusTooManyRequests))
	assert.True(t, h.IsRateLimited("gibs"))
	assert.False(t, h.IsRateLimited("other"))
}
