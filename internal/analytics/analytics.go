// Package analytics sends anonymous usage events to PostHog.
// All calls are no-ops when no API key is configured.
package analytics

import (
	"log"

	"github.com/posthog/posthog-go"
)

// Tracker wraps an optional PostHog client
type Tracker struct {
	client     posthog.Client
	distinctID string
}

// New creates a tracker. An empty apiKey disables analytics entirely.
func New(apiKey, endpoint, distinctID string) *Tracker {
	t := &Tracker{distinctID: distinctID}
	if apiKey == "" {
		return t
	}

	cfg := posthog.Config{}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}

	client, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		log.Printf("[Analytics] Failed to initialize PostHog: %v", err)
		return t
	}
	t.client = client
	return t
}

// Enabled reports whether events are actually sent
func (t *Tracker) Enabled() bool {
	return t.client != nil
}

// Track enqueues an event with the given properties
func (t *Tracker) Track(event string, props map[string]interface{}) {
	if t.client == nil {
		return
	}

	properties := posthog.Properties{}
	for k, v := range props {
		properties[k] = v
	}

	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Printf("[Analytics] Failed to enqueue %s: %v", event, err)
	}
}

// SequenceFetched records a completed sequence fetch
func (t *Tracker) SequenceFetched(layer string, totalDates, successCount int) {
	t.Track("sequence_fetched", map[string]interface{}{
		"layer":         layer,
		"total_dates":   totalDates,
		"success_count": successCount,
	})
}

// AnimationFinished records an animation job outcome
func (t *Tracker) AnimationFinished(layer, format string, frames int, success bool) {
	t.Track("animation_finished", map[string]interface{}{
		"layer":   layer,
		"format":  format,
		"frames":  frames,
		"success": success,
	})
}

// Close flushes pending events
func (t *Tracker) Close() {
	if t.client != nil {
		t.client.Close()
	}
}
