package common

import "errors"

// ErrInvalidArgument marks caller errors: malformed dates, unknown layers
// or resolutions, bad ranges, non-positive concurrency. Handlers map it
// to HTTP 400; everything else unexpected maps to 500.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrRateLimited is returned when the upstream provider is throttling us
// and the rate limit handler has paused outbound fetches.
var ErrRateLimited = errors.New("rate limited")
