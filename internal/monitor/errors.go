package monitor

import "errors"

var (
	// ErrSourceUnavailable means the price source returned nothing usable after retries.
	ErrSourceUnavailable = errors.New("price source unavailable")
	// ErrMalformedObservation marks a single unusable observation.
	ErrMalformedObservation = errors.New("malformed observation")
	// ErrSinkRejected means the notification was not confirmed by the provider.
	ErrSinkRejected = errors.New("notification rejected")
	// ErrRateExceeded is the expected outcome once the daily cap is reached.
	ErrRateExceeded = errors.New("daily notification cap reached")
	// ErrConfigInvalid marks a configuration that violates an invariant.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrStoreWriteFailed marks a failed history write.
	ErrStoreWriteFailed = errors.New("history write failed")
)
