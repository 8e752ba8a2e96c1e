package types

import "errors"

var (
	// ErrNoData means the store, or the requested range, holds no records.
	ErrNoData = errors.New("no price data available for the specified timeframe")
	// ErrNoSequenceFound means records exist but no fully populated run of the
	// requested length fits the window.
	ErrNoSequenceFound = errors.New("no suitable price sequence found")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransientStore wraps store timeouts and connection failures, safe to retry.
	ErrTransientStore = errors.New("price store unavailable")
	// ErrFetch is reported by ingestion only, never by queries.
	ErrFetch = errors.New("fetching prices failed")
)
