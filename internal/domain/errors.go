package domain

import "errors"

var (
	// ErrRateLimited marks venue responses classified as throttling.
	ErrRateLimited = errors.New("rate limited")

	// ErrMarketData marks snapshots that failed to fetch or came back
	// internally inconsistent.
	ErrMarketData = errors.New("market data unavailable")
)
