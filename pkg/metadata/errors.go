package metadata

import "github.com/pkg/errors"

var (
	// ErrNotFound means the provider has no record for the key or query.
	ErrNotFound = errors.New("no matching metadata found")
	// ErrRateLimited means the provider rejected the request for quota
	// reasons; the caller may retry later.
	ErrRateLimited = errors.New("rate limited by provider")
	// ErrUnavailable means the provider could not be reached.
	ErrUnavailable = errors.New("metadata provider unavailable")
)
