package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPrice is returned for negative, empty-keyed or unparsable prices.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrExhaustedRetries marks a cycle that fell back after every attempt failed.
	ErrExhaustedRetries = errors.New("pricing fetch retries exhausted")
	// ErrNoLivePrices marks a fetch in which every category failed.
	ErrNoLivePrices = errors.New("no category returned live prices")
)

// CategoryFetchError reports that one category could not be priced.
// It is absorbed by substituting fallback values for the category.
type CategoryFetchError struct {
	Category Category
	Key      string // empty when the failure is not tied to a single key
	Err      error
}

func (e *CategoryFetchError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("fetch %s/%s: %v", e.Category, e.Key, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Category, e.Err)
}

func (e *CategoryFetchError) Unwrap() error { return e.Err }

// TransportUnavailableError reports that the pricing source could not be
// reached at all. It drives retry with backoff.
type TransportUnavailableError struct {
	Err error
}

func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("pricing transport unavailable: %v", e.Err)
}

func (e *TransportUnavailableError) Unwrap() error { return e.Err }

// EncodingError reports a snapshot that cannot be serialized losslessly.
// Nothing is written when it is returned.
type EncodingError struct {
	SnapshotID string
	Category   Category
	Key        string
	Err        error
}

func (e *EncodingError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("encode snapshot %s: %s/%s: %v", e.SnapshotID, e.Category, e.Key, e.Err)
	case e.Category != "":
		return fmt.Sprintf("encode snapshot %s: %s: %v", e.SnapshotID, e.Category, e.Err)
	}
	return fmt.Sprintf("encode snapshot %s: %v", e.SnapshotID, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }
