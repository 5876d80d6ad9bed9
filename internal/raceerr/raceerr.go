// Package raceerr collects the sentinel error values shared across the
// ingestion, storage, and analysis layers, so that callers can classify
// failures with errors.Is instead of matching on strings.
package raceerr

import "errors"

var (
	// ErrNotFound is returned when a trace, event, or variable has no
	// matching rows in the configured storage backend.
	ErrNotFound = errors.New("raceway: not found")

	// ErrValidation is returned when an ingested event batch fails
	// structural validation. The whole batch is rejected.
	ErrValidation = errors.New("raceway: validation failed")

	// ErrBackpressure is returned by the ingest pipeline when the
	// in-flight event count exceeds the configured ceiling.
	ErrBackpressure = errors.New("raceway: ingest backpressure")

	// ErrGraphTooLarge is returned when a merged trace exceeds the
	// configured maximum event count for in-memory analysis.
	ErrGraphTooLarge = errors.New("raceway: graph exceeds analysis size budget")

	// ErrCyclicGraph is matched by the *graph.CyclicGraphError returned
	// when the Parent edges of an event set do not form a DAG.
	ErrCyclicGraph = errors.New("raceway: cyclic parent chain")

	// ErrUnauthorized classifies a bearer API key that does not match
	// the configured key. httpapi.BearerAuth writes its 401 response
	// directly and does not return this value.
	ErrUnauthorized = errors.New("raceway: unauthorized")

	// ErrStorageUnavailable classifies a storage backend that cannot be
	// reached. No storage call in this module retries a failed
	// operation, and none returns this value.
	ErrStorageUnavailable = errors.New("raceway: storage unavailable")
)
