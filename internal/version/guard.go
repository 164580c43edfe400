// Package version implements optimistic locking for aggregates carrying a version tag.
//
// A caller loads the aggregate with Load, computes the new value, stamps it with Next and
// writes it with a compare-and-swap on Current. The store aborts the write when another
// writer committed in between; Check rejects an explicitly stale expectation before any
// write is attempted.
package version

import (
	"context"
	"fmt"

	"github.com/hourledger/hourledger/internal/shared"
)

// Aggregate is anything that exposes its stored version.
type Aggregate interface {
	CurrentVersion() int64
}

// Loaded wraps an aggregate with the version it was read at and the version the next
// write must carry.
type Loaded[T Aggregate] struct {
	Data    T
	Current int64
	Next    int64
}

// StaleError reports that the caller's expected version no longer matches the store.
type StaleError struct {
	Expected int64
	Current  int64
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("version: expected %d but current is %d", e.Expected, e.Current)
}

// ErrorCode maps staleness to the aborted class.
func (e *StaleError) ErrorCode() shared.Code {
	return shared.CodeAborted
}

// Details reports both versions to the caller.
func (e *StaleError) Details() map[string]any {
	return map[string]any{"expectedVersion": e.Expected, "currentVersion": e.Current}
}

// Check fails with *StaleError when expected is set and differs from current.
func Check(current int64, expected *int64) error {
	if expected != nil && *expected != current {
		return &StaleError{Expected: *expected, Current: current}
	}
	return nil
}

// Load reads an aggregate through load and applies Check.
func Load[T Aggregate](ctx context.Context, load func(context.Context) (T, error), expected *int64) (Loaded[T], error) {
	data, err := load(ctx)
	if err != nil {
		return Loaded[T]{}, err
	}
	current := data.CurrentVersion()
	if err := Check(current, expected); err != nil {
		return Loaded[T]{}, err
	}
	return Loaded[T]{Data: data, Current: current, Next: current + 1}, nil
}
