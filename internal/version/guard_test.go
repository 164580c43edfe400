package version

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hourledger/hourledger/internal/shared"
)

type doc struct{ v int64 }

func (d doc) CurrentVersion() int64 { return d.v }

func loader(v int64) func(context.Context) (doc, error) {
	return func(context.Context) (doc, error) { return doc{v: v}, nil }
}

func ptr(v int64) *int64 { return &v }

func TestLoadWithoutExpectation(t *testing.T) {
	got, err := Load(context.Background(), loader(7), nil)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.Current)
	require.Equal(t, int64(8), got.Next)
}

func TestLoadMatchingExpectation(t *testing.T) {
	got, err := Load(context.Background(), loader(3), ptr(3))
	require.NoError(t, err)
	require.Equal(t, int64(4), got.Next)
}

func TestLoadStale(t *testing.T) {
	_, err := Load(context.Background(), loader(5), ptr(4))
	var stale *StaleError
	require.ErrorAs(t, err, &stale)
	require.Equal(t, int64(4), stale.Expected)
	require.Equal(t, int64(5), stale.Current)
	require.Equal(t, shared.CodeAborted, shared.CodeOf(err))
}

func TestLoadPropagatesLoaderError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Load(context.Background(), func(context.Context) (doc, error) { return doc{}, boom }, nil)
	require.ErrorIs(t, err, boom)
}
