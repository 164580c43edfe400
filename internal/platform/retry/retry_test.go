package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestDoSucceedsAfterConflicts(t *testing.T) {
	calls := 0
	var retried []int
	got, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Retryable:   isBusy,
		OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errBusy
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5, Retryable: isBusy}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3, Retryable: isBusy, Backoff: Linear(time.Millisecond)}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errBusy
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, errBusy)
	require.Equal(t, 3, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, Policy{MaxAttempts: 3, Retryable: isBusy, Backoff: Linear(time.Hour)}, func(ctx context.Context, attempt int) (int, error) {
		cancel()
		return 0, errBusy
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffShapes(t *testing.T) {
	lin := Linear(100 * time.Millisecond)
	require.Equal(t, 100*time.Millisecond, lin(1))
	require.Equal(t, 300*time.Millisecond, lin(3))

	exp := Exponential(100*time.Millisecond, time.Second)
	require.Equal(t, 100*time.Millisecond, exp(1))
	require.Equal(t, 200*time.Millisecond, exp(2))
	require.Equal(t, 400*time.Millisecond, exp(3))
	require.Equal(t, time.Second, exp(6))
}
