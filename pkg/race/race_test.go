package race

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationWins(t *testing.T) {
	v, err := Within(context.Background(), time.Second, func(context.Context) (string, error) {
		return "fast", nil
	}, Options[string]{})

	require.NoError(t, err)
	assert.Equal(t, "fast", v)
}

func TestOperationErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	_, err := Within(context.Background(), time.Second, func(context.Context) (int, error) {
		return 0, boom
	}, Options[int]{})

	assert.ErrorIs(t, err, boom)
}

func TestTimerWinsAndLateResultIsHandedOver(t *testing.T) {
	late := make(chan string, 1)
	start := time.Now()
	_, err := Within(context.Background(), 50*time.Millisecond, func(context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "slow", nil
	}, Options[string]{OnLate: func(v string, _ error) { late <- v }})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	select {
	case v := <-late:
		assert.Equal(t, "slow", v)
	case <-time.After(time.Second):
		t.Fatal("late result never handed over")
	}
}

func TestCancelLateCancelsOperation(t *testing.T) {
	cancelled := make(chan struct{})
	_, err := Within(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	}, Options[int]{CancelLate: true})

	assert.ErrorIs(t, err, ErrTimeout)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("operation was not cancelled")
	}
}

func TestWithoutCancelLateOperationKeepsRunning(t *testing.T) {
	done := make(chan error, 1)
	_, err := Within(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		time.Sleep(60 * time.Millisecond)
		done <- ctx.Err()
		return 1, nil
	}, Options[int]{})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.NoError(t, <-done)
}

func TestCallerContextWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Within(ctx, time.Second, func(context.Context) (int, error) {
		time.Sleep(100 * time.Millisecond)
		return 1, nil
	}, Options[int]{})

	assert.ErrorIs(t, err, context.Canceled)
}
