package gather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherCollectsValuesAndErrors(t *testing.T) {
	g := New[int](context.Background(), 0)
	boom := errors.New("boom")

	g.Go(func(ctx context.Context) (int, error) { return 1, nil })
	g.Go(func(ctx context.Context) (int, error) { return 0, boom })
	g.Go(func(ctx context.Context) (int, error) { return 3, nil })

	results := g.Wait()
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Value)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, 3, results[2].Value)
}

func TestGatherFailureDoesNotCancelSiblings(t *testing.T) {
	g := New[string](context.Background(), 0)

	g.Go(func(ctx context.Context) (string, error) {
		return "", errors.New("fast failure")
	})
	g.Go(func(ctx context.Context) (string, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "slow ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	results := g.Wait()
	assert.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "slow ok", results[1].Value)
}

func TestGatherTimeoutFillsAllSlots(t *testing.T) {
	g := New[int](context.Background(), 30*time.Millisecond)

	g.Go(func(ctx context.Context) (int, error) { return 1, nil })
	g.Go(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	results := g.Wait()
	require.Len(t, results, 2)
	// Even the task that finished in time reports the group timeout.
	assert.ErrorIs(t, results[0].Err, ErrTimeout)
	assert.ErrorIs(t, results[1].Err, ErrTimeout)
}

func TestGatherRecoversPanics(t *testing.T) {
	g := New[int](context.Background(), 0)
	g.Go(func(ctx context.Context) (int, error) { panic("kaboom") })

	results := g.Wait()
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "kaboom")
}

func TestGatherEmptyGroup(t *testing.T) {
	g := New[int](context.Background(), 0)
	assert.Empty(t, g.Wait())
}
