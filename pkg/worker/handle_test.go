package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitState[R any](t *testing.T, h *Handle[R], want State) Status[R] {
	t.Helper()
	var st Status[R]
	require.Eventually(t, func() bool {
		st = h.Poll()
		return st.State == want
	}, 2*time.Second, time.Millisecond)
	return st
}

func TestFinished(t *testing.T) {
	h := Start("answer", time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, "answer", h.Name())

	st := waitState(t, h, Finished)
	assert.Equal(t, 42, st.Result)
	assert.NoError(t, st.Err)
	assert.False(t, h.Alive())
	assert.True(t, h.Wait(time.Second))
}

func TestRunningThenFinished(t *testing.T) {
	release := make(chan struct{})
	h := Start("blocked", 0, func(ctx context.Context) (string, error) {
		<-release
		return "done", nil
	})

	assert.Equal(t, Running, h.Poll().State)
	assert.True(t, h.Alive())
	assert.False(t, h.Wait(10*time.Millisecond))

	close(release)
	st := waitState(t, h, Finished)
	assert.Equal(t, "done", st.Result)
}

func TestFailedError(t *testing.T) {
	boom := errors.New("boom")
	h := Start("failing", time.Second, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	st := waitState(t, h, Failed)
	assert.ErrorIs(t, st.Err, boom)
}

func TestFailedPanic(t *testing.T) {
	h := Start("panicking", time.Second, func(ctx context.Context) (int, error) {
		var m map[string]int
		m["x"] = 1
		return 0, nil
	})
	st := waitState(t, h, Failed)
	require.Error(t, st.Err)
	assert.Contains(t, st.Err.Error(), "panicked")
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := Start("slow", 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	st := waitState(t, h, Failed)
	assert.ErrorIs(t, st.Err, ErrTimeout)
}

func TestStop(t *testing.T) {
	h := Start("cancellable", 0, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	h.Stop()

	assert.False(t, h.Alive())
	st := h.Poll()
	assert.Equal(t, Failed, st.State)
	assert.ErrorIs(t, st.Err, ErrStopped)
	assert.True(t, h.Wait(time.Second), "cooperative worker should exit after stop")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "finished", Finished.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
