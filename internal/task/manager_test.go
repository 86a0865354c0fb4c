package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-micros/micros/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockLogger() *logger.MockLogger {
	l := logger.NewMockLogger()
	l.On("Debug", mock.Anything, mock.Anything).Return()
	l.On("Error", mock.Anything, mock.Anything).Return()

	return l
}

func TestManager_Start(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	var runs atomic.Int32
	require.NoError(t, mgr.Start("counter", func() bool {
		return runs.Add(1) < 5
	}))

	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, int32(5), runs.Load())
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_Stop(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	require.NoError(t, mgr.Start("spin", func() bool {
		time.Sleep(time.Millisecond)
		return true
	}))
	assert.Eventually(t, func() bool { return mgr.Count() == 1 }, time.Second, 5*time.Millisecond)

	mgr.Stop()
	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, 0, mgr.Count())

	err := mgr.Start("late", func() bool { return false })
	require.ErrorIs(t, err, ErrStopped)
}

func TestManager_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(ctx, newMockLogger())

	require.NoError(t, mgr.Start("spin", func() bool {
		time.Sleep(time.Millisecond)
		return true
	}))

	cancel()
	assert.True(t, mgr.WaitTimeout(time.Second))
	assert.Error(t, mgr.Context().Err())
}

func TestManager_PanicRecovered(t *testing.T) {
	l := newMockLogger()
	mgr := NewManager(context.Background(), l)

	require.NoError(t, mgr.Start("boom", func() bool {
		panic("boom")
	}))

	require.True(t, mgr.WaitTimeout(time.Second))
	l.AssertCalled(t, "Error", "panic in task loop", mock.Anything)
}

func TestManager_WaitTimeout(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())
	release := make(chan struct{})

	require.NoError(t, mgr.Start("blocked", func() bool {
		<-release
		return false
	}))

	assert.False(t, mgr.WaitTimeout(20*time.Millisecond))
	close(release)
	assert.True(t, mgr.WaitTimeout(time.Second))
}

func TestStartConsumer(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())
	ch := make(chan int, 4)
	got := make(chan int, 4)

	require.NoError(t, StartConsumer(mgr, "consumer", ch, func(v int) bool {
		if v == 2 {
			panic("bad value")
		}
		got <- v
		return true
	}))

	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	require.True(t, mgr.WaitTimeout(time.Second))
	close(got)

	var values []int
	for v := range got {
		values = append(values, v)
	}
	assert.Equal(t, []int{1, 3}, values)

	err := StartConsumer[int](mgr, "nil", nil, func(int) bool { return true })
	assert.Error(t, err)
}
