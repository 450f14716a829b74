package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-markerflow/pkg/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerScheduler(t *testing.T) {
	t.Run("fires after the delay", func(t *testing.T) {
		// Arrange
		s := scheduler.NewTimerScheduler(zerolog.Nop())
		fired := make(chan time.Time, 1)
		start := time.Now()

		// Act
		s.After(20*time.Millisecond, func() { fired <- time.Now() })

		// Assert
		select {
		case at := <-fired:
			assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
		case <-time.After(2 * time.Second):
			t.Fatal("task did not fire")
		}
		assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("stop cancels pending tasks", func(t *testing.T) {
		s := scheduler.NewTimerScheduler(zerolog.Nop())
		var fired atomic.Int32
		s.After(time.Hour, func() { fired.Add(1) })
		s.After(time.Hour, func() { fired.Add(1) })
		require.Equal(t, 2, s.Pending())

		err := s.Stop(context.Background())

		require.NoError(t, err)
		assert.Zero(t, s.Pending())
		s.After(0, func() { fired.Add(1) })
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, fired.Load())
	})

	t.Run("stop waits for running tasks", func(t *testing.T) {
		s := scheduler.NewTimerScheduler(zerolog.Nop())
		started := make(chan struct{})
		var finished atomic.Bool
		s.After(0, func() {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
		})
		<-started

		err := s.Stop(context.Background())

		require.NoError(t, err)
		assert.True(t, finished.Load())
	})

	t.Run("stop honours the context deadline", func(t *testing.T) {
		s := scheduler.NewTimerScheduler(zerolog.Nop())
		started := make(chan struct{})
		release := make(chan struct{})
		s.After(0, func() {
			close(started)
			<-release
		})
		<-started
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := s.Stop(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(release)
	})
}

func TestManualScheduler(t *testing.T) {
	t.Run("fires due tasks in deadline order", func(t *testing.T) {
		s := scheduler.NewManualScheduler()
		var order []string
		s.After(3*time.Second, func() { order = append(order, "c") })
		s.After(1*time.Second, func() { order = append(order, "a") })
		s.After(2*time.Second, func() { order = append(order, "b1") })
		s.After(2*time.Second, func() { order = append(order, "b2") })

		s.Advance(2 * time.Second)
		assert.Equal(t, []string{"a", "b1", "b2"}, order)
		assert.Equal(t, 1, s.Pending())

		s.Advance(time.Second)
		assert.Equal(t, []string{"a", "b1", "b2", "c"}, order)
	})

	t.Run("tasks registered while advancing are measured from their deadline", func(t *testing.T) {
		s := scheduler.NewManualScheduler()
		var fired []string
		s.After(time.Second, func() {
			fired = append(fired, "first")
			s.After(time.Second, func() { fired = append(fired, "second") })
		})

		s.Advance(1500 * time.Millisecond)
		assert.Equal(t, []string{"first"}, fired)

		s.Advance(500 * time.Millisecond)
		assert.Equal(t, []string{"first", "second"}, fired)
	})
}

func TestImmediateScheduler(t *testing.T) {
	ran := false
	scheduler.ImmediateScheduler{}.After(time.Hour, func() { ran = true })
	assert.True(t, ran)
}
