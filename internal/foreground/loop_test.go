package foreground_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/tle_downloader/internal/foreground"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T) (*foreground.Loop, context.CancelFunc) {
	t.Helper()

	loop := foreground.New(16)
	ctx, cancel := context.WithCancel(context.Background())

	go loop.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	return loop, cancel
}

func TestLoop_RunsInPostingOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int

	for i := range 10 {
		require.True(t, loop.Post(func() { got = append(got, i) }))
	}

	require.NoError(t, loop.Do(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestLoop_SerializesConcurrentPosters(t *testing.T) {
	loop, _ := startLoop(t)

	counter := 0

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 50 {
				loop.Post(func() { counter++ })
			}
		}()
	}

	wg.Wait()
	require.NoError(t, loop.Do(context.Background(), func() {}))
	assert.Equal(t, 400, counter)
}

func TestLoop_PostAfterStop(t *testing.T) {
	loop, cancel := startLoop(t)

	cancel()
	<-loop.Done()

	ran := false
	assert.False(t, loop.Post(func() { ran = true }))
	assert.ErrorIs(t, loop.Do(context.Background(), func() { ran = true }), foreground.ErrStopped)
	assert.False(t, ran)
}

func TestLoop_DoHonoursContext(t *testing.T) {
	loop, _ := startLoop(t)

	release := make(chan struct{})
	require.True(t, loop.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := loop.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
