package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/display"
	"github.com/boxcity/boxcity/internal/framegraph"
	"github.com/boxcity/boxcity/internal/jobs"
)

func TestLoopSubmitsFramesInOrder(t *testing.T) {
	device := display.NewNull()
	loop := NewLoop(device, jobs.NewSized(1))

	go loop.RunRenderThread()

	var submitted []uint64
	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 3; i++ {
			loop.WaitForRenderSlot()
			frame := &RenderFrame{
				FrameIndex: i,
				Submit: func(d display.Device, g *framegraph.Graph) framegraph.ScheduleResult {
					submitted = append(submitted, i)
					return framegraph.ScheduleResult{}
				},
			}
			loop.EndPrepare(frame)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for game-thread loop to finish preparing frames")
	}

	require.Eventually(t, func() bool { return loop.LastSubmitted() == 3 }, time.Second, time.Millisecond)
	require.Equal(t, []uint64{1, 2, 3}, submitted)
	loop.Stop()
}

func TestRunJobsFansOutAcrossWorkers(t *testing.T) {
	pool := jobs.NewSized(4)
	defer pool.Close()

	results := make([]int, 100)
	RunJobs(pool, 100, func(workerIndex, item int) {
		results[item] = item * 2
	})
	for i, v := range results {
		require.Equal(t, i*2, v)
	}
}
