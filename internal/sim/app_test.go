package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/jobs"
	"github.com/boxcity/boxcity/internal/log"
)

type frameCounter struct {
	n int
}

func TestRunFramesCallsSystemsInStageOrder(t *testing.T) {
	app := NewApp(log.Nop(), jobs.NewSized(1))
	var order []string
	counter := &frameCounter{}
	app.AddResources(counter)

	app.UseSystem(Update, func(c *frameCounter) { order = append(order, "update"); c.n++ })
	app.UseSystem(PreUpdate, func(c *frameCounter) { order = append(order, "pre") })
	app.UseSystem(PostUpdate, func(c *frameCounter) { order = append(order, "post") })

	app.RunFrames(2)

	require.Equal(t, 2, counter.n)
	require.Equal(t, []string{"pre", "update", "post", "pre", "update", "post"}, order)
}

func TestCommandsStopEndsRunLoop(t *testing.T) {
	app := NewApp(log.Nop(), jobs.NewSized(1))
	frames := 0
	app.UseSystem(Update, func(cmd *Commands) {
		frames++
		if frames == 3 {
			cmd.Stop()
		}
	})
	app.Run()
	require.Equal(t, 3, frames)
}

func TestAddResourcesPanicsOnDuplicate(t *testing.T) {
	app := NewApp(log.Nop(), jobs.NewSized(1))
	app.AddResources(&frameCounter{})
	require.Panics(t, func() { app.AddResources(&frameCounter{}) })
}

func TestUseSystemPanicsOnUnknownStage(t *testing.T) {
	app := NewApp(log.Nop(), jobs.NewSized(1))
	require.Panics(t, func() { app.UseSystem(Stage{Name: "Nope"}, func() {}) })
}
