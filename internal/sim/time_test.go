package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/jobs"
	"github.com/boxcity/boxcity/internal/log"
)

func TestInstallTimeAdvancesFrameCount(t *testing.T) {
	app := NewApp(log.Nop(), jobs.NewSized(1))
	InstallTime(app)

	app.RunFrames(3)

	var got *Time
	app.UseSystem(Update, func(tm *Time) { got = tm })
	app.RunFrames(1)

	require.Equal(t, uint64(4), got.FrameCount)
}

func TestInstallTimeClampsDtToTenFps(t *testing.T) {
	app := NewApp(log.Nop(), jobs.NewSized(1))
	InstallTime(app)
	app.UseSystem(Prelude, func(tm *Time) {
		tm.Last = tm.Last.Add(-time.Second) // simulate a huge hitch before next tick
	})

	app.RunFrames(2)

	var got *Time
	app.UseSystem(Update, func(tm *Time) { got = tm })
	app.RunFrames(1)

	require.LessOrEqual(t, got.Dt, 0.1)
}
