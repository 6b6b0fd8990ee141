package sim

import "time"

// Time is the per-frame delta-time resource every stage can depend on,
// grounded on the teacher's mod_time.go: wall-clock delta, clamped to a
// 10fps floor so a hitch or slow startup frame never destabilizes
// integration (vehicle.Integrate, camera.UpdateFreeFly).
type Time struct {
	Last       time.Time
	Dt         float64
	FrameCount uint64
}

// InstallTime registers the Time resource and a Prelude-stage system that
// advances it every frame; call once during app wiring.
func InstallTime(app *App) {
	app.AddResources(&Time{Last: time.Now()})
	app.UseSystem(Prelude, tickTime)
}

func tickTime(t *Time) {
	now := time.Now()
	dt := now.Sub(t.Last).Seconds()
	if dt > 0.1 {
		dt = 0.1
	}
	t.Dt = dt
	t.Last = now
	t.FrameCount++
}
