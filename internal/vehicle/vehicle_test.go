package vehicle

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/geom"
)

func TestNeedsUpdateStaggersByInstanceIndex(t *testing.T) {
	// distance at the near bound clamps t to 0, forcing r=1: every instance updates every frame.
	require.True(t, NeedsUpdate(0, 0, 0, 0, 100, 8))
	require.True(t, NeedsUpdate(17, 5, 0, 0, 100, 8))
}

func TestNeedsUpdateFarClampsToMaxR(t *testing.T) {
	updates := 0
	for frame := uint64(0); frame < 8; frame++ {
		if NeedsUpdate(0, frame, 1000, 0, 100, 8) {
			updates++
		}
	}
	require.Equal(t, 1, updates, "at the far bound R must equal maxR, so instance 0 updates once every 8 frames")
}

func TestSteerTargetRequestsRetargetWhenInvalid(t *testing.T) {
	_, _, retarget := SteerTarget(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}, Target{}, DefaultTuning())
	require.True(t, retarget)
}

func TestSteerTargetRequestsRetargetWithinRadius(t *testing.T) {
	tuning := DefaultTuning() // RetargetRadius defaults to 500
	target := Target{Position: mgl32.Vec3{0, 400, 0}, LastTarget: mgl32.Vec3{0, 0, 0}, Valid: true}
	_, _, retarget := SteerTarget(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}, target, tuning)
	require.True(t, retarget, "400 units is inside the 500-unit default retarget radius")
}

func TestSteerTargetNoRetargetOutsideRadius(t *testing.T) {
	tuning := DefaultTuning()
	target := Target{Position: mgl32.Vec3{0, 600, 0}, LastTarget: mgl32.Vec3{0, 0, 0}, Valid: true}
	_, _, retarget := SteerTarget(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}, target, tuning)
	require.False(t, retarget, "600 units is outside the 500-unit default retarget radius")
}

func TestSteerTargetDetectsBehind(t *testing.T) {
	tuning := DefaultTuning()
	tuning.RetargetRadius = 10
	target := Target{Position: mgl32.Vec3{0, -500, 0}, LastTarget: mgl32.Vec3{0, -400, 0}, Valid: true}
	_, behind, retarget := SteerTarget(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}, target, tuning)
	require.False(t, retarget)
	require.True(t, behind)
}

func TestClampTargetClampsToRanges(t *testing.T) {
	tuning := DefaultTuning()
	x, y := ClampTarget(10, -10, tuning)
	require.Equal(t, tuning.XRange, x)
	require.Equal(t, -tuning.YRange, y)
}

func TestForwardMagnitudeReducedWhenBehind(t *testing.T) {
	require.Less(t, ForwardMagnitude(true), ForwardMagnitude(false))
}

func TestIntegrateAdvancesPositionByVelocity(t *testing.T) {
	s := State{Position: mgl32.Vec3{0, 0, 0}, Rotation: mgl32.QuatIdent(), LinVel: mgl32.Vec3{1, 0, 0}}
	next := Integrate(s, mgl32.Vec3{}, mgl32.Vec3{}, 1, mgl32.Vec3{1, 1, 1}, 0.5, mgl32.Vec3{})
	require.InDelta(t, 0.5, next.Position.X(), 1e-5)
}

func TestCollisionPushOutDisabledReturnsZero(t *testing.T) {
	a := geom.OBB{Center: mgl32.Vec3{0, 0, 0}, HalfExtents: mgl32.Vec3{1, 1, 1}, Rotation: mgl32.QuatIdent()}
	b := geom.OBB{Center: mgl32.Vec3{0.5, 0, 0}, HalfExtents: mgl32.Vec3{1, 1, 1}, Rotation: mgl32.QuatIdent()}
	push := CollisionPushOut(a, b, false)
	require.Equal(t, mgl32.Vec3{}, push)
}

func TestCollisionPushOutSeparatesOverlappingBoxes(t *testing.T) {
	a := geom.OBB{Center: mgl32.Vec3{0, 0, 0}, HalfExtents: mgl32.Vec3{1, 1, 1}, Rotation: mgl32.QuatIdent()}
	b := geom.OBB{Center: mgl32.Vec3{0.5, 0, 0}, HalfExtents: mgl32.Vec3{1, 1, 1}, Rotation: mgl32.QuatIdent()}
	push := CollisionPushOut(a, b, true)
	require.NotEqual(t, float32(0), push.X())
}
