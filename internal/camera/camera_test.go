package camera

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/boxcity/boxcity/internal/geom"
)

func TestFollowCameraLerpsTowardTarget(t *testing.T) {
	c := NewFollow(mgl32.Vec3{0, -10, 3}, 5)
	c.Position = mgl32.Vec3{100, 100, 100}
	c.UpdateFollow(mgl32.Vec3{0, 0, 0}, 1.0/60.0)
	require.Less(t, c.Position.Len(), float32(100), "position must move toward the target each update")
}

func TestFreeFlyAcceleratesTowardInput(t *testing.T) {
	c := NewFreeFly(mgl32.Vec3{0, 0, 0})
	for i := 0; i < 120; i++ {
		// moveInput.Y drives the forward axis, which points toward -Y at yaw=0.
		c.UpdateFreeFly(mgl32.Vec3{0, 1, 0}, mgl32.Vec2{}, 0, 1.0/60.0)
	}
	require.Less(t, c.Position.Y(), float32(0))
}

func TestExtractFrustumCullsOutsideBox(t *testing.T) {
	c := NewFreeFly(mgl32.Vec3{0, 0, 0})
	c.Aspect = 1
	c.Near, c.Far = 1, 100
	f := ExtractFrustum(c.ViewProjection())

	// Forward() at yaw=pitch=0 points toward -Y, so "in front" is -Y.
	near := geom.NewAABB(mgl32.Vec3{-1, -7, -1}, mgl32.Vec3{1, -5, 1})
	require.True(t, f.IntersectsAABB(near))

	behind := geom.NewAABB(mgl32.Vec3{-1, 8, -1}, mgl32.Vec3{1, 10, 1})
	require.False(t, f.IntersectsAABB(behind))
}

func TestFrustumCornersFormAConvexVolume(t *testing.T) {
	c := NewFreeFly(mgl32.Vec3{0, 0, 0})
	f := ExtractFrustum(c.ViewProjection())
	require.Len(t, f.Corners, 8)
}
