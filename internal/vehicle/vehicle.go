// Package vehicle implements the per-vehicle AI/physics controller
// (spec.md C8): time-sliced updates scaled by camera distance, a cached
// nearest-4-building avoidance query, target steering, force composition
// and semi-implicit Euler integration with a world-space inverse inertia
// tensor.
//
// Grounded on original_source/box_city/box_city_car_control.cpp's
// NeedsUpdate/force constants and box_city_components.h's
// Car/CarMovement/CarTarget/CarBuildingsCache layout, adapted onto
// internal/bvh and internal/geom.
package vehicle

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/boxcity/boxcity/internal/bvh"
	"github.com/boxcity/boxcity/internal/geom"
)

// Tuning mirrors the CONTROL_VARIABLE defaults in box_city_car_control.cpp.
type Tuning struct {
	MaxRetarget int // MAX_R

	YRange      float32
	XRange      float32
	PitchForce  float32
	RollAngularForce float32
	YawAngularForce  float32
	ForwardForce     float32
	HeightKillForce  float32
	ZTop, ZBot       float32

	FrictionLinear  float32
	FrictionAngular float32

	AvoidanceEnable  bool
	CollisionEnable  bool
	VisibilityDistance     float32
	VisibilitySideDistance float32
	AvoidanceExtraDistance float32
	AvoidanceExpansion     float32
	ReactionFactor         float32
	ReactionPower          float32
	SlowFactor             float32

	TargetRange         float32
	RetargetRadius      float32
}

func DefaultTuning() Tuning {
	return Tuning{
		MaxRetarget:            8,
		YRange:                 0.7,
		XRange:                 0.5,
		PitchForce:             0.02,
		RollAngularForce:       0.02,
		YawAngularForce:        0.05,
		ForwardForce:           300.0,
		HeightKillForce:        2.0,
		ZTop:                   120,
		ZBot:                   5,
		FrictionLinear:         1.8,
		FrictionAngular:        1.8,
		AvoidanceEnable:        true,
		CollisionEnable:        false,
		VisibilityDistance:     150,
		VisibilitySideDistance: 80,
		AvoidanceExtraDistance: 15,
		AvoidanceExpansion:     80,
		ReactionFactor:         1.2,
		ReactionPower:          0.8,
		SlowFactor:             0,
		TargetRange:            2000,
		RetargetRadius:         500,
	}
}

// CachedBuilding is one of the 4 nearest buildings to a vehicle, rebuilt
// every 4 eligible frames (spec.md §4.8).
type CachedBuilding struct {
	SegA, SegB mgl32.Vec3 // the building OBB's z-extent segment
	Size       float32
	Valid      bool
}

// Control holds the player/AI steering targets (box_city_components.h's
// CarControl).
type Control struct {
	YTarget float32
	XTarget float32
	Forward float32
}

// Target is the AI's current steering destination (CarTarget).
type Target struct {
	Position   mgl32.Vec3
	LastTarget mgl32.Vec3
	Valid      bool
}

// Settings is per-vehicle physical parameters (CarSettings).
type Settings struct {
	Size           float32
	InvMass        float32
	InvMassInertia mgl32.Vec3 // diagonal of I^-1 in body space
	Radius         float32
}

// State is a vehicle's pose and velocities.
type State struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	LinVel   mgl32.Vec3
	AngVel   mgl32.Vec3
}

// NeedsUpdate reports whether instance instanceIndex should run its
// AI/physics step this frame, time-sliced by distance-to-camera (spec.md
// §4.8): R = ceil(clamp01((dist-near)/(far-near)) * maxR).
func NeedsUpdate(instanceIndex int, frame uint64, distanceToCamera, near, far float32, maxR int) bool {
	t := geom.Clamp01((distanceToCamera - near) / (far - near))
	r := int(math.Ceil(float64(t) * float64(maxR)))
	if r < 1 {
		r = 1
	}
	if r > maxR {
		r = maxR
	}
	return (int(frame)+instanceIndex/8)%r == 0
}

// RebuildBuildingCache queries the LOD-0 building BVH for candidates
// around a coarse forward-cone AABB and keeps the 4 nearest by distance
// to their z-extent segment (spec.md §4.8).
func RebuildBuildingCache(tree *bvh.BVH, segmentOf func(data int32) (a, b mgl32.Vec3, size float32), pos, front, side, up mgl32.Vec3, farDistance, sideExtent float32) [4]CachedBuilding {
	var cache [4]CachedBuilding
	var distSq [4]float32
	for i := range distSq {
		distSq[i] = float32(math.Inf(1))
	}

	behind := pos.Sub(front.Mul(sideExtent))
	far := pos.Add(front.Mul(farDistance))
	points := [5]mgl32.Vec3{
		behind,
		far.Add(side.Mul(sideExtent)).Add(up.Mul(sideExtent)),
		far.Add(side.Mul(sideExtent)).Sub(up.Mul(sideExtent)),
		far.Sub(side.Mul(sideExtent)).Add(up.Mul(sideExtent)),
		far.Sub(side.Mul(sideExtent)).Sub(up.Mul(sideExtent)),
	}
	box := geom.EmptyAABB()
	for _, p := range points {
		box = box.GrowPoint(p)
	}

	if tree != nil {
		tree.Query(box, func(data int32) bool {
			a, b, size := segmentOf(data)
			_, _, d2 := geom.ClosestPointsSegmentSegment(pos, pos, a, b)
			worst := 0
			for i := 1; i < 4; i++ {
				if distSq[i] > distSq[worst] {
					worst = i
				}
			}
			if d2 < distSq[worst] {
				distSq[worst] = d2
				cache[worst] = CachedBuilding{SegA: a, SegB: b, Size: size, Valid: true}
			}
			return true
		})
	}
	return cache
}

// AvoidanceDelta computes the per-frame (X,Y) target deltas from the
// cached buildings the vehicle's forward ray segment is projected to
// collide with (spec.md §4.8's avoidance-normal shaping).
func AvoidanceDelta(cache [4]CachedBuilding, pos, front, flatLeft, up mgl32.Vec3, carRadius float32, tuning Tuning) (dx, dy, forwardReduction float32) {
	if !tuning.AvoidanceEnable {
		return 0, 0, 0
	}
	rayEnd := pos.Add(front.Mul(tuning.VisibilityDistance))
	for _, b := range cache {
		if !b.Valid {
			continue
		}
		_, _, d2 := geom.ClosestPointsSegmentSegment(pos, rayEnd, b.SegA, b.SegB)
		closestOnRay, _ := geom.ClosestPointOnSegment(pos, pos, rayEnd)
		closestOnBuilding, t := geom.ClosestPointOnSegment(closestOnRay, b.SegA, b.SegB)
		_ = closestOnBuilding

		threshold := b.Size + carRadius + tuning.AvoidanceExtraDistance + t*tuning.AvoidanceExpansion
		if d2 >= threshold*threshold {
			continue
		}

		normal := pos.Sub(mix(b.SegA, b.SegB, t)).Normalize()
		left := normal.Dot(flatLeft)
		upComp := normal.Dot(up)

		dx += (geom.Sign(left) - left) * tuning.ReactionFactor
		dy += geom.Sign(upComp) * float32(math.Pow(float64(absf(upComp)), float64(tuning.ReactionPower))) * tuning.ReactionFactor

		forwardReduction += tuning.SlowFactor * (1 - t)
	}
	return dx, dy, forwardReduction
}

func mix(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// SteerTarget implements the target-steering rule: if the vehicle is
// within tuning.RetargetRadius of target (or the target is invalid), the
// caller must request a new one; otherwise this computes the 85/15
// blended steering point and whether the target is behind the vehicle
// (spec.md §4.8).
func SteerTarget(pos, front mgl32.Vec3, target Target, tuning Tuning) (steerPoint mgl32.Vec3, behind bool, needsRetarget bool) {
	if !target.Valid {
		return mgl32.Vec3{}, false, true
	}
	closest, _ := geom.ClosestPointOnSegment(pos, target.LastTarget, target.Position)
	steerPoint = mix(closest, target.Position, 0.15)

	delta := target.Position.Sub(pos)
	if delta.Dot(delta) < tuning.RetargetRadius*tuning.RetargetRadius {
		return steerPoint, false, true
	}

	desired := steerPoint.Sub(pos)
	behind = front.Dot(desired) < 0
	return steerPoint, behind, false
}

// ClampTarget clamps accumulated X/Y steering targets to tuning's
// configured ranges (spec.md §4.8).
func ClampTarget(xTarget, yTarget float32, tuning Tuning) (float32, float32) {
	return clampf(xTarget, -tuning.XRange, tuning.XRange), clampf(yTarget, -tuning.YRange, tuning.YRange)
}

// forwardBehindFraction is how much throttle an AI vehicle keeps while
// turning to face a target that fell behind it (spec.md §4.8: "turn
// with full magnitude and slow down").
const forwardBehindFraction = 0.3

// ForwardMagnitude picks the AI's forward-throttle magnitude for this
// frame: full speed toward the steering point, or a reduced magnitude
// while turning to face a target that's behind (spec.md §4.8).
func ForwardMagnitude(behind bool) float32 {
	if behind {
		return forwardBehindFraction
	}
	return 1
}

// Forces composes the pitch/roll/yaw torques and the forward and
// height-limit forces for one tick (spec.md §4.8); velocity damping is
// applied separately by Friction. Returns linear force and torque in
// world space.
func Forces(state State, control Control, invMassInertia mgl32.Vec3, tuning Tuning, dt float32) (force, torque mgl32.Vec3) {
	rot := quatToMat3(state.Rotation)
	flatLeft := mgl32.Vec3{rot.At(0, 0), rot.At(1, 0), rot.At(2, 0)}
	carFront := mgl32.Vec3{rot.At(0, 1), rot.At(1, 1), rot.At(2, 1)}
	carUp := mgl32.Vec3{rot.At(0, 2), rot.At(1, 2), rot.At(2, 2)}

	currentPitch := float32(math.Asin(float64(clampf(carFront.Z(), -1, 1))))
	pitchTorque := flatLeft.Mul((control.YTarget*math.Pi/2 - currentPitch) * tuning.PitchForce)
	liftForce := carUp.Mul(control.YTarget * 0.0)

	rollTorque := carFront.Mul(control.XTarget * tuning.RollAngularForce)
	yawTorque := mgl32.Vec3{0, 0, 1}.Mul(control.XTarget * tuning.YawAngularForce)
	sidewaysForce := flatLeft.Mul(control.XTarget * 0.0)

	torque = pitchTorque.Add(rollTorque).Add(yawTorque)

	forward := carFront.Mul(control.Forward * tuning.ForwardForce)
	z := state.Position.Z()
	heightForce := mgl32.Vec3{}
	if z > tuning.ZTop {
		heightForce = mgl32.Vec3{0, 0, -(z - tuning.ZTop) * tuning.HeightKillForce}
	} else if z < tuning.ZBot {
		heightForce = mgl32.Vec3{0, 0, -(z - tuning.ZBot) * tuning.HeightKillForce}
	}

	force = forward.Add(heightForce).Add(liftForce).Add(sidewaysForce)
	return force, torque
}

// quatToMat3 converts a rotation quaternion to its 3x3 matrix, the same
// conversion the teacher's physics.go QuatToMat3 performs via Mat4.
func quatToMat3(q mgl32.Quat) mgl32.Mat3 {
	m4 := q.Mat4()
	return mgl32.Mat3{
		m4[0], m4[1], m4[2],
		m4[4], m4[5], m4[6],
		m4[8], m4[9], m4[10],
	}
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Friction applies linear/angular velocity damping (spec.md §4.8).
func Friction(linVel, angVel mgl32.Vec3, tuning Tuning, dt float32) (mgl32.Vec3, mgl32.Vec3) {
	k := clampf(tuning.FrictionLinear*dt, 0, 1)
	ka := clampf(tuning.FrictionAngular*dt, 0, 1)
	if dt <= 0 {
		return linVel, angVel
	}
	return linVel.Sub(linVel.Mul(k / dt).Mul(dt)), angVel.Sub(angVel.Mul(ka / dt).Mul(dt))
}

// Integrate advances state by dt via semi-implicit Euler, using a
// world-space inverse inertia tensor R·I⁻¹·Rᵀ (spec.md §4.8). pushOut is
// an optional position-only collision correction.
func Integrate(state State, force, torque mgl32.Vec3, invMass float32, invMassInertiaBody mgl32.Vec3, dt float32, pushOut mgl32.Vec3) State {
	linAcc := force.Mul(invMass)
	state.LinVel = state.LinVel.Add(linAcc.Mul(dt))

	rotMat := quatToMat3(state.Rotation)
	invInertiaBody := mgl32.Mat3{
		invMassInertiaBody.X(), 0, 0,
		0, invMassInertiaBody.Y(), 0,
		0, 0, invMassInertiaBody.Z(),
	}
	worldInvInertia := rotMat.Mul3(invInertiaBody).Mul3(rotMat.Transpose())
	angAcc := worldInvInertia.Mul3x1(torque)
	state.AngVel = state.AngVel.Add(angAcc.Mul(dt))

	state.Position = state.Position.Add(state.LinVel.Mul(dt)).Add(pushOut)

	omegaDt := state.AngVel.Mul(dt)
	if angle := omegaDt.Len(); angle > 1e-6 {
		axis := omegaDt.Normalize()
		delta := mgl32.QuatRotate(angle, axis)
		state.Rotation = delta.Mul(state.Rotation).Normalize()
	}
	return state
}

// CollisionPushOut computes a position-only correction for a from the
// overlap of the two OBBs' enclosing world-space AABBs, along the world
// axis of least overlap; the OBBs' own axes are not tested, so rotated
// boxes are pushed apart by their AABBs. Returns zero unless enabled
// (spec.md §4.8's optional path).
func CollisionPushOut(a, b geom.OBB, enabled bool) mgl32.Vec3 {
	if !enabled {
		return mgl32.Vec3{}
	}
	delta := a.Center.Sub(b.Center)
	boxA, boxB := a.AABB(), b.AABB()
	if !boxA.Intersects(boxB) {
		return mgl32.Vec3{}
	}
	overlap := mgl32.Vec3{
		minf(boxA.Max.X(), boxB.Max.X()) - maxf(boxA.Min.X(), boxB.Min.X()),
		minf(boxA.Max.Y(), boxB.Max.Y()) - maxf(boxA.Min.Y(), boxB.Min.Y()),
		minf(boxA.Max.Z(), boxB.Max.Z()) - maxf(boxA.Min.Z(), boxB.Min.Z()),
	}
	axis, depth := 0, overlap.X()
	if overlap.Y() < depth {
		axis, depth = 1, overlap.Y()
	}
	if overlap.Z() < depth {
		axis, depth = 2, overlap.Z()
	}
	push := mgl32.Vec3{}
	sign := geom.Sign(delta[axis])
	if sign == 0 {
		sign = 1
	}
	push[axis] = sign * depth
	return push
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
