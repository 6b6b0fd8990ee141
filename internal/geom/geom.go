// Package geom holds the vector/box primitives shared by the BVH, tile,
// traffic and vehicle packages, factored out of what the teacher inlines
// per-file (mod_spatialgrid.go, physics.go, voxelrt/rt/bvh/builder.go).
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func NewAABB(min, max mgl32.Vec3) AABB {
	return AABB{Min: min, Max: max}
}

// EmptyAABB returns an AABB whose Min/Max are set so the first Grow call
// establishes real bounds.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

func (a AABB) Center() mgl32.Vec3 {
	return a.Min.Add(a.Max).Mul(0.5)
}

func (a AABB) Extent() mgl32.Vec3 {
	return a.Max.Sub(a.Min)
}

// Grow returns the AABB expanded to also contain b.
func (a AABB) Grow(b AABB) AABB {
	return AABB{
		Min: componentMin(a.Min, b.Min),
		Max: componentMax(a.Max, b.Max),
	}
}

// GrowPoint expands the AABB to contain p.
func (a AABB) GrowPoint(p mgl32.Vec3) AABB {
	return AABB{
		Min: componentMin(a.Min, p),
		Max: componentMax(a.Max, p),
	}
}

func (a AABB) Intersects(b AABB) bool {
	return a.Min.X() <= b.Max.X() && a.Max.X() >= b.Min.X() &&
		a.Min.Y() <= b.Max.Y() && a.Max.Y() >= b.Min.Y() &&
		a.Min.Z() <= b.Max.Z() && a.Max.Z() >= b.Min.Z()
}

// Contains reports whether p lies within the box, grown by eps on every side.
func (a AABB) Contains(p mgl32.Vec3, eps float32) bool {
	return p.X() >= a.Min.X()-eps && p.X() <= a.Max.X()+eps &&
		p.Y() >= a.Min.Y()-eps && p.Y() <= a.Max.Y()+eps &&
		p.Z() >= a.Min.Z()-eps && p.Z() <= a.Max.Z()+eps
}

func componentMin(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{min32(a.X(), b.X()), min32(a.Y(), b.Y()), min32(a.Z(), b.Z())}
}

func componentMax(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{max32(a.X(), b.X()), max32(a.Y(), b.Y()), max32(a.Z(), b.Z())}
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// OBB is an oriented bounding box: a center, half-extents along local axes,
// and a rotation from local to world space.
type OBB struct {
	Center      mgl32.Vec3
	HalfExtents mgl32.Vec3
	Rotation    mgl32.Quat
}

// Axis returns the world-space unit vector for local axis i (0=x,1=y,2=z).
func (o OBB) Axis(i int) mgl32.Vec3 {
	m := o.Rotation.Mat4()
	switch i {
	case 0:
		return mgl32.Vec3{m.At(0, 0), m.At(1, 0), m.At(2, 0)}
	case 1:
		return mgl32.Vec3{m.At(0, 1), m.At(1, 1), m.At(2, 1)}
	default:
		return mgl32.Vec3{m.At(0, 2), m.At(1, 2), m.At(2, 2)}
	}
}

// ZSegment returns the OBB's central vertical (z-axis) segment endpoints,
// used throughout box_city as the avoidance/clearance axis for buildings.
func (o OBB) ZSegment() (a, b mgl32.Vec3) {
	axis := o.Axis(2).Mul(o.HalfExtents.Z())
	return o.Center.Sub(axis), o.Center.Add(axis)
}

// AABB returns a loose world-space AABB enclosing the OBB.
func (o OBB) AABB() AABB {
	ax, ay, az := o.Axis(0), o.Axis(1), o.Axis(2)
	ex := ax.Mul(o.HalfExtents.X())
	ey := ay.Mul(o.HalfExtents.Y())
	ez := az.Mul(o.HalfExtents.Z())
	extent := mgl32.Vec3{
		abs32(ex.X()) + abs32(ey.X()) + abs32(ez.X()),
		abs32(ex.Y()) + abs32(ey.Y()) + abs32(ez.Y()),
		abs32(ex.Z()) + abs32(ey.Z()) + abs32(ez.Z()),
	}
	return AABB{Min: o.Center.Sub(extent), Max: o.Center.Add(extent)}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// ClosestPointOnSegment returns the closest point to p on segment a-b and
// the parametric t in [0,1].
func ClosestPointOnSegment(p, a, b mgl32.Vec3) (mgl32.Vec3, float32) {
	ab := b.Sub(a)
	denom := ab.Dot(ab)
	if denom < 1e-12 {
		return a, 0
	}
	t := p.Sub(a).Dot(ab) / denom
	t = clamp01(t)
	return a.Add(ab.Mul(t)), t
}

// ClosestPointsSegmentSegment computes the closest points between segments
// p1-q1 and p2-q2, returning the points and squared distance between them.
// Grounded on the standard Ericson "Real-Time Collision Detection" closest
// point routine, the same algorithm box_city's collision.cpp implements.
func ClosestPointsSegmentSegment(p1, q1, p2, q2 mgl32.Vec3) (c1, c2 mgl32.Vec3, distSq float32) {
	d1 := q1.Sub(p1)
	d2 := q2.Sub(p2)
	r := p1.Sub(p2)
	a := d1.Dot(d1)
	e := d2.Dot(d2)
	f := d2.Dot(r)

	const eps = 1e-9
	var s, t float32

	if a <= eps && e <= eps {
		return p1, p2, p1.Sub(p2).Dot(p1.Sub(p2))
	}
	if a <= eps {
		s = 0
		t = clamp01(f / e)
	} else {
		c := d1.Dot(r)
		if e <= eps {
			t = 0
			s = clamp01(-c / a)
		} else {
			b := d1.Dot(d2)
			denom := a*e - b*b
			if denom > eps {
				s = clamp01((b*f - c*e) / denom)
			} else {
				s = 0
			}
			t = (b*s + f) / e
			if t < 0 {
				t = 0
				s = clamp01(-c / a)
			} else if t > 1 {
				t = 1
				s = clamp01((b - c) / a)
			}
		}
	}

	c1 = p1.Add(d1.Mul(s))
	c2 = p2.Add(d2.Mul(t))
	diff := c1.Sub(c2)
	return c1, c2, diff.Dot(diff)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp01 exposes clamp01 for callers outside the package (vehicle steering
// uses it for the AI target ranges).
func Clamp01(v float32) float32 { return clamp01(v) }

// Sign returns -1, 0 or 1 the way the box_city avoidance shaping needs.
func Sign(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
