package game

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max mgl32.Vec3
}

// BoxAt builds a box from its centre and full size.
func BoxAt(center, size mgl32.Vec3) Box {
	half := size.Mul(0.5)
	return Box{Min: center.Sub(half), Max: center.Add(half)}
}

// Center returns the midpoint of the box.
func (b Box) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the extent of the box on each axis.
func (b Box) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Intersects reports whether two boxes overlap. Touching faces count.
func (b Box) Intersects(o Box) bool {
	return b.Min.X() <= o.Max.X() && b.Max.X() >= o.Min.X() &&
		b.Min.Y() <= o.Max.Y() && b.Max.Y() >= o.Min.Y() &&
		b.Min.Z() <= o.Max.Z() && b.Max.Z() >= o.Min.Z()
}

// Ray is a half-line from Origin along Dir.
type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
}

// RayBox checks if a ray hits a box using the slab method. The returned
// distance is measured in units of Dir; an origin inside the box hits at 0.
func RayBox(r Ray, b Box) (bool, float32) {
	tMin := float32(0)
	tMax := float32(math.MaxFloat32)

	for axis := 0; axis < 3; axis++ {
		o, d := r.Origin[axis], r.Dir[axis]
		lo, hi := b.Min[axis], b.Max[axis]

		if d == 0 {
			// Parallel to this slab: miss unless already between its planes.
			if o < lo || o > hi {
				return false, 0
			}
			continue
		}

		t1 := (lo - o) / d
		t2 := (hi - o) / d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tMin {
			tMin = t1
		}
		if t2 < tMax {
			tMax = t2
		}
		if tMin > tMax {
			return false, 0
		}
	}
	return true, tMin
}

// BodyBox is the collision box of a player standing at eye position pos.
func BodyBox(pos mgl32.Vec3) Box {
	half := float32(BodyWidth / 2)
	return Box{
		Min: mgl32.Vec3{pos.X() - half, 0, pos.Z() - half},
		Max: mgl32.Vec3{pos.X() + half, BodyHeight, pos.Z() + half},
	}
}

func collides(b Box, obstacles []Box) bool {
	for _, o := range obstacles {
		if b.Intersects(o) {
			return true
		}
	}
	return false
}

// ResolveDisplacement checks the X and Z components of d separately against
// every obstacle and zeroes the ones that would move the body into a box.
// The result slides along walls instead of stopping dead.
func ResolveDisplacement(pos, d mgl32.Vec3, obstacles []Box) mgl32.Vec3 {
	alongX := mgl32.Vec3{pos.X() + d.X(), pos.Y(), pos.Z()}
	if collides(BodyBox(alongX), obstacles) {
		d[0] = 0
	}

	alongZ := mgl32.Vec3{pos.X(), pos.Y(), pos.Z() + d.Z()}
	if collides(BodyBox(alongZ), obstacles) {
		d[2] = 0
	}
	return d
}

func normalize(v mgl32.Vec3) mgl32.Vec3 {
	l := v.Len()
	if l < 1e-6 {
		return mgl32.Vec3{}
	}
	return v.Mul(1 / l)
}

// angleBetween returns the angle in radians between two non-zero vectors.
// Near 0 and Pi it stays accurate to well below PitchMargin.
func angleBetween(a, b mgl32.Vec3) float32 {
	ax, ay, az := float64(a.X()), float64(a.Y()), float64(a.Z())
	bx, by, bz := float64(b.X()), float64(b.Y()), float64(b.Z())
	if ax*ax+ay*ay+az*az < 1e-12 || bx*bx+by*by+bz*bz < 1e-12 {
		return 0
	}
	cx := ay*bz - az*by
	cy := az*bx - ax*bz
	cz := ax*by - ay*bx
	dot := ax*bx + ay*by + az*bz
	return float32(math.Atan2(math.Sqrt(cx*cx+cy*cy+cz*cz), dot))
}
