// Package geometry provides the rigid-transform math used to move marker points
// between coordinate frames.
package geometry

import (
	"math"

	"github.com/illmade-knight/go-markerflow/pkg/types"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid 3D motion. Apply rotates a point and then translates it.
type Transform struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// Identity returns the transform that leaves every point unchanged.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// New builds a transform from a translation and a (possibly unnormalized) quaternion.
func New(translation types.Vector3, rotation types.Quaternion) Transform {
	return Transform{
		Translation: r3.Vec{X: translation.X, Y: translation.Y, Z: translation.Z},
		Rotation:    normalize(quat.Number{Real: rotation.W, Imag: rotation.X, Jmag: rotation.Y, Kmag: rotation.Z}),
	}
}

// FromPose returns the transform that maps a pose's local frame into its parent frame.
func FromPose(p types.Pose) Transform {
	return New(types.Vector3(p.Position), p.Orientation)
}

// FromMsg converts a wire transform.
func FromMsg(t types.Transform) Transform {
	return New(t.Translation, t.Rotation)
}

// ToMsg converts t back to its wire form.
func (t Transform) ToMsg() types.Transform {
	return types.Transform{
		Translation: types.Vector3{X: t.Translation.X, Y: t.Translation.Y, Z: t.Translation.Z},
		Rotation:    types.Quaternion{X: t.Rotation.Imag, Y: t.Rotation.Jmag, Z: t.Rotation.Kmag, W: t.Rotation.Real},
	}
}

// Apply maps p through t.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(t.Rotation).Rotate(p), t.Translation)
}

// ApplyPoint maps a wire point through t.
func (t Transform) ApplyPoint(p types.Point) r3.Vec {
	return t.Apply(r3.Vec{X: p.X, Y: p.Y, Z: p.Z})
}

// Compose returns the transform equivalent to applying o first and then t.
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		Translation: t.Apply(o.Translation),
		Rotation:    normalize(quat.Mul(t.Rotation, o.Rotation)),
	}
}

// Inverse returns the transform that undoes t.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Translation: r3.Scale(-1, r3.Rotation(inv).Rotate(t.Translation)),
		Rotation:    inv,
	}
}

// Euler returns roll, pitch and yaw (radians) for the rotation
// R = Rz(yaw) * Ry(pitch) * Rx(roll).
func (t Transform) Euler() (roll, pitch, yaw float64) {
	w, x, y, z := t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinp := 2 * (w*y - z*x)
	switch {
	case sinp >= 1:
		pitch = math.Pi / 2
	case sinp <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(sinp)
	}

	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

// Interpolate blends a toward b: translation linearly, rotation by slerp.
// ratio 0 returns a, 1 returns b.
func Interpolate(a, b Transform, ratio float64) Transform {
	return Transform{
		Translation: r3.Add(a.Translation, r3.Scale(ratio, r3.Sub(b.Translation, a.Translation))),
		Rotation:    Slerp(a.Rotation, b.Rotation, ratio),
	}
}

// Slerp spherically interpolates between two unit quaternions along the shorter arc.
func Slerp(a, b quat.Number, ratio float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	// Nearly parallel: sin(theta) underflows, fall back to normalized lerp.
	if dot > 0.9995 {
		return normalize(quat.Add(a, quat.Scale(ratio, quat.Sub(b, a))))
	}
	theta := math.Acos(dot)
	s := math.Sin(theta)
	wa := math.Sin((1-ratio)*theta) / s
	wb := math.Sin(ratio*theta) / s
	return normalize(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
