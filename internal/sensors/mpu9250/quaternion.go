package mpu9250

import (
	"errors"
	"fmt"
	"math"
)

// Quaternion is stored W, X, Y, Z.
type Quaternion [4]float64

// TaitBryan angles in radians: Pitch about X, Roll about Y, Yaw about Z,
// applied in Z-X-Y order.
type TaitBryan struct {
	Pitch float64
	Roll  float64
	Yaw   float64
}

var ErrBadQuaternion = errors.New("mpu9250: quaternion magnitude out of range")

const (
	quatMagNominal = 1 << 28
	quatMagBand    = 1 << 24
)

// validateQuat applies the magnitude check to the raw Q30 DMP quaternion.
// Components are reduced by 16 bits so the sum of squares fits an int64 with
// room to spare.
func validateQuat(raw [4]int32) error {
	var sum int64
	for _, c := range raw {
		r := int64(c >> 16)
		sum += r * r
	}
	if sum < quatMagNominal-quatMagBand || sum > quatMagNominal+quatMagBand {
		return fmt.Errorf("%w: %d", ErrBadQuaternion, sum)
	}
	return nil
}

func quatFromRaw(raw [4]int32) Quaternion {
	var q Quaternion
	for i, c := range raw {
		q[i] = float64(c)
	}
	return q.normalized()
}

func (q Quaternion) norm() float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}

func (q Quaternion) normalized() Quaternion {
	n := q.norm()
	if n == 0 {
		return q
	}
	return Quaternion{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

func (q Quaternion) conj() Quaternion {
	return Quaternion{q[0], -q[1], -q[2], -q[3]}
}

// mul returns the Hamilton product a ⊗ b.
func mul(a, b Quaternion) Quaternion {
	return Quaternion{
		a[0]*b[0] - a[1]*b[1] - a[2]*b[2] - a[3]*b[3],
		a[0]*b[1] + a[1]*b[0] + a[2]*b[3] - a[3]*b[2],
		a[0]*b[2] - a[1]*b[3] + a[2]*b[0] + a[3]*b[1],
		a[0]*b[3] + a[1]*b[2] - a[2]*b[1] + a[3]*b[0],
	}
}

// rotate returns tilt ⊗ v ⊗ conj(tilt).
func rotate(tilt, v Quaternion) Quaternion {
	return mul(mul(tilt, v), tilt.conj())
}

// TaitBryan decomposes a unit quaternion.
func (q Quaternion) TaitBryan() TaitBryan {
	w, x, y, z := q[0], q[1], q[2], q[3]
	s := 2 * (w*x + y*z)
	// Clamp rounding noise at the poles.
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return TaitBryan{
		Pitch: math.Asin(s),
		Roll:  math.Atan2(2*(w*y-x*z), 1-2*(x*x+y*y)),
		Yaw:   math.Atan2(2*(w*z-x*y), 1-2*(x*x+z*z)),
	}
}

// Quaternion composes yaw, pitch and roll as qZ ⊗ qX ⊗ qY.
func (tb TaitBryan) Quaternion() Quaternion {
	cx, sx := math.Cos(tb.Pitch/2), math.Sin(tb.Pitch/2)
	cy, sy := math.Cos(tb.Roll/2), math.Sin(tb.Roll/2)
	cz, sz := math.Cos(tb.Yaw/2), math.Sin(tb.Yaw/2)
	return Quaternion{
		cz*cx*cy - sz*sx*sy,
		cz*sx*cy - sz*cx*sy,
		cz*cx*sy + sz*sx*cy,
		cz*sx*sy + sz*cx*cy,
	}
}
