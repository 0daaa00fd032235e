package mpu9250

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

var ErrHeadingNaN = errors.New("mpu9250: magnetic heading is NaN")

// axisMap is a signed permutation taking body-frame magnetometer axes into
// the frame of the DMP quaternion.
type axisMap [3]struct {
	src  int
	sign float64
}

var magRemap = map[Orientation]axisMap{
	OrientationZUp:   {{0, 1}, {1, 1}, {2, 1}},
	OrientationZDown: {{0, -1}, {1, 1}, {2, -1}},
	OrientationXUp:   {{2, 1}, {1, 1}, {0, 1}},
	OrientationXDown: {{2, -1}, {1, 1}, {0, -1}},
	OrientationYUp:   {{0, 1}, {2, -1}, {1, 1}},
	OrientationYDown: {{0, 1}, {2, 1}, {1, -1}},
}

func remapMag(o Orientation, v r3.Vector) r3.Vector {
	m, ok := magRemap[o]
	if !ok {
		return v
	}
	in := [3]float64{v.X, v.Y, v.Z}
	var out [3]float64
	for i, a := range m {
		out[i] = a.sign * in[a.src]
	}
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}

// wrap2Pi maps a into [0, 2π).
func wrap2Pi(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	if a >= 2*math.Pi {
		a = 0
	}
	return a
}

// wrapPi maps a into (-π, π].
func wrapPi(a float64) float64 {
	a = wrap2Pi(a)
	if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// yawFusion blends gyro-integrated DMP yaw with magnetometer heading.
// Roll and pitch pass through untouched.
type yawFusion struct {
	mix         float64
	rate        float64
	orientation Orientation

	seeded     bool
	lastDMPYaw float64
	// lastYaw is the fused yaw in [0, 2π).
	lastYaw float64
}

func newYawFusion(cfg Config) *yawFusion {
	return &yawFusion{
		mix:         cfg.CompassMixFactor,
		rate:        float64(cfg.SampleRate),
		orientation: cfg.Orientation,
	}
}

// gain is the fraction of the heading error corrected per magnetometer
// sample. Above 1 the filter overshoots the magnetometer heading.
func (f *yawFusion) gain() float64 {
	return 100 / (f.mix * f.rate)
}

// update fuses one magnetometer sample. On error no state changes.
func (f *yawFusion) update(dmp TaitBryan, mag r3.Vector) (fused TaitBryan, heading float64, err error) {
	if f.mix == 0 {
		return TaitBryan{}, 0, ErrZeroMixFactor
	}

	level := TaitBryan{Pitch: dmp.Pitch, Roll: dmp.Roll}.Quaternion()
	m := remapMag(f.orientation, mag)
	leveled := rotate(level, Quaternion{0, m.X, m.Y, m.Z})

	heading = -math.Atan2(leveled[2], leveled[1])
	if math.IsNaN(heading) {
		return TaitBryan{}, 0, fmt.Errorf("%w: field %v", ErrHeadingNaN, mag)
	}
	magYaw := wrap2Pi(heading)

	var yaw float64
	if !f.seeded {
		yaw = magYaw
		f.seeded = true
	} else {
		delta := f.lastDMPYaw - dmp.Yaw
		predicted := wrap2Pi(f.lastYaw + delta)
		e := wrapPi(magYaw - predicted)
		yaw = wrap2Pi(predicted + e*f.gain())
	}
	f.lastDMPYaw = dmp.Yaw
	f.lastYaw = yaw

	fused = TaitBryan{Pitch: dmp.Pitch, Roll: dmp.Roll, Yaw: wrapPi(yaw)}
	return fused, heading, nil
}
