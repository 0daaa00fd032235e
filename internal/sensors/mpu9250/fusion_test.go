package mpu9250

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

// field returns a level magnetometer reading for heading h.
func field(h float64) r3.Vector {
	return r3.Vector{X: 40 * math.Cos(h), Y: -40 * math.Sin(h)}
}

func testFusion(mix float64) *yawFusion {
	cfg := DefaultConfig()
	cfg.CompassMixFactor = mix
	return newYawFusion(cfg)
}

func TestYawFusion_SeedsFromHeading(t *testing.T) {
	f := testFusion(4)
	dmp := TaitBryan{Pitch: 0, Roll: 0, Yaw: 0.7}
	fused, heading, err := f.update(dmp, field(1.0))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if math.Abs(heading-1.0) > 1e-12 {
		t.Fatalf("heading=%v want 1.0", heading)
	}
	if math.Abs(fused.Yaw-1.0) > 1e-12 {
		t.Fatalf("yaw=%v want seeded 1.0", fused.Yaw)
	}
	if !f.seeded || f.lastDMPYaw != 0.7 {
		t.Fatalf("state=%+v", *f)
	}
}

func TestYawFusion_ConvergesToHeading(t *testing.T) {
	f := testFusion(4)
	if _, _, err := f.update(TaitBryan{}, field(0)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var fused TaitBryan
	for i := 0; i < 60; i++ {
		var err error
		fused, _, err = f.update(TaitBryan{}, field(1.0))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	if math.Abs(fused.Yaw-1.0) > 1e-5 {
		t.Fatalf("yaw=%v want ~1.0", fused.Yaw)
	}
}

func TestYawFusion_FirstStepUsesGain(t *testing.T) {
	f := testFusion(4)
	if _, _, err := f.update(TaitBryan{}, field(0)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fused, _, err := f.update(TaitBryan{}, field(0.4))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if math.Abs(fused.Yaw-0.1) > 1e-12 {
		t.Fatalf("yaw=%v want 0.1 (gain 0.25)", fused.Yaw)
	}
}

func TestYawFusion_FollowsDMPBetweenCorrections(t *testing.T) {
	f := testFusion(1e9)
	if _, _, err := f.update(TaitBryan{}, field(0)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fused, _, err := f.update(TaitBryan{Yaw: 0.2}, field(0))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if math.Abs(fused.Yaw+0.2) > 1e-6 {
		t.Fatalf("yaw=%v want -0.2", fused.Yaw)
	}
}

func TestYawFusion_WrapsAcrossNorth(t *testing.T) {
	f := testFusion(4)
	if _, _, err := f.update(TaitBryan{}, field(math.Pi-0.05)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fused, _, err := f.update(TaitBryan{}, field(-math.Pi+0.05))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// The short way round is +0.1 rad, a quarter of which is applied.
	want := wrapPi(math.Pi - 0.05 + 0.025)
	if math.Abs(fused.Yaw-want) > 1e-9 {
		t.Fatalf("yaw=%v want %v", fused.Yaw, want)
	}
}

func TestYawFusion_PassesTiltThrough(t *testing.T) {
	f := testFusion(4)
	dmp := TaitBryan{Pitch: 0.2, Roll: -0.3, Yaw: 0}
	fused, _, err := f.update(dmp, r3.Vector{X: 30, Y: 5, Z: -20})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if fused.Pitch != dmp.Pitch || fused.Roll != dmp.Roll {
		t.Fatalf("fused=%+v want pitch/roll of %+v", fused, dmp)
	}
	if fused.Yaw <= -math.Pi || fused.Yaw > math.Pi {
		t.Fatalf("yaw=%v out of (-π, π]", fused.Yaw)
	}
}

func TestYawFusion_NaNLeavesStateUnchanged(t *testing.T) {
	f := testFusion(4)
	if _, _, err := f.update(TaitBryan{Yaw: 0.1}, field(0.5)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := *f
	_, _, err := f.update(TaitBryan{Yaw: 0.3}, r3.Vector{X: math.NaN(), Y: 1})
	if !errors.Is(err, ErrHeadingNaN) {
		t.Fatalf("err=%v want ErrHeadingNaN", err)
	}
	if *f != before {
		t.Fatalf("state changed: %+v want %+v", *f, before)
	}
}

func TestYawFusion_ZeroMix(t *testing.T) {
	f := testFusion(0)
	_, _, err := f.update(TaitBryan{}, field(0))
	if !errors.Is(err, ErrZeroMixFactor) {
		t.Fatalf("err=%v want ErrZeroMixFactor", err)
	}
	if f.seeded {
		t.Fatalf("seeded after error")
	}
}

func TestYawFusion_LowRateOvershoots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompassMixFactor = 4
	cfg.SampleRate = 20
	f := newYawFusion(cfg)
	if _, _, err := f.update(TaitBryan{}, field(0)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fused, _, err := f.update(TaitBryan{}, field(0.4))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if math.Abs(fused.Yaw-0.5) > 1e-9 {
		t.Fatalf("yaw=%v want 0.5 (gain 1.25)", fused.Yaw)
	}
}

func TestYawFusion_Gain(t *testing.T) {
	cases := []struct {
		mix  float64
		rate int
		want float64
	}{
		{4, 100, 0.25},
		{10, 200, 0.05},
		{4, 20, 1.25},
		{0.5, 100, 2},
		{1, 50, 2},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.CompassMixFactor = tc.mix
		cfg.SampleRate = tc.rate
		if got := newYawFusion(cfg).gain(); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("gain(mix=%v rate=%d)=%v want %v", tc.mix, tc.rate, got, tc.want)
		}
	}
}

func TestRemapMag(t *testing.T) {
	in := r3.Vector{X: 1, Y: 2, Z: 3}
	cases := []struct {
		o    Orientation
		want r3.Vector
	}{
		{OrientationZUp, r3.Vector{X: 1, Y: 2, Z: 3}},
		{OrientationZDown, r3.Vector{X: -1, Y: 2, Z: -3}},
		{OrientationXUp, r3.Vector{X: 3, Y: 2, Z: 1}},
		{OrientationXDown, r3.Vector{X: -3, Y: 2, Z: -1}},
		{OrientationYUp, r3.Vector{X: 1, Y: -3, Z: 2}},
		{OrientationYDown, r3.Vector{X: 1, Y: 3, Z: -2}},
		{Orientation(1), in},
	}
	for _, tc := range cases {
		if got := remapMag(tc.o, in); got != tc.want {
			t.Fatalf("remapMag(%s)=%v want %v", tc.o, got, tc.want)
		}
	}
}

func TestWrap(t *testing.T) {
	cases := []struct {
		in, want2Pi, wantPi float64
	}{
		{0, 0, 0},
		{-0.1, 2*math.Pi - 0.1, -0.1},
		{2 * math.Pi, 0, 0},
		{7, 7 - 2*math.Pi, 7 - 2*math.Pi},
		{math.Pi, math.Pi, math.Pi},
		{-math.Pi, math.Pi, math.Pi},
		{3 * math.Pi / 2, 3 * math.Pi / 2, -math.Pi / 2},
	}
	for _, tc := range cases {
		if got := wrap2Pi(tc.in); math.Abs(got-tc.want2Pi) > 1e-12 {
			t.Fatalf("wrap2Pi(%v)=%v want %v", tc.in, got, tc.want2Pi)
		}
		if got := wrapPi(tc.in); math.Abs(got-tc.wantPi) > 1e-12 {
			t.Fatalf("wrapPi(%v)=%v want %v", tc.in, got, tc.wantPi)
		}
	}
}
