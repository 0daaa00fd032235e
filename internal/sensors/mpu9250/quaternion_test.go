package mpu9250

import (
	"errors"
	"math"
	"testing"
)

func TestValidateQuat_Band(t *testing.T) {
	cases := []struct {
		name string
		raw  [4]int32
		ok   bool
	}{
		{"identity", identityQuat, true},
		{"upper edge", [4]int32{16384 << 16, 4096 << 16, 0, 0}, true},
		{"above upper edge", [4]int32{16384 << 16, 4097 << 16, 0, 0}, false},
		{"lower edge", [4]int32{12288 << 16, 8192 << 16, 4096 << 16, 4096 << 16}, true},
		{"below lower edge", [4]int32{12288 << 16, 8192 << 16, 4096 << 16, 4095 << 16}, false},
		{"negative components", [4]int32{-16384 << 16, 0, 0, 0}, true},
		{"zero", [4]int32{}, false},
		{"half magnitude", [4]int32{1 << 29, 0, 0, 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateQuat(tc.raw)
			if tc.ok && err != nil {
				t.Fatalf("validateQuat(%v)=%v want nil", tc.raw, err)
			}
			if !tc.ok && !errors.Is(err, ErrBadQuaternion) {
				t.Fatalf("validateQuat(%v)=%v want ErrBadQuaternion", tc.raw, err)
			}
		})
	}
}

func TestQuatFromRaw_Normalizes(t *testing.T) {
	q := quatFromRaw([4]int32{1 << 30, 1 << 30, 0, 0})
	if math.Abs(q.norm()-1) > 1e-12 {
		t.Fatalf("norm=%v want 1", q.norm())
	}
	if math.Abs(q[0]-math.Sqrt2/2) > 1e-12 || math.Abs(q[1]-math.Sqrt2/2) > 1e-12 {
		t.Fatalf("q=%v", q)
	}
}

func TestTaitBryan_RoundTrip(t *testing.T) {
	cases := []TaitBryan{
		{},
		{Pitch: 0.3, Roll: -0.5, Yaw: 1.2},
		{Pitch: -1.1, Roll: 2.0, Yaw: -3.0},
		{Pitch: 0.01, Roll: 0.02, Yaw: math.Pi / 2},
	}
	for _, tb := range cases {
		got := tb.Quaternion().TaitBryan()
		if math.Abs(got.Pitch-tb.Pitch) > 1e-9 || math.Abs(got.Roll-tb.Roll) > 1e-9 || math.Abs(got.Yaw-tb.Yaw) > 1e-9 {
			t.Fatalf("round trip %+v -> %+v", tb, got)
		}
	}
}

func TestTaitBryan_QuaternionIsUnit(t *testing.T) {
	q := TaitBryan{Pitch: 0.7, Roll: -0.2, Yaw: 2.5}.Quaternion()
	if math.Abs(q.norm()-1) > 1e-12 {
		t.Fatalf("norm=%v want 1", q.norm())
	}
}

func TestTaitBryan_ClampsAtPole(t *testing.T) {
	// Slightly denormalized quaternion for pitch = +90°.
	q := Quaternion{math.Sqrt2/2 + 1e-9, math.Sqrt2/2 + 1e-9, 0, 0}
	tb := q.TaitBryan()
	if math.IsNaN(tb.Pitch) || math.Abs(tb.Pitch-math.Pi/2) > 1e-4 {
		t.Fatalf("pitch=%v want π/2", tb.Pitch)
	}
}

func TestRotate_YawQuarterTurn(t *testing.T) {
	q := TaitBryan{Yaw: math.Pi / 2}.Quaternion()
	v := rotate(q, Quaternion{0, 1, 0, 0})
	if math.Abs(v[1]) > 1e-12 || math.Abs(v[2]-1) > 1e-12 || math.Abs(v[3]) > 1e-12 {
		t.Fatalf("rotated=%v want (0,1,0)", v)
	}
}
