package ellipsoid

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func surface(center, lengths r3.Vector) []r3.Vector {
	var pts []r3.Vector
	for i := 0; i < 12; i++ {
		u := 2 * math.Pi * float64(i) / 12
		for j := 1; j < 8; j++ {
			v := math.Pi * float64(j) / 8
			pts = append(pts, r3.Vector{
				X: center.X + lengths.X*math.Cos(u)*math.Sin(v),
				Y: center.Y + lengths.Y*math.Sin(u)*math.Sin(v),
				Z: center.Z + lengths.Z*math.Cos(v),
			})
		}
	}
	return pts
}

func near(a, b r3.Vector, eps float64) bool {
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps && math.Abs(a.Z-b.Z) < eps
}

func TestFit_RecoversKnownEllipsoid(t *testing.T) {
	cases := []struct {
		name    string
		center  r3.Vector
		lengths r3.Vector
	}{
		{"sphere", r3.Vector{}, r3.Vector{X: 50, Y: 50, Z: 50}},
		{"offset", r3.Vector{X: 10, Y: -5, Z: 3}, r3.Vector{X: 40, Y: 50, Z: 60}},
		{"flat", r3.Vector{X: -20, Y: 15, Z: 8}, r3.Vector{X: 65, Y: 45, Z: 30}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, l, err := Fit(surface(tc.center, tc.lengths))
			if err != nil {
				t.Fatalf("Fit: %v", err)
			}
			if !near(c, tc.center, 1e-6) {
				t.Fatalf("center=%v want %v", c, tc.center)
			}
			if !near(l, tc.lengths, 1e-6) {
				t.Fatalf("lengths=%v want %v", l, tc.lengths)
			}
		})
	}
}

func TestFit_TooFewPoints(t *testing.T) {
	pts := surface(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})[:MinPoints-1]
	if _, _, err := Fit(pts); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFit_PlanarCloudFails(t *testing.T) {
	var pts []r3.Vector
	for i := 0; i < 40; i++ {
		a := 2 * math.Pi * float64(i) / 40
		pts = append(pts, r3.Vector{X: 30 * math.Cos(a), Y: 30 * math.Sin(a)})
	}
	if _, _, err := Fit(pts); err == nil {
		t.Fatalf("expected error for planar cloud")
	}
}
