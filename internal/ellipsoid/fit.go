// Package ellipsoid fits an axis-aligned ellipsoid to a 3-D point cloud.
package ellipsoid

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// MinPoints is the number of unknowns in the quadric model.
const MinPoints = 6

// Fit solves A·x² + B·x + C·y² + D·y + E·z² + F·z = 1 in the least-squares
// sense and returns the ellipsoid center and its semi-axis lengths along X, Y
// and Z.
func Fit(points []r3.Vector) (center, lengths r3.Vector, err error) {
	n := len(points)
	if n < MinPoints {
		return r3.Vector{}, r3.Vector{}, fmt.Errorf("ellipsoid: need at least %d points, have %d", MinPoints, n)
	}

	a := mat.NewDense(n, 6, nil)
	b := mat.NewVecDense(n, nil)
	for i, p := range points {
		a.SetRow(i, []float64{p.X * p.X, p.X, p.Y * p.Y, p.Y, p.Z * p.Z, p.Z})
		b.SetVec(i, 1)
	}

	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return r3.Vector{}, r3.Vector{}, fmt.Errorf("ellipsoid: least squares: %w", err)
	}

	var quad, lin [3]float64
	for i := 0; i < 3; i++ {
		quad[i] = f.AtVec(2 * i)
		lin[i] = f.AtVec(2*i + 1)
		if !(quad[i] > 0) {
			return r3.Vector{}, r3.Vector{}, fmt.Errorf("ellipsoid: axis %d quadratic term %g is not positive", i, quad[i])
		}
	}

	g := 1.0
	var c [3]float64
	for i := 0; i < 3; i++ {
		c[i] = -lin[i] / (2 * quad[i])
		g += lin[i] * lin[i] / (4 * quad[i])
	}

	var l [3]float64
	for i := 0; i < 3; i++ {
		l[i] = math.Sqrt(g / quad[i])
		if math.IsNaN(l[i]) || math.IsInf(l[i], 0) {
			return r3.Vector{}, r3.Vector{}, fmt.Errorf("ellipsoid: degenerate axis %d", i)
		}
	}

	return r3.Vector{X: c[0], Y: c[1], Z: c[2]}, r3.Vector{X: l[0], Y: l[1], Z: l[2]}, nil
}
