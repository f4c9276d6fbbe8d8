// Package curve evaluates parametric 2D paths.
//
// A Generator holds a parameter t and the point f(t) of its Func; callers
// advance t by arbitrary finite increments.  Spiral is the reference path used
// by kozsend: a spiral whose radius ramps linearly over each segment, repeating
// every unit of parameter.
package curve

import (
	"fmt"
	"math"
)

const (
	// DefaultMaxRadius is the outer radius of the reference spiral
	DefaultMaxRadius = 7.4

	// DefaultSegments is the number of turns per unit parameter
	DefaultSegments = 4
)

// Func maps a parameter to a point
type Func func(t float64) (x, y float64)

// Generator is a stateful point on a Func.
// X and Y always equal f(Parameter()).
type Generator struct {
	f    Func
	t    float64
	x, y float64
}

// New returns a Generator at parameter zero
func New(f Func) *Generator {
	g := &Generator{f: f}
	g.x, g.y = f(0)
	return g
}

// Step advances the parameter by d and recomputes the point.
// A non-finite d panics.
func (g *Generator) Step(d float64) {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		panic(fmt.Sprintf("curve: non-finite step %v", d))
	}
	g.t += d
	g.x, g.y = g.f(g.t)
}

// X returns the current abscissa
func (g *Generator) X() float64 { return g.x }

// Y returns the current ordinate
func (g *Generator) Y() float64 { return g.y }

// Parameter returns the current parameter
func (g *Generator) Parameter() float64 { return g.t }

// Spiral returns a path of s turns per unit parameter whose radius grows from
// zero to maxRadius across them:
//
//	t' = t*s, r = maxRadius*((floor(t') mod s) + frac(t'))/s
//	x = r*cos(2πt'), y = r*sin(2πt')
//
// The mod is non-negative, so negative parameters stay on the path.
func Spiral(maxRadius float64, s int) Func {
	if s < 1 {
		s = 1
	}
	seg := float64(s)
	return func(t float64) (x, y float64) {
		t *= seg
		ft := math.Floor(t)
		k := math.Mod(ft, seg)
		if k < 0 {
			k += seg
		}
		r := maxRadius * (k + (t - ft)) / seg
		sin, cos := math.Sincos(2 * math.Pi * t)
		return r * cos, r * sin
	}
}

// Radius returns the distance of the current point from the origin
func (g *Generator) Radius() float64 {
	return math.Hypot(g.x, g.y)
}
