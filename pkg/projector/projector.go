// Package projector turns marker descriptions into 2D line segments in the
// static reference plane. It holds no state and performs no I/O.
package projector

import (
	"errors"
	"fmt"
	"math"

	"github.com/illmade-knight/go-markerflow/pkg/geometry"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformedShape reports a point list that does not fit the shape kind.
// Any segments returned alongside it are the salvageable part of the marker.
var ErrMalformedShape = errors.New("malformed shape")

// flatEpsilon is the roll/pitch magnitude (radians) below which a cube is
// considered parallel to the floor.
const flatEpsilon = 1e-4

// Project converts m into segments using tf, the transform from the marker's
// header frame to the static frame. Unsupported shape kinds yield no segments
// and no error.
func Project(m *types.Marker, tf geometry.Transform) ([]types.Segment, error) {
	iso := tf.Compose(geometry.FromPose(m.Pose))
	color := types.ColorFromRGBA(m.Color)

	switch m.Type {
	case types.Arrow:
		return arrow(m, iso, color)
	case types.Cube:
		return cube(m.Scale, types.Point{}, iso, color), nil
	case types.CubeList:
		var segments []types.Segment
		for _, offset := range m.Points {
			segments = append(segments, cube(m.Scale, offset, iso, color)...)
		}
		return segments, nil
	case types.LineStrip:
		return strips(color, transformAll(iso, m.Points)), nil
	case types.LineList:
		return lineList(m.Points, iso, color)
	default:
		return nil, nil
	}
}

// arrow supports the two construction modes: pose/scale with no points, or an
// explicit tail and tip.
func arrow(m *types.Marker, iso geometry.Transform, color types.Color) ([]types.Segment, error) {
	switch len(m.Points) {
	case 0:
		tail := iso.Apply(r3.Vec{})
		tip := iso.Apply(r3.Vec{X: m.Scale.X})
		halfAngle := math.Pi / 4
		r := m.Scale.Y / 2 / math.Cos(halfAngle)
		return arrowLines(tail, tip, halfAngle, r, color), nil
	case 2:
		tail := iso.ApplyPoint(m.Points[0])
		tip := iso.ApplyPoint(m.Points[1])
		// scale.x is the head width, scale.y the head length.
		halfAngle := math.Atan2(m.Scale.Y, 2*m.Scale.X)
		r := math.Hypot(m.Scale.X, m.Scale.Y)
		return arrowLines(tail, tip, halfAngle, r, color), nil
	default:
		return nil, fmt.Errorf("%w: arrow needs 0 or 2 points, got %d", ErrMalformedShape, len(m.Points))
	}
}

// arrowLines draws the shaft and two head wings leaving the tip at
// shaft+π∓halfAngle.
func arrowLines(tail, tip r3.Vec, halfAngle, r float64, color types.Color) []types.Segment {
	shaft := math.Atan2(tip.Y-tail.Y, tip.X-tail.X)
	a := shaft + math.Pi - halfAngle
	b := shaft + math.Pi + halfAngle
	return []types.Segment{
		segment(tail, tip, color),
		{X1: tip.X, Y1: tip.Y, X2: tip.X + r*math.Cos(a), Y2: tip.Y + r*math.Sin(a), Color: color},
		{X1: tip.X, Y1: tip.Y, X2: tip.X + r*math.Cos(b), Y2: tip.Y + r*math.Sin(b), Color: color},
	}
}

// cube draws a box of the given dimensions centered on offset. Boxes lying
// flat only need their top outline; anything tilted gets all twelve edges.
func cube(dimension types.Vector3, offset types.Point, iso geometry.Transform, color types.Color) []types.Segment {
	w, l, h := dimension.X/2, dimension.Y/2, dimension.Z/2
	pw, mw := offset.X+w, offset.X-w
	pl, ml := offset.Y+l, offset.Y-l
	ph, mh := offset.Z+h, offset.Z-h

	face := func(z float64) []r3.Vec {
		return []r3.Vec{
			iso.Apply(r3.Vec{X: pw, Y: pl, Z: z}),
			iso.Apply(r3.Vec{X: pw, Y: ml, Z: z}),
			iso.Apply(r3.Vec{X: mw, Y: ml, Z: z}),
			iso.Apply(r3.Vec{X: mw, Y: pl, Z: z}),
		}
	}
	closed := func(corners []r3.Vec) []r3.Vec {
		return append(corners, corners[0])
	}

	roll, pitch, _ := iso.Euler()
	top := face(ph)
	if math.Abs(roll) < flatEpsilon && math.Abs(pitch) < flatEpsilon {
		return strips(color, closed(top))
	}

	bottom := face(mh)
	lines := [][]r3.Vec{closed(top), closed(bottom)}
	for i := range top {
		lines = append(lines, []r3.Vec{top[i], bottom[i]})
	}
	return strips(color, lines...)
}

// lineList pairs consecutive points. A trailing unpaired point is dropped and
// reported; the pairs before it are still returned.
func lineList(points []types.Point, iso geometry.Transform, color types.Color) ([]types.Segment, error) {
	segments := make([]types.Segment, 0, len(points)/2)
	for i := 0; i+1 < len(points); i += 2 {
		segments = append(segments, segment(iso.ApplyPoint(points[i]), iso.ApplyPoint(points[i+1]), color))
	}
	if len(points)%2 != 0 {
		return segments, fmt.Errorf("%w: line list has odd point count %d, trailing point dropped", ErrMalformedShape, len(points))
	}
	return segments, nil
}

// strips joins each polyline's consecutive points: N points give N-1 segments.
func strips(color types.Color, polylines ...[]r3.Vec) []types.Segment {
	var segments []types.Segment
	for _, line := range polylines {
		for i := 1; i < len(line); i++ {
			segments = append(segments, segment(line[i-1], line[i], color))
		}
	}
	return segments
}

func transformAll(iso geometry.Transform, points []types.Point) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = iso.ApplyPoint(p)
	}
	return out
}

func segment(from, to r3.Vec, color types.Color) types.Segment {
	return types.Segment{X1: from.X, Y1: from.Y, X2: to.X, Y2: to.Y, Color: color}
}
