package projector_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/illmade-knight/go-markerflow/pkg/geometry"
	"github.com/illmade-knight/go-markerflow/pkg/projector"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	approx = cmpopts.EquateApprox(0, 1e-9)
	red    = types.ColorRGBA{R: 1, A: 1}
	redRGB = types.Color{R: 255}
)

func seg(x1, y1, x2, y2 float64, c types.Color) types.Segment {
	return types.Segment{X1: x1, Y1: y1, X2: x2, Y2: y2, Color: c}
}

func TestProject_Arrow(t *testing.T) {
	t.Run("pose and scale mode", func(t *testing.T) {
		// Arrange
		m := &types.Marker{Type: types.Arrow, Scale: types.Vector3{X: 1.0, Y: 0.2}, Color: red}

		// Act
		segments, err := projector.Project(m, geometry.Identity())

		// Assert
		require.NoError(t, err)
		require.Len(t, segments, 3)
		assert.Empty(t, cmp.Diff(seg(0, 0, 1, 0, redRGB), segments[0], approx))
		for _, wing := range segments[1:] {
			assert.InDelta(t, 1.0, wing.X1, 1e-9)
			assert.InDelta(t, 0.0, wing.Y1, 1e-9)
			assert.Equal(t, redRGB, wing.Color)
		}
		// Wings sweep back from the tip, one on each side of the shaft.
		assert.Empty(t, cmp.Diff(seg(1, 0, 0.9, 0.1, redRGB), segments[1], approx))
		assert.Empty(t, cmp.Diff(seg(1, 0, 0.9, -0.1, redRGB), segments[2], approx))
	})

	t.Run("wings follow the shaft direction", func(t *testing.T) {
		m := &types.Marker{
			Type:  types.Arrow,
			Scale: types.Vector3{X: 1.0, Y: 0.2},
			Pose:  types.Pose{Orientation: types.Quaternion{Z: math.Sin(math.Pi / 4), W: math.Cos(math.Pi / 4)}},
		}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		require.Len(t, segments, 3)
		assert.Empty(t, cmp.Diff(seg(0, 0, 0, 1, types.Color{}), segments[0], approx))
		assert.Less(t, segments[1].Y2, 1.0)
		assert.Less(t, segments[2].Y2, 1.0)
	})

	t.Run("tail and tip mode", func(t *testing.T) {
		m := &types.Marker{
			Type:   types.Arrow,
			Scale:  types.Vector3{X: 0.2, Y: 0.3},
			Points: []types.Point{{X: 0, Y: 0}, {X: 2, Y: 0}},
		}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		require.Len(t, segments, 3)
		assert.Empty(t, cmp.Diff(seg(0, 0, 2, 0, types.Color{}), segments[0], approx))

		angle := math.Atan2(0.3, 0.4)
		r := math.Hypot(0.2, 0.3)
		assert.Empty(t, cmp.Diff(seg(2, 0, 2-r*math.Cos(angle), r*math.Sin(angle), types.Color{}), segments[1], approx))
		assert.Empty(t, cmp.Diff(seg(2, 0, 2-r*math.Cos(angle), -r*math.Sin(angle), types.Color{}), segments[2], approx))
	})

	t.Run("other point counts are malformed", func(t *testing.T) {
		for _, n := range []int{1, 3} {
			m := &types.Marker{Type: types.Arrow, Points: make([]types.Point, n)}

			segments, err := projector.Project(m, geometry.Identity())

			assert.ErrorIs(t, err, projector.ErrMalformedShape)
			assert.Empty(t, segments)
		}
	})
}

func TestProject_Cube(t *testing.T) {
	t.Run("flat cube draws the top outline", func(t *testing.T) {
		m := &types.Marker{Type: types.Cube, Scale: types.Vector3{X: 2, Y: 4, Z: 1}}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		want := []types.Segment{
			seg(1, 2, 1, -2, types.Color{}),
			seg(1, -2, -1, -2, types.Color{}),
			seg(-1, -2, -1, 2, types.Color{}),
			seg(-1, 2, 1, 2, types.Color{}),
		}
		assert.Empty(t, cmp.Diff(want, segments, approx))
	})

	t.Run("yaw alone keeps the top outline", func(t *testing.T) {
		m := &types.Marker{Type: types.Cube, Scale: types.Vector3{X: 1, Y: 1, Z: 1}}
		tf := geometry.New(types.Vector3{X: 5}, types.Quaternion{Z: math.Sin(0.3), W: math.Cos(0.3)})

		segments, err := projector.Project(m, tf)

		require.NoError(t, err)
		assert.Len(t, segments, 4)
	})

	t.Run("tilted cube draws every edge", func(t *testing.T) {
		m := &types.Marker{
			Type:  types.Cube,
			Scale: types.Vector3{X: 1, Y: 1, Z: 1},
			Pose:  types.Pose{Orientation: types.Quaternion{X: math.Sin(0.25), W: math.Cos(0.25)}},
		}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		assert.Len(t, segments, 12)
	})

	t.Run("cube list draws one cube per point", func(t *testing.T) {
		m := &types.Marker{
			Type:   types.CubeList,
			Scale:  types.Vector3{X: 1, Y: 1, Z: 1},
			Points: []types.Point{{X: 0}, {X: 10}},
		}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		require.Len(t, segments, 8)
		assert.Empty(t, cmp.Diff(seg(10.5, 0.5, 10.5, -0.5, types.Color{}), segments[4], approx))
	})
}

func TestProject_Lines(t *testing.T) {
	t.Run("line strip joins consecutive points", func(t *testing.T) {
		m := &types.Marker{
			Type:   types.LineStrip,
			Points: []types.Point{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 0}},
		}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		want := []types.Segment{seg(0, 0, 1, 0, types.Color{}), seg(1, 0, 1, 1, types.Color{})}
		assert.Empty(t, cmp.Diff(want, segments, approx))
	})

	t.Run("line strip with one point is empty", func(t *testing.T) {
		m := &types.Marker{Type: types.LineStrip, Points: []types.Point{{X: 1}}}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		assert.Empty(t, segments)
	})

	t.Run("line list pairs points", func(t *testing.T) {
		m := &types.Marker{
			Type:   types.LineList,
			Points: []types.Point{{X: 0}, {X: 1}, {Y: 2}, {Y: 3}},
		}

		segments, err := projector.Project(m, geometry.Identity())

		require.NoError(t, err)
		want := []types.Segment{seg(0, 0, 1, 0, types.Color{}), seg(0, 2, 0, 3, types.Color{})}
		assert.Empty(t, cmp.Diff(want, segments, approx))
	})

	t.Run("odd line list drops the trailing point", func(t *testing.T) {
		m := &types.Marker{
			Type:   types.LineList,
			Points: []types.Point{{X: 0}, {X: 1}, {Y: 2}, {Y: 3}, {Z: 9}},
		}

		segments, err := projector.Project(m, geometry.Identity())

		assert.ErrorIs(t, err, projector.ErrMalformedShape)
		assert.Len(t, segments, 2)
	})

	t.Run("pose then frame transform", func(t *testing.T) {
		m := &types.Marker{
			Type:   types.LineStrip,
			Pose:   types.Pose{Position: types.Point{X: 1}},
			Points: []types.Point{{X: 0}, {X: 1}},
		}
		quarterTurn := geometry.New(types.Vector3{}, types.Quaternion{Z: math.Sin(math.Pi / 4), W: math.Cos(math.Pi / 4)})

		segments, err := projector.Project(m, quarterTurn)

		require.NoError(t, err)
		assert.Empty(t, cmp.Diff([]types.Segment{seg(0, 1, 0, 2, types.Color{})}, segments, approx))
	})
}

func TestProject_UnsupportedKind(t *testing.T) {
	for _, kind := range []types.ShapeKind{types.Sphere, types.Cylinder, types.Points, types.TextViewFacing, 99} {
		m := &types.Marker{Type: kind, Points: []types.Point{{X: 1}, {X: 2}}}

		segments, err := projector.Project(m, geometry.Identity())

		assert.NoError(t, err, kind.String())
		assert.Empty(t, segments, kind.String())
	}
}

func TestColorFromRGBA(t *testing.T) {
	assert.Equal(t, types.Color{R: 255, G: 127, B: 0}, types.ColorFromRGBA(types.ColorRGBA{R: 1, G: 0.5, B: 0}))
	assert.Equal(t, types.Color{R: 255, G: 0, B: 0}, types.ColorFromRGBA(types.ColorRGBA{R: 3, G: -1}))
	assert.Equal(t, "#ff7f00", types.Color{R: 255, G: 127}.Hex())
}
