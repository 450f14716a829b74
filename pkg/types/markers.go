// Package types holds the wire messages exchanged with marker producers and the
// render types handed to snapshot consumers.
package types

import (
	"fmt"
	"time"
)

// ShapeKind identifies the geometry a Marker describes. Values follow the
// visualization_msgs/Marker numbering so producers can publish them unchanged.
type ShapeKind int32

const (
	Arrow          ShapeKind = 0
	Cube           ShapeKind = 1
	Sphere         ShapeKind = 2
	Cylinder       ShapeKind = 3
	LineStrip      ShapeKind = 4
	LineList       ShapeKind = 5
	CubeList       ShapeKind = 6
	SphereList     ShapeKind = 7
	Points         ShapeKind = 8
	TextViewFacing ShapeKind = 9
	MeshResource   ShapeKind = 10
	TriangleList   ShapeKind = 11
)

func (k ShapeKind) String() string {
	switch k {
	case Arrow:
		return "ARROW"
	case Cube:
		return "CUBE"
	case Sphere:
		return "SPHERE"
	case Cylinder:
		return "CYLINDER"
	case LineStrip:
		return "LINE_STRIP"
	case LineList:
		return "LINE_LIST"
	case CubeList:
		return "CUBE_LIST"
	case SphereList:
		return "SPHERE_LIST"
	case Points:
		return "POINTS"
	case TextViewFacing:
		return "TEXT_VIEW_FACING"
	case MeshResource:
		return "MESH_RESOURCE"
	case TriangleList:
		return "TRIANGLE_LIST"
	default:
		return fmt.Sprintf("SHAPE(%d)", int32(k))
	}
}

// Action tells the cache what to do with a Marker.
type Action int32

const (
	// ActionAdd creates or replaces the marker. MODIFY shares its value.
	ActionAdd       Action = 0
	ActionModify    Action = 0
	ActionDelete    Action = 2
	ActionDeleteAll Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "ADD"
	case ActionDelete:
		return "DELETE"
	case ActionDeleteAll:
		return "DELETEALL"
	default:
		return fmt.Sprintf("ACTION(%d)", int32(a))
	}
}

// Header carries the frame the message is expressed in and when it was valid.
type Header struct {
	FrameID string    `json:"frame_id"`
	Stamp   time.Time `json:"stamp"`
}

// Vector3 is a direction or a per-axis size.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point is a position in a marker's local frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation. The zero value is treated as identity.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose places a marker's local frame inside its header frame.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// ColorRGBA holds normalized channels in [0,1].
type ColorRGBA struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
	A float32 `json:"a"`
}

// Duration is a seconds/nanoseconds pair as published by producers.
type Duration struct {
	Sec  int32 `json:"sec"`
	Nsec int32 `json:"nsec"`
}

// Std converts d to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d.Sec)*time.Second + time.Duration(d.Nsec)
}

// Marker is one spatial annotation as published by a producer.
type Marker struct {
	Header    Header    `json:"header"`
	Namespace string    `json:"ns"`
	ID        int32     `json:"id"`
	Type      ShapeKind `json:"type"`
	Action    Action    `json:"action"`
	Pose      Pose      `json:"pose"`
	Scale     Vector3   `json:"scale"`
	Color     ColorRGBA `json:"color"`
	// Lifetime of zero keeps the marker until it is deleted or cleared.
	Lifetime Duration `json:"lifetime"`
	Points   []Point  `json:"points,omitempty"`
}

// MarkerArray batches markers. Each element is handled independently.
type MarkerArray struct {
	Markers []Marker `json:"markers"`
}
