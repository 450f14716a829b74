package types

// Transform is a rigid motion: rotate, then translate.
type Transform struct {
	Translation Vector3    `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

// TransformStamped relates ChildFrameID to Header.FrameID at Header.Stamp.
// Applying Transform to a point expressed in the child frame yields the point
// in the parent frame.
type TransformStamped struct {
	Header       Header    `json:"header"`
	ChildFrameID string    `json:"child_frame_id"`
	Transform    Transform `json:"transform"`
	// Static transforms are valid at every time.
	Static bool `json:"static,omitempty"`
}

// TransformArray batches transforms the way tf topics publish them.
type TransformArray struct {
	Transforms []TransformStamped `json:"transforms"`
}
