package types

import "fmt"

// Color is an 8-bit RGB triple.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ColorFromRGBA scales normalized channels by 255 and truncates toward zero.
// Channels outside [0,1] are clamped first; alpha is ignored.
func ColorFromRGBA(c ColorRGBA) Color {
	return Color{R: channel(c.R), G: channel(c.G), B: channel(c.B)}
}

func channel(v float32) uint8 {
	if v != v || v <= 0 { // NaN or negative
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(float64(v) * 255)
}

// Hex renders the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Segment is a colored line in the static reference plane.
type Segment struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Color Color   `json:"color"`
}
