package types

import "fmt"

// Size is the native resolution of a decoded image in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String returns the size as "WxH".
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Empty reports whether the size covers no pixels.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Pixels returns the number of pixels covered by the size.
func (s Size) Pixels() int {
	if s.Empty() {
		return 0
	}
	return s.Width * s.Height
}
