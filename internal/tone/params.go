// Package tone implements the brightness, contrast and saturation stage of the edit pipeline.
package tone

import (
	"fmt"

	"github.com/MeKo-Tech/imagex/internal/types"
)

const (
	// MinValue and MaxValue bound every adjustment percentage.
	MinValue = 0
	MaxValue = 200

	// Neutral is the percentage that leaves a channel unchanged.
	Neutral = 100
)

// Params holds the three tone adjustments as percentages in [0,200].
type Params struct {
	Brightness int `json:"brightness" mapstructure:"brightness"`
	Contrast   int `json:"contrast" mapstructure:"contrast"`
	Saturation int `json:"saturation" mapstructure:"saturation"`
}

// DefaultParams returns the identity adjustment {100,100,100}.
func DefaultParams() Params {
	return Params{Brightness: Neutral, Contrast: Neutral, Saturation: Neutral}
}

// IsIdentity reports whether applying p leaves every pixel unchanged.
func (p Params) IsIdentity() bool {
	return p == DefaultParams()
}

// Validate rejects out-of-range values. Values are never clamped silently.
func (p Params) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"brightness", p.Brightness},
		{"contrast", p.Contrast},
		{"saturation", p.Saturation},
	}
	for _, c := range checks {
		if c.value < MinValue || c.value > MaxValue {
			return fmt.Errorf("%s %d outside [%d,%d]: %w", c.name, c.value, MinValue, MaxValue, types.ErrInvalidParameter)
		}
	}
	return nil
}

// String formats p the way CSS filter strings read, e.g. "brightness(100%) contrast(100%) saturate(100%)".
func (p Params) String() string {
	return fmt.Sprintf("brightness(%d%%) contrast(%d%%) saturate(%d%%)", p.Brightness, p.Contrast, p.Saturation)
}
