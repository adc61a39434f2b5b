package pipeline

// State is the render pipeline's lifecycle state.
type State int

const (
	// StateIdle means no image is loaded; adjustments are rejected.
	StateIdle State = iota
	// StateDecoding means source bytes are being decoded.
	StateDecoding
	// StateRendering means a render pass is running.
	StateRendering
	// StateReady means a final buffer is available for display and export.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateRendering:
		return "rendering"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name, e.g. in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
