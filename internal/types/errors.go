package types

import "errors"

// Error kinds shared by the edit pipeline and its outer surfaces.
// Callers classify failures with errors.Is.
var (
	// ErrDecodeFailure marks unreadable, corrupt or unsupported source bytes.
	ErrDecodeFailure = errors.New("decode failure")

	// ErrInvalidParameter marks an adjustment value outside [0,200] or an unknown filter kind.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrExportFailure marks a failure while encoding or writing the final buffer.
	ErrExportFailure = errors.New("export failure")
)
