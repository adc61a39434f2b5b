// Package archive stores exported images in a SQLite database.
//
// Only finished output files are kept. Nothing about the edit that produced
// them is replayable: the recorded parameters are descriptive metadata.
package archive

import (
	"errors"
	"time"

	"github.com/MeKo-Tech/imagex/internal/filter"
	"github.com/MeKo-Tech/imagex/internal/tone"
	"github.com/MeKo-Tech/imagex/internal/types"
)

// ErrNotFound is returned when no export with the requested name exists.
var ErrNotFound = errors.New("export not found")

// Entry is one archived export.
type Entry struct {
	CreatedAt time.Time   `json:"created_at"`
	Name      string      `json:"name"`
	Format    string      `json:"format"`
	Filter    filter.Kind `json:"filter"`
	Data      []byte      `json:"-"` // encoded file, gzip-compressed at rest
	Size      types.Size  `json:"size"`
	Params    tone.Params `json:"params"`
	Bytes     int         `json:"bytes"`
}
