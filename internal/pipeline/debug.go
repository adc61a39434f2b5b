package pipeline

import (
	"image"
	"sort"
	"sync"
)

// Stage names recorded by a DebugContext, in pipeline order.
const (
	StageSource   = "01_source"
	StageAdjusted = "02_adjusted"
	StageFiltered = "03_filtered"
)

// Stage is one intermediate image captured during a render pass.
type Stage struct {
	Image image.Image
	Name  string
}

// DebugContext collects the intermediate buffers of the most recent render pass.
type DebugContext struct {
	stages map[string]image.Image
	mu     sync.Mutex
}

func (d *DebugContext) capture(name string, img image.Image) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stages == nil {
		d.stages = make(map[string]image.Image)
	}
	d.stages[name] = img
}

func (d *DebugContext) reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.stages = nil
	d.mu.Unlock()
}

// SortedStages returns the captured stages ordered by name.
func (d *DebugContext) SortedStages() []Stage {
	d.mu.Lock()
	defer d.mu.Unlock()

	stages := make([]Stage, 0, len(d.stages))
	for name, img := range d.stages {
		stages = append(stages, Stage{Name: name, Image: img})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Name < stages[j].Name })
	return stages
}
