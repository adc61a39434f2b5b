package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Progress renders batch progress as a single, rewritten terminal line.
type Progress struct {
	startTime time.Time
	output    io.Writer
	counts    Counts
	mu        sync.RWMutex
	enabled   bool
}

// NewProgress creates a tracker for total images writing to stderr.
// When enabled is false it only keeps counts for Summary.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		counts:    Counts{Total: total},
		startTime: time.Now(),
		output:    os.Stderr,
		enabled:   enabled,
	}
}

// Update records the latest tally.
func (p *Progress) Update(c Counts) {
	p.mu.Lock()
	p.counts = c
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

func (p *Progress) snapshot() (Counts, time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts, time.Since(p.startTime)
}

// Print writes the current progress line.
func (p *Progress) Print() {
	c, elapsed := p.snapshot()

	var rate float64
	var eta time.Duration
	if c.Completed > 0 && elapsed > 0 {
		rate = float64(c.Completed) / elapsed.Seconds()
		if rate > 0 {
			eta = time.Duration(float64(c.Total-c.Completed)/rate) * time.Second
		}
	}

	const barWidth = 30
	filled := 0
	if c.Total > 0 {
		filled = c.Completed * barWidth / c.Total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %d/%d images", bar, c.Completed, c.Total)
	if c.Failed > 0 {
		line += fmt.Sprintf(" (%d failed)", c.Failed)
	}
	line += fmt.Sprintf(" - %.1f images/sec", rate)
	if eta > 0 && c.Completed < c.Total {
		line += " - ETA: " + formatDuration(eta)
	}
	if c.Completed == c.Total {
		line += " - Done in " + formatDuration(elapsed)
	}

	// Pad to clear previous line content
	line += "          "

	fmt.Fprint(p.output, line)
}

// Done prints the final progress and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		fmt.Fprintln(p.output)
	}
}

// Summary returns a one-line report of the finished batch.
func (p *Progress) Summary() string {
	c, elapsed := p.snapshot()
	written := c.Completed - c.Failed - c.Skipped

	s := fmt.Sprintf("Edited %d/%d images (%d failed", written, c.Total, c.Failed)
	if c.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", c.Skipped)
	}
	s += fmt.Sprintf(") in %s, %s written", formatDuration(elapsed), formatBytes(c.Bytes))
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
