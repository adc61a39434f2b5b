package worker

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgress_Update(t *testing.T) {
	p := NewProgress(10, false)

	p.Update(Counts{Completed: 5, Total: 10})

	if p.counts.Completed != 5 {
		t.Errorf("Expected completed=5, got %d", p.counts.Completed)
	}
	if p.counts.Total != 10 {
		t.Errorf("Expected total=10, got %d", p.counts.Total)
	}
}

func TestProgress_Print(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, true)
	p.output = &buf
	p.startTime = time.Now().Add(-10 * time.Second)

	p.Update(Counts{Completed: 5, Total: 10, Failed: 1})

	output := buf.String()
	for _, want := range []string{"█", "5/10 images", "(1 failed)", "images/sec", "ETA:"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

func TestProgress_PrintComplete(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(4, true)
	p.output = &buf

	p.Update(Counts{Completed: 4, Total: 4})

	if !strings.Contains(buf.String(), "Done in") {
		t.Errorf("Expected 'Done in' in output, got: %s", buf.String())
	}
	if strings.Contains(buf.String(), "░") {
		t.Error("Bar should be full")
	}
}

func TestProgress_Disabled(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, false)
	p.output = &buf

	p.Update(Counts{Completed: 5, Total: 10})
	p.Done()

	if buf.Len() != 0 {
		t.Errorf("Expected no output when disabled, got: %s", buf.String())
	}
}

func TestProgress_Summary(t *testing.T) {
	p := NewProgress(10, false)
	p.startTime = time.Now().Add(-30 * time.Second)
	p.Update(Counts{Completed: 10, Total: 10, Failed: 2, Skipped: 3, Bytes: 3 * 1024 * 1024})

	summary := p.Summary()
	for _, want := range []string{"Edited 5/10 images", "2 failed", "3 skipped", "3.0 MiB written"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Expected %q in summary, got: %s", want, summary)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		want     string
		duration time.Duration
	}{
		{"0s", 0},
		{"30s", 30 * time.Second},
		{"1m30s", 90 * time.Second},
		{"1h1m", time.Hour + time.Minute},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.duration); got != tt.want {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.duration, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		want string
		n    int64
	}{
		{"0 B", 0},
		{"1023 B", 1023},
		{"1.0 KiB", 1024},
		{"1.5 MiB", 3 * 512 * 1024},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}
