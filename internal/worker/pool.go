// Package worker edits batches of image files in parallel.
//
// Every task runs through its own pipeline, so workers never share pixel buffers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/imagex/internal/types"
)

// Processor edits one file.
type Processor interface {
	Process(ctx context.Context, task Task) (Output, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, task Task) (Output, error)

func (f ProcessorFunc) Process(ctx context.Context, task Task) (Output, error) {
	return f(ctx, task)
}

// Task is a single input file and the path its edited version is written to.
type Task struct {
	Input  string
	Output string
}

// Output describes a written file.
type Output struct {
	Path    string
	Size    types.Size
	Bytes   int
	Skipped bool // output already existed and was kept
}

// Result is the outcome of one task.
type Result struct {
	Task    Task
	Output  Output
	Err     error
	Elapsed time.Duration
}

// Counts is the running tally passed to progress callbacks.
type Counts struct {
	Completed int
	Total     int
	Failed    int
	Skipped   int
	Bytes     int64
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(Counts)

// Config configures the worker pool.
type Config struct {
	Processor  Processor
	OnProgress ProgressFunc
	Workers    int
}

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	processor  Processor
	onProgress ProgressFunc
	workers    int
}

// New creates a new worker pool. Workers <= 0 means one.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		processor:  cfg.Processor,
		onProgress: cfg.OnProgress,
	}
}

type indexed struct {
	task  Task
	index int
}

// Run executes all tasks and returns one result per task, in task order.
// Tasks not started before ctx is cancelled get ctx.Err() as their error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan indexed)
	resultCh := make(chan indexed, p.workers)
	results := make([]Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range taskCh {
				results[it.index] = p.run(ctx, it.task)
				resultCh <- it
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for i, task := range tasks {
			select {
			case taskCh <- indexed{index: i, task: task}:
			case <-ctx.Done():
				for j := i; j < len(tasks); j++ {
					results[j] = Result{Task: tasks[j], Err: ctx.Err()}
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	counts := Counts{Total: len(tasks)}
	for it := range resultCh {
		r := results[it.index]
		counts.Completed++
		switch {
		case r.Err != nil:
			counts.Failed++
		case r.Output.Skipped:
			counts.Skipped++
		default:
			counts.Bytes += int64(r.Output.Bytes)
		}
		if p.onProgress != nil {
			p.onProgress(counts)
		}
	}

	return results
}

func (p *Pool) run(ctx context.Context, task Task) Result {
	if err := ctx.Err(); err != nil {
		return Result{Task: task, Err: err}
	}

	start := time.Now()
	out, err := p.processor.Process(ctx, task)
	return Result{
		Task:    task,
		Output:  out,
		Err:     err,
		Elapsed: time.Since(start),
	}
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
