package pipeline

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Runner drives one or more pipeline tasks to completion and cancels
// all of them on the first interrupt signal.
type Runner struct {
	handleSignals bool
}

type RunnerOption func(*Runner)

// WithSignalHandling cancels every running task on SIGINT/SIGTERM.
func WithSignalHandling() RunnerOption {
	return func(r *Runner) { r.handleSignals = true }
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until every task finishes and returns the joined errors.
func (r *Runner) Run(ctx context.Context, tasks ...*PipelineTask) error {
	if r.handleSignals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		err   error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if runErr := task.Run(ctx); runErr != nil {
				errMu.Lock()
				err = errors.Join(err, runErr)
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return err
}
