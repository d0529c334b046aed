// Package pool provides the serialized worker used for blocking
// classification calls.
package pool

import (
	"context"
	"fmt"
	"sync"
)

// Serial runs submitted jobs one at a time on a single worker
// goroutine, in submission order. The capacity is one on purpose:
// classification results must reflect the temporal order of the audio
// chunks that produced them, so jobs are serialized, never
// parallelized.
type Serial struct {
	jobs chan job

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

type job struct {
	run    func() (any, error)
	result chan result
}

type result struct {
	value any
	err   error
}

func NewSerial() *Serial {
	p := &Serial{
		jobs:   make(chan job),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.worker()
	return p
}

func (p *Serial) worker() {
	defer close(p.done)
	for {
		select {
		case <-p.closed:
			return
		case j := <-p.jobs:
			value, err := p.runJob(j.run)
			j.result <- result{value: value, err: err}
		}
	}
}

func (p *Serial) runJob(run func() (any, error)) (value any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pool job panicked: %v", recovered)
		}
	}()
	return run()
}

// Submit runs fn on the worker and blocks until it completes or ctx is
// done. A job already handed to the worker runs to completion even if
// ctx fires while it executes; Submit then still returns ctx.Err().
func (p *Serial) Submit(ctx context.Context, fn func() (any, error)) (any, error) {
	j := job{run: fn, result: make(chan result, 1)}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("pool is closed")
	case p.jobs <- j:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-j.result:
		return r.value, r.err
	}
}

// Close stops the worker and waits for it to exit. A job in flight
// finishes first.
func (p *Serial) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
	<-p.done
}
