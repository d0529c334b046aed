package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmitReturnsJobResult(t *testing.T) {
	p := NewSerial()
	defer p.Close()

	value, err := p.Submit(context.Background(), func() (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if value.(int) != 42 {
		t.Fatalf("expected 42, got %v", value)
	}
}

func TestSubmitReturnsJobError(t *testing.T) {
	p := NewSerial()
	defer p.Close()

	cause := errors.New("classifier unavailable")
	_, err := p.Submit(context.Background(), func() (any, error) {
		return nil, cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("expected job error to surface, got %v", err)
	}
}

func TestJobsRunInSubmissionOrder(t *testing.T) {
	p := NewSerial()
	defer p.Close()

	var order []int
	for i := range 10 {
		_, err := p.Submit(context.Background(), func() (any, error) {
			order = append(order, i)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("expected submission %d to succeed, got %v", i, err)
		}
	}

	for i, got := range order {
		if got != i {
			t.Fatalf("expected job %d at position %d, got %d", i, i, got)
		}
	}
}

func TestPanickingJobSurfacesAsError(t *testing.T) {
	p := NewSerial()
	defer p.Close()

	_, err := p.Submit(context.Background(), func() (any, error) {
		panic("classifier blew up")
	})
	if err == nil {
		t.Fatalf("expected an error from a panicking job")
	}

	// The worker survives the panic and keeps serving jobs.
	value, err := p.Submit(context.Background(), func() (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected worker to survive the panic, got %v", err)
	}
	if value.(string) != "ok" {
		t.Fatalf("expected ok, got %v", value)
	}
}

func TestSubmitReturnsContextErrorWhenCancelled(t *testing.T) {
	p := NewSerial()
	defer p.Close()

	blocked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = p.Submit(context.Background(), func() (any, error) {
			close(blocked)
			<-release
			return nil, nil
		})
	}()
	<-blocked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, func() (any, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
	close(release)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := NewSerial()
	p.Close()

	if _, err := p.Submit(context.Background(), func() (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected an error submitting to a closed pool")
	}
}
