package main

import (
	"context"
	"errors"
	"testing"
)

type cycleFunc func(ctx context.Context) error

func (f cycleFunc) RunCycle(ctx context.Context) error { return f(ctx) }

type closeRecorder struct {
	closed int
	err    error
}

func (c *closeRecorder) Close() error {
	c.closed++
	return c.err
}

func TestRunSingle_ClosesOnFailure(t *testing.T) {
	outcomes, store := &closeRecorder{}, &closeRecorder{err: errors.New("busy")}
	code := runSingle(context.Background(), cycleFunc(func(context.Context) error {
		return errors.New("post m1: boom")
	}), outcomes, store)

	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	if outcomes.closed != 1 || store.closed != 1 {
		t.Fatalf("closers not run once: outcomes=%d store=%d", outcomes.closed, store.closed)
	}
}

func TestRunSingle_Success(t *testing.T) {
	c := &closeRecorder{}
	if code := runSingle(context.Background(), cycleFunc(func(context.Context) error { return nil }), c); code != 0 {
		t.Fatalf("exit code=%d, want 0", code)
	}
	if c.closed != 1 {
		t.Fatalf("closed=%d, want 1", c.closed)
	}
}
