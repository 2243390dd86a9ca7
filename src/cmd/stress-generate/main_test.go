package main

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"typing-assistant/src/pipeline"
)

func TestNewRootCmdDefaults(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 50 {
		t.Fatalf("Expected default n=50, got %d", opts.n)
	}
	if opts.overlay {
		t.Fatal("Expected overlay=false by default")
	}
	if opts.deadline != 5*time.Second {
		t.Fatalf("Expected default deadline=5s, got %v", opts.deadline)
	}
}

func TestNewRootCmdCustomFlags(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{"--n", "3", "--overlay", "--deadline", "7s"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 3 || !opts.overlay || opts.deadline != 7*time.Second {
		t.Fatalf("Unexpected options %+v", opts)
	}
}

// oneWinner accepts the first request and rejects the rest as busy.
type oneWinner struct{ calls atomic.Int32 }

func (o *oneWinner) TryGenerate(ctx context.Context, overlay bool) (bool, string, error) {
	switch o.calls.Add(1) {
	case 1:
		return true, "text", nil
	case 2:
		return true, "", errors.New("connection reset")
	default:
		return true, "", errors.New(pipeline.BusyMessage)
	}
}

func TestRunWithOptionsCounts(t *testing.T) {
	c := runWithOptions(context.Background(), stressOptions{n: 10, deadline: time.Second}, &oneWinner{})
	if c.ok != 1 || c.failed != 1 || c.busy != 8 || c.absent != 0 {
		t.Fatalf("Unexpected counts %+v", c)
	}

	var buf bytes.Buffer
	report(&buf, stressOptions{n: 10}, c)
	if got := buf.String(); got != "launched=10 ok=1 busy=8 err=1 no_resident=0\n" {
		t.Fatalf("Unexpected report %q", got)
	}
}

type absent struct{}

func (absent) TryGenerate(context.Context, bool) (bool, string, error) { return false, "", nil }

func TestRunWithOptionsNoResident(t *testing.T) {
	c := runWithOptions(context.Background(), stressOptions{n: 3, deadline: time.Second}, absent{})
	if c.absent != 3 {
		t.Fatalf("Expected 3 absent, got %+v", c)
	}
}
