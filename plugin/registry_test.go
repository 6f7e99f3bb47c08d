package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/ticketbooth/ticket"
)

type settledCounter struct {
	name  string
	calls atomic.Int32
	err   error
	sleep time.Duration
	panic bool
}

func (p *settledCounter) Name() string { return p.name }

func (p *settledCounter) OnPaymentSettled(_ context.Context, _ *ticket.Ticket) error {
	p.calls.Add(1)
	if p.sleep > 0 {
		time.Sleep(p.sleep)
	}
	if p.panic {
		panic("boom")
	}
	return p.err
}

type nameOnly struct{}

func (nameOnly) Name() string { return "name-only" }

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := quietRegistry()

	if err := r.Register(&settledCounter{name: "audit"}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(&settledCounter{name: "audit"}); err == nil {
		t.Fatal("second Register() error = nil, want duplicate error")
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	if r.Get("audit") == nil {
		t.Error("Get(audit) = nil")
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) != nil")
	}
}

func TestImplementedHooks(t *testing.T) {
	got := implementedHooks(&settledCounter{})
	if len(got) != 1 || got[0] != "OnPaymentSettled" {
		t.Errorf("implementedHooks() = %v, want [OnPaymentSettled]", got)
	}
	if got := implementedHooks(nameOnly{}); len(got) != 0 {
		t.Errorf("implementedHooks(nameOnly) = %v, want none", got)
	}
}

func TestEmitSkipsFailures(t *testing.T) {
	tests := []struct {
		name   string
		first  *settledCounter
		second *settledCounter
	}{
		{
			name:   "error",
			first:  &settledCounter{name: "a", err: errors.New("nope")},
			second: &settledCounter{name: "b"},
		},
		{
			name:   "panic",
			first:  &settledCounter{name: "a", panic: true},
			second: &settledCounter{name: "b"},
		},
		{
			name:   "timeout",
			first:  &settledCounter{name: "a", sleep: 200 * time.Millisecond},
			second: &settledCounter{name: "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := quietRegistry().WithTimeout(20 * time.Millisecond)
			_ = r.Register(tt.first)
			_ = r.Register(tt.second)
			_ = r.Register(nameOnly{})

			start := time.Now()
			r.EmitPaymentSettled(context.Background(), &ticket.Ticket{})
			if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
				t.Errorf("emit took %v, want hook timeout to bound it", elapsed)
			}

			if got := tt.first.calls.Load(); got != 1 {
				t.Errorf("first calls = %d, want 1", got)
			}
			if got := tt.second.calls.Load(); got != 1 {
				t.Errorf("second calls = %d, want 1", got)
			}
		})
	}
}

func TestEmitWithoutPlugins(t *testing.T) {
	r := quietRegistry()
	r.EmitInit(context.Background(), nil)
	r.EmitUsageFlushed(context.Background(), 3, time.Millisecond)
	r.EmitShutdown(context.Background())
}
