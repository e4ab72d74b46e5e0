package session

import (
	"context"
	"testing"
	"time"
)

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		ms   int
		want time.Duration
	}{
		{0, 30 * time.Second},
		{500, time.Second},
		{1000, time.Second},
		{45000, 45 * time.Second},
		{600000, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := NewPolicy(tt.ms).Timeout; got != tt.want {
			t.Errorf("NewPolicy(%d).Timeout = %v, want %v", tt.ms, got, tt.want)
		}
	}
}

func TestMonitor_Sweep(t *testing.T) {
	clock := newFakeClock()
	l, _ := newTestLedger(t, LedgerOpts{Now: clock.Now})
	s, _ := l.Create(CreateOpts{})
	m := NewMonitor(l, NewPolicy(1000))

	clock.Advance(900 * time.Millisecond)
	ids, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("demoted %v before timeout", ids)
	}

	clock.Advance(200 * time.Millisecond)
	ids, err = m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(ids) != 1 || ids[0] != s.ID {
		t.Errorf("demoted = %v, want [%s]", ids, s.ID)
	}
}

func TestMonitor_SweepWithClampsTimeout(t *testing.T) {
	clock := newFakeClock()
	l, _ := newTestLedger(t, LedgerOpts{Now: clock.Now})
	l.Create(CreateOpts{})
	m := NewMonitor(l, Policy{})

	if m.Policy().Timeout != 30*time.Second {
		t.Errorf("default policy = %v, want 30s", m.Policy().Timeout)
	}

	clock.Advance(500 * time.Millisecond)
	ids, err := m.SweepWith(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("SweepWith: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("1ms timeout should clamp to 1s; demoted %v", ids)
	}
}

func TestMonitor_CancelledContext(t *testing.T) {
	l, _ := newTestLedger(t, LedgerOpts{})
	m := NewMonitor(l, NewPolicy(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Sweep(ctx); err == nil {
		t.Error("expected context error")
	}
}
