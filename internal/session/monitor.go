package session

import (
	"context"
	"log"
	"time"

	"github.com/zulandar/cohost/internal/config"
)

// Policy is the heartbeat staleness window.
type Policy struct {
	Timeout time.Duration
}

// NewPolicy builds a Policy from an operator-supplied millisecond value,
// clamped to the allowed range. Zero selects the default.
func NewPolicy(timeoutMs int) Policy {
	return Policy{Timeout: time.Duration(config.ClampTimeoutMs(timeoutMs)) * time.Millisecond}
}

// Monitor evaluates heartbeat staleness on demand. It keeps no timer of its
// own; a scheduler or an API call triggers each sweep.
type Monitor struct {
	ledger *Ledger
	policy Policy
}

// NewMonitor creates a Monitor over ledger.
func NewMonitor(ledger *Ledger, policy Policy) *Monitor {
	if policy.Timeout <= 0 {
		policy = NewPolicy(0)
	}
	return &Monitor{ledger: ledger, policy: policy}
}

// Policy returns the active staleness policy.
func (m *Monitor) Policy() Policy {
	return m.policy
}

// Sweep demotes stale active sessions using the monitor's policy.
func (m *Monitor) Sweep(ctx context.Context) ([]string, error) {
	return m.SweepWith(ctx, m.policy.Timeout)
}

// SweepWith demotes stale sessions using an explicit timeout, clamped to the
// allowed range.
func (m *Monitor) SweepWith(ctx context.Context, timeout time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout = time.Duration(config.ClampTimeoutMs(int(timeout.Milliseconds()))) * time.Millisecond
	ids, err := m.ledger.SweepTimeouts(timeout)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		log.Printf("session: marked %d stale session(s) incomplete: %v", len(ids), ids)
	}
	return ids, nil
}
