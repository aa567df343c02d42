// Package fake provides in-memory gear box hardware for tests and demos.
// The fakes are mutex-guarded so tests may probe them while a control loop
// is running.
package fake

import (
	"context"
	"sync"
)

// Motor records the last commanded duty cycle.
type Motor struct {
	mu       sync.Mutex
	powerPct float64
}

// SetPower stores the commanded duty cycle.
func (m *Motor) SetPower(ctx context.Context, powerPct float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerPct = powerPct
	return nil
}

// PowerPct returns the last commanded duty cycle.
func (m *Motor) PowerPct() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powerPct
}

// Close does nothing.
func (m *Motor) Close(ctx context.Context) error { return nil }

// Encoder tracks a position that tests advance by hand, which doubles as a
// trivial plant model when driven from a fake motor's power.
type Encoder struct {
	mu       sync.Mutex
	position float64
	rate     float64
	reversed bool
}

// Position returns the accumulated travel, negated when reversed.
func (e *Encoder) Position(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reversed {
		return -e.position, nil
	}
	return e.position, nil
}

// Rate returns the last set rate, negated when reversed.
func (e *Encoder) Rate(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reversed {
		return -e.rate, nil
	}
	return e.rate, nil
}

// Reset zeroes the accumulated travel.
func (e *Encoder) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = 0
	return nil
}

// SetReversed flips the counting direction.
func (e *Encoder) SetReversed(reversed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reversed = reversed
}

// Close does nothing.
func (e *Encoder) Close(ctx context.Context) error { return nil }

// SetPosition overwrites the accumulated travel.
func (e *Encoder) SetPosition(position float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = position
}

// Advance adds delta to the accumulated travel.
func (e *Encoder) Advance(delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position += delta
}

// SetRate overwrites the measured rate.
func (e *Encoder) SetRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
}

// Shifter records the commanded gear.
type Shifter struct {
	mu   sync.Mutex
	gear bool
}

// SetGear stores the commanded gear.
func (s *Shifter) SetGear(ctx context.Context, high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gear = high
	return nil
}

// Gear returns the commanded gear.
func (s *Shifter) Gear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gear
}

// Close does nothing.
func (s *Shifter) Close(ctx context.Context) error { return nil }
