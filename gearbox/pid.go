package gearbox

import "time"

// positionPID is the discrete PID plus feed-forward loop that tracks a gear
// box's position setpoint. The accumulated integral term is clamped to the
// output range so it cannot wind up past full power.
type positionPID struct {
	kP, kI, kD, kF float64

	target  float64
	enabled bool

	accum   float64
	lastErr float64
	hasLast bool
}

func newPositionPID(p, i, d, f float64) *positionPID {
	return &positionPID{kP: p, kI: i, kD: d, kF: f}
}

func (p *positionPID) Enable()  { p.enabled = true }
func (p *positionPID) Disable() { p.enabled = false }

func (p *positionPID) Enabled() bool { return p.enabled }

func (p *positionPID) SetTarget(target float64) { p.target = target }

func (p *positionPID) Target() float64 { return p.target }

func (p *positionPID) SetGains(kp, ki, kd, kf float64) {
	p.kP, p.kI, p.kD, p.kF = kp, ki, kd, kf
}

// Output returns the next drive command in [-1, 1] for the measured
// position. dt is the time since the previous call; a non-positive dt
// yields a proportional-only step.
func (p *positionPID) Output(measured float64, dt time.Duration) float64 {
	err := p.target - measured
	dtS := dt.Seconds()
	if dtS <= 0 {
		p.lastErr = err
		p.hasLast = true
		return clampPower(p.kP*err + p.kF*p.target)
	}

	p.accum += p.kI * err * dtS
	if p.accum > 1 {
		p.accum = 1
	} else if p.accum < -1 {
		p.accum = -1
	}

	var deriv float64
	if p.hasLast {
		deriv = (err - p.lastErr) / dtS
	}
	p.lastErr = err
	p.hasLast = true

	return clampPower(p.kP*err + p.accum + p.kD*deriv + p.kF*p.target)
}

// Reset clears the accumulated integral and derivative history.
func (p *positionPID) Reset() {
	p.accum = 0
	p.lastErr = 0
	p.hasLast = false
}
