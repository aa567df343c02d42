// Package gearbox controls a cluster of up to three ganged drive motors
// with an optional quadrature encoder, an optional closed-loop position
// controller, and an optional two-speed shifter.
//
// Missing hardware is a valid configuration, not an error: operations that
// need an absent encoder, controller, or shifter degrade to a benign
// default and a warning log.
package gearbox

import (
	"context"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// MaxMotors is the largest number of motors a single gear box can gang.
	MaxMotors = 3

	// DefaultShiftThreshold is the commanded output magnitude above which a
	// pending gear shift is deferred to avoid shock-loading the gearing.
	DefaultShiftThreshold = 0.12

	// DefaultTolerance is the closed-loop on-target window in encoder units.
	DefaultTolerance = 1.0
)

// A Motor is a signed, normalized power output.
type Motor interface {
	// SetPower commands a duty cycle between -1 and 1.
	SetPower(ctx context.Context, powerPct float64) error
	// PowerPct returns the last commanded duty cycle.
	PowerPct() float64
	Close(ctx context.Context) error
}

// An Encoder reports accumulated travel and rate for a gear box.
type Encoder interface {
	Position(ctx context.Context) (float64, error)
	Rate(ctx context.Context) (float64, error)
	Reset(ctx context.Context) error
	// SetReversed flips the counting direction; it takes effect on the next read.
	SetReversed(reversed bool)
	Close(ctx context.Context) error
}

// A Shifter selects between the two speeds of a mechanical gear box.
type Shifter interface {
	SetGear(ctx context.Context, high bool) error
	Gear() bool
	Close(ctx context.Context) error
}

// Config holds the tunable parameters of a gear box.
type Config struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
	F float64 `json:"f,omitempty"`

	// ShiftThreshold overrides DefaultShiftThreshold when nonzero. A zero
	// value selects the default, so an exact-zero threshold (which would
	// defer every shift forever) is deliberately not expressible.
	ShiftThreshold float64 `json:"shift_threshold,omitempty"`
	// Tolerance overrides DefaultTolerance when nonzero. A zero value
	// selects the default, so an exact-zero window (float equality on an
	// encoder reading) is deliberately not expressible.
	Tolerance float64 `json:"tolerance,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.ShiftThreshold < 0 || cfg.ShiftThreshold > 1 {
		return errors.Errorf("%s: shift_threshold must be within [0, 1], got %f", path, cfg.ShiftThreshold)
	}
	if cfg.Tolerance < 0 {
		return errors.Errorf("%s: tolerance must be non-negative, got %f", path, cfg.Tolerance)
	}
	return nil
}

// A GearBox presents a uniform control surface over one actuator cluster.
// It is not safe for concurrent use; all calls are expected to come from a
// single control loop.
type GearBox struct {
	name   string
	logger golog.Logger

	motors  []Motor
	encoder Encoder
	shifter Shifter
	pid     *positionPID

	shiftThreshold float64
	tolerance      float64

	motorReversed   bool
	encoderReversed bool
	targetGear      bool
}

// New wires a gear box to its hardware. Between one and MaxMotors motors
// are required; encoder and shifter may be nil. The closed-loop controller
// exists only when an encoder is present and starts out enabled.
func New(
	name string,
	motors []Motor,
	encoder Encoder,
	shifter Shifter,
	cfg Config,
	logger golog.Logger,
) (*GearBox, error) {
	if len(motors) == 0 || len(motors) > MaxMotors {
		return nil, errors.Errorf("gear box %q needs 1 to %d motors, got %d", name, MaxMotors, len(motors))
	}
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}

	gb := &GearBox{
		name:           name,
		logger:         logger,
		motors:         motors,
		encoder:        encoder,
		shifter:        shifter,
		shiftThreshold: cfg.ShiftThreshold,
		tolerance:      cfg.Tolerance,
	}
	if gb.shiftThreshold == 0 {
		gb.shiftThreshold = DefaultShiftThreshold
	}
	if gb.tolerance == 0 {
		gb.tolerance = DefaultTolerance
	}
	if encoder != nil {
		gb.pid = newPositionPID(cfg.P, cfg.I, cfg.D, cfg.F)
		gb.pid.Enable()
	}
	return gb, nil
}

// SetManual drives all motors directly at value in [-1, 1], disabling the
// closed-loop controller if it was active.
func (gb *GearBox) SetManual(ctx context.Context, value float64) error {
	if gb.pid != nil {
		gb.pid.Disable()
	}
	return gb.write(ctx, value)
}

// Manual returns the last commanded raw output, sign-corrected for motor
// reversal.
func (gb *GearBox) Manual() float64 {
	if gb.motorReversed {
		return -gb.motors[0].PowerPct()
	}
	return gb.motors[0].PowerPct()
}

// SetSetpoint hands a position target to the closed-loop controller,
// enabling it if needed. The controller's output reaches the motors on the
// next Tick.
func (gb *GearBox) SetSetpoint(setpoint float64) {
	if gb.pid == nil {
		gb.logger.Warnf("gear box %q has no closed-loop controller; ignoring setpoint %.3f", gb.name, setpoint)
		return
	}
	gb.pid.Enable()
	gb.pid.SetTarget(setpoint)
}

// Setpoint returns the closed-loop controller's current target, or 0 when
// no controller is configured.
func (gb *GearBox) Setpoint() float64 {
	if gb.pid == nil {
		gb.logger.Warnf("gear box %q has no closed-loop controller; no setpoint to report", gb.name)
		return 0
	}
	return gb.pid.Target()
}

// SetGains updates the controller's proportional, integral, derivative,
// and feed-forward gains.
func (gb *GearBox) SetGains(p, i, d, f float64) {
	if gb.pid == nil {
		gb.logger.Warnf("gear box %q has no closed-loop controller; ignoring gains", gb.name)
		return
	}
	gb.pid.SetGains(p, i, d, f)
}

// Tick advances the closed-loop controller by dt and funnels its output
// through the same write path as manual drive, so the gear interlock
// applies uniformly. It is a no-op when no controller is configured or the
// controller is disabled.
func (gb *GearBox) Tick(ctx context.Context, dt time.Duration) error {
	if gb.pid == nil || !gb.pid.Enabled() {
		return nil
	}
	pos, err := gb.encoder.Position(ctx)
	if err != nil {
		return errors.Wrapf(err, "gear box %q failed to read encoder", gb.name)
	}
	return gb.write(ctx, gb.pid.Output(pos, dt))
}

// ResetEncoder zeroes the encoder's accumulated position.
func (gb *GearBox) ResetEncoder(ctx context.Context) {
	if gb.encoder == nil {
		gb.logger.Warnf("gear box %q has no encoder to reset", gb.name)
		return
	}
	if err := gb.encoder.Reset(ctx); err != nil {
		gb.logger.Warnw("encoder reset failed", "gearbox", gb.name, "error", err)
	}
}

// Distance returns the encoder's accumulated travel, or 0 when no encoder
// is configured or the read fails.
func (gb *GearBox) Distance(ctx context.Context) float64 {
	if gb.encoder == nil {
		gb.logger.Warnf("gear box %q has no encoder; distance unavailable", gb.name)
		return 0
	}
	pos, err := gb.encoder.Position(ctx)
	if err != nil {
		gb.logger.Warnw("encoder position read failed", "gearbox", gb.name, "error", err)
		return 0
	}
	return pos
}

// Rate returns the encoder's measured rate, or 0 when no encoder is
// configured or the read fails.
func (gb *GearBox) Rate(ctx context.Context) float64 {
	if gb.encoder == nil {
		gb.logger.Warnf("gear box %q has no encoder; rate unavailable", gb.name)
		return 0
	}
	rate, err := gb.encoder.Rate(ctx)
	if err != nil {
		gb.logger.Warnw("encoder rate read failed", "gearbox", gb.name, "error", err)
		return 0
	}
	return rate
}

// SetReversed sets the orientation flags. Encoder reversal takes effect
// immediately on the encoder; motor reversal takes effect on the next write.
func (gb *GearBox) SetReversed(motor, encoder bool) {
	gb.motorReversed = motor
	gb.encoderReversed = encoder
	if gb.encoder != nil {
		gb.encoder.SetReversed(encoder)
	} else if encoder {
		gb.logger.Warnf("gear box %q has no encoder to reverse", gb.name)
	}
}

// MotorReversed reports whether motor output is inverted.
func (gb *GearBox) MotorReversed() bool { return gb.motorReversed }

// EncoderReversed reports whether the encoder counts backwards.
func (gb *GearBox) EncoderReversed() bool { return gb.encoderReversed }

// SetGear requests a gear. The mechanical state changes asynchronously: the
// request is latched and applied by the interlock on a later write once
// every motor is below the shift threshold. It is never dropped, only
// deferred.
func (gb *GearBox) SetGear(high bool) {
	if gb.shifter == nil {
		gb.logger.Warnf("gear box %q has no shifter; ignoring gear request", gb.name)
		return
	}
	gb.targetGear = high
}

// Gear returns the shifter's current mechanical state, or false when no
// shifter is configured.
func (gb *GearBox) Gear() bool {
	if gb.shifter == nil {
		return false
	}
	return gb.shifter.Gear()
}

// OnTarget reports whether the closed-loop controller is within tolerance
// of its setpoint. It is false, not an error, when no controller exists.
func (gb *GearBox) OnTarget(ctx context.Context) bool {
	if gb.pid == nil {
		return false
	}
	pos, err := gb.encoder.Position(ctx)
	if err != nil {
		gb.logger.Warnw("encoder position read failed", "gearbox", gb.name, "error", err)
		return false
	}
	return math.Abs(gb.pid.Target()-pos) <= gb.tolerance
}

// ResetPID zeroes the controller's accumulated state and re-enables it.
func (gb *GearBox) ResetPID() {
	if gb.pid == nil {
		gb.logger.Warnf("gear box %q has no closed-loop controller to reset", gb.name)
		return
	}
	gb.pid.Reset()
	gb.pid.Enable()
}

// Tolerance returns the on-target window in encoder units.
func (gb *GearBox) Tolerance() float64 { return gb.tolerance }

// Close releases all owned hardware handles.
func (gb *GearBox) Close(ctx context.Context) error {
	var err error
	for _, m := range gb.motors {
		err = multierr.Combine(err, m.Close(ctx))
	}
	if gb.encoder != nil {
		err = multierr.Combine(err, gb.encoder.Close(ctx))
	}
	if gb.shifter != nil {
		err = multierr.Combine(err, gb.shifter.Close(ctx))
	}
	return err
}

// write commands every motor with the sign-corrected, clamped output and
// then re-evaluates the gear interlock.
func (gb *GearBox) write(ctx context.Context, output float64) error {
	output = clampPower(output)
	if gb.motorReversed {
		output = -output
	}
	var err error
	for _, m := range gb.motors {
		err = multierr.Combine(err, m.SetPower(ctx, output))
	}
	return multierr.Combine(err, gb.updateGear(ctx))
}

// updateGear applies a latched gear request once it is safe: a shift is
// deferred while any motor's commanded magnitude is at or above the shift
// threshold.
func (gb *GearBox) updateGear(ctx context.Context) error {
	if gb.shifter == nil || gb.targetGear == gb.shifter.Gear() {
		return nil
	}
	for _, m := range gb.motors {
		if math.Abs(m.PowerPct()) >= gb.shiftThreshold {
			return nil
		}
	}
	return gb.shifter.SetGear(ctx, gb.targetGear)
}

func clampPower(pwr float64) float64 {
	return math.Max(math.Min(pwr, 1.0), -1.0)
}
