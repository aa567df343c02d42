// Package drivetrain coordinates the two sides of a differential drive:
// raw manual control, closed-loop position control, gear selection, and
// autonomous curve following via a trapezoidal motion profile.
//
// The package has no loop of its own. An external scheduler calls
// UpdateSetpoint (or Tick) at a fixed cadence; all state mutation happens
// inside those calls.
package drivetrain

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/periodicrobotics/drivetrain/gearbox"
	"github.com/periodicrobotics/drivetrain/motionprofile"
)

// ControlMode selects how setpoints reach the motors.
type ControlMode int

const (
	// ModeManual drives the motors open loop from raw [-1, 1] values.
	ModeManual ControlMode = iota
	// ModePosition drives each side's closed-loop controller toward a
	// position setpoint.
	ModePosition
)

// Config describes a drive train. Distances are in encoder units; time in
// seconds.
type Config struct {
	TrackWidth      float64 `json:"track_width"`
	MaxVelocity     float64 `json:"max_velocity"`
	MaxAcceleration float64 `json:"max_acceleration"`
	// Tolerance is the goal window in encoder units; it defaults to the
	// gear boxes' closed-loop tolerance.
	Tolerance float64 `json:"tolerance,omitempty"`

	Left  gearbox.Config `json:"left"`
	Right gearbox.Config `json:"right"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.TrackWidth <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "track_width")
	}
	if cfg.MaxVelocity <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_velocity")
	}
	if cfg.MaxAcceleration <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_acceleration")
	}
	if err := cfg.Left.Validate(path + ".left"); err != nil {
		return err
	}
	return cfg.Right.Validate(path + ".right")
}

// A DriveTrain owns its two gear boxes for its entire lifetime.
type DriveTrain struct {
	left, right *gearbox.GearBox
	follower    *motionprofile.Follower

	mode     ControlMode
	clock    clock.Clock
	logger   golog.Logger
	lastTick time.Time
}

// New assembles a drive train from two gear boxes. A nil clk falls back to
// the wall clock.
func New(left, right *gearbox.GearBox, cfg Config, clk clock.Clock, logger golog.Logger) (*DriveTrain, error) {
	if err := cfg.Validate("drivetrain"); err != nil {
		return nil, err
	}
	tolerance := cfg.Tolerance
	if tolerance == 0 {
		tolerance = left.Tolerance()
	}
	follower, err := motionprofile.NewFollower(cfg.TrackWidth, cfg.MaxVelocity, cfg.MaxAcceleration, tolerance)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DriveTrain{
		left:     left,
		right:    right,
		follower: follower,
		clock:    clk,
		logger:   logger,
	}, nil
}

// SetControlMode switches between manual and closed-loop position control.
// Entering position mode re-arms both sides' controllers with cleared
// accumulators.
func (d *DriveTrain) SetControlMode(mode ControlMode) {
	d.mode = mode
	if mode == ModePosition {
		d.left.ResetPID()
		d.right.ResetPID()
	}
}

// ControlMode returns the current control mode.
func (d *DriveTrain) ControlMode() ControlMode { return d.mode }

// SetLeftManual drives the left side open loop at value in [-1, 1].
func (d *DriveTrain) SetLeftManual(ctx context.Context, value float64) error {
	return d.left.SetManual(ctx, value)
}

// SetRightManual drives the right side open loop at value in [-1, 1].
func (d *DriveTrain) SetRightManual(ctx context.Context, value float64) error {
	return d.right.SetManual(ctx, value)
}

// LeftManual returns the left side's last raw command.
func (d *DriveTrain) LeftManual() float64 { return d.left.Manual() }

// RightManual returns the right side's last raw command.
func (d *DriveTrain) RightManual() float64 { return d.right.Manual() }

// SetLeftSetpoint hands a position target to the left side's controller.
func (d *DriveTrain) SetLeftSetpoint(setpoint float64) { d.left.SetSetpoint(setpoint) }

// SetRightSetpoint hands a position target to the right side's controller.
func (d *DriveTrain) SetRightSetpoint(setpoint float64) { d.right.SetSetpoint(setpoint) }

// SetGoal submits a curve to follow, with the profile clock starting now.
// The previous profile must have been cleared with ResetProfile.
func (d *DriveTrain) SetGoal(curve motionprofile.Curve) error {
	now := d.clock.Now()
	if err := d.follower.SetGoal(curve, now); err != nil {
		return err
	}
	d.lastTick = now
	return nil
}

// UpdateSetpoint performs one tick of curve following: it advances the
// profile to the current time, feeds both sides' position targets into
// their gear boxes, and steps the closed-loop controllers. The drive must
// be in position mode.
func (d *DriveTrain) UpdateSetpoint(ctx context.Context) error {
	if d.mode != ModePosition {
		return errors.New("curve following requires position control mode")
	}
	if err := d.follower.Update(d.clock.Now()); err != nil {
		return err
	}
	d.left.SetSetpoint(d.follower.LeftSetpoint())
	d.right.SetSetpoint(d.follower.RightSetpoint())
	return d.Tick(ctx)
}

// Tick steps both sides' closed-loop controllers with the time elapsed
// since the previous tick. It is safe to call in any mode; disabled
// controllers ignore it.
func (d *DriveTrain) Tick(ctx context.Context) error {
	now := d.clock.Now()
	var dt time.Duration
	if !d.lastTick.IsZero() {
		dt = now.Sub(d.lastTick)
	}
	d.lastTick = now
	return multierr.Combine(d.left.Tick(ctx, dt), d.right.Tick(ctx, dt))
}

// AtGoal reports whether the current profile has brought both sides within
// tolerance of the end of the curve.
func (d *DriveTrain) AtGoal() bool { return d.follower.AtGoal() }

// ResetProfile clears the follower back to idle. Call it before submitting
// a new curve.
func (d *DriveTrain) ResetProfile() { d.follower.Reset() }

// ProfileTotalTime returns the planned duration of the active profile.
func (d *DriveTrain) ProfileTotalTime() time.Duration { return d.follower.TotalTime() }

// ResetEncoders zeroes both sides' encoders.
func (d *DriveTrain) ResetEncoders(ctx context.Context) {
	d.left.ResetEncoder(ctx)
	d.right.ResetEncoder(ctx)
}

// SetGear requests the same gear on both sides. The mechanical shifts are
// deferred by each side's interlock until its motors are unloaded.
func (d *DriveTrain) SetGear(high bool) {
	d.left.SetGear(high)
	d.right.SetGear(high)
}

// Gear returns the left side's mechanical gear state.
func (d *DriveTrain) Gear() bool { return d.left.Gear() }

// LeftDistance returns the left encoder's accumulated travel.
func (d *DriveTrain) LeftDistance(ctx context.Context) float64 { return d.left.Distance(ctx) }

// RightDistance returns the right encoder's accumulated travel.
func (d *DriveTrain) RightDistance(ctx context.Context) float64 { return d.right.Distance(ctx) }

// LeftRate returns the left encoder's measured rate.
func (d *DriveTrain) LeftRate(ctx context.Context) float64 { return d.left.Rate(ctx) }

// RightRate returns the right encoder's measured rate.
func (d *DriveTrain) RightRate(ctx context.Context) float64 { return d.right.Rate(ctx) }

// OnTarget reports whether both sides' controllers are within tolerance of
// their setpoints.
func (d *DriveTrain) OnTarget(ctx context.Context) bool {
	return d.left.OnTarget(ctx) && d.right.OnTarget(ctx)
}

// Close releases both gear boxes and their hardware.
func (d *DriveTrain) Close(ctx context.Context) error {
	return multierr.Combine(d.left.Close(ctx), d.right.Close(ctx))
}
