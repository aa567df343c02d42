// Package main runs a simulated differential drive through a
// curve-following autonomous routine and logs its progress.
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/periodicrobotics/drivetrain/drivetrain"
	"github.com/periodicrobotics/drivetrain/gearbox"
	"github.com/periodicrobotics/drivetrain/gearbox/fake"
	"github.com/periodicrobotics/drivetrain/motionprofile"
)

var logger = golog.NewDevelopmentLogger("drivesim")

const (
	tickPeriod = 10 * time.Millisecond

	// plantFullSpeed is how fast the simulated plant travels at full
	// power, in encoder units per second.
	plantFullSpeed = 100.0
)

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=path to a drive train config JSON file"`
}

func defaultConfig() drivetrain.Config {
	side := gearbox.Config{P: 0.5}
	return drivetrain.Config{
		TrackWidth:      2,
		MaxVelocity:     50,
		MaxAcceleration: 50,
		Left:            side,
		Right:           side,
	}
}

func readConfig(path string) (drivetrain.Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

// simSide bundles a gear box with the fakes backing it so the plant can be
// stepped from the commanded motor power.
type simSide struct {
	motors  []*fake.Motor
	encoder *fake.Encoder
	box     *gearbox.GearBox
}

func newSimSide(name string, cfg gearbox.Config) (*simSide, error) {
	s := &simSide{
		motors:  []*fake.Motor{{}, {}},
		encoder: &fake.Encoder{},
	}
	motors := make([]gearbox.Motor, 0, len(s.motors))
	for _, m := range s.motors {
		motors = append(motors, m)
	}
	box, err := gearbox.New(name, motors, s.encoder, &fake.Shifter{}, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.box = box
	return s, nil
}

// step integrates the plant one tick: travel proportional to commanded power.
func (s *simSide) step(dt time.Duration) {
	rate := s.motors[0].PowerPct() * plantFullSpeed
	s.encoder.Advance(rate * dt.Seconds())
	s.encoder.SetRate(rate)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := readConfig(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate("drivetrain"); err != nil {
		return err
	}

	left, err := newSimSide("left", cfg.Left)
	if err != nil {
		return err
	}
	right, err := newSimSide("right", cfg.Right)
	if err != nil {
		return err
	}
	drive, err := drivetrain.New(left.box, right.box, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, drive.Close(ctx))
	}()

	// The original autonomous routine: drive straight ahead 150 units.
	curve := motionprofile.Curve{{0, 0}, {0, 50}, {0, 100}, {0, 150}}

	drive.SetControlMode(drivetrain.ModePosition)
	drive.ResetEncoders(ctx)
	drive.ResetProfile()
	if err := drive.SetGoal(curve); err != nil {
		return err
	}
	logger.Infow("goal set", "profile_duration", drive.ProfileTotalTime())

	tick := 0
	for !drive.AtGoal() {
		if !utils.SelectContextOrWait(ctx, tickPeriod) {
			return ctx.Err()
		}
		left.step(tickPeriod)
		right.step(tickPeriod)
		if err := drive.UpdateSetpoint(ctx); err != nil {
			return err
		}
		if tick%50 == 0 {
			logger.Infow("tracking",
				"left_power", drive.LeftManual(),
				"left_pos", drive.LeftDistance(ctx),
				"right_pos", drive.RightDistance(ctx),
			)
		}
		tick++
	}

	// Let the closed loop settle on the final target, then stop open loop.
	for i := 0; i < 50; i++ {
		if !utils.SelectContextOrWait(ctx, tickPeriod) {
			return ctx.Err()
		}
		left.step(tickPeriod)
		right.step(tickPeriod)
		if err := drive.UpdateSetpoint(ctx); err != nil {
			return err
		}
	}
	if err := drive.SetLeftManual(ctx, 0); err != nil {
		return err
	}
	if err := drive.SetRightManual(ctx, 0); err != nil {
		return err
	}

	logger.Infow("goal reached",
		"left_pos", drive.LeftDistance(ctx),
		"right_pos", drive.RightDistance(ctx),
		"on_target", drive.OnTarget(ctx),
	)
	return nil
}
