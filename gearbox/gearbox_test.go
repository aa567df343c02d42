package gearbox

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/periodicrobotics/drivetrain/gearbox/fake"
)

func newTestBox(t *testing.T, numMotors int, withEncoder, withShifter bool, cfg Config) (
	*GearBox, []*fake.Motor, *fake.Encoder, *fake.Shifter,
) {
	t.Helper()
	logger := golog.NewTestLogger(t)

	fakes := make([]*fake.Motor, numMotors)
	motors := make([]Motor, numMotors)
	for i := range fakes {
		fakes[i] = &fake.Motor{}
		motors[i] = fakes[i]
	}
	var enc *fake.Encoder
	var encoder Encoder
	if withEncoder {
		enc = &fake.Encoder{}
		encoder = enc
	}
	var shf *fake.Shifter
	var shifter Shifter
	if withShifter {
		shf = &fake.Shifter{}
		shifter = shf
	}

	gb, err := New("test", motors, encoder, shifter, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	return gb, fakes, enc, shf
}

func TestNewValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)

	_, err := New("empty", nil, nil, nil, Config{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	tooMany := []Motor{&fake.Motor{}, &fake.Motor{}, &fake.Motor{}, &fake.Motor{}}
	_, err = New("crowded", tooMany, nil, nil, Config{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New("bad", []Motor{&fake.Motor{}}, nil, nil, Config{ShiftThreshold: 2}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New("bad", []Motor{&fake.Motor{}}, nil, nil, Config{Tolerance: -1}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigDefaults(t *testing.T) {
	ctx := context.Background()

	// Zero-valued settings select the package defaults.
	gb, _, _, _ := newTestBox(t, 1, true, true, Config{})
	test.That(t, gb.Tolerance(), test.ShouldEqual, DefaultTolerance)

	gb.SetGear(true)
	test.That(t, gb.SetManual(ctx, DefaultShiftThreshold), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeFalse)
	test.That(t, gb.SetManual(ctx, DefaultShiftThreshold-0.01), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeTrue)
}

func TestManualDrive(t *testing.T) {
	ctx := context.Background()
	gb, motors, _, _ := newTestBox(t, 3, false, false, Config{})

	test.That(t, gb.SetManual(ctx, 0.4), test.ShouldBeNil)
	test.That(t, gb.Manual(), test.ShouldAlmostEqual, 0.4)
	for _, m := range motors {
		test.That(t, m.PowerPct(), test.ShouldAlmostEqual, 0.4)
	}

	// Values beyond full scale are clamped.
	test.That(t, gb.SetManual(ctx, 1.7), test.ShouldBeNil)
	test.That(t, gb.Manual(), test.ShouldAlmostEqual, 1.0)
}

func TestMotorReversal(t *testing.T) {
	ctx := context.Background()
	gb, motors, _, _ := newTestBox(t, 2, false, false, Config{})

	gb.SetReversed(true, false)
	test.That(t, gb.MotorReversed(), test.ShouldBeTrue)

	test.That(t, gb.SetManual(ctx, 0.3), test.ShouldBeNil)
	// The raw hardware command is inverted on every motor.
	for _, m := range motors {
		test.That(t, m.PowerPct(), test.ShouldAlmostEqual, -0.3)
	}
	// Manual reports the sign-corrected value the caller commanded.
	test.That(t, gb.Manual(), test.ShouldAlmostEqual, 0.3)

	gb.SetReversed(false, false)
	test.That(t, gb.SetManual(ctx, 0.3), test.ShouldBeNil)
	test.That(t, motors[0].PowerPct(), test.ShouldAlmostEqual, 0.3)
}

func TestEncoderReversal(t *testing.T) {
	ctx := context.Background()
	gb, _, enc, _ := newTestBox(t, 1, true, false, Config{})

	enc.SetPosition(12)
	test.That(t, gb.Distance(ctx), test.ShouldAlmostEqual, 12)

	gb.SetReversed(false, true)
	test.That(t, gb.EncoderReversed(), test.ShouldBeTrue)
	test.That(t, gb.Distance(ctx), test.ShouldAlmostEqual, -12)
}

func TestGearInterlock(t *testing.T) {
	ctx := context.Background()
	gb, _, _, shf := newTestBox(t, 2, false, true, Config{})

	// Under load the requested shift is deferred, no matter how often it
	// is re-requested.
	test.That(t, gb.SetManual(ctx, 0.5), test.ShouldBeNil)
	gb.SetGear(true)
	test.That(t, gb.SetManual(ctx, 0.5), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeFalse)
	gb.SetGear(false)
	gb.SetGear(true)
	test.That(t, gb.SetManual(ctx, 0.8), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeFalse)

	// Exactly at the threshold still counts as loaded.
	test.That(t, gb.SetManual(ctx, DefaultShiftThreshold), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeFalse)

	// Once every motor drops below the threshold, the latched request is
	// applied on the next write.
	test.That(t, gb.SetManual(ctx, 0.05), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeTrue)
	test.That(t, shf.Gear(), test.ShouldBeTrue)

	// No pending change: further writes leave the gear alone.
	test.That(t, gb.SetManual(ctx, 0.9), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeTrue)
}

func TestGearInterlockCustomThreshold(t *testing.T) {
	ctx := context.Background()
	gb, _, _, _ := newTestBox(t, 1, false, true, Config{ShiftThreshold: 0.5})

	gb.SetGear(true)
	test.That(t, gb.SetManual(ctx, 0.4), test.ShouldBeNil)
	test.That(t, gb.Gear(), test.ShouldBeTrue)
}

func TestNoShifter(t *testing.T) {
	gb, _, _, _ := newTestBox(t, 1, false, false, Config{})

	// Requests without a shifter are ignored; Gear reports the low default.
	gb.SetGear(true)
	test.That(t, gb.Gear(), test.ShouldBeFalse)
}

func TestNoEncoderFailSoft(t *testing.T) {
	ctx := context.Background()
	gb, motors, _, _ := newTestBox(t, 1, false, false, Config{})

	test.That(t, gb.Distance(ctx), test.ShouldEqual, 0.0)
	test.That(t, gb.Rate(ctx), test.ShouldEqual, 0.0)
	test.That(t, gb.Setpoint(), test.ShouldEqual, 0.0)
	test.That(t, gb.OnTarget(ctx), test.ShouldBeFalse)

	// None of these may crash or move the motors.
	gb.SetSetpoint(42)
	gb.SetGains(1, 2, 3, 4)
	gb.ResetPID()
	gb.ResetEncoder(ctx)
	test.That(t, gb.Tick(ctx, 10*time.Millisecond), test.ShouldBeNil)
	test.That(t, motors[0].PowerPct(), test.ShouldEqual, 0.0)
}

func TestClosedLoop(t *testing.T) {
	ctx := context.Background()
	gb, motors, enc, _ := newTestBox(t, 2, true, false, Config{P: 0.1})

	gb.SetSetpoint(20)
	test.That(t, gb.Setpoint(), test.ShouldAlmostEqual, 20)
	test.That(t, gb.OnTarget(ctx), test.ShouldBeFalse)

	// Far from the target the controller drives forward.
	test.That(t, gb.Tick(ctx, 10*time.Millisecond), test.ShouldBeNil)
	test.That(t, motors[0].PowerPct(), test.ShouldBeGreaterThan, 0.0)
	test.That(t, motors[1].PowerPct(), test.ShouldAlmostEqual, motors[0].PowerPct())

	// On the target the drive command collapses and OnTarget reports true.
	enc.SetPosition(20)
	test.That(t, gb.Tick(ctx, 10*time.Millisecond), test.ShouldBeNil)
	test.That(t, motors[0].PowerPct(), test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, gb.OnTarget(ctx), test.ShouldBeTrue)

	// Within the tolerance window still counts as on target.
	enc.SetPosition(20.5)
	test.That(t, gb.OnTarget(ctx), test.ShouldBeTrue)
	enc.SetPosition(22)
	test.That(t, gb.OnTarget(ctx), test.ShouldBeFalse)
}

func TestManualDisablesClosedLoop(t *testing.T) {
	ctx := context.Background()
	gb, motors, _, _ := newTestBox(t, 1, true, false, Config{P: 0.1})

	gb.SetSetpoint(100)
	test.That(t, gb.SetManual(ctx, 0.25), test.ShouldBeNil)
	test.That(t, motors[0].PowerPct(), test.ShouldAlmostEqual, 0.25)

	// The disabled controller must not fight the manual command.
	test.That(t, gb.Tick(ctx, 10*time.Millisecond), test.ShouldBeNil)
	test.That(t, motors[0].PowerPct(), test.ShouldAlmostEqual, 0.25)

	// A new setpoint re-enables it.
	gb.SetSetpoint(100)
	test.That(t, gb.Tick(ctx, 10*time.Millisecond), test.ShouldBeNil)
	test.That(t, motors[0].PowerPct(), test.ShouldBeGreaterThan, 0.25)
}

func TestClosedLoopGearInterlock(t *testing.T) {
	// The controller output funnels through the same write path as manual
	// drive, so the interlock applies to it too.
	ctx := context.Background()
	gb, _, enc, shf := newTestBox(t, 1, true, true, Config{P: 0.1})

	gb.SetGear(true)
	gb.SetSetpoint(100)
	test.That(t, gb.Tick(ctx, 10*time.Millisecond), test.ShouldBeNil)
	test.That(t, shf.Gear(), test.ShouldBeFalse)

	enc.SetPosition(100)
	test.That(t, gb.Tick(ctx, 10*time.Millisecond), test.ShouldBeNil)
	test.That(t, shf.Gear(), test.ShouldBeTrue)
}

func TestResetEncoder(t *testing.T) {
	ctx := context.Background()
	gb, _, enc, _ := newTestBox(t, 1, true, false, Config{})

	enc.SetPosition(55)
	gb.ResetEncoder(ctx)
	test.That(t, gb.Distance(ctx), test.ShouldEqual, 0.0)
}

func TestRate(t *testing.T) {
	ctx := context.Background()
	gb, _, enc, _ := newTestBox(t, 1, true, false, Config{})

	enc.SetRate(33)
	test.That(t, gb.Rate(ctx), test.ShouldAlmostEqual, 33)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	gb, _, _, _ := newTestBox(t, 3, true, true, Config{})
	test.That(t, gb.Close(ctx), test.ShouldBeNil)
}
