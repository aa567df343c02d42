package fake

import (
	"context"
	"testing"

	"go.viam.com/test"
)

func TestMotor(t *testing.T) {
	ctx := context.Background()
	m := &Motor{}
	test.That(t, m.PowerPct(), test.ShouldEqual, 0.0)
	test.That(t, m.SetPower(ctx, -0.6), test.ShouldBeNil)
	test.That(t, m.PowerPct(), test.ShouldAlmostEqual, -0.6)
	test.That(t, m.Close(ctx), test.ShouldBeNil)
}

func TestEncoder(t *testing.T) {
	ctx := context.Background()
	e := &Encoder{}

	e.Advance(10)
	e.Advance(2.5)
	pos, err := e.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, 12.5)

	e.SetReversed(true)
	pos, err = e.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldAlmostEqual, -12.5)

	e.SetRate(4)
	rate, err := e.Rate(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rate, test.ShouldAlmostEqual, -4)

	test.That(t, e.Reset(ctx), test.ShouldBeNil)
	pos, err = e.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 0.0)
}

func TestShifter(t *testing.T) {
	ctx := context.Background()
	s := &Shifter{}
	test.That(t, s.Gear(), test.ShouldBeFalse)
	test.That(t, s.SetGear(ctx, true), test.ShouldBeNil)
	test.That(t, s.Gear(), test.ShouldBeTrue)
}
