package motionprofile

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// tableSamples is the resolution of the precomputed arc-length table. The
// table is rebuilt once per goal, so a dense sampling is cheap relative to
// the profile it serves.
const tableSamples = 256

// A Follower samples a Bezier curve over time to produce a trapezoidal
// position/velocity profile for each side of a differential drive. It is a
// pure profile generator: it says where each side should be, not how to
// get there.
//
// States: Idle until SetGoal, Tracking while Update advances the profile,
// Reached once both sides' remaining distance is within tolerance. Reset
// returns to Idle.
type Follower struct {
	trackWidth float64
	maxVel     float64
	maxAccel   float64
	tolerance  float64

	curve     Curve
	startTime time.Time
	trap      *Trapezoid
	table     *profileTable

	tracking   bool
	reached    bool
	lastUpdate time.Time

	leftPos, rightPos float64
	leftVel, rightVel float64
}

// NewFollower builds a follower for a drive with the given track width and
// kinematic limits. Tolerance is the remaining-distance window, in the same
// units as the curve, inside which a side counts as done; it should mirror
// the closed-loop tolerance of the gear boxes being driven.
func NewFollower(trackWidth, maxVel, maxAccel, tolerance float64) (*Follower, error) {
	if trackWidth <= 0 {
		return nil, errors.Errorf("track width must be positive, got %f", trackWidth)
	}
	if maxVel <= 0 || maxAccel <= 0 {
		return nil, errors.Errorf("velocity and acceleration limits must be positive, got %f and %f", maxVel, maxAccel)
	}
	if tolerance < 0 {
		return nil, errors.Errorf("tolerance must be non-negative, got %f", tolerance)
	}
	return &Follower{
		trackWidth: trackWidth,
		maxVel:     maxVel,
		maxAccel:   maxAccel,
		tolerance:  tolerance,
	}, nil
}

// SetGoal submits a curve and a start-time reference, replacing any prior
// goal. A zero-length curve is legal and reports AtGoal immediately.
func (f *Follower) SetGoal(curve Curve, startTime time.Time) error {
	if err := curve.Validate(); err != nil {
		return err
	}
	table := buildProfileTable(curve, f.trackWidth, tableSamples)

	// Scale both center limits by the worst-case curvature factor so the
	// outer side honors the configured velocity and acceleration on the
	// tightest part of the curve.
	vel := f.maxVel
	accel := f.maxAccel
	if table.maxAbsCurvature > 0 {
		factor := 1 + table.maxAbsCurvature*f.trackWidth/2
		vel /= factor
		accel /= factor
	}
	trap, err := NewTrapezoid(table.centerTotal(), vel, accel)
	if err != nil {
		return err
	}

	f.curve = curve
	f.startTime = startTime
	f.lastUpdate = startTime
	f.table = table
	f.trap = trap
	f.tracking = true
	f.leftPos, f.rightPos = 0, 0
	f.leftVel, f.rightVel = 0, 0
	f.reached = table.centerTotal() <= f.tolerance
	return nil
}

// Update advances the profile to now and recomputes both side setpoints.
// Calling Update with no goal set is a programming error.
func (f *Follower) Update(now time.Time) error {
	if !f.tracking {
		return errors.New("no goal set: call SetGoal before Update")
	}
	elapsed := now.Sub(f.startTime)
	if elapsed < 0 {
		elapsed = 0
	}

	center := f.trap.DistanceAt(elapsed)
	centerVel := f.trap.VelocityAt(elapsed)

	u := f.table.paramAtCenter(center)
	f.leftPos, f.rightPos = f.table.sidesAt(u)
	kappa := f.table.curvatureAt(u)
	leftVel := centerVel * (1 - kappa*f.trackWidth/2)
	rightVel := centerVel * (1 + kappa*f.trackWidth/2)

	// The profile slowdown in SetGoal bounds the ramps, but curvature
	// changing along the path can still nudge a side's velocity faster
	// than the acceleration limit; trim the commanded velocities to at
	// most one limit-step between consecutive updates.
	if dt := now.Sub(f.lastUpdate).Seconds(); dt > 0 {
		maxStep := f.maxAccel * dt
		leftVel = stepToward(f.leftVel, leftVel, maxStep)
		rightVel = stepToward(f.rightVel, rightVel, maxStep)
	} else {
		leftVel = f.leftVel
		rightVel = f.rightVel
	}
	f.lastUpdate = now
	f.leftVel = leftVel
	f.rightVel = rightVel

	if !f.reached &&
		f.table.leftTotal()-f.leftPos <= f.tolerance &&
		f.table.rightTotal()-f.rightPos <= f.tolerance {
		f.reached = true
	}
	return nil
}

// LeftSetpoint returns the left side's current position target.
func (f *Follower) LeftSetpoint() float64 { return f.leftPos }

// RightSetpoint returns the right side's current position target.
func (f *Follower) RightSetpoint() float64 { return f.rightPos }

// LeftVelocity returns the left side's current velocity target.
func (f *Follower) LeftVelocity() float64 { return f.leftVel }

// RightVelocity returns the right side's current velocity target.
func (f *Follower) RightVelocity() float64 { return f.rightVel }

// AtGoal reports whether both sides' remaining distance has come within
// tolerance of zero. It stays true until Reset.
func (f *Follower) AtGoal() bool { return f.reached }

// TotalTime returns the planned duration of the current profile, or zero
// when no goal is set.
func (f *Follower) TotalTime() time.Duration {
	if f.trap == nil {
		return 0
	}
	return f.trap.TotalTime()
}

// Reset clears the goal and all accumulated profile state, returning the
// follower to Idle. It must be called before starting a new path so no
// residual state carries over.
func (f *Follower) Reset() {
	f.curve = nil
	f.trap = nil
	f.table = nil
	f.tracking = false
	f.reached = false
	f.lastUpdate = time.Time{}
	f.leftPos, f.rightPos = 0, 0
	f.leftVel, f.rightVel = 0, 0
}

// stepToward moves from prev toward next by at most maxStep.
func stepToward(prev, next, maxStep float64) float64 {
	if next > prev+maxStep {
		return prev + maxStep
	}
	if next < prev-maxStep {
		return prev - maxStep
	}
	return next
}

// profileTable holds cumulative arc lengths sampled along the curve: the
// center line plus the left and right wheel tracks offset by half the track
// width. Both sides are derived from the same parametrization, which keeps
// them kinematically consistent with the curve's local curvature.
type profileTable struct {
	u      []float64
	center []float64
	left   []float64
	right  []float64
	kappa  []float64

	maxAbsCurvature float64
}

func buildProfileTable(c Curve, trackWidth float64, samples int) *profileTable {
	t := &profileTable{
		u:      make([]float64, samples+1),
		center: make([]float64, samples+1),
		left:   make([]float64, samples+1),
		right:  make([]float64, samples+1),
		kappa:  make([]float64, samples+1),
	}
	for i := 0; i <= samples; i++ {
		u := float64(i) / float64(samples)
		t.u[i] = u
		t.kappa[i] = c.Curvature(u)
		if abs := math.Abs(t.kappa[i]); abs > t.maxAbsCurvature {
			t.maxAbsCurvature = abs
		}
		if i == 0 {
			continue
		}
		ds := c.Length(t.u[i-1], u)
		k := 0.5 * (t.kappa[i-1] + t.kappa[i])
		t.center[i] = t.center[i-1] + ds
		t.left[i] = t.left[i-1] + ds*(1-k*trackWidth/2)
		t.right[i] = t.right[i-1] + ds*(1+k*trackWidth/2)
	}
	return t
}

func (t *profileTable) centerTotal() float64 { return t.center[len(t.center)-1] }
func (t *profileTable) leftTotal() float64   { return t.left[len(t.left)-1] }
func (t *profileTable) rightTotal() float64  { return t.right[len(t.right)-1] }

// paramAtCenter inverts the cumulative center arc length to a curve
// parameter by binary search plus linear interpolation.
func (t *profileTable) paramAtCenter(s float64) float64 {
	last := len(t.center) - 1
	if s <= 0 {
		return 0
	}
	if s >= t.center[last] {
		return 1
	}
	i := sort.SearchFloat64s(t.center, s)
	if i == 0 {
		return 0
	}
	span := t.center[i] - t.center[i-1]
	if span <= 0 {
		return t.u[i]
	}
	frac := (s - t.center[i-1]) / span
	return t.u[i-1] + frac*(t.u[i]-t.u[i-1])
}

// sidesAt interpolates the cumulative left and right distances at parameter u.
func (t *profileTable) sidesAt(u float64) (left, right float64) {
	i, frac := t.segment(u)
	left = t.left[i] + frac*(t.left[i+1]-t.left[i])
	right = t.right[i] + frac*(t.right[i+1]-t.right[i])
	return left, right
}

// curvatureAt interpolates the signed curvature at parameter u.
func (t *profileTable) curvatureAt(u float64) float64 {
	i, frac := t.segment(u)
	return t.kappa[i] + frac*(t.kappa[i+1]-t.kappa[i])
}

func (t *profileTable) segment(u float64) (int, float64) {
	last := len(t.u) - 1
	if u <= 0 {
		return 0, 0
	}
	if u >= 1 {
		return last - 1, 1
	}
	pos := u * float64(last)
	i := int(pos)
	if i >= last {
		i = last - 1
	}
	return i, pos - float64(i)
}
