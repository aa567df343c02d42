package motionprofile

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// A Trapezoid is a velocity profile over a fixed non-negative distance:
// constant-acceleration ramp up, cruise at peak velocity, and
// constant-deceleration ramp down. When the distance is too short to reach
// the velocity limit the cruise phase vanishes and the profile degenerates
// to a triangle.
type Trapezoid struct {
	distance float64
	maxAccel float64
	peakVel  float64

	accelTime  float64 // seconds
	cruiseTime float64 // seconds
}

// NewTrapezoid plans a profile covering distance under the given velocity
// and acceleration limits.
func NewTrapezoid(distance, maxVel, maxAccel float64) (*Trapezoid, error) {
	if distance < 0 {
		return nil, errors.Errorf("profile distance must be non-negative, got %f", distance)
	}
	if maxVel <= 0 {
		return nil, errors.Errorf("max velocity must be positive, got %f", maxVel)
	}
	if maxAccel <= 0 {
		return nil, errors.Errorf("max acceleration must be positive, got %f", maxAccel)
	}

	t := &Trapezoid{
		distance: distance,
		maxAccel: maxAccel,
		peakVel:  math.Min(maxVel, math.Sqrt(distance*maxAccel)),
	}
	if t.peakVel > 0 {
		t.accelTime = t.peakVel / maxAccel
		t.cruiseTime = (distance - t.peakVel*t.peakVel/maxAccel) / t.peakVel
		if t.cruiseTime < 0 {
			t.cruiseTime = 0
		}
	}
	return t, nil
}

// Distance returns the total distance the profile covers.
func (t *Trapezoid) Distance() float64 { return t.distance }

// PeakVelocity returns the velocity reached during cruise (or the triangle
// apex for short profiles).
func (t *Trapezoid) PeakVelocity() float64 { return t.peakVel }

// AccelTime returns the duration of the ramp-up phase.
func (t *Trapezoid) AccelTime() time.Duration {
	return time.Duration(t.accelTime * float64(time.Second))
}

// TotalTime returns the duration of the whole profile.
func (t *Trapezoid) TotalTime() time.Duration {
	return time.Duration((2*t.accelTime + t.cruiseTime) * float64(time.Second))
}

// DistanceAt returns the distance covered after elapsed time. It is clamped
// to [0, Distance] outside the profile.
func (t *Trapezoid) DistanceAt(elapsed time.Duration) float64 {
	ts := elapsed.Seconds()
	total := 2*t.accelTime + t.cruiseTime
	switch {
	case ts <= 0:
		return 0
	case ts >= total:
		return t.distance
	case ts <= t.accelTime:
		return 0.5 * t.maxAccel * ts * ts
	case ts <= t.accelTime+t.cruiseTime:
		rampDist := 0.5 * t.peakVel * t.accelTime
		return rampDist + t.peakVel*(ts-t.accelTime)
	default:
		remaining := total - ts
		return t.distance - 0.5*t.maxAccel*remaining*remaining
	}
}

// VelocityAt returns the profile velocity after elapsed time, zero outside
// the profile.
func (t *Trapezoid) VelocityAt(elapsed time.Duration) float64 {
	ts := elapsed.Seconds()
	total := 2*t.accelTime + t.cruiseTime
	switch {
	case ts <= 0 || ts >= total:
		return 0
	case ts <= t.accelTime:
		return t.maxAccel * ts
	case ts <= t.accelTime+t.cruiseTime:
		return t.peakVel
	default:
		return t.maxAccel * (total - ts)
	}
}
