package producer

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

const (
	maxSpeedKmh = 130.0
	idleRPM     = 800.0
	rpmPerKmh   = 35.0
)

// Simulator drives a Vehicle along a wandering path: speed follows a random
// walk, rpm follows speed, yaw drifts and the position integrates both.
type Simulator struct {
	vehicle  *Vehicle
	interval time.Duration
	rng      *rand.Rand

	speed   float64 // km/h
	yaw     float64 // degrees
	x, y, z float64 // metres
}

// NewSimulator returns a simulator ticking every interval. The same seed
// yields the same trajectory.
func NewSimulator(v *Vehicle, interval time.Duration, seed int64) *Simulator {
	return &Simulator{
		vehicle:  v,
		interval: interval,
		rng:      rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
}

// Run steps the simulation on every tick until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	slog.Info("Starting vehicle simulator", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopped vehicle simulator")
			return nil
		case <-ticker.C:
			if err := s.Step(s.interval); err != nil {
				slog.Warn("Simulator step failed", "error", err.Error())
			}
		}
	}
}

// Step advances the simulation by dt and publishes the new state.
func (s *Simulator) Step(dt time.Duration) error {
	seconds := dt.Seconds()

	s.speed = clamp(s.speed+(s.rng.Float64()*2-0.9)*10*seconds, 0, maxSpeedKmh)
	s.yaw = math.Mod(s.yaw+(s.rng.Float64()*2-1)*15*seconds+360, 360)

	distance := s.speed / 3.6 * seconds
	rad := s.yaw * math.Pi / 180
	s.x += distance * math.Cos(rad)
	s.y += distance * math.Sin(rad)

	rpm := uint32(0)
	if s.speed > 0 {
		rpm = uint32(idleRPM + s.speed*rpmPerKmh)
	}

	if err := s.vehicle.UpdateVehicleSpeed(float32(s.speed)); err != nil {
		return err
	}
	if err := s.vehicle.UpdateEngineRPM(rpm); err != nil {
		return err
	}
	if err := s.vehicle.UpdateVehiclePosition(float32(s.x), float32(s.y), float32(s.z)); err != nil {
		return err
	}
	return s.vehicle.UpdateVehicleOrientation(float32(s.yaw))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
