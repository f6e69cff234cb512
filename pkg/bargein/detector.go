package bargein

import "time"

// Config tunes barge-in detection.
type Config struct {
	Enabled bool
	// Interval between energy samples.
	Interval time.Duration
	// Frames is the number of consecutive loud samples that fire an interrupt.
	Frames int
	// StaticFloor is the lowest threshold regardless of the noise floor.
	StaticFloor float64
	// Multiplier and Margin lift the adaptive noise floor into a threshold.
	Multiplier float64
	Margin     float64
	// FloorMin and FloorMax clamp the adaptive noise floor.
	FloorMin     float64
	FloorMax     float64
	InitialFloor float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Interval:     120 * time.Millisecond,
		Frames:       3,
		StaticFloor:  0.045,
		Multiplier:   2.2,
		Margin:       0.012,
		FloorMin:     0.002,
		FloorMax:     0.08,
		InitialFloor: 0.01,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Frames <= 0 {
		c.Frames = d.Frames
	}
	if c.StaticFloor <= 0 {
		c.StaticFloor = d.StaticFloor
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.Margin < 0 {
		c.Margin = d.Margin
	}
	if c.FloorMax <= 0 {
		c.FloorMax = d.FloorMax
	}
	if c.FloorMin < 0 || c.FloorMin > c.FloorMax {
		c.FloorMin = d.FloorMin
	}
	if c.InitialFloor <= 0 {
		c.InitialFloor = d.InitialFloor
	}
	return c
}

const (
	floorKeep   = 0.88
	floorSample = 0.12
)

// State is the adaptive part of the detector.
type State struct {
	NoiseFloor float64
	Streak     int
}

// Detector is the pure sampling step. It is not safe for concurrent use.
type Detector struct {
	cfg   Config
	state State
}

func NewDetector(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	d := &Detector{cfg: cfg}
	d.Reset()
	return d
}

// Threshold is the energy a sample must reach to count toward the streak.
func (d *Detector) Threshold() float64 {
	adaptive := d.state.NoiseFloor*d.cfg.Multiplier + d.cfg.Margin
	if adaptive < d.cfg.StaticFloor {
		return d.cfg.StaticFloor
	}
	return adaptive
}

// Observe feeds one energy sample. allowed is the gate: the system is
// speaking and nothing else owns the microphone. It returns true exactly
// once per streak of Frames loud samples, then the streak starts over.
func (d *Detector) Observe(sample float64, allowed bool) bool {
	threshold := d.Threshold()
	d.state.NoiseFloor = d.clampFloor(floorKeep*d.state.NoiseFloor + floorSample*sample)

	if !allowed || sample < threshold {
		d.state.Streak = 0
		return false
	}
	d.state.Streak++
	if d.state.Streak >= d.cfg.Frames {
		d.state.Streak = 0
		return true
	}
	return false
}

// Reset returns the noise floor and streak to baseline.
func (d *Detector) Reset() {
	d.state = State{NoiseFloor: d.clampFloor(d.cfg.InitialFloor)}
}

func (d *Detector) State() State { return d.state }

func (d *Detector) clampFloor(v float64) float64 {
	if v < d.cfg.FloorMin {
		return d.cfg.FloorMin
	}
	if v > d.cfg.FloorMax {
		return d.cfg.FloorMax
	}
	return v
}
