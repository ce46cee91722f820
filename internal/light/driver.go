package light

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/adaptive-light/internal/monitoring"
	"github.com/banshee-data/adaptive-light/internal/timeutil"
)

// LightOutput drives the lamp's PWM channel.
type LightOutput interface {
	SetLightIntensity(percent int)
}

// ApertureOutput drives the iris servo.
type ApertureOutput interface {
	SetApertureAngle(degrees int)
}

// Reporter publishes the per-cycle status line.
type Reporter interface {
	EmitReport(distanceCM, intensityPercent int)
}

const DefaultActuatePeriod = 500 * time.Millisecond

// DriverConfig configures a Driver. Zero values fall back to defaults,
// except Enabled.
type DriverConfig struct {
	Period  time.Duration
	Enabled bool
	Clock   timeutil.Clock
}

// CycleResult describes what one actuation cycle did.
type CycleResult struct {
	Reading   Reading
	HasSample bool
	Mode      OperatingMode
	Enabled   bool
	Command   ActuatorCommand
}

// DriverStatus represents the current state of the actuation loop.
type DriverStatus struct {
	SessionID     string          `json:"session_id"`
	Enabled       bool            `json:"enabled"`
	HasSample     bool            `json:"has_sample"`
	LastMode      OperatingMode   `json:"last_mode"`
	LastDistance  int             `json:"last_distance_cm"`
	LastSeq       uint32          `json:"last_seq"`
	LastCommand   ActuatorCommand `json:"last_command"`
	Cycles        int64           `json:"cycles"`
	ModeChanges   int64           `json:"mode_changes"`
	LastCycleAt   time.Time       `json:"last_cycle_at"`
	LastChangedAt time.Time       `json:"last_changed_at"`
}

// Driver reads the shared distance, classifies it and pushes the resulting
// command to the actuators once per period. It keeps no decision across
// cycles: every cycle classifies the freshest reading.
type Driver struct {
	classifier *Classifier
	cell       *DistanceCell
	light      LightOutput
	aperture   ApertureOutput
	reporter   Reporter
	period     time.Duration
	clock      timeutil.Clock
	sessionID  string

	enabled atomic.Bool

	// cycleMu serialises Cycle and Park so actuator writes never interleave.
	cycleMu sync.Mutex

	mu     sync.RWMutex
	status DriverStatus
}

// NewDriver creates a driver over the given collaborators.
func NewDriver(classifier *Classifier, cell *DistanceCell, light LightOutput, aperture ApertureOutput, reporter Reporter, cfg DriverConfig) *Driver {
	if cfg.Period <= 0 {
		cfg.Period = DefaultActuatePeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	d := &Driver{
		classifier: classifier,
		cell:       cell,
		light:      light,
		aperture:   aperture,
		reporter:   reporter,
		period:     cfg.Period,
		clock:      cfg.Clock,
		sessionID:  uuid.NewString(),
	}
	d.enabled.Store(cfg.Enabled)
	d.status.LastMode = -1
	return d
}

// SessionID identifies this driver instance in logs and status.
func (d *Driver) SessionID() string { return d.sessionID }

// IsEnabled reports the master enable flag.
func (d *Driver) IsEnabled() bool { return d.enabled.Load() }

// SetEnabled sets the master enable flag. It takes effect on the next cycle.
func (d *Driver) SetEnabled(enabled bool) {
	if d.enabled.Swap(enabled) == enabled {
		return
	}
	if enabled {
		monitoring.Logf("Light driver enabled")
	} else {
		monitoring.Logf("Light driver disabled: intensity forced to 0")
	}
}

// Cycle runs one actuation step: snapshot, classify, apply the enable flag,
// write both actuators and emit the report. Before the first sample the
// off band is used.
func (d *Driver) Cycle() CycleResult {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	reading, ok := d.cell.Load()
	mode := ModeOff
	if ok {
		mode = d.classifier.Classify(reading.Centimeters)
	}
	cmd := d.classifier.Command(mode)
	enabled := d.enabled.Load()
	if !enabled {
		cmd.IntensityPercent = 0
	}

	d.light.SetLightIntensity(cmd.IntensityPercent)
	d.aperture.SetApertureAngle(cmd.ApertureDegrees)
	d.reporter.EmitReport(reading.Centimeters, cmd.IntensityPercent)

	res := CycleResult{
		Reading:   reading,
		HasSample: ok,
		Mode:      mode,
		Enabled:   enabled,
		Command:   cmd,
	}
	d.record(res)
	return res
}

func (d *Driver) record(res CycleResult) {
	now := d.clock.Now()

	d.mu.Lock()
	prev := d.status.LastMode
	changed := prev != res.Mode
	d.status.Enabled = res.Enabled
	d.status.HasSample = res.HasSample
	d.status.LastMode = res.Mode
	d.status.LastDistance = res.Reading.Centimeters
	d.status.LastSeq = res.Reading.Seq
	d.status.LastCommand = res.Command
	d.status.Cycles++
	d.status.LastCycleAt = now
	if changed {
		d.status.ModeChanges++
		d.status.LastChangedAt = now
	}
	d.mu.Unlock()

	if changed {
		monitoring.Logf("Light mode %s -> %s: distance=%dcm %s enabled=%t",
			modeLabel(prev), res.Mode, res.Reading.Centimeters, res.Command, res.Enabled)
	} else {
		monitoring.Debugf("Light cycle: mode=%s distance=%dcm seq=%d %s enabled=%t",
			res.Mode, res.Reading.Centimeters, res.Reading.Seq, res.Command, res.Enabled)
	}
}

func modeLabel(m OperatingMode) string {
	if m < 0 {
		return "none"
	}
	return m.String()
}

// Park turns the light off and opens the iris to the off position. The
// daemon calls it after the loop stops.
func (d *Driver) Park() {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	off := d.classifier.Command(ModeOff)
	d.light.SetLightIntensity(0)
	d.aperture.SetApertureAngle(off.ApertureDegrees)
	monitoring.Logf("Light driver parked: %s", ActuatorCommand{ApertureDegrees: off.ApertureDegrees})
}

// Status returns the current state of the actuation loop.
func (d *Driver) Status() DriverStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := d.status
	st.SessionID = d.sessionID
	st.Enabled = d.enabled.Load()
	return st
}

// Run cycles immediately and then once per period until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.period)
	defer ticker.Stop()
	monitoring.Logf("Light driver loop started: session=%s period=%s enabled=%t thresholds=%+v",
		d.sessionID, d.period, d.IsEnabled(), d.classifier.Thresholds())

	d.Cycle()
	for {
		select {
		case <-ticker.C():
			d.Cycle()
		case <-ctx.Done():
			st := d.Status()
			monitoring.Logf("Light driver loop terminated: cycles=%d mode_changes=%d", st.Cycles, st.ModeChanges)
			return ctx.Err()
		}
	}
}
