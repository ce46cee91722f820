// Package light implements the distance-to-mode decision engine for the
// adaptive lamp: the band classifier, the shared distance cell, and the two
// periodic loops (sampling and actuation) that communicate through it.
package light

import (
	"errors"
	"fmt"
	"strings"
)

// OperatingMode is one of the exclusive distance bands, ordered by
// increasing distance.
type OperatingMode int

const (
	ModeClose OperatingMode = iota
	ModeMedium
	ModeFar
	// ModeIdle covers the interval between the far and off thresholds
	// (both inclusive). The lamp dims to a standby level.
	ModeIdle
	ModeOff

	modeCount
)

var modeNames = [modeCount]string{"close", "medium", "far", "idle", "off"}

func (m OperatingMode) String() string {
	if m < 0 || m >= modeCount {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode converts a mode name (case-insensitive) into an OperatingMode.
func ParseMode(s string) (OperatingMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == name {
			return OperatingMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operating mode %q", s)
}

// Modes returns every operating mode in ascending distance order.
func Modes() []OperatingMode {
	modes := make([]OperatingMode, 0, modeCount)
	for m := ModeClose; m < modeCount; m++ {
		modes = append(modes, m)
	}
	return modes
}

// Output limits for ActuatorCommand values.
const (
	MinIntensityPercent = 0
	MaxIntensityPercent = 100
	MinApertureDegrees  = -90
	MaxApertureDegrees  = 90
)

// ActuatorCommand is the pair of outputs driven for one operating mode.
type ActuatorCommand struct {
	IntensityPercent int `json:"intensity_percent"`
	ApertureDegrees  int `json:"aperture_degrees"`
}

func (c ActuatorCommand) String() string {
	return fmt.Sprintf("intensity=%d%% aperture=%+d°", c.IntensityPercent, c.ApertureDegrees)
}

var (
	// ErrInvalidThresholds is returned when the band thresholds are not
	// strictly ascending.
	ErrInvalidThresholds = errors.New("invalid band thresholds")
	// ErrInvalidModeTable is returned when the per-mode command table is out
	// of range, ambiguous, or not monotonic.
	ErrInvalidModeTable = errors.New("invalid mode table")
)

// Thresholds holds the four ascending band boundaries in centimeters.
type Thresholds struct {
	CloseCM  int `json:"close_cm"`
	MediumCM int `json:"medium_cm"`
	FarCM    int `json:"far_cm"`
	OffCM    int `json:"off_cm"`
}

// DefaultThresholds returns the boundaries used by the lamp prototype.
func DefaultThresholds() Thresholds {
	return Thresholds{CloseCM: 25, MediumCM: 45, FarCM: 60, OffCM: 100}
}

// Validate checks that 0 < close < medium < far < off.
func (t Thresholds) Validate() error {
	if t.CloseCM <= 0 {
		return fmt.Errorf("%w: close_cm must be positive, got %d", ErrInvalidThresholds, t.CloseCM)
	}
	if t.MediumCM <= t.CloseCM {
		return fmt.Errorf("%w: medium_cm (%d) must be greater than close_cm (%d)", ErrInvalidThresholds, t.MediumCM, t.CloseCM)
	}
	if t.FarCM <= t.MediumCM {
		return fmt.Errorf("%w: far_cm (%d) must be greater than medium_cm (%d)", ErrInvalidThresholds, t.FarCM, t.MediumCM)
	}
	if t.OffCM <= t.FarCM {
		return fmt.Errorf("%w: off_cm (%d) must be greater than far_cm (%d)", ErrInvalidThresholds, t.OffCM, t.FarCM)
	}
	return nil
}

// ModeTable maps every OperatingMode to its command. Index with the mode.
type ModeTable [modeCount]ActuatorCommand

// DefaultModeTable returns the lamp prototype's duty cycles and iris angles.
// Close is the brightest and narrowest beam; the far bands open the iris.
func DefaultModeTable() ModeTable {
	var t ModeTable
	t[ModeClose] = ActuatorCommand{IntensityPercent: 100, ApertureDegrees: 90}
	t[ModeMedium] = ActuatorCommand{IntensityPercent: 60, ApertureDegrees: 0}
	t[ModeFar] = ActuatorCommand{IntensityPercent: 30, ApertureDegrees: -90}
	t[ModeIdle] = ActuatorCommand{IntensityPercent: 10, ApertureDegrees: -90}
	t[ModeOff] = ActuatorCommand{IntensityPercent: 0, ApertureDegrees: -90}
	return t
}

// Validate checks output ranges, that intensity never increases with
// distance, and that no two modes share a command. The off mode may repeat
// another zero-intensity command.
func (t ModeTable) Validate() error {
	for m, cmd := range t {
		mode := OperatingMode(m)
		if cmd.IntensityPercent < MinIntensityPercent || cmd.IntensityPercent > MaxIntensityPercent {
			return fmt.Errorf("%w: %s intensity %d outside [%d, %d]", ErrInvalidModeTable,
				mode, cmd.IntensityPercent, MinIntensityPercent, MaxIntensityPercent)
		}
		if cmd.ApertureDegrees < MinApertureDegrees || cmd.ApertureDegrees > MaxApertureDegrees {
			return fmt.Errorf("%w: %s aperture %d outside [%d, %d]", ErrInvalidModeTable,
				mode, cmd.ApertureDegrees, MinApertureDegrees, MaxApertureDegrees)
		}
		if m > 0 && cmd.IntensityPercent > t[m-1].IntensityPercent {
			return fmt.Errorf("%w: %s intensity %d exceeds %s intensity %d", ErrInvalidModeTable,
				mode, cmd.IntensityPercent, OperatingMode(m-1), t[m-1].IntensityPercent)
		}
	}
	if t[ModeOff].IntensityPercent != 0 {
		return fmt.Errorf("%w: off intensity must be 0, got %d", ErrInvalidModeTable, t[ModeOff].IntensityPercent)
	}

	for i := 0; i < len(t); i++ {
		for j := i + 1; j < len(t); j++ {
			if t[i] != t[j] {
				continue
			}
			if OperatingMode(j) == ModeOff {
				continue
			}
			return fmt.Errorf("%w: %s and %s share command %s", ErrInvalidModeTable,
				OperatingMode(i), OperatingMode(j), t[i])
		}
	}
	return nil
}

// Classifier maps distances to operating modes. It is immutable once built
// and safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
	table      ModeTable
}

// NewClassifier validates the thresholds and mode table and returns a
// classifier over them.
func NewClassifier(thresholds Thresholds, table ModeTable) (*Classifier, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: thresholds, table: table}, nil
}

// Classify returns the band containing distanceCM.
func (c *Classifier) Classify(distanceCM int) OperatingMode {
	t := c.thresholds
	switch {
	case distanceCM < t.CloseCM:
		return ModeClose
	case distanceCM < t.MediumCM:
		return ModeMedium
	case distanceCM < t.FarCM:
		return ModeFar
	case distanceCM <= t.OffCM:
		return ModeIdle
	default:
		return ModeOff
	}
}

// Command returns the configured command for mode. Unknown modes map to the
// off command.
func (c *Classifier) Command(mode OperatingMode) ActuatorCommand {
	if mode < 0 || mode >= modeCount {
		return c.table[ModeOff]
	}
	return c.table[mode]
}

// Thresholds returns the band boundaries the classifier was built with.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Table returns a copy of the mode table.
func (c *Classifier) Table() ModeTable { return c.table }
