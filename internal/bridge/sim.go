package bridge

import (
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/adaptive-light/internal/monitoring"
	"github.com/banshee-data/adaptive-light/internal/serialmux"
)

// SimulatedDevice emulates the controller board for dev mode. Each distance
// request is answered with the next value of a looping profile; negative
// profile entries are answered with D=ERR.
type SimulatedDevice struct {
	*serialmux.TestableSerialPort

	mu        sync.Mutex
	profile   []int
	next      int
	intensity int
	aperture  int
}

// DefaultProfile walks a patient towards the lamp and away again, crossing
// every band, with one sensor dropout at the far end.
func DefaultProfile() []int {
	var p []int
	for cm := 120; cm >= 10; cm -= 5 {
		p = append(p, cm)
	}
	for cm := 15; cm <= 120; cm += 5 {
		p = append(p, cm)
	}
	return append(p, -1)
}

// NewSimulatedDevice returns a device replaying profile. An empty profile
// uses DefaultProfile.
func NewSimulatedDevice(profile []int) *SimulatedDevice {
	if len(profile) == 0 {
		profile = DefaultProfile()
	}
	d := &SimulatedDevice{
		TestableSerialPort: serialmux.NewTestableSerialPort(),
		profile:            profile,
	}
	d.OnCommand = d.handle
	return d
}

func (d *SimulatedDevice) handle(command string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, val, _ := strings.Cut(command, "=")
	switch {
	case command == "D?":
		cm := d.profile[d.next]
		d.next = (d.next + 1) % len(d.profile)
		if cm < 0 {
			return []string{"D=ERR"}
		}
		return []string{"D=" + strconv.Itoa(cm)}
	case key == "L":
		if n, err := strconv.Atoi(val); err == nil {
			d.intensity = n
		}
	case key == "S":
		if n, err := strconv.Atoi(val); err == nil {
			d.aperture = n
		}
	default:
		monitoring.Logf("simulated device ignoring command %q", command)
	}
	return nil
}

// SetSwitch emits an enable switch line as if the board's switch moved.
func (d *SimulatedDevice) SetSwitch(enabled bool) {
	if enabled {
		d.AddReadLine("E=1")
	} else {
		d.AddReadLine("E=0")
	}
}

// Outputs returns the last intensity and aperture the device received.
func (d *SimulatedDevice) Outputs() (intensity, aperture int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intensity, d.aperture
}
