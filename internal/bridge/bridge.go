// Package bridge talks to the lamp's controller board over a serial line.
// The board owns the ultrasonic sensor, the PWM channel and the iris servo;
// the host asks it for distances and sends it output commands.
//
// Host to board, one command per line:
//
//	D?          request a distance reading
//	L=<0..100>  set the light duty cycle in percent
//	S=<-90..90> set the iris servo angle in degrees
//
// Board to host:
//
//	D=<cm>      distance reply
//	D=ERR       the sensor timed out
//	E=<0|1>     the enable switch changed position
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/adaptive-light/internal/light"
	"github.com/banshee-data/adaptive-light/internal/monitoring"
	"github.com/banshee-data/adaptive-light/internal/serialmux"
)

var (
	// ErrDeviceSensor is returned when the board reports a failed reading.
	ErrDeviceSensor = errors.New("device reported sensor error")
	// ErrDisconnected is returned when the serial mux closes mid-request.
	ErrDisconnected = errors.New("bridge disconnected")
)

// LineKind identifies a line received from the board.
type LineKind int

const (
	LineUnknown LineKind = iota
	LineDistance
	LineSensorError
	LineEnable
)

// Line is a parsed board message.
type Line struct {
	Kind    LineKind
	Value   int
	Enabled bool
}

// ParseLine decodes one line from the board. Unrecognised or malformed
// lines yield LineUnknown.
func ParseLine(s string) Line {
	key, val, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return Line{}
	}
	switch key {
	case "D":
		if strings.EqualFold(val, "ERR") {
			return Line{Kind: LineSensorError}
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return Line{}
		}
		return Line{Kind: LineDistance, Value: n}
	case "E":
		switch val {
		case "0":
			return Line{Kind: LineEnable, Enabled: false}
		case "1":
			return Line{Kind: LineEnable, Enabled: true}
		}
	}
	return Line{}
}

// Bridge implements the sensor and actuator collaborators of the light
// package on top of a SerialMux.
type Bridge struct {
	mux serialmux.SerialMuxInterface

	// readMu keeps distance requests one at a time so a reply is never
	// claimed by the wrong request.
	readMu sync.Mutex
}

// New returns a bridge over mux. The caller runs mux.Monitor.
func New(mux serialmux.SerialMuxInterface) *Bridge {
	return &Bridge{mux: mux}
}

// ReadDistanceCentimeters requests a reading and waits for the reply or
// for ctx to end.
func (b *Bridge) ReadDistanceCentimeters(ctx context.Context) (int, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	// subscribe before sending so the reply cannot slip past
	id, lines := b.mux.Subscribe()
	defer b.mux.Unsubscribe(id)

	if err := b.mux.SendCommand("D?"); err != nil {
		return 0, fmt.Errorf("failed to request distance: %w", err)
	}

	for {
		select {
		case raw, ok := <-lines:
			if !ok {
				return 0, ErrDisconnected
			}
			switch line := ParseLine(raw); line.Kind {
			case LineDistance:
				return line.Value, nil
			case LineSensorError:
				return 0, ErrDeviceSensor
			}
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// SetLightIntensity sends the duty cycle, clamped to 0..100.
func (b *Bridge) SetLightIntensity(percent int) {
	percent = clamp(percent, light.MinIntensityPercent, light.MaxIntensityPercent)
	if err := b.mux.SendCommand("L=" + strconv.Itoa(percent)); err != nil {
		monitoring.Logf("failed to set light intensity %d: %v", percent, err)
	}
}

// SetApertureAngle sends the servo angle, clamped to -90..90.
func (b *Bridge) SetApertureAngle(degrees int) {
	degrees = clamp(degrees, light.MinApertureDegrees, light.MaxApertureDegrees)
	if err := b.mux.SendCommand("S=" + strconv.Itoa(degrees)); err != nil {
		monitoring.Logf("failed to set aperture angle %d: %v", degrees, err)
	}
}

// WatchEnableSwitch calls set for every enable switch line until ctx ends or
// the mux closes.
func (b *Bridge) WatchEnableSwitch(ctx context.Context, set func(enabled bool)) error {
	id, lines := b.mux.Subscribe()
	defer b.mux.Unsubscribe(id)

	for {
		select {
		case raw, ok := <-lines:
			if !ok {
				return ErrDisconnected
			}
			if line := ParseLine(raw); line.Kind == LineEnable {
				monitoring.Logf("Enable switch reported enabled=%t", line.Enabled)
				set(line.Enabled)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	_ light.RangeSensor    = (*Bridge)(nil)
	_ light.LightOutput    = (*Bridge)(nil)
	_ light.ApertureOutput = (*Bridge)(nil)
)
