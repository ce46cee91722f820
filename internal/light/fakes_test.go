package light

import (
	"context"
	"sync"
	"testing"
)

// sensorStep is one scripted sensor result.
type sensorStep struct {
	cm  int
	err error
}

// scriptedSensor replays steps in order, repeating the last one. With block
// set it waits for the context instead.
type scriptedSensor struct {
	mu    sync.Mutex
	steps []sensorStep
	calls int
	block bool
}

func sensorReturning(values ...int) *scriptedSensor {
	s := &scriptedSensor{}
	for _, v := range values {
		s.steps = append(s.steps, sensorStep{cm: v})
	}
	return s
}

func (s *scriptedSensor) ReadDistanceCentimeters(ctx context.Context) (int, error) {
	s.mu.Lock()
	block := s.block
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].cm, s.steps[i].err
}

func (s *scriptedSensor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type report struct {
	Distance  int
	Intensity int
}

// recorder captures every actuator write and report.
type recorder struct {
	mu          sync.Mutex
	intensities []int
	apertures   []int
	reports     []report
}

func (r *recorder) SetLightIntensity(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intensities = append(r.intensities, percent)
}

func (r *recorder) SetApertureAngle(degrees int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apertures = append(r.apertures, degrees)
}

func (r *recorder) EmitReport(distanceCM, intensityPercent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{Distance: distanceCM, Intensity: intensityPercent})
}

func (r *recorder) Intensities() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.intensities...)
}

func (r *recorder) Apertures() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.apertures...)
}

func (r *recorder) Reports() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

func mustClassifier(t *testing.T, th Thresholds) *Classifier {
	t.Helper()
	c, err := NewClassifier(th, DefaultModeTable())
	if err != nil {
		t.Fatalf("NewClassifier(%+v) error = %v", th, err)
	}
	return c
}

func newTestDriver(t *testing.T, th Thresholds, cell *DistanceCell, enabled bool) (*Driver, *recorder) {
	t.Helper()
	rec := &recorder{}
	d := NewDriver(mustClassifier(t, th), cell, rec, rec, rec, DriverConfig{Enabled: enabled})
	return d, rec
}
