package light

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/adaptive-light/internal/monitoring"
	"github.com/banshee-data/adaptive-light/internal/timeutil"
)

var (
	// ErrSensorMiss marks a sampling cycle that produced no usable distance.
	// The cell keeps its previous value.
	ErrSensorMiss = errors.New("sensor miss")
	// ErrOutOfRange is returned for readings outside [0, MaxRangeCM].
	ErrOutOfRange = errors.New("distance out of sensor range")
)

// RangeSensor reads the distance to the target. Implementations must return
// once ctx is done.
type RangeSensor interface {
	ReadDistanceCentimeters(ctx context.Context) (int, error)
}

// SamplerConfig configures a Sampler. Zero values fall back to defaults.
type SamplerConfig struct {
	Period     time.Duration
	Timeout    time.Duration
	MaxRangeCM int
	Clock      timeutil.Clock
}

const (
	DefaultSamplePeriod  = 200 * time.Millisecond
	DefaultSampleTimeout = 150 * time.Millisecond
	DefaultMaxRangeCM    = 400
)

// SamplerStats summarises sampling since start-up.
type SamplerStats struct {
	Reads        int64     `json:"reads"`
	Misses       int64     `json:"misses"`
	LastError    string    `json:"last_error,omitempty"`
	LastSampleAt time.Time `json:"last_sample_at"`
	LastMissAt   time.Time `json:"last_miss_at"`
}

// Sampler periodically reads the range sensor and publishes each good
// reading to a DistanceCell. It is the cell's only writer.
type Sampler struct {
	sensor   RangeSensor
	cell     *DistanceCell
	period   time.Duration
	timeout  time.Duration
	maxRange int
	clock    timeutil.Clock

	mu    sync.Mutex
	stats SamplerStats
}

// NewSampler creates a sampler writing into cell.
func NewSampler(sensor RangeSensor, cell *DistanceCell, cfg SamplerConfig) *Sampler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultSamplePeriod
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSampleTimeout
	}
	if cfg.MaxRangeCM <= 0 {
		cfg.MaxRangeCM = DefaultMaxRangeCM
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Sampler{
		sensor:   sensor,
		cell:     cell,
		period:   cfg.Period,
		timeout:  cfg.Timeout,
		maxRange: cfg.MaxRangeCM,
		clock:    cfg.Clock,
	}
}

// SampleOnce performs one bounded sensor read. On success the value is
// stored in the cell; otherwise the cell is untouched and the returned error
// wraps ErrSensorMiss.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	cm, err := s.sensor.ReadDistanceCentimeters(readCtx)
	cancel()

	if err == nil && (cm < 0 || cm > s.maxRange) {
		err = fmt.Errorf("%w: %d cm (max %d)", ErrOutOfRange, cm, s.maxRange)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSensorMiss, err)
		s.recordMiss(err)
		return err
	}

	s.cell.Store(cm)
	s.recordRead()
	return nil
}

func (s *Sampler) recordRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reads++
	s.stats.LastSampleAt = s.clock.Now()
}

func (s *Sampler) recordMiss(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Misses++
	s.stats.LastError = err.Error()
	s.stats.LastMissAt = s.clock.Now()
}

// Stats returns a copy of the sampling counters.
func (s *Sampler) Stats() SamplerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run samples immediately and then once per period until ctx is cancelled.
// Misses are logged and never stop the loop.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()
	monitoring.Logf("Sampler loop started: period=%s timeout=%s max_range=%dcm", s.period, s.timeout, s.maxRange)

	s.cycle(ctx)
	for {
		select {
		case <-ticker.C():
			s.cycle(ctx)
		case <-ctx.Done():
			monitoring.Logf("Sampler loop terminated")
			return ctx.Err()
		}
	}
}

func (s *Sampler) cycle(ctx context.Context) {
	if err := s.SampleOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		monitoring.Logf("Sampler keeping last distance: %v", err)
		return
	}
	if r, ok := s.cell.Load(); ok {
		monitoring.Debugf("Sampler stored distance=%dcm seq=%d", r.Centimeters, r.Seq)
	}
}
