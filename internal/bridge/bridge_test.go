package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/adaptive-light/internal/light"
	"github.com/banshee-data/adaptive-light/internal/monitoring"
	"github.com/banshee-data/adaptive-light/internal/serialmux"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// newTestBridge returns a bridge over a scripted port with its monitor
// running for the duration of the test.
func newTestBridge(t *testing.T, onCommand func(string) []string) (*Bridge, *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.OnCommand = onCommand
	mux := serialmux.NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.Monitor(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		mux.Close()
	})
	return New(mux), port
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		in   string
		want Line
	}{
		{"D=42", Line{Kind: LineDistance, Value: 42}},
		{" D=0 ", Line{Kind: LineDistance, Value: 0}},
		{"D=ERR", Line{Kind: LineSensorError}},
		{"D=err", Line{Kind: LineSensorError}},
		{"E=1", Line{Kind: LineEnable, Enabled: true}},
		{"E=0", Line{Kind: LineEnable, Enabled: false}},
		{"E=2", Line{}},
		{"D=abc", Line{}},
		{"hello", Line{}},
		{"", Line{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLine(tt.in), "ParseLine(%q)", tt.in)
	}
}

func TestBridge_ReadDistance(t *testing.T) {
	b, port := newTestBridge(t, func(cmd string) []string {
		if cmd == "D?" {
			return []string{"E=1", "D=37"}
		}
		return nil
	})

	cm, err := b.ReadDistanceCentimeters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 37, cm)
	assert.Equal(t, "D?\n", port.WrittenData())
}

func TestBridge_ReadDistanceSensorError(t *testing.T) {
	b, _ := newTestBridge(t, func(string) []string { return []string{"D=ERR"} })

	_, err := b.ReadDistanceCentimeters(context.Background())
	assert.ErrorIs(t, err, ErrDeviceSensor)
}

func TestBridge_ReadDistanceTimeout(t *testing.T) {
	b, _ := newTestBridge(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.ReadDistanceCentimeters(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_ReadDistanceWriteFailure(t *testing.T) {
	b, port := newTestBridge(t, nil)
	port.WriteError = errors.New("tx stuck")

	_, err := b.ReadDistanceCentimeters(context.Background())
	assert.ErrorContains(t, err, "tx stuck")
}

func TestBridge_ReadDistanceDisconnected(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	b := New(mux)

	// the device accepts the request and the link drops before a reply
	port.OnCommand = func(string) []string {
		go mux.Close()
		return nil
	}
	_, err := b.ReadDistanceCentimeters(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestBridge_OutputsAreClamped(t *testing.T) {
	b, port := newTestBridge(t, nil)

	b.SetLightIntensity(60)
	b.SetLightIntensity(150)
	b.SetLightIntensity(-5)
	b.SetApertureAngle(-90)
	b.SetApertureAngle(120)

	assert.Equal(t, "L=60\nL=100\nL=0\nS=-90\nS=90\n", port.WrittenData())
}

func TestBridge_OutputWriteFailureIsLogged(t *testing.T) {
	var mu sync.Mutex
	var logged int
	monitoring.SetLogger(func(string, ...interface{}) {
		mu.Lock()
		logged++
		mu.Unlock()
	})
	defer monitoring.SetLogger(nil)

	port := serialmux.NewTestableSerialPort()
	b := New(serialmux.NewSerialMux(port))
	port.WriteError = errors.New("tx stuck")
	b.SetLightIntensity(30)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, logged)
}

func TestBridge_WatchEnableSwitch(t *testing.T) {
	b, port := newTestBridge(t, nil)

	var mu sync.Mutex
	var got []bool
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.WatchEnableSwitch(ctx, func(enabled bool) {
			mu.Lock()
			got = append(got, enabled)
			mu.Unlock()
		})
	}()

	// wait until the watcher is subscribed: lines sent before that are not seen
	require.Eventually(t, func() bool {
		port.AddReadLine("E=0")
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)

	port.AddReadLine("D=12")
	port.AddReadLine("E=1")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1]
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestBridge_SatisfiesSamplerAndDriver(t *testing.T) {
	dev := NewSimulatedDevice([]int{10, 50, -1})
	mux := serialmux.NewSerialMux[serialmux.SerialPorter](dev)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	defer mux.Close()

	b := New(mux)
	classifier, err := light.NewClassifier(light.DefaultThresholds(), light.DefaultModeTable())
	require.NoError(t, err)

	cell := &light.DistanceCell{}
	sampler := light.NewSampler(b, cell, light.SamplerConfig{Timeout: time.Second})
	driver := light.NewDriver(classifier, cell, b, b, light.NewWriterReporter(&discard{}), light.DriverConfig{Enabled: true})

	require.NoError(t, sampler.SampleOnce(ctx))
	driver.Cycle()
	intensity, aperture := dev.Outputs()
	assert.Equal(t, 100, intensity)
	assert.Equal(t, 90, aperture)

	require.NoError(t, sampler.SampleOnce(ctx))
	driver.Cycle()
	intensity, aperture = dev.Outputs()
	assert.Equal(t, 30, intensity)
	assert.Equal(t, -90, aperture)

	// the dropout keeps the previous distance
	err = sampler.SampleOnce(ctx)
	assert.ErrorIs(t, err, light.ErrSensorMiss)
	assert.ErrorIs(t, err, ErrDeviceSensor)
	r, _ := cell.Load()
	assert.Equal(t, 50, r.Centimeters)
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }
