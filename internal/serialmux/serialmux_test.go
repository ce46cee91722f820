package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMonitor(t *testing.T, mux *SerialMux[*TestableSerialPort]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()
	return cancel, errCh
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "channel closed")
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestSerialMux_SendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("L=60"))
	require.NoError(t, mux.SendCommand("S=-90\n"))
	assert.Equal(t, "L=60\nS=-90\n", port.WrittenData())
}

func TestSerialMux_SendCommandErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	writeErr := errors.New("device gone")
	port.WriteError = writeErr
	assert.ErrorIs(t, mux.SendCommand("D?"), writeErr)

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("D?"), ErrWriteFailed)

	require.NoError(t, mux.Close())
	assert.ErrorIs(t, mux.SendCommand("D?"), ErrClosed)
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()
	cancel, errCh := startMonitor(t, mux)

	port.AddReadData([]byte("D=42\r\nE=1\n"))

	assert.Equal(t, "D=42", receive(t, a))
	assert.Equal(t, "E=1", receive(t, a))
	assert.Equal(t, "D=42", receive(t, b))
	assert.Equal(t, "E=1", receive(t, b))

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop")
	}
	mux.Close()
}

func TestSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	// unknown ids are ignored
	mux.Unsubscribe("missing")
}

func TestSerialMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, slow := mux.Subscribe()
	_, fast := mux.Subscribe()
	cancel, _ := startMonitor(t, mux)
	defer cancel()

	for i := 0; i < SubscriberBuffer+5; i++ {
		port.AddReadLine("D=1")
		receive(t, fast)
	}
	assert.Len(t, slow, SubscriberBuffer)
	mux.Close()
}

func TestSerialMux_MonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, errCh := startMonitor(t, mux)

	readErr := errors.New("usb reset")
	port.FailNextRead(readErr)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, readErr)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return read error")
	}
}

func TestSerialMux_CloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.IsClosed())

	// subscribing after close yields a closed channel
	_, late := mux.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	require.NoError(t, mux.Close())
}

func TestRandomID(t *testing.T) {
	a, b := randomID(), randomID()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
