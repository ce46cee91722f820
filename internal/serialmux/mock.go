package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable
// behaviour for testing. Reads block until data is queued or the port is
// closed, like a real device with no read timeout.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuffer  bytes.Buffer
	writeBuffer bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes the next Write report one byte fewer than requested
	ShortWrite bool

	// OnCommand, when set, is called with each newline-terminated command
	// written to the port (without the newline). Lines it returns are queued
	// as device output, which lets tests script a device's replies.
	OnCommand func(command string) []string

	closed     bool
	writeCalls int
	pending    string
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read blocks until data has been queued, then reads from it.
func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.ReadError != nil {
			err := p.ReadError
			p.ReadError = nil
			return 0, err
		}
		if p.closed {
			return 0, errPortClosed
		}
		if p.readBuffer.Len() > 0 {
			return p.readBuffer.Read(b)
		}
		p.readCond.Wait()
	}
}

// Write records data and feeds complete lines to OnCommand.
func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writeCalls++
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		p.mu.Unlock()
		return 0, err
	}
	n := len(b)
	if p.ShortWrite && n > 0 {
		p.ShortWrite = false
		n--
	}
	p.writeBuffer.Write(b[:n])

	p.pending += string(b[:n])
	var commands []string
	for {
		i := strings.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		commands = append(commands, strings.TrimRight(p.pending[:i], "\r"))
		p.pending = p.pending[i+1:]
	}
	onCommand := p.OnCommand
	p.mu.Unlock()

	if onCommand != nil {
		for _, c := range commands {
			for _, reply := range onCommand(c) {
				p.AddReadLine(reply)
			}
		}
	}
	return n, nil
}

// Close marks the port as closed and wakes blocked readers.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// AddReadData queues raw bytes for subsequent reads.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuffer.Write(data)
	p.readCond.Broadcast()
}

// AddReadLine queues line followed by a newline.
func (p *TestableSerialPort) AddReadLine(line string) {
	p.AddReadData([]byte(line + "\n"))
}

// FailNextRead makes the next Read return err, waking a blocked reader.
func (p *TestableSerialPort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadError = err
	p.readCond.Broadcast()
}

// WrittenData returns everything written to the port.
func (p *TestableSerialPort) WrittenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuffer.String()
}

// WriteCalls returns the number of Write calls.
func (p *TestableSerialPort) WriteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeCalls
}

// IsClosed reports whether Close was called.
func (p *TestableSerialPort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
