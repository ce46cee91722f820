package light

import (
	"io"
	"strconv"
	"sync"

	"github.com/banshee-data/adaptive-light/internal/monitoring"
)

// FormatReport renders the status line sent to the operator console.
func FormatReport(distanceCM, intensityPercent int) string {
	return "Potencia: " + strconv.Itoa(intensityPercent) + "\r\nDistancia: " + strconv.Itoa(distanceCM) + "cm\r\n"
}

// WriterReporter writes reports to an io.Writer such as a serial port.
// Write failures are logged and dropped.
type WriterReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

func (r *WriterReporter) EmitReport(distanceCM, intensityPercent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.w, FormatReport(distanceCM, intensityPercent)); err != nil {
		monitoring.Logf("failed to emit report: %v", err)
	}
}
