package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"uavsim/internal/telemetry"
)

// JSONStdoutSink prints telemetry samples as JSON lines to STDOUT.
type JSONStdoutSink struct {
	out io.Writer
}

// NewJSONStdoutSink creates a JSONStdoutSink writing to os.Stdout.
func NewJSONStdoutSink() *JSONStdoutSink {
	return &JSONStdoutSink{out: os.Stdout}
}

// Write outputs one telemetry sample in JSON format.
func (s *JSONStdoutSink) Write(sample telemetry.Data) error {
	data, _ := json.Marshal(sample)
	fmt.Fprintln(s.out, string(data))
	return nil
}

// WriteBatch outputs multiple telemetry samples in JSON format.
func (s *JSONStdoutSink) WriteBatch(samples []telemetry.Data) error {
	for _, sample := range samples {
		_ = s.Write(sample)
	}
	return nil
}
