package sink

import (
	"encoding/json"
	"os"

	"uavsim/internal/telemetry"
)

// FileSink writes telemetry samples and detection results to JSONL files.
type FileSink struct {
	teleFile *os.File
	resFile  *os.File
	teleEnc  *json.Encoder
	resEnc   *json.Encoder
}

// NewFileSink creates a FileSink. resultPath may be empty to skip the
// detection log.
func NewFileSink(telemetryPath, resultPath string) (*FileSink, error) {
	tf, err := os.Create(telemetryPath)
	if err != nil {
		return nil, err
	}
	fs := &FileSink{teleFile: tf, teleEnc: json.NewEncoder(tf)}
	if resultPath != "" {
		rf, err := os.Create(resultPath)
		if err != nil {
			tf.Close()
			return nil, err
		}
		fs.resFile = rf
		fs.resEnc = json.NewEncoder(rf)
	}
	return fs, nil
}

// Write logs a single telemetry sample.
func (f *FileSink) Write(sample telemetry.Data) error {
	return f.teleEnc.Encode(sample)
}

// WriteBatch logs multiple telemetry samples.
func (f *FileSink) WriteBatch(samples []telemetry.Data) error {
	for _, sample := range samples {
		if err := f.Write(sample); err != nil {
			return err
		}
	}
	return nil
}

// WriteResult logs a detection result, if enabled.
func (f *FileSink) WriteResult(res telemetry.DetectionResult) error {
	if f.resEnc == nil {
		return nil
	}
	return f.resEnc.Encode(res)
}

// Close closes the underlying files.
func (f *FileSink) Close() error {
	var err error
	if f.teleFile != nil {
		if e := f.teleFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.resFile != nil {
		if e := f.resFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
