package sink

import "uavsim/internal/telemetry"

// MultiSink fans out telemetry samples to multiple sinks.
type MultiSink struct {
	sinks []TelemetrySink
}

// NewMultiSink creates a MultiSink.
func NewMultiSink(sinks ...TelemetrySink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write sends one sample to all sinks.
func (m *MultiSink) Write(sample telemetry.Data) error {
	for _, s := range m.sinks {
		if err := s.Write(sample); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch sends multiple samples to all sinks, using batch if supported.
func (m *MultiSink) WriteBatch(samples []telemetry.Data) error {
	for _, s := range m.sinks {
		if err := WriteBatch(s, samples); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() error {
	var err error
	for _, s := range m.sinks {
		if c, ok := s.(Closer); ok {
			if e := c.Close(); e != nil && err == nil {
				err = e
			}
		}
	}
	return err
}
