// Telemetry sinks consuming the published stream
package sink

import "uavsim/internal/telemetry"

// TelemetrySink is an interface to support different output sinks.
type TelemetrySink interface {
	Write(telemetry.Data) error
}

// batchSink allows sinks to accept batched samples.
type batchSink interface {
	WriteBatch([]telemetry.Data) error
}

// Closer is implemented by sinks holding external resources.
type Closer interface {
	Close() error
}

// WriteBatch delivers a batch to the sink, using its batch path if present.
func WriteBatch(s TelemetrySink, samples []telemetry.Data) error {
	if bs, ok := s.(batchSink); ok {
		return bs.WriteBatch(samples)
	}
	for _, sample := range samples {
		if err := s.Write(sample); err != nil {
			return err
		}
	}
	return nil
}
