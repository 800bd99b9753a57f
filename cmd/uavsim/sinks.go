package main

import (
	"log/slog"

	"uavsim/internal/config"
	"uavsim/internal/sink"
)

// newSinks assembles the telemetry sink chain from configuration and flags.
// It returns the sink and a cleanup closing held resources.
func newSinks(cfg *config.Config, printOnly bool, logFile string, log *slog.Logger) (sink.TelemetrySink, func(), error) {
	cleanup := func() {}
	if printOnly {
		return sink.NewJSONStdoutSink(), cleanup, nil
	}

	var sinks []sink.TelemetrySink
	var closers []sink.Closer

	if cfg.Sinks.Stdout {
		sinks = append(sinks, sink.NewJSONStdoutSink())
	}
	if fc := cfg.Sinks.File; fc != nil {
		fs, err := sink.NewFileSink(fc.TelemetryPath, fc.ResultsPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fs)
		closers = append(closers, fs)
	}
	if gc := cfg.Sinks.Greptime; gc != nil {
		gs, err := sink.NewGreptimeDBSink(gc.Endpoint, gc.Database, log)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		sinks = append(sinks, gs)
	}
	if rc := cfg.Sinks.Redis; rc != nil {
		rs, err := sink.NewRedisSink(rc.Addr)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		sinks = append(sinks, rs)
		closers = append(closers, rs)
	}
	if logFile != "" {
		fs, err := sink.NewFileSink(logFile, logFile+".results")
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		sinks = append(sinks, fs)
		closers = append(closers, fs)
	}

	if len(sinks) == 0 {
		return sink.NewJSONStdoutSink(), cleanup, nil
	}
	cleanup = func() { closeAll(closers) }
	if len(sinks) == 1 {
		return sinks[0], cleanup, nil
	}
	return sink.NewMultiSink(sinks...), cleanup, nil
}

func closeAll(closers []sink.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
