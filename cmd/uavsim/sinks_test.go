package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"uavsim/internal/config"
	"uavsim/internal/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSinksPrintOnlyWinsOverConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sinks.File = &config.FileSinkConfig{TelemetryPath: filepath.Join(t.TempDir(), "t.jsonl")}

	out, cleanup, err := newSinks(cfg, true, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if _, ok := out.(*sink.JSONStdoutSink); !ok {
		t.Errorf("print-only should force the stdout sink, got %T", out)
	}
}

func TestNewSinksDefaultsToStdout(t *testing.T) {
	out, cleanup, err := newSinks(&config.Config{}, false, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if _, ok := out.(*sink.JSONStdoutSink); !ok {
		t.Errorf("no configured sink should fall back to stdout, got %T", out)
	}
}

func TestNewSinksCombinesConfiguredAndLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Sinks.Stdout = true

	out, cleanup, err := newSinks(cfg, false, filepath.Join(dir, "log.jsonl"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if _, ok := out.(*sink.MultiSink); !ok {
		t.Errorf("stdout plus log file should fan out, got %T", out)
	}
}

func TestNewSinksSingleFileSink(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sinks.File = &config.FileSinkConfig{TelemetryPath: filepath.Join(t.TempDir(), "t.jsonl")}

	out, cleanup, err := newSinks(cfg, false, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if _, ok := out.(*sink.FileSink); !ok {
		t.Errorf("single configured sink should be returned directly, got %T", out)
	}
}
