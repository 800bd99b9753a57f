package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"uavsim/internal/telemetry"
)

// GreptimeDBSink writes telemetry to GreptimeDB via the ingester client.
type GreptimeDBSink struct {
	client *greptime.Client
	db     string
	table  string
	log    *slog.Logger
}

// NewGreptimeDBSink creates a GreptimeDB sink. The uav_telemetry table is
// auto-created by GreptimeDB on first ingest.
func NewGreptimeDBSink(endpoint, database string, log *slog.Logger) (*GreptimeDBSink, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
		portStr = ""
	}
	cfg := greptime.NewConfig(host).WithDatabase(database)
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		cfg = cfg.WithPort(port)
	}

	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &GreptimeDBSink{
		client: client,
		db:     database,
		table:  "uav_telemetry",
		log:    log,
	}, nil
}

// Write inserts a single telemetry sample.
func (s *GreptimeDBSink) Write(sample telemetry.Data) error {
	return s.WriteBatch([]telemetry.Data{sample})
}

// WriteBatch inserts multiple telemetry samples.
func (s *GreptimeDBSink) WriteBatch(samples []telemetry.Data) error {
	if len(samples) == 0 {
		return nil
	}

	ctx := ingesterContext.New(context.Background())

	tbl, err := table.New(s.table)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("uav_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTagColumn("subsystem", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("payload", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("status", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("anomaly_score", types.FLOAT64); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}

	for _, sample := range samples {
		payload, _ := json.Marshal(sample.Payload)
		score := 0.0
		if sample.AnomalyScore != nil {
			score = *sample.AnomalyScore
		}
		if err := tbl.AddRow(
			sample.UAVID,
			sample.Subsystem,
			string(payload),
			string(sample.Status),
			score,
			sample.Timestamp,
		); err != nil {
			return err
		}
	}

	if _, err := s.client.Write(ctx, tbl); err != nil {
		s.log.Error("greptimedb write failed", "rows", len(samples), "err", err)
		return err
	}
	s.log.Debug("greptimedb wrote rows", "rows", len(samples))
	return nil
}
