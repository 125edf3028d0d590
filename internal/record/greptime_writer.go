package record

import (
	"context"
	"log/slog"
	"time"

	"dronetrack-rl/internal/telemetry"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
)

// greptimeClient is the subset of the ingester client the writer needs.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes step and episode telemetry to GreptimeDB via the
// ingester client. Tables are created on first insert.
type GreptimeDBWriter struct {
	client       greptimeClient
	stepTable    string
	episodeTable string
	timeout      time.Duration
}

// NewGreptimeDBWriter connects to the gRPC endpoint of a GreptimeDB
// instance.
func NewGreptimeDBWriter(host string, port int, database string) (*GreptimeDBWriter, error) {
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &GreptimeDBWriter{
		client:       client,
		stepTable:    telemetry.StepTableName,
		episodeTable: telemetry.EpisodeTableName,
		timeout:      5 * time.Second,
	}, nil
}

// WriteStep inserts a single step row.
func (w *GreptimeDBWriter) WriteStep(row telemetry.StepRow) error {
	return w.WriteSteps([]telemetry.StepRow{row})
}

// WriteSteps inserts multiple step rows.
func (w *GreptimeDBWriter) WriteSteps(rows []telemetry.StepRow) error {
	if len(rows) == 0 {
		return nil
	}

	tbl, err := table.New(w.stepTable)
	if err != nil {
		return err
	}
	tags := []string{"run_id", "episode_id"}
	for _, c := range tags {
		if err := tbl.AddTagColumn(c, types.STRING); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn("step", types.INT64); err != nil {
		return err
	}
	floats := []string{"reward", "distance_reward", "detection_reward", "final_reward", "distance",
		"agent_x", "agent_y", "agent_z"}
	for _, c := range floats {
		if err := tbl.AddFieldColumn(c, types.FLOAT64); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn("detected", types.BOOLEAN); err != nil {
		return err
	}
	for _, c := range []string{"bbox_x", "bbox_y", "bbox_w", "bbox_h"} {
		if err := tbl.AddFieldColumn(c, types.FLOAT64); err != nil {
			return err
		}
	}
	for _, c := range []string{"collided", "done", "successful"} {
		if err := tbl.AddFieldColumn(c, types.BOOLEAN); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}

	for _, r := range rows {
		if err := tbl.AddRow(r.RunID, r.EpisodeID, int64(r.Step),
			r.Reward, r.DistanceReward, r.DetectionReward, r.FinalReward, r.Distance,
			r.AgentX, r.AgentY, r.AgentZ,
			r.Detected, r.BBoxX, r.BBoxY, r.BBoxW, r.BBoxH,
			r.Collided, r.Done, r.Successful, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, len(rows))
}

// WriteEpisode inserts an episode summary.
func (w *GreptimeDBWriter) WriteEpisode(r telemetry.EpisodeRow) error {
	tbl, err := table.New(w.episodeTable)
	if err != nil {
		return err
	}
	for _, c := range []string{"run_id", "episode_id"} {
		if err := tbl.AddTagColumn(c, types.STRING); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn("stage", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("steps", types.INT64); err != nil {
		return err
	}
	for _, c := range []string{"reward", "distance_reward", "detection_reward", "final_reward", "final_distance"} {
		if err := tbl.AddFieldColumn(c, types.FLOAT64); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn("outcome", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("successful", types.BOOLEAN); err != nil {
		return err
	}
	for _, c := range []string{"spawn_x", "spawn_y", "spawn_z", "wind_x", "wind_y"} {
		if err := tbl.AddFieldColumn(c, types.FLOAT64); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	if err := tbl.AddRow(r.RunID, r.EpisodeID, r.Stage, int64(r.Steps),
		r.Reward, r.DistanceReward, r.DetectionReward, r.FinalReward, r.FinalDistance,
		r.Outcome, r.Successful,
		r.SpawnX, r.SpawnY, r.SpawnZ, r.WindX, r.WindY, r.Timestamp); err != nil {
		return err
	}
	return w.write(tbl, 1)
}

func (w *GreptimeDBWriter) write(tbl *table.Table, n int) error {
	timeout := w.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := w.client.Write(ctx, tbl); err != nil {
		slog.Error("greptimedb write failed", "error", err)
		return err
	}
	slog.Debug("greptimedb rows written", "rows", n)
	return nil
}
