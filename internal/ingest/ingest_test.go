package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

func newTestIngestor(t *testing.T) (*Ingestor, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.UpsertNode(ctx, &models.Node{Code: "E04", Name: "浓缩罐", Type: models.NodeUnit}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := s.UpsertParameter(ctx, &models.ParameterDef{
		NodeCode: "E04", Code: "TEMP", Name: "温度", Role: models.RoleControl, DataType: models.DataScalar,
	}); err != nil {
		t.Fatalf("UpsertParameter: %v", err)
	}

	return NewIngestor(s, zap.NewNop()), s
}

func TestAutoCreateBatch(t *testing.T) {
	ig, s := newTestIngestor(t)
	ctx := context.Background()

	m, err := ig.IngestSinglePoint(ctx, Point{
		BatchID:    "B100",
		NodeCode:   "E04",
		ParamCode:  "TEMP",
		Value:      82.5,
		Source:     models.SourceSensor,
		OperatorID: "OP01",
	})
	if err != nil {
		t.Fatalf("IngestSinglePoint: %v", err)
	}
	if m.ID == 0 {
		t.Error("expected measurement id to be set")
	}

	b, err := s.GetBatch(ctx, "B100")
	if err != nil {
		t.Fatalf("GetBatch after auto-create: %v", err)
	}
	if b.Status != models.BatchRunning || b.OperatorID != "OP01" {
		t.Errorf("unexpected auto-created batch: %+v", b)
	}
}

func TestSecondPointReusesBatch(t *testing.T) {
	ig, s := newTestIngestor(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := ig.IngestSinglePoint(ctx, Point{
			BatchID: "B100", NodeCode: "E04", ParamCode: "TEMP",
			Value: 80, Source: models.SourceSimulation,
		}); err != nil {
			t.Fatalf("IngestSinglePoint %d: %v", i, err)
		}
	}

	got, err := s.ListMeasurements(ctx, store.MeasurementFilter{BatchIDs: []string{"B100"}, Limit: 10})
	if err != nil {
		t.Fatalf("ListMeasurements: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 measurements, got %d", len(got))
	}
}

func TestRejectsUnknownNodeAndParam(t *testing.T) {
	ig, _ := newTestIngestor(t)
	ctx := context.Background()

	_, err := ig.IngestSinglePoint(ctx, Point{
		BatchID: "B1", NodeCode: "NOPE", ParamCode: "TEMP", Source: models.SourceSensor,
	})
	if !errors.Is(err, errkind.ErrUnknownEntity) {
		t.Errorf("unknown node: expected ErrUnknownEntity, got %v", err)
	}

	_, err = ig.IngestSinglePoint(ctx, Point{
		BatchID: "B1", NodeCode: "E04", ParamCode: "NOPE", Source: models.SourceSensor,
	})
	if !errors.Is(err, errkind.ErrUnknownEntity) {
		t.Errorf("unknown param: expected ErrUnknownEntity, got %v", err)
	}
}

func TestRejectsBadInput(t *testing.T) {
	ig, _ := newTestIngestor(t)
	ctx := context.Background()

	_, err := ig.IngestSinglePoint(ctx, Point{NodeCode: "E04", ParamCode: "TEMP", Source: models.SourceSensor})
	if !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("missing batch: expected ErrBadRequest, got %v", err)
	}

	_, err = ig.IngestSinglePoint(ctx, Point{
		BatchID: "B1", NodeCode: "E04", ParamCode: "TEMP", Source: "TELEPATHY",
	})
	if !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("bad source: expected ErrBadRequest, got %v", err)
	}
}

func TestExplicitTimestampKept(t *testing.T) {
	ig, s := newTestIngestor(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := ig.IngestSinglePoint(ctx, Point{
		BatchID: "B1", NodeCode: "E04", ParamCode: "TEMP",
		Value: 81, Source: models.SourceHistory, Timestamp: &ts,
	}); err != nil {
		t.Fatalf("IngestSinglePoint: %v", err)
	}

	got, err := s.ListMeasurements(ctx, store.MeasurementFilter{BatchIDs: []string{"B1"}, Limit: 1})
	if err != nil {
		t.Fatalf("ListMeasurements: %v", err)
	}
	if len(got) != 1 || !got[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp not preserved: %+v", got)
	}
}
