package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

// newTestMonitor seeds one capable unit and one incapable unit, plus a
// unit with no data at all.
func newTestMonitor(t *testing.T, windowSize int) *Monitor {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	nodes := []models.Node{
		{Code: "BLOCK_E", Name: "提取车间", Type: models.NodeBlock},
		{Code: "E01", Name: "醇提罐", Type: models.NodeUnit, ParentCode: strPtr("BLOCK_E")},
		{Code: "E02", Name: "水提罐", Type: models.NodeUnit, ParentCode: strPtr("BLOCK_E")},
		{Code: "E03", Name: "过滤器", Type: models.NodeUnit, ParentCode: strPtr("BLOCK_E")},
	}
	for i := range nodes {
		if err := s.UpsertNode(ctx, &nodes[i]); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}
	}
	for _, nc := range []string{"E01", "E02", "E03"} {
		p := models.ParameterDef{
			NodeCode: nc, Code: "TEMP", Name: "温度", Unit: "°C",
			Role: models.RoleControl, USL: f64Ptr(90), LSL: f64Ptr(80), Target: f64Ptr(85),
			DataType: models.DataScalar,
		}
		if err := s.UpsertParameter(ctx, &p); err != nil {
			t.Fatalf("UpsertParameter: %v", err)
		}
	}

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	b := models.Batch{ID: "B001", OperatorID: "OP01", StartTime: base, Status: models.BatchRunning}
	if err := s.CreateBatch(ctx, &b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	e01 := []float64{84.6, 84.8, 85.0, 85.2, 85.4, 85.0} // tight, capable
	e02 := []float64{81, 88, 83, 87, 82, 89}             // wide, incapable
	for i := 0; i < 30; i++ {
		for _, mm := range []models.Measurement{
			{BatchID: "B001", NodeCode: "E01", ParamCode: "TEMP", Value: e01[i%len(e01)],
				Timestamp: base.Add(time.Duration(i) * time.Minute), Source: models.SourceSensor},
			{BatchID: "B001", NodeCode: "E02", ParamCode: "TEMP", Value: e02[i%len(e02)],
				Timestamp: base.Add(time.Duration(i) * time.Minute), Source: models.SourceSensor},
		} {
			m := mm
			if _, err := s.InsertMeasurement(ctx, &m); err != nil {
				t.Fatalf("InsertMeasurement: %v", err)
			}
		}
	}
	return New(s, windowSize)
}

func TestNodeMonitorWindow(t *testing.T) {
	m := newTestMonitor(t, 10)
	view, err := m.NodeMonitor(context.Background(), "E01")
	if err != nil {
		t.Fatalf("NodeMonitor: %v", err)
	}
	if view.NodeName != "醇提罐" || len(view.Params) != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}

	w := view.Params[0]
	if len(w.Values) != 10 {
		t.Errorf("window: expected 10 values, got %d", len(w.Values))
	}
	// Window holds the most recent rows in ascending time order.
	for i := 1; i < len(w.Timestamps); i++ {
		if w.Timestamps[i].Before(w.Timestamps[i-1]) {
			t.Errorf("window not ascending at %d", i)
		}
	}
	if w.Latest == nil || *w.Latest != w.Values[len(w.Values)-1] {
		t.Errorf("latest value mismatch: %+v", w)
	}
	if w.Cpk == nil || *w.Cpk < 1.33 {
		t.Errorf("expected a capable rolling Cpk, got %v", w.Cpk)
	}
	if w.USL == nil || *w.USL != 90 {
		t.Errorf("spec limits not attached: %+v", w)
	}
}

func TestNodeMonitorUnknownNode(t *testing.T) {
	m := newTestMonitor(t, 10)
	if _, err := m.NodeMonitor(context.Background(), "E99"); !errors.Is(err, errkind.ErrUnknownEntity) {
		t.Errorf("expected ErrUnknownEntity, got %v", err)
	}
	if _, err := m.NodeMonitor(context.Background(), ""); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest, got %v", err)
	}
}

func TestLatestStatusBoard(t *testing.T) {
	m := newTestMonitor(t, 20)
	board, err := m.LatestStatus(context.Background())
	if err != nil {
		t.Fatalf("LatestStatus: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("expected a row per unit, got %d", len(board))
	}

	byCode := map[string]UnitStatus{}
	for _, st := range board {
		byCode[st.NodeCode] = st
	}
	if byCode["E01"].Status != StatusNormal {
		t.Errorf("E01: expected Normal, got %s (cpk=%v)", byCode["E01"].Status, byCode["E01"].Cpk)
	}
	if byCode["E02"].Status != StatusError {
		t.Errorf("E02: expected Error, got %s (cpk=%v)", byCode["E02"].Status, byCode["E02"].Cpk)
	}
	// No data reads Normal with no timestamp.
	if byCode["E03"].Status != StatusNormal || byCode["E03"].UpdatedAt != nil {
		t.Errorf("E03: expected idle Normal, got %+v", byCode["E03"])
	}
	if byCode["E01"].UpdatedAt == nil {
		t.Error("E01: missing update timestamp")
	}
}
