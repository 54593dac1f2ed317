package graph

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

func plantSnapshot() *Snapshot {
	return &Snapshot{
		Nodes: []models.Node{
			{Code: "BLOCK_E", Name: "提取车间", Type: models.NodeBlock},
			{Code: "BLOCK_C", Name: "制剂车间", Type: models.NodeBlock},
			{Code: "E01", Name: "醇提罐", Type: models.NodeUnit, ParentCode: strPtr("BLOCK_E")},
			{Code: "E04", Name: "浓缩罐", Type: models.NodeUnit, ParentCode: strPtr("BLOCK_E")},
			{Code: "C01", Name: "制粒机", Type: models.NodeUnit, ParentCode: strPtr("BLOCK_C")},
			{Code: "RES_ENV", Name: "环境监测", Type: models.NodeResource, ParentCode: strPtr("BLOCK_E")},
		},
		Parameters: []models.ParameterDef{
			{NodeCode: "E01", Code: "TEMP", Name: "温度", Unit: "°C",
				Role: models.RoleControl, USL: f64Ptr(90), LSL: f64Ptr(80), DataType: models.DataScalar},
		},
		Flows: []models.Edge{
			{SourceCode: "E01", TargetCode: "E04", Name: "提取液", LossRate: 0.02},
		},
		Risks: []models.Risk{
			{Code: "TOP_QUALITY", Name: "质量事故", Category: models.RiskTop},
			{Code: "EXT_TEMP_HIGH", Name: "提取温度过高", Category: models.RiskEquipment, BaseProbability: f64Ptr(0.05)},
			{Code: "GRAN_MOISTURE", Name: "颗粒水分异常", Category: models.RiskMaterial, BaseProbability: f64Ptr(0.03)},
		},
		RiskEdges: []models.RiskEdge{
			{SourceCode: "EXT_TEMP_HIGH", TargetCode: "TOP_QUALITY", Weight: 0.7},
			{SourceCode: "GRAN_MOISTURE", TargetCode: "TOP_QUALITY", Weight: 0.4},
		},
	}
}

func newImportedService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	im := NewImporter(s, zap.NewNop())
	stats, err := im.Import(context.Background(), plantSnapshot())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Nodes != 6 || stats.Risks != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	return NewService(s)
}

func TestStructureLayout(t *testing.T) {
	svc := newImportedService(t)
	out, err := svc.Structure(context.Background())
	if err != nil {
		t.Fatalf("Structure: %v", err)
	}

	nodes := out["nodes"].([]map[string]any)
	edges := out["edges"].([]map[string]any)

	byID := map[string]map[string]any{}
	for _, n := range nodes {
		byID[n["id"].(string)] = n
	}

	// Blocks sit on a horizontal row with fixed spacing, visible.
	posE := byID["BLOCK_E"]["position"].(map[string]any)
	posC := byID["BLOCK_C"]["position"].(map[string]any)
	if posC["x"].(int)-posE["x"].(int) != blockSpacing {
		t.Errorf("block spacing wrong: %v vs %v", posE, posC)
	}
	if hidden, ok := byID["BLOCK_E"]["hidden"]; ok && hidden == true {
		t.Error("blocks must be visible")
	}

	// Units start hidden with their parameters attached.
	unit := byID["E01"]
	if unit["hidden"] != true {
		t.Error("units must start hidden")
	}
	params := unit["data"].(map[string]any)["params"].([]map[string]any)
	if len(params) != 1 || params[0]["code"] != "TEMP" {
		t.Errorf("unit parameters missing: %v", params)
	}

	// Resources render above their block, visible.
	res := byID["RES_ENV"]
	if _, ok := res["hidden"]; ok {
		t.Error("resources must be visible")
	}
	if y := res["position"].(map[string]any)["y"].(int); y >= 0 {
		t.Errorf("resource must float above the row, got y=%d", y)
	}

	// One hidden unit flow and one visible block-to-block edge.
	var unitEdges, blockEdges int
	for _, e := range edges {
		if e["hidden"] == true {
			unitEdges++
		} else {
			blockEdges++
		}
	}
	if unitEdges != 1 || blockEdges != 1 {
		t.Errorf("expected 1 unit edge and 1 block edge, got %d/%d", unitEdges, blockEdges)
	}
}

func TestRiskTree(t *testing.T) {
	svc := newImportedService(t)
	out, err := svc.RiskTree(context.Background())
	if err != nil {
		t.Fatalf("RiskTree: %v", err)
	}
	if len(out["risks"].([]map[string]any)) != 3 {
		t.Errorf("expected 3 risks: %v", out["risks"])
	}
	if len(out["edges"].([]map[string]any)) != 2 {
		t.Errorf("expected 2 edges: %v", out["edges"])
	}
}

func TestNodeRisksPrefixMatching(t *testing.T) {
	svc := newImportedService(t)
	ctx := context.Background()

	ext, err := svc.NodeRisks(ctx, "E04")
	if err != nil {
		t.Fatalf("NodeRisks: %v", err)
	}
	if len(ext) != 1 || ext[0]["code"] != "EXT_TEMP_HIGH" {
		t.Errorf("E04: expected extraction risks only, got %v", ext)
	}

	gran, err := svc.NodeRisks(ctx, "C01")
	if err != nil {
		t.Fatalf("NodeRisks: %v", err)
	}
	if len(gran) != 1 || gran[0]["code"] != "GRAN_MOISTURE" {
		t.Errorf("C01: expected granulation risks only, got %v", gran)
	}

	none, err := svc.NodeRisks(ctx, "X99")
	if err != nil {
		t.Fatalf("NodeRisks: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown prefix must match nothing, got %v", none)
	}
}

func TestImportRejectsCycles(t *testing.T) {
	snap := plantSnapshot()
	snap.RiskEdges = append(snap.RiskEdges, models.RiskEdge{
		SourceCode: "TOP_QUALITY", TargetCode: "EXT_TEMP_HIGH", Weight: 0.1,
	})
	if err := Validate(snap); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected cycle rejection, got %v", err)
	}
}

func TestImportRejectsBrokenReferences(t *testing.T) {
	snap := plantSnapshot()
	snap.Parameters = append(snap.Parameters, models.ParameterDef{NodeCode: "E99", Code: "PH"})
	if err := Validate(snap); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected unknown-node rejection, got %v", err)
	}

	snap = plantSnapshot()
	snap.Nodes[2].ParentCode = strPtr("BLOCK_Z")
	if err := Validate(snap); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected unknown-parent rejection, got %v", err)
	}

	snap = plantSnapshot()
	snap.Nodes = append(snap.Nodes, models.Node{Code: "E01", Name: "复制", Type: models.NodeUnit})
	if err := Validate(snap); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected duplicate-code rejection, got %v", err)
	}
}

func TestImportIdempotent(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	im := NewImporter(s, zap.NewNop())
	ctx := context.Background()
	if _, err := im.Import(ctx, plantSnapshot()); err != nil {
		t.Fatalf("first import: %v", err)
	}
	if _, err := im.Import(ctx, plantSnapshot()); err != nil {
		t.Fatalf("second import: %v", err)
	}

	nodes, err := s.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 6 {
		t.Errorf("re-import must not duplicate nodes, got %d", len(nodes))
	}
}
