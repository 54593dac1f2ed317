package commander

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/analysis"
	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/provider"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
	"github.com/pharmaflow/pharmaflow-backend/internal/tools"
)

func f64Ptr(f float64) *float64 { return &f }

// newValveFixture seeds the valve-adjustment action catalog and an
// explicit route from (E04, temp, CRITICAL) to it.
func newValveFixture(t *testing.T) (store.Store, *Commander) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	node := models.Node{Code: "E04", Name: "醇提罐", Type: models.NodeUnit}
	if err := s.UpsertNode(ctx, &node); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	risk := models.Risk{Code: "R_E04_TEMP_HIGH", Name: "温度过高", Category: models.RiskEquipment}
	if err := s.UpsertRisk(ctx, &risk); err != nil {
		t.Fatalf("UpsertRisk: %v", err)
	}
	riskCode := "R_E04_TEMP_HIGH"
	action := models.ActionDef{
		Code:                "ACT_ADJUST_VALVE",
		Name:                "调节阀门",
		RiskCode:            &riskCode,
		TargetRole:          models.RoleOperator,
		InstructionTemplate: "Adjust valve on {node_name} from {current_valve}% to {suggested_valve}%",
		Priority:            models.PriorityHigh,
		Category:            models.InstructionTactical,
	}
	if err := s.UpsertAction(ctx, &action); err != nil {
		t.Fatalf("UpsertAction: %v", err)
	}

	logger := zap.NewNop()
	engine := analysis.NewRuleBasedEngine(s, map[analysis.RouteKey]string{
		{NodeCode: "E04", ParamCode: "temp", Severity: models.SeverityCritical}: "ACT_ADJUST_VALVE",
	})
	factory := provider.NewFactory(s, 100, 200)
	wf := analysis.NewWorkflow(tools.DefaultRegistry(), logger)
	o := analysis.NewOrchestrator(factory, wf, engine, logger)
	return s, New(s, o, engine, logger)
}

func valveReport() *models.AnalysisReport {
	cur := 85.5
	return &models.AnalysisReport{
		Dimension: "process",
		Key:       "E04",
		Status:    models.SeverityCritical,
		CriticalIssues: []models.Issue{{
			Severity:     models.SeverityCritical,
			NodeCode:     "E04",
			ParamCode:    "temp",
			BatchID:      "BATCH_001",
			CurrentValue: &cur,
			Extra: map[string]any{
				"current_valve":   50,
				"suggested_valve": 45,
			},
		}},
		Warnings: []models.Issue{},
	}
}

func TestInstructionLifecycle(t *testing.T) {
	s, c := newValveFixture(t)
	ctx := context.Background()

	byRole, err := c.GenerateFromReports(ctx, "2025-01-08", []*models.AnalysisReport{valveReport()})
	if err != nil {
		t.Fatalf("GenerateFromReports: %v", err)
	}

	ops := byRole[models.RoleOperator]
	if len(ops) != 1 {
		t.Fatalf("expected one operator instruction, got %d", len(ops))
	}
	in := ops[0]
	if in.Content != "Adjust valve on 醇提罐 from 50% to 45%" {
		t.Errorf("unexpected content: %q", in.Content)
	}
	if in.Status != models.StatusPending || in.Priority != models.PriorityHigh {
		t.Errorf("unexpected status/priority: %s/%s", in.Status, in.Priority)
	}
	if in.Evidence["current_value"] != 85.5 || in.Evidence["batch_id"] != "BATCH_001" {
		t.Errorf("unexpected evidence: %v", in.Evidence)
	}
	if strings.Contains(in.Content, "{") {
		t.Errorf("unrendered placeholder remains: %q", in.Content)
	}

	// Rerunning the same generation creates nothing.
	again, err := c.GenerateFromReports(ctx, "2025-01-08", []*models.AnalysisReport{valveReport()})
	if err != nil {
		t.Fatalf("second GenerateFromReports: %v", err)
	}
	if len(again[models.RoleOperator]) != 0 {
		t.Errorf("dedup failed: %v", again[models.RoleOperator])
	}
	all, err := s.ListInstructions(ctx, store.InstructionFilter{TargetDate: "2025-01-08"})
	if err != nil {
		t.Fatalf("ListInstructions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single persisted instruction, got %d", len(all))
	}

	// Pending → Read → Done, strictly forward.
	if err := c.MarkRead(ctx, in.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := c.MarkDone(ctx, in.ID, "valve adjusted"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := c.MarkRead(ctx, in.ID); !errors.Is(err, errkind.ErrBadTransition) {
		t.Errorf("expected ErrBadTransition rereading a done instruction, got %v", err)
	}

	got, err := s.GetInstruction(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetInstruction: %v", err)
	}
	if got.Status != models.StatusDone || got.Feedback != "valve adjusted" {
		t.Errorf("unexpected final state: %+v", got)
	}
	if got.ReadAt == nil || got.DoneAt == nil {
		t.Error("lifecycle timestamps missing")
	}
}

func TestMarkDoneRequiresRead(t *testing.T) {
	_, c := newValveFixture(t)
	ctx := context.Background()

	byRole, err := c.GenerateFromReports(ctx, "2025-01-09", []*models.AnalysisReport{valveReport()})
	if err != nil {
		t.Fatalf("GenerateFromReports: %v", err)
	}
	id := byRole[models.RoleOperator][0].ID

	if err := c.MarkDone(ctx, id, ""); !errors.Is(err, errkind.ErrBadTransition) {
		t.Errorf("expected ErrBadTransition for Pending → Done, got %v", err)
	}
}

func TestGetInstructionsByRole(t *testing.T) {
	_, c := newValveFixture(t)
	ctx := context.Background()

	byRole, err := c.GenerateFromReports(ctx, "2025-01-10", []*models.AnalysisReport{valveReport()})
	if err != nil {
		t.Fatalf("GenerateFromReports: %v", err)
	}
	id := byRole[models.RoleOperator][0].ID

	pending, err := c.GetInstructionsByRole(ctx, models.RoleOperator, "2025-01-10", models.StatusPending)
	if err != nil {
		t.Fatalf("GetInstructionsByRole: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending instruction, got %d", len(pending))
	}

	if err := c.MarkRead(ctx, id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	pending, err = c.GetInstructionsByRole(ctx, models.RoleOperator, "2025-01-10", models.StatusPending)
	if err != nil {
		t.Fatalf("GetInstructionsByRole: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("read instruction still listed as pending: %v", pending)
	}

	if _, err := c.GetInstructionsByRole(ctx, "", "2025-01-10"); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for missing role, got %v", err)
	}

	// Other roles see nothing.
	qa, err := c.GetInstructionsByRole(ctx, models.RoleQA, "2025-01-10")
	if err != nil {
		t.Fatalf("GetInstructionsByRole(QA): %v", err)
	}
	if len(qa) != 0 {
		t.Errorf("expected no QA instructions, got %v", qa)
	}
}

func TestGenerateDailyOrdersBadDate(t *testing.T) {
	_, c := newValveFixture(t)
	if _, err := c.GenerateDailyOrders(context.Background(), "08-01-2025", nil); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for malformed date, got %v", err)
	}
	if _, err := c.GenerateDailyOrders(context.Background(), "2025-01-08", []string{"astral"}); !errors.Is(err, errkind.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for unknown dimension, got %v", err)
	}
}

func TestRenderSkipsErroredIssues(t *testing.T) {
	s, c := newValveFixture(t)
	ctx := context.Background()

	report := valveReport()
	report.Warnings = append(report.Warnings, models.Issue{
		Severity: models.SeverityErrored,
		NodeCode: "E04", ParamCode: "temp",
		Errors: []string{"数据点不足"},
	})
	if _, err := c.GenerateFromReports(ctx, "2025-01-11", []*models.AnalysisReport{report}); err != nil {
		t.Fatalf("GenerateFromReports: %v", err)
	}
	all, err := s.ListInstructions(ctx, store.InstructionFilter{TargetDate: "2025-01-11"})
	if err != nil {
		t.Fatalf("ListInstructions: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("errored issues must not generate instructions, got %d", len(all))
	}
}
