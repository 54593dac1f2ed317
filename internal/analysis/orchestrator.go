package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/metrics"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/provider"
)

// Orchestrator exposes one analysis entry point per dimension. Each
// call resolves data through the provider factory, grades it through
// the workflow, and wraps the outcome in an AnalysisReport.
type Orchestrator struct {
	providers *provider.Factory
	workflow  *Workflow
	decisions DecisionEngine
	logger    *zap.Logger
}

func NewOrchestrator(p *provider.Factory, w *Workflow, d DecisionEngine, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{providers: p, workflow: w, decisions: d, logger: logger}
}

func (o *Orchestrator) AnalyzeByBatch(ctx context.Context, batchID string, limit int) (*models.AnalysisReport, error) {
	dc, err := o.providers.ByBatch(ctx, batchID, limit)
	return o.finish(ctx, "batch", batchID, dc, err)
}

func (o *Orchestrator) AnalyzeByProcess(ctx context.Context, nodeCode, paramCode string, limit int) (*models.AnalysisReport, error) {
	dc, err := o.providers.ByProcess(ctx, nodeCode, paramCode, limit)
	return o.finish(ctx, "process", nodeCode, dc, err)
}

func (o *Orchestrator) AnalyzeByWorkshop(ctx context.Context, blockCode string, start, end *time.Time, limit int) (*models.AnalysisReport, error) {
	dc, err := o.providers.ByWorkshop(ctx, blockCode, start, end, limit)
	return o.finish(ctx, "workshop", blockCode, dc, err)
}

func (o *Orchestrator) AnalyzeByPerson(ctx context.Context, operatorID string, start, end *time.Time, limit int) (*models.AnalysisReport, error) {
	dc, err := o.providers.ByPerson(ctx, operatorID, start, end, limit)
	return o.finish(ctx, "person", operatorID, dc, err)
}

func (o *Orchestrator) AnalyzeByTime(ctx context.Context, start, end time.Time, limit int) (*models.AnalysisReport, error) {
	dc, err := o.providers.ByTime(ctx, start, end, limit)
	return o.finish(ctx, "time", start.Format(time.RFC3339), dc, err)
}

func (o *Orchestrator) finish(ctx context.Context, dimension, key string, dc *provider.DataContext, err error) (*models.AnalysisReport, error) {
	began := time.Now()
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(dimension, "error").Inc()
		return nil, err
	}

	wf := o.workflow.Run(dc)
	report := &models.AnalysisReport{
		Dimension:      dimension,
		Key:            key,
		AnalysisID:     uuid.NewString(),
		Status:         wf.Status,
		CriticalIssues: wf.CriticalIssues,
		Warnings:       wf.Warnings,
		Insights:       wf.Insights,
		QuickActions:   o.quickActions(ctx, wf.CriticalIssues),
		Metadata:       dc.Metadata,
		GeneratedAt:    time.Now().UTC(),
	}

	metrics.AnalysesTotal.WithLabelValues(dimension, "ok").Inc()
	metrics.AnalysisDuration.WithLabelValues(dimension).Observe(time.Since(began).Seconds())
	o.logger.Info("analysis completed",
		zap.String("dimension", dimension),
		zap.String("key", key),
		zap.String("analysis_id", report.AnalysisID),
		zap.String("status", string(report.Status)),
		zap.Int("critical_issues", len(report.CriticalIssues)),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

// quickActions suggests at most one action code per CRITICAL issue.
func (o *Orchestrator) quickActions(ctx context.Context, critical []models.Issue) []string {
	if o.decisions == nil {
		return nil
	}
	var actions []string
	seen := map[string]bool{}
	for i := range critical {
		if critical[i].Severity != models.SeverityCritical {
			continue
		}
		defs, err := o.decisions.GenerateActions(ctx, &critical[i])
		if err != nil || len(defs) == 0 {
			continue
		}
		if code := defs[0].Code; !seen[code] {
			seen[code] = true
			actions = append(actions, code)
		}
	}
	return actions
}
