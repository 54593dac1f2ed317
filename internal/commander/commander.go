// Package commander is the instruction engine: it turns analysis
// findings into role-addressed work orders and tracks their lifecycle.
package commander

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/analysis"
	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/metrics"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

const dateLayout = "2006-01-02"

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Commander generates and manages daily instructions.
type Commander struct {
	store        store.Store
	orchestrator *analysis.Orchestrator
	decisions    analysis.DecisionEngine
	logger       *zap.Logger
	batchScan    int // how many recent batches one generation scans
}

func New(s store.Store, o *analysis.Orchestrator, d analysis.DecisionEngine, logger *zap.Logger) *Commander {
	return &Commander{store: s, orchestrator: o, decisions: d, logger: logger, batchScan: 20}
}

// GenerateDailyOrders analyses every requested dimension for the target
// date and persists one Pending instruction per new finding, grouped by
// audience role. Rerunning for the same date adds nothing.
func (c *Commander) GenerateDailyOrders(ctx context.Context, targetDate string, dimensions []string) (map[models.Role][]models.Instruction, error) {
	if _, err := time.Parse(dateLayout, targetDate); err != nil {
		return nil, fmt.Errorf("target_date %q: %w", targetDate, errkind.ErrBadRequest)
	}
	if len(dimensions) == 0 {
		dimensions = []string{"batch", "workshop"}
	}

	var reports []*models.AnalysisReport
	for _, dim := range dimensions {
		rs, err := c.dimensionReports(ctx, dim, targetDate)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rs...)
	}
	return c.GenerateFromReports(ctx, targetDate, reports)
}

// GenerateFromReports renders and persists instructions for an already
// computed report set. Exposed for callers that run their own analyses.
func (c *Commander) GenerateFromReports(ctx context.Context, targetDate string, reports []*models.AnalysisReport) (map[models.Role][]models.Instruction, error) {
	out := map[models.Role][]models.Instruction{}
	for _, report := range reports {
		if report == nil {
			continue
		}
		issues := append(append([]models.Issue{}, report.CriticalIssues...), report.Warnings...)
		for i := range issues {
			if issues[i].Severity == models.SeverityErrored {
				continue
			}
			if err := c.instructIssue(ctx, targetDate, &issues[i], out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (c *Commander) instructIssue(ctx context.Context, targetDate string, issue *models.Issue, out map[models.Role][]models.Instruction) error {
	defs, err := c.decisions.GenerateActions(ctx, issue)
	if err != nil {
		return err
	}

	for _, def := range defs {
		content := c.render(ctx, def.InstructionTemplate, issue)
		in := models.Instruction{
			TargetDate:      targetDate,
			Role:            def.TargetRole,
			ActionCode:      def.Code,
			BatchID:         issue.BatchID,
			NodeCode:        issue.NodeCode,
			ParamCode:       issue.ParamCode,
			Content:         content,
			Status:          models.StatusPending,
			Priority:        def.Priority,
			Evidence:        evidence(issue),
			InstructionType: def.Category,
			CreatedAt:       time.Now().UTC(),
		}

		inserted, err := c.store.InsertInstruction(ctx, &in)
		if err != nil {
			return err
		}
		if !inserted {
			metrics.InstructionsDeduplicated.Inc()
			continue
		}
		metrics.InstructionsGenerated.WithLabelValues(string(in.Role), string(in.Priority)).Inc()
		c.logger.Info("instruction generated",
			zap.Int64("id", in.ID),
			zap.String("role", string(in.Role)),
			zap.String("action", in.ActionCode),
			zap.String("node", in.NodeCode))
		out[in.Role] = append(out[in.Role], in)
	}
	return nil
}

// render substitutes {placeholder} tokens from the issue's value bag.
// Unknown placeholders render as empty strings so no token survives.
func (c *Commander) render(ctx context.Context, template string, issue *models.Issue) string {
	bag := map[string]string{
		"node_code":  issue.NodeCode,
		"node_name":  issue.NodeName,
		"param_code": issue.ParamCode,
		"param_name": issue.ParamName,
		"batch_id":   issue.BatchID,
	}
	if bag["node_name"] == "" && issue.NodeCode != "" {
		if n, err := c.store.GetNode(ctx, issue.NodeCode); err == nil {
			bag["node_name"] = n.Name
		}
	}
	if issue.CurrentValue != nil {
		bag["current_value"] = formatNum(*issue.CurrentValue)
	}
	if issue.TargetValue != nil {
		bag["target_value"] = formatNum(*issue.TargetValue)
	}
	if issue.Cpk != nil {
		bag["cpk"] = fmt.Sprintf("%.3f", *issue.Cpk)
	}
	for k, v := range issue.Extra {
		bag[k] = anyToString(v)
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(tok string) string {
		return bag[tok[1:len(tok)-1]]
	})
}

// evidence captures the metrics that drove the instruction.
func evidence(issue *models.Issue) map[string]any {
	ev := map[string]any{}
	if issue.CurrentValue != nil {
		ev["current_value"] = *issue.CurrentValue
	}
	if issue.BatchID != "" {
		ev["batch_id"] = issue.BatchID
	}
	if issue.Cpk != nil {
		ev["cpk"] = *issue.Cpk
	}
	if issue.ProcessStatus != "" {
		ev["process_status"] = issue.ProcessStatus
	}
	if issue.Violations > 0 {
		ev["violations"] = issue.Violations
	}
	return ev
}

// GetInstructionsByRole lists instructions for one role and date,
// optionally narrowed to a status set.
func (c *Commander) GetInstructionsByRole(ctx context.Context, role models.Role, targetDate string, statuses ...models.InstructionStatus) ([]models.Instruction, error) {
	if role == "" {
		return nil, fmt.Errorf("role is required: %w", errkind.ErrBadRequest)
	}
	ins, err := c.store.ListInstructions(ctx, store.InstructionFilter{
		TargetDate: targetDate,
		Role:       role,
	})
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return ins, nil
	}
	allowed := map[models.InstructionStatus]bool{}
	for _, st := range statuses {
		allowed[st] = true
	}
	out := ins[:0]
	for _, in := range ins {
		if allowed[in.Status] {
			out = append(out, in)
		}
	}
	return out, nil
}

// MarkRead moves a Pending instruction to Read.
func (c *Commander) MarkRead(ctx context.Context, id int64) error {
	in, err := c.store.GetInstruction(ctx, id)
	if err != nil {
		return err
	}
	if in.Status != models.StatusPending {
		return fmt.Errorf("instruction %d is %s, not Pending: %w", id, in.Status, errkind.ErrBadTransition)
	}
	if err := c.store.SetInstructionRead(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	metrics.InstructionTransitions.WithLabelValues(string(models.StatusRead)).Inc()
	return nil
}

// MarkDone moves a Read instruction to Done, recording feedback.
func (c *Commander) MarkDone(ctx context.Context, id int64, feedback string) error {
	in, err := c.store.GetInstruction(ctx, id)
	if err != nil {
		return err
	}
	if in.Status != models.StatusRead {
		return fmt.Errorf("instruction %d is %s, not Read: %w", id, in.Status, errkind.ErrBadTransition)
	}
	if err := c.store.SetInstructionDone(ctx, id, time.Now().UTC(), feedback); err != nil {
		return err
	}
	metrics.InstructionTransitions.WithLabelValues(string(models.StatusDone)).Inc()
	return nil
}

// dimensionReports fans one dimension out into per-key analyses.
func (c *Commander) dimensionReports(ctx context.Context, dimension, targetDate string) ([]*models.AnalysisReport, error) {
	var reports []*models.AnalysisReport
	switch dimension {
	case "batch":
		batches, err := c.store.ListBatches(ctx, c.batchScan)
		if err != nil {
			return nil, err
		}
		for _, b := range batches {
			r, err := c.orchestrator.AnalyzeByBatch(ctx, b.ID, 0)
			if err != nil {
				return nil, err
			}
			reports = append(reports, r)
		}
	case "workshop":
		blocks, err := c.nodesOfType(ctx, models.NodeBlock)
		if err != nil {
			return nil, err
		}
		for _, n := range blocks {
			r, err := c.orchestrator.AnalyzeByWorkshop(ctx, n.Code, nil, nil, 0)
			if err != nil {
				return nil, err
			}
			reports = append(reports, r)
		}
	case "process":
		units, err := c.nodesOfType(ctx, models.NodeUnit)
		if err != nil {
			return nil, err
		}
		for _, n := range units {
			r, err := c.orchestrator.AnalyzeByProcess(ctx, n.Code, "", 0)
			if err != nil {
				return nil, err
			}
			reports = append(reports, r)
		}
	case "person":
		batches, err := c.store.ListBatches(ctx, c.batchScan)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, b := range batches {
			if b.OperatorID == "" || seen[b.OperatorID] {
				continue
			}
			seen[b.OperatorID] = true
			r, err := c.orchestrator.AnalyzeByPerson(ctx, b.OperatorID, nil, nil, 0)
			if err != nil {
				return nil, err
			}
			reports = append(reports, r)
		}
	case "time":
		day, _ := time.Parse(dateLayout, targetDate)
		next := day.Add(24 * time.Hour)
		r, err := c.orchestrator.AnalyzeByTime(ctx, day, next, 0)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	default:
		return nil, fmt.Errorf("dimension %q: %w", dimension, errkind.ErrBadRequest)
	}
	return reports, nil
}

func (c *Commander) nodesOfType(ctx context.Context, t models.NodeType) ([]models.Node, error) {
	nodes, err := c.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out, nil
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func anyToString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return formatNum(n)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprintf("%v", n)
	}
}
