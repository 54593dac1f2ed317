// Package analysis turns raw measurement contexts into graded reports:
// the workflow runs the statistical tools per parameter group, the
// orchestrator wraps one workflow run per analysis dimension, and the
// decision engine maps findings to prescriptive actions.
package analysis

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/metrics"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/provider"
	"github.com/pharmaflow/pharmaflow-backend/internal/tools"
)

// Cpk severity cut points.
const (
	cpkCritical = 0.8
	cpkHigh     = 1.0
	cpkCapable  = 1.33
)

// WorkflowResult is the graded outcome of analysing one DataContext.
type WorkflowResult struct {
	Status         models.Severity
	CriticalIssues []models.Issue
	Warnings       []models.Issue
	Insights       []string
}

// Workflow grades every (node, param) series in a context through the
// SPC tool. A tool failure on one group never aborts the run.
type Workflow struct {
	registry *tools.Registry
	logger   *zap.Logger
}

func NewWorkflow(registry *tools.Registry, logger *zap.Logger) *Workflow {
	return &Workflow{registry: registry, logger: logger}
}

// Run analyses each series and folds the per-group grades into a
// deterministic report body. Reruns on the same context are identical.
func (w *Workflow) Run(dc *provider.DataContext) *WorkflowResult {
	out := &WorkflowResult{
		Status:         models.SeverityNormal,
		CriticalIssues: []models.Issue{},
		Warnings:       []models.Issue{},
		Insights:       []string{},
	}
	if dc == nil || dc.Empty() {
		out.Insights = append(out.Insights, "无可分析数据")
		return out
	}

	errored := 0
	for _, s := range dc.Series {
		issue := w.gradeSeries(s)
		metrics.IssuesFound.WithLabelValues(string(issue.Severity)).Inc()
		switch issue.Severity {
		case models.SeverityCritical, models.SeverityHigh:
			out.CriticalIssues = append(out.CriticalIssues, issue)
		case models.SeverityWarning:
			out.Warnings = append(out.Warnings, issue)
		case models.SeverityErrored:
			errored++
			out.Warnings = append(out.Warnings, issue)
		}
	}

	sortIssues(out.CriticalIssues)
	sortIssues(out.Warnings)
	out.Status = aggregateStatus(out.CriticalIssues, out.Warnings)

	out.Insights = w.insights(dc, out, errored)
	return out
}

// gradeSeries runs SPC on one (node, param) group and derives its
// severity from process status, capability and violations.
func (w *Workflow) gradeSeries(s provider.Series) models.Issue {
	cfg := tools.SPCConfig{}
	var target *float64
	paramName := s.ParamCode
	if s.Param != nil {
		cfg.USL = s.Param.USL
		cfg.LSL = s.Param.LSL
		cfg.Target = s.Param.Target
		target = s.Param.Target
		if s.Param.Name != "" {
			paramName = s.Param.Name
		}
	}

	issue := models.Issue{
		NodeCode:    s.NodeCode,
		ParamCode:   s.ParamCode,
		ParamName:   paramName,
		TargetValue: target,
	}
	if len(s.Measurements) > 0 {
		last := s.Measurements[len(s.Measurements)-1]
		issue.BatchID = last.BatchID
		v := last.Value
		issue.CurrentValue = &v
	}

	res := tools.AnalyzeSPC(s.Values, cfg)
	if !res.Success {
		issue.Severity = models.SeverityErrored
		issue.Errors = res.Errors
		issue.Description = fmt.Sprintf("%s/%s 分析失败", s.NodeCode, s.ParamCode)
		w.logger.Warn("series analysis failed",
			zap.String("node", s.NodeCode),
			zap.String("param", s.ParamCode),
			zap.Strings("errors", res.Errors))
		return issue
	}

	status, _ := res.Result["process_status"].(string)
	issue.ProcessStatus = status
	if m, ok := res.Result["mean"].(float64); ok {
		issue.Mean = &m
	}
	var cpk *float64
	if v, ok := res.Result["cpk"].(float64); ok {
		cpk = &v
		issue.Cpk = &v
	}
	if vs, ok := res.Result["violations"].([]tools.Violation); ok {
		issue.Violations = len(vs)
	}

	issue.Severity = gradeSeverity(status, cpk, issue.Violations)
	issue.Description = describeIssue(&issue)
	return issue
}

func gradeSeverity(status string, cpk *float64, violations int) models.Severity {
	switch {
	case status == "失控" || (cpk != nil && *cpk < cpkCritical):
		return models.SeverityCritical
	case cpk != nil && *cpk < cpkHigh:
		return models.SeverityHigh
	case (cpk != nil && *cpk < cpkCapable) || violations > 0:
		return models.SeverityWarning
	default:
		return models.SeverityNormal
	}
}

func describeIssue(i *models.Issue) string {
	d := fmt.Sprintf("%s/%s 过程%s", i.NodeCode, i.ParamName, i.ProcessStatus)
	if i.Cpk != nil {
		d += fmt.Sprintf("，Cpk=%.3f", *i.Cpk)
	}
	if i.Violations > 0 {
		d += fmt.Sprintf("，%d 个违规点", i.Violations)
	}
	return d
}

func aggregateStatus(critical, warnings []models.Issue) models.Severity {
	for _, i := range critical {
		if i.Severity == models.SeverityCritical {
			return models.SeverityCritical
		}
	}
	if len(critical) > 0 || len(warnings) > 0 {
		return models.SeverityWarning
	}
	return models.SeverityNormal
}

// sortIssues orders descending by severity then ascending by param and
// node codes, making report arrays reproducible.
func sortIssues(issues []models.Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		if issues[a].Severity.Rank() != issues[b].Severity.Rank() {
			return issues[a].Severity.Rank() > issues[b].Severity.Rank()
		}
		if issues[a].ParamCode != issues[b].ParamCode {
			return issues[a].ParamCode < issues[b].ParamCode
		}
		return issues[a].NodeCode < issues[b].NodeCode
	})
}

func (w *Workflow) insights(dc *provider.DataContext, out *WorkflowResult, errored int) []string {
	insights := []string{fmt.Sprintf("整体状态: %s，共分析 %d 个参数组", out.Status, len(dc.Series))}

	top := len(out.CriticalIssues)
	if top > 3 {
		top = 3
	}
	for _, i := range out.CriticalIssues[:top] {
		insights = append(insights, i.Description)
	}
	if len(out.Warnings) > 0 {
		insights = append(insights, fmt.Sprintf("另有 %d 个参数组需要关注", len(out.Warnings)))
	}
	if errored > 0 {
		insights = append(insights, fmt.Sprintf("%d 个参数组分析失败，结果不完整", errored))
	}
	if len(out.CriticalIssues) == 0 && len(out.Warnings) == 0 {
		insights = append(insights, "所有参数组过程受控且能力充足")
	}
	return insights
}
