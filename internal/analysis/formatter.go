package analysis

import (
	"fmt"
	"strings"

	"github.com/pharmaflow/pharmaflow-backend/internal/models"
)

var statusBadges = map[models.Severity]string{
	models.SeverityCritical: "🔴 严重异常",
	models.SeverityWarning:  "🟡 需要关注",
	models.SeverityNormal:   "🟢 运行正常",
}

// FormatReport renders an AnalysisReport as an ordered paragraph list:
// headline, status badge, issues with evidence, warnings, insights.
// Rendering is pure and reproducible.
func FormatReport(r *models.AnalysisReport) []string {
	if r == nil {
		return nil
	}

	paras := []string{
		fmt.Sprintf("%s 维度分析报告 (%s)", dimensionLabel(r.Dimension), r.Key),
	}
	if badge, ok := statusBadges[r.Status]; ok {
		paras = append(paras, badge)
	} else {
		paras = append(paras, string(r.Status))
	}

	for _, issue := range r.CriticalIssues {
		paras = append(paras, issueParagraph(&issue))
	}
	if len(r.Warnings) > 0 {
		paras = append(paras, fmt.Sprintf("关注项 %d 条:", len(r.Warnings)))
		for _, issue := range r.Warnings {
			paras = append(paras, issueParagraph(&issue))
		}
	}
	for _, in := range r.Insights {
		paras = append(paras, in)
	}
	return paras
}

// FormatMarkdown renders the same paragraphs as a markdown document.
func FormatMarkdown(r *models.AnalysisReport) string {
	paras := FormatReport(r)
	if len(paras) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# " + paras[0] + "\n\n")
	for _, p := range paras[1:] {
		b.WriteString("- " + p + "\n")
	}
	return b.String()
}

// MergeReports folds several dimension reports into one summary whose
// status is the worst of the inputs. Input order is preserved.
func MergeReports(reports []*models.AnalysisReport) *models.AnalysisReport {
	if len(reports) == 0 {
		return nil
	}
	merged := &models.AnalysisReport{
		Dimension:      "merged",
		Status:         models.SeverityNormal,
		CriticalIssues: []models.Issue{},
		Warnings:       []models.Issue{},
		Insights:       []string{},
		Metadata:       map[string]any{"report_count": len(reports)},
		GeneratedAt:    reports[0].GeneratedAt,
	}
	keys := make([]string, 0, len(reports))
	for _, r := range reports {
		if r == nil {
			continue
		}
		keys = append(keys, r.Dimension+":"+r.Key)
		if r.Status.Rank() > merged.Status.Rank() {
			merged.Status = r.Status
		}
		merged.CriticalIssues = append(merged.CriticalIssues, r.CriticalIssues...)
		merged.Warnings = append(merged.Warnings, r.Warnings...)
		merged.Insights = append(merged.Insights, r.Insights...)
		if r.GeneratedAt.After(merged.GeneratedAt) {
			merged.GeneratedAt = r.GeneratedAt
		}
	}
	merged.Key = strings.Join(keys, ",")
	sortIssues(merged.CriticalIssues)
	sortIssues(merged.Warnings)
	return merged
}

func issueParagraph(i *models.Issue) string {
	p := fmt.Sprintf("[%s] %s", i.Severity, i.Description)
	var facts []string
	if i.CurrentValue != nil {
		facts = append(facts, fmt.Sprintf("当前值 %.4g", *i.CurrentValue))
	}
	if i.TargetValue != nil {
		facts = append(facts, fmt.Sprintf("目标值 %.4g", *i.TargetValue))
	}
	if i.BatchID != "" {
		facts = append(facts, "批次 "+i.BatchID)
	}
	if len(facts) > 0 {
		p += " (" + strings.Join(facts, "，") + ")"
	}
	return p
}

func dimensionLabel(dimension string) string {
	switch dimension {
	case "batch":
		return "批次"
	case "process":
		return "工序"
	case "workshop":
		return "车间"
	case "person":
		return "人员"
	case "time":
		return "时间"
	default:
		return dimension
	}
}
