package analysis

import (
	"context"
	"sort"
	"strings"

	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

// DecisionEngine maps one finding to candidate corrective actions. The
// rule-based variant below is the default; an LLM-backed variant would
// implement the same contract.
type DecisionEngine interface {
	GenerateActions(ctx context.Context, issue *models.Issue) ([]models.ActionDef, error)
}

// RouteKey addresses an explicit routing table entry.
type RouteKey struct {
	NodeCode  string
	ParamCode string
	Severity  models.Severity
}

// RuleBasedEngine selects actions by explicit routes first, then by
// template matching on node code and parameter keywords.
type RuleBasedEngine struct {
	store  store.Store
	routes map[RouteKey]string // action code per route
}

func NewRuleBasedEngine(s store.Store, routes map[RouteKey]string) *RuleBasedEngine {
	if routes == nil {
		routes = map[RouteKey]string{}
	}
	return &RuleBasedEngine{store: s, routes: routes}
}

func (e *RuleBasedEngine) GenerateActions(ctx context.Context, issue *models.Issue) ([]models.ActionDef, error) {
	if issue == nil {
		return nil, nil
	}

	// Explicit routing wins over heuristics.
	if code, ok := e.routes[RouteKey{issue.NodeCode, issue.ParamCode, issue.Severity}]; ok {
		if a, err := e.store.GetAction(ctx, code); err == nil {
			return []models.ActionDef{*a}, nil
		}
	}

	all, err := e.store.ListActions(ctx)
	if err != nil {
		return nil, err
	}

	urgent := issue.Severity == models.SeverityCritical || issue.Severity == models.SeverityHigh
	var matched []models.ActionDef
	for _, a := range all {
		if !matchesIssue(&a, issue) {
			continue
		}
		// Urgent actions are reserved for urgent findings.
		if a.Priority.Rank() >= models.PriorityHigh.Rank() && !urgent {
			continue
		}
		matched = append(matched, a)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority.Rank() != matched[j].Priority.Rank() {
			return matched[i].Priority.Rank() > matched[j].Priority.Rank()
		}
		return matched[i].Code < matched[j].Code
	})
	return matched, nil
}

// matchesIssue applies the template heuristics: a node code mentioned
// verbatim, or a temperature keyword when the parameter is a
// temperature. A missing param code simply fails the keyword branch.
func matchesIssue(a *models.ActionDef, issue *models.Issue) bool {
	tmpl := a.InstructionTemplate
	if issue.NodeCode != "" && strings.Contains(tmpl, issue.NodeCode) {
		return true
	}
	if issue.ParamCode == "" {
		return false
	}
	tmplLower := strings.ToLower(tmpl)
	paramLower := strings.ToLower(issue.ParamCode)
	if (strings.Contains(tmplLower, "temp") || strings.Contains(tmpl, "温度")) &&
		(strings.Contains(paramLower, "temp") || strings.Contains(issue.ParamCode, "温度")) {
		return true
	}
	return false
}
