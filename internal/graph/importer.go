package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

// Snapshot is one complete graph payload to import. Imports are
// upserts; re-importing the same snapshot is a no-op.
type Snapshot struct {
	Nodes      []models.Node         `json:"nodes"`
	Parameters []models.ParameterDef `json:"parameters"`
	Flows      []models.Edge         `json:"flows"`
	Risks      []models.Risk         `json:"risks"`
	RiskEdges  []models.RiskEdge     `json:"risk_edges"`
	Actions    []models.ActionDef    `json:"actions"`
}

// ImportStats summarises one import.
type ImportStats struct {
	Nodes      int `json:"nodes"`
	Parameters int `json:"parameters"`
	Flows      int `json:"flows"`
	Risks      int `json:"risks"`
	RiskEdges  int `json:"risk_edges"`
	Actions    int `json:"actions"`
}

// Importer loads graph snapshots into the store after validation.
type Importer struct {
	store  store.Store
	logger *zap.Logger
}

func NewImporter(s store.Store, logger *zap.Logger) *Importer {
	return &Importer{store: s, logger: logger}
}

// Import validates a snapshot and upserts it. Validation failures
// reject the whole snapshot before anything is written.
func (im *Importer) Import(ctx context.Context, snap *Snapshot) (*ImportStats, error) {
	if err := Validate(snap); err != nil {
		return nil, err
	}

	for i := range snap.Nodes {
		if err := im.store.UpsertNode(ctx, &snap.Nodes[i]); err != nil {
			return nil, err
		}
	}
	for i := range snap.Parameters {
		if err := im.store.UpsertParameter(ctx, &snap.Parameters[i]); err != nil {
			return nil, err
		}
	}
	for i := range snap.Flows {
		if err := im.store.UpsertFlow(ctx, &snap.Flows[i]); err != nil {
			return nil, err
		}
	}
	for i := range snap.Risks {
		if err := im.store.UpsertRisk(ctx, &snap.Risks[i]); err != nil {
			return nil, err
		}
	}
	for i := range snap.RiskEdges {
		if err := im.store.UpsertRiskEdge(ctx, &snap.RiskEdges[i]); err != nil {
			return nil, err
		}
	}
	for i := range snap.Actions {
		if err := im.store.UpsertAction(ctx, &snap.Actions[i]); err != nil {
			return nil, err
		}
	}

	stats := &ImportStats{
		Nodes:      len(snap.Nodes),
		Parameters: len(snap.Parameters),
		Flows:      len(snap.Flows),
		Risks:      len(snap.Risks),
		RiskEdges:  len(snap.RiskEdges),
		Actions:    len(snap.Actions),
	}
	im.logger.Info("graph snapshot imported",
		zap.Int("nodes", stats.Nodes),
		zap.Int("parameters", stats.Parameters),
		zap.Int("risks", stats.Risks))
	return stats, nil
}

// Validate checks referential integrity and rejects cyclic fault trees.
func Validate(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("empty snapshot: %w", errkind.ErrBadRequest)
	}

	nodeSet := map[string]bool{}
	for _, n := range snap.Nodes {
		if n.Code == "" || n.Name == "" {
			return fmt.Errorf("node missing code or name: %w", errkind.ErrBadRequest)
		}
		if nodeSet[n.Code] {
			return fmt.Errorf("duplicate node code %q: %w", n.Code, errkind.ErrBadRequest)
		}
		nodeSet[n.Code] = true
	}
	for _, n := range snap.Nodes {
		if n.ParentCode != nil && !nodeSet[*n.ParentCode] {
			return fmt.Errorf("node %q: unknown parent %q: %w", n.Code, *n.ParentCode, errkind.ErrBadRequest)
		}
	}
	for _, p := range snap.Parameters {
		if !nodeSet[p.NodeCode] {
			return fmt.Errorf("parameter %s/%s: unknown node: %w", p.NodeCode, p.Code, errkind.ErrBadRequest)
		}
	}
	for _, e := range snap.Flows {
		if !nodeSet[e.SourceCode] || !nodeSet[e.TargetCode] {
			return fmt.Errorf("flow %s→%s: unknown endpoint: %w", e.SourceCode, e.TargetCode, errkind.ErrBadRequest)
		}
	}

	riskSet := map[string]bool{}
	for _, r := range snap.Risks {
		if r.Code == "" {
			return fmt.Errorf("risk missing code: %w", errkind.ErrBadRequest)
		}
		riskSet[r.Code] = true
	}
	for _, e := range snap.RiskEdges {
		if !riskSet[e.SourceCode] || !riskSet[e.TargetCode] {
			return fmt.Errorf("risk edge %s→%s: unknown endpoint: %w", e.SourceCode, e.TargetCode, errkind.ErrBadRequest)
		}
	}
	if err := checkAcyclic(snap.RiskEdges); err != nil {
		return err
	}

	for _, a := range snap.Actions {
		if a.RiskCode != nil && !riskSet[*a.RiskCode] {
			return fmt.Errorf("action %q: unknown risk %q: %w", a.Code, *a.RiskCode, errkind.ErrBadRequest)
		}
	}
	return nil
}

// checkAcyclic rejects cycles in the fault tree.
func checkAcyclic(edges []models.RiskEdge) error {
	adj := map[string][]string{}
	for _, e := range edges {
		adj[e.SourceCode] = append(adj[e.SourceCode], e.TargetCode)
	}

	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}

	var visit func(code string) error
	visit = func(code string) error {
		switch state[code] {
		case visiting:
			return fmt.Errorf("fault tree cycle through %q: %w", code, errkind.ErrBadRequest)
		case done:
			return nil
		}
		state[code] = visiting
		for _, next := range adj[code] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[code] = done
		return nil
	}

	for code := range adj {
		if err := visit(code); err != nil {
			return err
		}
	}
	return nil
}
