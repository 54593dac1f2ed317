// Package graph serves the process map and the fault tree in the
// chart-ready shapes the frontend draws directly.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

const blockSpacing = 500

// Service reads graph views from the store.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Structure lays the process graph out for rendering: blocks in a
// horizontal row, their units hidden beneath until expanded, resource
// nodes floated above their block.
func (s *Service) Structure(ctx context.Context) (map[string]any, error) {
	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	flows, err := s.store.ListFlows(ctx)
	if err != nil {
		return nil, err
	}

	var blocks, units, resources []models.Node
	for _, n := range nodes {
		switch n.Type {
		case models.NodeBlock:
			blocks = append(blocks, n)
		case models.NodeUnit:
			units = append(units, n)
		case models.NodeResource:
			resources = append(resources, n)
		}
	}
	blockIdx := map[string]int{}
	for i, b := range blocks {
		blockIdx[b.Code] = i
	}
	unitSet := map[string]bool{}
	for _, u := range units {
		unitSet[u.Code] = true
	}

	flowNodes := []map[string]any{}
	for i, b := range blocks {
		var children []string
		for _, u := range units {
			if u.ParentCode != nil && *u.ParentCode == b.Code {
				children = append(children, u.Code)
			}
		}
		flowNodes = append(flowNodes, map[string]any{
			"id": b.Code,
			"data": map[string]any{
				"label":      b.Code + "\n" + b.Name,
				"code":       b.Code,
				"name":       b.Name,
				"type":       string(models.NodeBlock),
				"params":     []any{},
				"isExpanded": false,
				"children":   children,
			},
			"position":  map[string]any{"x": 50 + i*blockSpacing, "y": 50},
			"className": "block-node",
		})
	}

	for _, u := range units {
		if u.ParentCode == nil {
			continue
		}
		idx, ok := blockIdx[*u.ParentCode]
		if !ok {
			continue
		}
		params, err := s.paramPayload(ctx, u.Code)
		if err != nil {
			return nil, err
		}
		flowNodes = append(flowNodes, map[string]any{
			"id": u.Code,
			"data": map[string]any{
				"label":    u.Code + "\n" + u.Name,
				"code":     u.Code,
				"name":     u.Name,
				"type":     string(models.NodeUnit),
				"parentId": *u.ParentCode,
				"hidden":   true,
				"params":   params,
			},
			"position":  map[string]any{"x": 50 + idx*blockSpacing, "y": 200},
			"className": "unit-node",
			"hidden":    true,
		})
	}

	for _, r := range resources {
		if r.ParentCode == nil {
			continue
		}
		idx, ok := blockIdx[*r.ParentCode]
		if !ok {
			continue
		}
		params, err := s.paramPayload(ctx, r.Code)
		if err != nil {
			return nil, err
		}
		flowNodes = append(flowNodes, map[string]any{
			"id": r.Code,
			"data": map[string]any{
				"label":    r.Code + "\n" + r.Name,
				"code":     r.Code,
				"name":     r.Name,
				"type":     string(models.NodeResource),
				"parentId": *r.ParentCode,
				"params":   params,
			},
			"position":  map[string]any{"x": 60 + idx*blockSpacing, "y": -100},
			"className": "resource-node",
		})
	}

	flowEdges := []map[string]any{}
	// Unit-to-unit flows, hidden alongside their nodes.
	for _, e := range flows {
		if !unitSet[e.SourceCode] || !unitSet[e.TargetCode] {
			continue
		}
		flowEdges = append(flowEdges, map[string]any{
			"id":       fmt.Sprintf("e%s-%s", e.SourceCode, e.TargetCode),
			"source":   e.SourceCode,
			"target":   e.TargetCode,
			"label":    e.Name,
			"animated": true,
			"hidden":   true,
		})
	}
	// Main flow between adjacent blocks.
	for i := 0; i+1 < len(blocks); i++ {
		flowEdges = append(flowEdges, map[string]any{
			"id":       fmt.Sprintf("block_edge_%s_%s", blocks[i].Code, blocks[i+1].Code),
			"source":   blocks[i].Code,
			"target":   blocks[i+1].Code,
			"label":    "→",
			"animated": true,
		})
	}

	return map[string]any{"nodes": flowNodes, "edges": flowEdges}, nil
}

func (s *Service) paramPayload(ctx context.Context, nodeCode string) ([]map[string]any, error) {
	params, err := s.store.ListParameters(ctx, nodeCode)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(params))
	for i, p := range params {
		out[i] = map[string]any{
			"code":   p.Code,
			"name":   p.Name,
			"unit":   p.Unit,
			"role":   string(p.Role),
			"usl":    p.USL,
			"lsl":    p.LSL,
			"target": p.Target,
		}
	}
	return out, nil
}

// RiskTree returns the whole fault tree.
func (s *Service) RiskTree(ctx context.Context) (map[string]any, error) {
	risks, err := s.store.ListRisks(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListRiskEdges(ctx)
	if err != nil {
		return nil, err
	}

	riskNodes := make([]map[string]any, len(risks))
	for i, r := range risks {
		riskNodes[i] = riskPayload(&r)
	}
	riskEdges := make([]map[string]any, len(edges))
	for i, e := range edges {
		riskEdges[i] = map[string]any{
			"id":       fmt.Sprintf("r%s-%s", e.SourceCode, e.TargetCode),
			"source":   e.SourceCode,
			"target":   e.TargetCode,
			"weight":   e.Weight,
			"animated": true,
		}
	}
	return map[string]any{"risks": riskNodes, "edges": riskEdges}, nil
}

// Risk code prefixes per workshop family. Extraction nodes (E*) relate
// to extraction, concentration and precipitation risks; preparation
// nodes (C*) to granulation risks.
var nodeRiskPrefixes = map[byte][]string{
	'E': {"EXT_", "CONC_", "PREC_"},
	'C': {"GRAN_"},
}

// NodeRisks matches risks to a process node by code prefix.
func (s *Service) NodeRisks(ctx context.Context, nodeCode string) ([]map[string]any, error) {
	risks, err := s.store.ListRisks(ctx)
	if err != nil {
		return nil, err
	}

	matched := []map[string]any{}
	if nodeCode == "" {
		return matched, nil
	}
	prefixes := nodeRiskPrefixes[nodeCode[0]]
	for _, r := range risks {
		for _, p := range prefixes {
			if strings.HasPrefix(r.Code, p) {
				matched = append(matched, riskPayload(&r))
				break
			}
		}
	}
	return matched, nil
}

func riskPayload(r *models.Risk) map[string]any {
	return map[string]any{
		"code":             r.Code,
		"name":             r.Name,
		"category":         string(r.Category),
		"base_probability": r.BaseProbability,
	}
}
