// Package monitor serves the live plant views: per-node parameter
// windows with rolling capability, and a plant-wide status board.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
	"github.com/pharmaflow/pharmaflow-backend/internal/tools"
)

// Node health labels for map colouring.
const (
	StatusNormal  = "Normal"
	StatusWarning = "Warning"
	StatusError   = "Error"
)

// ParamWindow is the chart-ready recent history of one parameter.
type ParamWindow struct {
	ParamCode  string      `json:"param_code"`
	ParamName  string      `json:"param_name"`
	Unit       string      `json:"unit,omitempty"`
	USL        *float64    `json:"usl,omitempty"`
	LSL        *float64    `json:"lsl,omitempty"`
	Target     *float64    `json:"target,omitempty"`
	Timestamps []time.Time `json:"timestamps"`
	Values     []float64   `json:"values"`
	Latest     *float64    `json:"latest,omitempty"`
	Cpk        *float64    `json:"cpk,omitempty"`
}

// NodeView is the monitor payload for one process node.
type NodeView struct {
	NodeCode string        `json:"node_code"`
	NodeName string        `json:"node_name"`
	Params   []ParamWindow `json:"params"`
}

// UnitStatus is one row of the plant status board.
type UnitStatus struct {
	NodeCode  string     `json:"node_code"`
	NodeName  string     `json:"node_name"`
	Status    string     `json:"status"`
	Cpk       *float64   `json:"cpk,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Monitor reads rolling windows straight from the store.
type Monitor struct {
	store      store.Store
	windowSize int
}

func New(s store.Store, windowSize int) *Monitor {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &Monitor{store: s, windowSize: windowSize}
}

// NodeMonitor returns the last N measurements per parameter of one
// node, each with a rolling Cpk over the returned window.
func (m *Monitor) NodeMonitor(ctx context.Context, nodeCode string) (*NodeView, error) {
	if nodeCode == "" {
		return nil, fmt.Errorf("node_code is required: %w", errkind.ErrBadRequest)
	}
	node, err := m.store.GetNode(ctx, nodeCode)
	if err != nil {
		return nil, err
	}

	params, err := m.store.ListParameters(ctx, nodeCode)
	if err != nil {
		return nil, err
	}

	view := &NodeView{NodeCode: node.Code, NodeName: node.Name, Params: []ParamWindow{}}
	for i := range params {
		w, err := m.paramWindow(ctx, &params[i])
		if err != nil {
			return nil, err
		}
		view.Params = append(view.Params, *w)
	}
	return view, nil
}

func (m *Monitor) paramWindow(ctx context.Context, p *models.ParameterDef) (*ParamWindow, error) {
	ms, err := m.store.ListMeasurements(ctx, store.MeasurementFilter{
		NodeCodes: []string{p.NodeCode},
		ParamCode: p.Code,
		Limit:     m.windowSize,
	})
	if err != nil {
		return nil, err
	}

	w := &ParamWindow{
		ParamCode:  p.Code,
		ParamName:  p.Name,
		Unit:       p.Unit,
		USL:        p.USL,
		LSL:        p.LSL,
		Target:     p.Target,
		Timestamps: make([]time.Time, len(ms)),
		Values:     make([]float64, len(ms)),
	}
	for i, meas := range ms {
		w.Timestamps[i] = meas.Timestamp
		w.Values[i] = meas.Value
	}
	if len(ms) > 0 {
		latest := ms[len(ms)-1].Value
		w.Latest = &latest
	}
	w.Cpk = rollingCpk(w.Values, p)
	return w, nil
}

// rollingCpk applies the SPC capability rules to the window.
func rollingCpk(values []float64, p *models.ParameterDef) *float64 {
	if len(values) < 2 || (p.USL == nil && p.LSL == nil) {
		return nil
	}
	res := tools.AnalyzeSPC(values, tools.SPCConfig{USL: p.USL, LSL: p.LSL, Target: p.Target})
	if !res.Success {
		return nil
	}
	cpk, ok := res.Result["cpk"].(float64)
	if !ok {
		return nil
	}
	return &cpk
}

// LatestStatus grades every Unit node by its worst parameter window.
// A unit with no limits or no data reads Normal.
func (m *Monitor) LatestStatus(ctx context.Context) ([]UnitStatus, error) {
	nodes, err := m.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	out := []UnitStatus{}
	for _, n := range nodes {
		if n.Type != models.NodeUnit {
			continue
		}
		st, err := m.unitStatus(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (m *Monitor) unitStatus(ctx context.Context, n models.Node) (*UnitStatus, error) {
	params, err := m.store.ListParameters(ctx, n.Code)
	if err != nil {
		return nil, err
	}

	st := &UnitStatus{NodeCode: n.Code, NodeName: n.Name, Status: StatusNormal}
	for i := range params {
		w, err := m.paramWindow(ctx, &params[i])
		if err != nil {
			return nil, err
		}
		if len(w.Timestamps) > 0 {
			last := w.Timestamps[len(w.Timestamps)-1]
			if st.UpdatedAt == nil || last.After(*st.UpdatedAt) {
				st.UpdatedAt = &last
			}
		}
		if w.Cpk == nil {
			continue
		}
		if st.Cpk == nil || *w.Cpk < *st.Cpk {
			st.Cpk = w.Cpk
		}
	}
	if st.Cpk != nil {
		switch {
		case *st.Cpk >= 1.33:
			st.Status = StatusNormal
		case *st.Cpk >= 1.0:
			st.Status = StatusWarning
		default:
			st.Status = StatusError
		}
	}
	return st, nil
}
