// Package provider is the read-only query surface the analysis layer
// sees: one provider per analysis dimension, each returning a DataContext.
package provider

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

// Series is one (node, param) measurement group inside a DataContext.
// Param carries the specification limits when the parameter is defined.
type Series struct {
	NodeCode     string                `json:"node_code"`
	ParamCode    string                `json:"param_code"`
	Param        *models.ParameterDef  `json:"param,omitempty"`
	Values       []float64             `json:"values"`
	Measurements []models.Measurement  `json:"-"`
}

// DataContext is the uniform result every dimension query returns.
type DataContext struct {
	Dimension string         `json:"dimension"`
	Filters   map[string]any `json:"filters"`
	Batches   []string       `json:"batches"`
	Series    []Series       `json:"series"`
	Metadata  map[string]any `json:"metadata"`
	QueryTime time.Time      `json:"query_time"`
}

// Empty reports whether the query matched no data.
func (dc *DataContext) Empty() bool { return len(dc.Series) == 0 }

// Factory builds dimension queries over the store with bounded limits.
type Factory struct {
	store        store.Store
	defaultLimit int
	maxLimit     int
}

func NewFactory(s store.Store, defaultLimit, maxLimit int) *Factory {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &Factory{store: s, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

func (f *Factory) clamp(limit int) int {
	if limit <= 0 {
		return f.defaultLimit
	}
	if limit > f.maxLimit {
		return f.maxLimit
	}
	return limit
}

// ByPerson returns measurements from batches attributed to one operator,
// optionally window-bounded.
func (f *Factory) ByPerson(ctx context.Context, operatorID string, start, end *time.Time, limit int) (*DataContext, error) {
	if operatorID == "" {
		return nil, fmt.Errorf("operator_id is required: %w", errkind.ErrBadRequest)
	}
	if err := checkInterval(start, end); err != nil {
		return nil, err
	}

	ms, err := f.store.ListMeasurements(ctx, store.MeasurementFilter{
		OperatorID: operatorID,
		Start:      start,
		End:        end,
		Limit:      f.clamp(limit),
	})
	if err != nil {
		return nil, err
	}

	dc := f.build(ctx, "person", ms)
	dc.Filters = map[string]any{"operator_id": operatorID}
	dc.Metadata["operator_id"] = operatorID
	dc.Metadata["total_batches"] = len(dc.Batches)
	return dc, nil
}

// ByBatch returns all measurements within one batch. An unknown batch id
// yields an empty context.
func (f *Factory) ByBatch(ctx context.Context, batchID string, limit int) (*DataContext, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batch_id is required: %w", errkind.ErrBadRequest)
	}

	ms, err := f.store.ListMeasurements(ctx, store.MeasurementFilter{
		BatchIDs: []string{batchID},
		Limit:    f.clamp(limit),
	})
	if err != nil {
		return nil, err
	}

	dc := f.build(ctx, "batch", ms)
	dc.Filters = map[string]any{"batch_id": batchID}
	dc.Metadata["batch_id"] = batchID
	if b, err := f.store.GetBatch(ctx, batchID); err == nil {
		dc.Metadata["product_name"] = b.ProductName
		dc.Metadata["status"] = string(b.Status)
		dc.Metadata["operator_id"] = b.OperatorID
	}
	return dc, nil
}

// ByProcess returns the history of one process node, parameter-scoped
// when paramCode is given.
func (f *Factory) ByProcess(ctx context.Context, nodeCode, paramCode string, limit int) (*DataContext, error) {
	if nodeCode == "" {
		return nil, fmt.Errorf("node_code is required: %w", errkind.ErrBadRequest)
	}

	ms, err := f.store.ListMeasurements(ctx, store.MeasurementFilter{
		NodeCodes: []string{nodeCode},
		ParamCode: paramCode,
		Limit:     f.clamp(limit),
	})
	if err != nil {
		return nil, err
	}

	dc := f.build(ctx, "process", ms)
	dc.Filters = map[string]any{"node_code": nodeCode, "param_code": paramCode}
	dc.Metadata["node_code"] = nodeCode
	return dc, nil
}

// ByWorkshop returns the union of measurements across all Unit children
// of a Block, optionally window-bounded.
func (f *Factory) ByWorkshop(ctx context.Context, blockCode string, start, end *time.Time, limit int) (*DataContext, error) {
	if blockCode == "" {
		return nil, fmt.Errorf("block_code is required: %w", errkind.ErrBadRequest)
	}
	if err := checkInterval(start, end); err != nil {
		return nil, err
	}

	children, err := f.store.ListChildren(ctx, blockCode)
	if err != nil {
		return nil, err
	}
	var codes []string
	for _, c := range children {
		if c.Type == models.NodeUnit {
			codes = append(codes, c.Code)
		}
	}

	dc := &DataContext{
		Dimension: "workshop",
		Filters:   map[string]any{"block_code": blockCode},
		Metadata:  map[string]any{"block_code": blockCode, "node_codes": codes},
		QueryTime: time.Now().UTC(),
	}
	if len(codes) == 0 {
		return dc, nil
	}

	ms, err := f.store.ListMeasurements(ctx, store.MeasurementFilter{
		NodeCodes: codes,
		Start:     start,
		End:       end,
		Limit:     f.clamp(limit),
	})
	if err != nil {
		return nil, err
	}

	built := f.build(ctx, "workshop", ms)
	built.Filters = dc.Filters
	built.Metadata["block_code"] = blockCode
	built.Metadata["node_codes"] = codes
	return built, nil
}

// ByTime returns all measurements in [start, end).
func (f *Factory) ByTime(ctx context.Context, start, end time.Time, limit int) (*DataContext, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("start and end are required: %w", errkind.ErrBadRequest)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start must precede end: %w", errkind.ErrBadRequest)
	}

	ms, err := f.store.ListMeasurements(ctx, store.MeasurementFilter{
		Start: &start,
		End:   &end,
		Limit: f.clamp(limit),
	})
	if err != nil {
		return nil, err
	}

	dc := f.build(ctx, "time", ms)
	dc.Filters = map[string]any{"start": start, "end": end}
	dc.Metadata["start"] = start.Format(time.RFC3339)
	dc.Metadata["end"] = end.Format(time.RFC3339)
	return dc, nil
}

func checkInterval(start, end *time.Time) error {
	if start != nil && end != nil && !start.Before(*end) {
		return fmt.Errorf("start must precede end: %w", errkind.ErrBadRequest)
	}
	return nil
}

// build groups measurements into series keyed by (node, param) and
// resolves specification limits for each.
func (f *Factory) build(ctx context.Context, dimension string, ms []models.Measurement) *DataContext {
	type key struct{ node, param string }
	groups := make(map[key][]models.Measurement)
	batchSet := make(map[string]bool)
	for _, m := range ms {
		k := key{m.NodeCode, m.ParamCode}
		groups[k] = append(groups[k], m)
		batchSet[m.BatchID] = true
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].node != keys[j].node {
			return keys[i].node < keys[j].node
		}
		return keys[i].param < keys[j].param
	})

	series := make([]Series, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		values := make([]float64, len(group))
		for i, m := range group {
			values[i] = m.Value
		}
		s := Series{
			NodeCode:     k.node,
			ParamCode:    k.param,
			Values:       values,
			Measurements: group,
		}
		if p, err := f.store.GetParameter(ctx, k.node, k.param); err == nil {
			s.Param = p
		}
		series = append(series, s)
	}

	batches := make([]string, 0, len(batchSet))
	for b := range batchSet {
		batches = append(batches, b)
	}
	sort.Strings(batches)

	return &DataContext{
		Dimension: dimension,
		Batches:   batches,
		Series:    series,
		Metadata:  map[string]any{},
		QueryTime: time.Now().UTC(),
	}
}
