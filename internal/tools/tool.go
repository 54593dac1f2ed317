// Package tools is the statistical tool framework: a uniform contract,
// a keyed registry, and the descriptive tool catalog (SPC, Pareto,
// histogram, boxplot).
package tools

import (
	"fmt"
	"sort"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
)

// Tool categories.
const (
	CategoryDescriptive  = "Descriptive"
	CategoryDiagnostic   = "Diagnostic"
	CategoryPredictive   = "Predictive"
	CategoryPrescriptive = "Prescriptive"
)

// Required data shapes.
const (
	ShapeTimeSeries         = "TimeSeries"
	ShapeCategoricalCounts  = "CategoricalCounts"
	ShapeMultipleTimeSeries = "MultipleTimeSeries"
)

// Metadata is the static description of a tool.
type Metadata struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Shape       string `json:"required_data_shape"`
	Description string `json:"description"`
}

// Config carries tool parameters as a loose bag so every tool shares one
// run signature.
type Config map[string]any

// Float reads an optional numeric parameter.
func (c Config) Float(key string) *float64 {
	v, ok := c[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	}
	return nil
}

// Int reads an optional integer parameter, falling back to def.
func (c Config) Int(key string, def int) int {
	if f := c.Float(key); f != nil {
		return int(*f)
	}
	return def
}

// FloatOr reads a numeric parameter, falling back to def.
func (c Config) FloatOr(key string, def float64) float64 {
	if f := c.Float(key); f != nil {
		return *f
	}
	return def
}

// Result is the uniform envelope every tool run returns. Validation
// failures land in Errors with Success=false; nothing escapes as a Go
// error from a run.
type Result struct {
	Success  bool               `json:"success"`
	Result   map[string]any     `json:"result"`
	PlotData map[string]any     `json:"plot_data"`
	Metrics  map[string]float64 `json:"metrics"`
	Warnings []string           `json:"warnings"`
	Errors   []string           `json:"errors"`
	Insights []string           `json:"insights"`
	// Metadata is filled by callers that source the data themselves,
	// e.g. the DB-backed analyze endpoints.
	Metadata map[string]any `json:"metadata,omitempty"`
}

func newResult() *Result {
	return &Result{
		Success:  true,
		Result:   map[string]any{},
		PlotData: map[string]any{},
		Metrics:  map[string]float64{},
		Warnings: []string{},
		Errors:   []string{},
		Insights: []string{},
	}
}

func failResult(errs ...string) *Result {
	r := newResult()
	r.Success = false
	r.Errors = errs
	return r
}

// Tool is the capability contract. Validate is pure; Run never panics
// and never returns a Go error.
type Tool interface {
	Metadata() Metadata
	Validate(data any, cfg Config) []string
	Run(data any, cfg Config) *Result
}

// Registry holds tools by key. It is populated once at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool under its metadata key. Duplicate keys are a
// wiring bug and fail loudly.
func (r *Registry) Register(t Tool) error {
	key := t.Metadata().Key
	if _, exists := r.tools[key]; exists {
		return fmt.Errorf("tool %q already registered", key)
	}
	r.tools[key] = t
	return nil
}

// Get looks a tool up by key.
func (r *Registry) Get(key string) (Tool, error) {
	t, ok := r.tools[key]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", key, errkind.ErrUnknownTool)
	}
	return t, nil
}

// List enumerates the registered tools sorted by key.
func (r *Registry) List() []Metadata {
	out := make([]Metadata, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// DefaultRegistry builds the registry with the full descriptive catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range []Tool{
		&spcTool{},
		&paretoTool{},
		&histogramTool{},
		&boxplotTool{},
	} {
		// Keys are compile-time constants; a clash is unreachable.
		_ = r.Register(t)
	}
	return r
}

// asFloatSlice coerces generic JSON input into a value series.
func asFloatSlice(data any) ([]float64, bool) {
	switch v := data.(type) {
	case []float64:
		return v, true
	case []any:
		out := make([]float64, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
