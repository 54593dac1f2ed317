package tools

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
)

func f64Ptr(f float64) *float64 { return &f }

func resFloat(t *testing.T, r *Result, key string) float64 {
	t.Helper()
	v, ok := r.Result[key]
	if !ok || v == nil {
		t.Fatalf("result[%q] missing or nil", key)
	}
	f, ok := v.(float64)
	if !ok {
		t.Fatalf("result[%q] = %T, expected float64", key, v)
	}
	return f
}

// ─── Registry ────────────────────────────────────────────────────────────────

func TestDefaultRegistryCatalog(t *testing.T) {
	r := DefaultRegistry()
	metas := r.List()
	want := []string{"boxplot", "histogram", "pareto", "spc"}
	if len(metas) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(metas))
	}
	for i, m := range metas {
		if m.Key != want[i] {
			t.Errorf("tool %d: expected key %q, got %q", i, want[i], m.Key)
		}
		if m.Name == "" || m.Category == "" || m.Shape == "" {
			t.Errorf("tool %q has incomplete metadata: %+v", m.Key, m)
		}
	}
}

func TestRegistryUnknownKey(t *testing.T) {
	r := DefaultRegistry()
	if _, err := r.Get("fishbone"); !errors.Is(err, errkind.ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistryDuplicateKey(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&spcTool{}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(&spcTool{}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

// ─── SPC ─────────────────────────────────────────────────────────────────────

func TestSPCStableProcess(t *testing.T) {
	values := []float64{85.0, 85.5, 86.0, 84.8, 85.2, 85.6, 85.1, 85.4, 85.3, 85.7}
	r := AnalyzeSPC(values, SPCConfig{USL: f64Ptr(90), LSL: f64Ptr(80), Target: f64Ptr(85)})
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}

	if m := resFloat(t, r, "mean"); math.Abs(m-85.36) > 0.01 {
		t.Errorf("mean: expected ~85.36, got %.4f", m)
	}
	if std := resFloat(t, r, "std"); std < 0.34 || std > 0.38 {
		t.Errorf("std: expected ~0.36, got %.4f", std)
	}
	if cpk := resFloat(t, r, "cpk"); cpk < 4 {
		t.Errorf("cpk: expected > 4 for a capable process, got %.3f", cpk)
	}
	if status := r.Result["process_status"]; status != "受控" {
		t.Errorf("process_status: expected 受控, got %v", status)
	}
	if vs := r.Result["violations"].([]Violation); len(vs) != 0 {
		t.Errorf("expected no violations, got %v", vs)
	}
	if len(r.Insights) < 2 {
		t.Errorf("expected at least 2 insights, got %v", r.Insights)
	}
}

func TestSPCSpecBreach(t *testing.T) {
	values := []float64{85, 86, 85.5, 87, 85.8, 84.5, 86.2, 85.9, 90.2, 86.0}
	r := AnalyzeSPC(values, SPCConfig{USL: f64Ptr(90), LSL: f64Ptr(80), Target: f64Ptr(85)})
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}

	vs := r.Result["violations"].([]Violation)
	found := false
	for _, v := range vs {
		if v.Index == 8 && v.Value == 90.2 && v.Type == "USL" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected USL violation at index 8, got %v", vs)
	}
	if status := r.Result["process_status"]; status != "失控" {
		t.Errorf("process_status: expected 失控, got %v", status)
	}
	mentioned := false
	for _, in := range r.Insights {
		if strings.Contains(in, "90.2") || strings.Contains(in, "第 9 个") {
			mentioned = true
		}
	}
	if !mentioned {
		t.Errorf("expected an insight referencing the breaching sample, got %v", r.Insights)
	}
}

func TestSPCConstantValues(t *testing.T) {
	r := AnalyzeSPC([]float64{85, 85, 85, 85}, SPCConfig{USL: f64Ptr(90), LSL: f64Ptr(80)})
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	if std := resFloat(t, r, "std"); std != 0 {
		t.Errorf("std: expected 0, got %v", std)
	}
	if mrBar := resFloat(t, r, "mr_bar"); mrBar != 0 {
		t.Errorf("mr_bar: expected 0, got %v", mrBar)
	}
	if ucl, lcl := resFloat(t, r, "ucl"), resFloat(t, r, "lcl"); ucl != 85 || lcl != 85 {
		t.Errorf("expected UCL=LCL=mean, got ucl=%v lcl=%v", ucl, lcl)
	}
	if r.Result["cp"] != nil || r.Result["cpk"] != nil {
		t.Errorf("expected null capability indices at zero variance")
	}
	if status := r.Result["process_status"]; status != "受控" {
		t.Errorf("process_status: expected 受控, got %v", status)
	}
}

func TestSPCInsufficientData(t *testing.T) {
	r := AnalyzeSPC([]float64{85}, SPCConfig{})
	if r.Success {
		t.Fatal("expected failure with a single point")
	}
	if len(r.Errors) == 0 || !strings.Contains(r.Errors[0], "数据点不足") {
		t.Errorf("unexpected errors: %v", r.Errors)
	}

	// Two points is the minimum viable input.
	r = AnalyzeSPC([]float64{85, 86}, SPCConfig{})
	if !r.Success {
		t.Fatalf("two points should analyze: %v", r.Errors)
	}
	if mrBar := resFloat(t, r, "mr_bar"); mrBar != 1 {
		t.Errorf("mr_bar: expected 1, got %v", mrBar)
	}
}

func TestSPCMissingLimits(t *testing.T) {
	r := AnalyzeSPC([]float64{85, 86, 84, 85.5}, SPCConfig{USL: f64Ptr(90)})
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	if r.Result["cp"] != nil {
		t.Error("cp requires both limits")
	}
	if r.Result["cpu"] == nil || r.Result["cpl"] != nil {
		t.Errorf("expected cpu only, got cpu=%v cpl=%v", r.Result["cpu"], r.Result["cpl"])
	}
	if r.Result["cpk"] == nil {
		t.Error("cpk should fall back to the one-sided index")
	}
}

func TestSPCToolCoercesJSONInput(t *testing.T) {
	tool := &spcTool{}
	data := []any{85.0, 86.0, 85.5, 87.0}
	r := tool.Run(data, Config{"usl": 90.0, "lsl": 80.0})
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	if r.Result["cpk"] == nil {
		t.Error("expected capability indices from config limits")
	}

	r = tool.Run("not a series", Config{})
	if r.Success {
		t.Error("expected validation failure for non-numeric input")
	}
}

// ─── Pareto ──────────────────────────────────────────────────────────────────

func TestParetoPrefixRule(t *testing.T) {
	items := []CategoryCount{
		{Category: "温度超限", Count: 45},
		{Category: "压力波动", Count: 28},
		{Category: "投料误差", Count: 22},
		{Category: "搅拌异常", Count: 18},
		{Category: "其他", Count: 15},
	}
	r := AnalyzePareto(items, 0.8)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}

	rows := r.Result["rows"].([]ParetoRow)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	// Already descending, so order is unchanged.
	for i, want := range []string{"温度超限", "压力波动", "投料误差", "搅拌异常", "其他"} {
		if rows[i].Category != want {
			t.Errorf("row %d: expected %q, got %q", i, want, rows[i].Category)
		}
	}
	if last := rows[len(rows)-1].CumulativePct; math.Abs(last-100) > 1e-6 {
		t.Errorf("final cumulative: expected 100, got %v", last)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].CumulativePct < rows[i-1].CumulativePct {
			t.Errorf("cumulative not monotone at %d", i)
		}
	}

	// Smallest prefix reaching 80%: the first three stop short, so the
	// fourth joins the vital few.
	if kf := r.Result["key_few_count"].(int); kf != 4 {
		t.Errorf("key_few_count: expected 4, got %d", kf)
	}
	if contrib := resFloat(t, r, "key_few_contribution"); contrib < 80 {
		t.Errorf("key_few_contribution: expected >= 80, got %v", contrib)
	}
	if total := resFloat(t, r, "total_count"); total != 128 {
		t.Errorf("total_count: expected 128, got %v", total)
	}
	if rows[0].Class != "A" || rows[3].Class != "A" {
		t.Errorf("vital few rows must be class A: %+v", rows)
	}
}

func TestParetoEmptyInput(t *testing.T) {
	r := AnalyzePareto(nil, 0.8)
	if r.Success {
		t.Fatal("expected failure on empty input")
	}
}

func TestParetoSingleCategory(t *testing.T) {
	r := AnalyzePareto([]CategoryCount{{Category: "温度超限", Count: 12}}, 0.8)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	if kf := r.Result["key_few_count"].(int); kf != 1 {
		t.Errorf("key_few_count: expected 1, got %d", kf)
	}
	if contrib := resFloat(t, r, "key_few_contribution"); math.Abs(contrib-100) > 1e-6 {
		t.Errorf("key_few_contribution: expected 100, got %v", contrib)
	}
}

func TestParetoMergesDuplicateCategories(t *testing.T) {
	items := []CategoryCount{
		{Category: "温度超限", Count: 10},
		{Category: "压力波动", Count: 8},
		{Category: "温度超限", Count: 5},
	}
	r := AnalyzePareto(items, 0.8)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	rows := r.Result["rows"].([]ParetoRow)
	if len(rows) != 2 || rows[0].Category != "温度超限" || rows[0].Count != 15 {
		t.Errorf("expected merged rows, got %+v", rows)
	}
}

func TestParetoPlotColors(t *testing.T) {
	items := []CategoryCount{
		{Category: "a", Count: 5}, {Category: "b", Count: 4},
		{Category: "c", Count: 3}, {Category: "d", Count: 2},
	}
	r := AnalyzePareto(items, 0.8)
	colors := r.PlotData["colors"].([]string)
	if colors[0] != "rgba(255, 100, 0, 0.7)" || colors[3] != "rgba(200, 200, 200, 0.5)" {
		t.Errorf("unexpected colors: %v", colors)
	}
	if tl := r.PlotData["threshold_line"].(float64); tl != 80 {
		t.Errorf("threshold_line: expected 80, got %v", tl)
	}
}

// ─── Histogram ───────────────────────────────────────────────────────────────

func TestHistogramBinInvariants(t *testing.T) {
	values := []float64{84.2, 84.5, 84.7, 84.9, 85.0, 85.0, 85.1, 85.1, 85.2, 85.3, 85.4, 85.6, 85.8, 86.0, 86.3}
	r := AnalyzeHistogram(values, 10, nil, nil)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}

	boundaries := r.Result["bins"].([]float64)
	counts := r.Result["counts"].([]int)
	if len(boundaries) != 11 {
		t.Errorf("expected 11 boundaries for 10 bins, got %d", len(boundaries))
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != len(values) {
		t.Errorf("bin counts sum to %d, expected %d", total, len(values))
	}

	// Symmetric bell-shaped data passes the normality test.
	if isNormal, ok := r.Result["is_normal"].(bool); !ok || !isNormal {
		t.Errorf("expected is_normal=true, got %v (p=%v)", r.Result["is_normal"], r.Result["p_value"])
	}
	if shape := r.Result["distribution"]; shape != "正态" {
		t.Errorf("distribution: expected 正态, got %v", shape)
	}
}

func TestHistogramSkewedData(t *testing.T) {
	values := []float64{1, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 4, 4, 5, 6, 7, 9, 12, 18, 30, 50}
	r := AnalyzeHistogram(values, 10, nil, nil)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	if isNormal, ok := r.Result["is_normal"].(bool); !ok || isNormal {
		t.Errorf("expected is_normal=false for heavy skew, got %v", r.Result["is_normal"])
	}
	if skew := resFloat(t, r, "skewness"); skew <= 1 {
		t.Errorf("skewness: expected strongly positive, got %v", skew)
	}
	if shape := r.Result["distribution"]; shape != "右偏" {
		t.Errorf("distribution: expected 右偏, got %v", shape)
	}
}

func TestHistogramConstantInput(t *testing.T) {
	r := AnalyzeHistogram([]float64{85, 85, 85, 85}, 10, nil, nil)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	counts := r.Result["counts"].([]int)
	nonEmpty := 0
	for _, c := range counts {
		if c > 0 {
			nonEmpty++
		}
	}
	if nonEmpty != 1 {
		t.Errorf("constant input must land in a single bin, got %v", counts)
	}
	// Zero variance leaves the normality test undefined.
	if r.Result["p_value"] != nil || r.Result["is_normal"] != nil {
		t.Errorf("expected null normality results, got p=%v", r.Result["p_value"])
	}
}

func TestHistogramSmallSampleSkipsNormality(t *testing.T) {
	r := AnalyzeHistogram([]float64{84, 86}, 5, nil, nil)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	if r.Result["p_value"] != nil || r.Result["is_normal"] != nil {
		t.Errorf("expected null normality results below 3 samples")
	}
}

func TestHistogramSpecWarnings(t *testing.T) {
	values := []float64{84, 85, 86, 91, 85.5, 84.5}
	r := AnalyzeHistogram(values, 5, f64Ptr(90), f64Ptr(80))
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	found := false
	for _, w := range r.Warnings {
		if strings.Contains(w, "规格上限") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a USL warning, got %v", r.Warnings)
	}
}

// ─── Shapiro-Wilk ────────────────────────────────────────────────────────────

func TestShapiroWilkBounds(t *testing.T) {
	if _, _, ok := shapiroWilk([]float64{1, 2}); ok {
		t.Error("n=2 must be rejected")
	}
	if _, _, ok := shapiroWilk([]float64{5, 5, 5, 5}); ok {
		t.Error("zero-range data must be rejected")
	}
	w, p, ok := shapiroWilk([]float64{1, 2, 3})
	if !ok {
		t.Fatal("n=3 must be supported")
	}
	if w <= 0 || w > 1 || p < 0 || p > 1 {
		t.Errorf("out-of-range statistics: w=%v p=%v", w, p)
	}
}

func TestNormQuantileSymmetry(t *testing.T) {
	if q := normQuantile(0.5); math.Abs(q) > 1e-9 {
		t.Errorf("median quantile: expected 0, got %v", q)
	}
	if q := normQuantile(0.975); math.Abs(q-1.959964) > 1e-4 {
		t.Errorf("97.5%% quantile: expected 1.96, got %v", q)
	}
	if lo, hi := normQuantile(0.025), normQuantile(0.975); math.Abs(lo+hi) > 1e-9 {
		t.Errorf("quantiles not symmetric: %v vs %v", lo, hi)
	}
}

// ─── Boxplot ─────────────────────────────────────────────────────────────────

func boxplotFixture() []NamedSeries {
	return []NamedSeries{
		{Name: "A", Values: []float64{84.8, 85.0, 85.1, 84.9, 85.0, 85.2, 84.9, 85.1, 85.0, 85.0}},
		{Name: "B", Values: []float64{85.1, 85.2, 85.3, 85.2, 85.1, 85.3, 85.2, 85.2, 85.1, 85.3}},
		{Name: "C", Values: []float64{80.0, 91.0, 81.0, 90.0, 82.0, 89.0, 83.0, 88.0, 84.5, 87.0}},
		{Name: "D", Values: []float64{85.4, 85.5, 85.6, 85.5, 85.4, 85.6, 85.5, 85.5, 79.0, 92.0}},
	}
}

func TestBoxplotComparison(t *testing.T) {
	r := AnalyzeBoxplot(boxplotFixture(), 1.5)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}

	stats := r.Result["series"].([]BoxStats)
	if len(stats) != 4 {
		t.Fatalf("expected 4 series, got %d", len(stats))
	}
	for _, st := range stats {
		if st.Q1 > st.Median || st.Median > st.Q3 {
			t.Errorf("series %s: quartiles out of order: %+v", st.Name, st)
		}
		inFence := 0
		for _, v := range seriesValues(t, st.Name) {
			if v >= st.LowerFen && v <= st.UpperFen {
				inFence++
			}
		}
		if inFence+len(st.Outliers) != st.N {
			t.Errorf("series %s: outliers + in-fence != n", st.Name)
		}
	}

	cmp := r.Result["comparison"].(map[string]any)
	if cmp["most_variable"] != "C" {
		t.Errorf("most_variable: expected C, got %v", cmp["most_variable"])
	}
	if cmp["most_outliers"] != "D" {
		t.Errorf("most_outliers: expected D, got %v", cmp["most_outliers"])
	}
	if cmp["max_median_series"] != "C" || cmp["min_median_series"] != "A" {
		t.Errorf("median extremes wrong: %v", cmp)
	}
	if mr := cmp["median_range"].(float64); math.Abs(mr-0.75) > 1e-9 {
		t.Errorf("median_range: expected 0.75, got %v", mr)
	}
}

func seriesValues(t *testing.T, name string) []float64 {
	t.Helper()
	for _, s := range boxplotFixture() {
		if s.Name == name {
			return s.Values
		}
	}
	t.Fatalf("unknown series %q", name)
	return nil
}

func TestBoxplotOutlierTagging(t *testing.T) {
	r := AnalyzeBoxplot(boxplotFixture(), 1.5)
	stats := r.Result["series"].([]BoxStats)
	var d BoxStats
	for _, st := range stats {
		if st.Name == "D" {
			d = st
		}
	}
	if len(d.Outliers) != 2 {
		t.Fatalf("expected 2 outliers in D, got %+v", d.Outliers)
	}
	sides := map[string]bool{}
	for _, o := range d.Outliers {
		sides[o.Side] = true
	}
	if !sides["low"] || !sides["high"] {
		t.Errorf("expected one low and one high outlier, got %+v", d.Outliers)
	}
}

func TestBoxplotConstantSeries(t *testing.T) {
	r := AnalyzeBoxplot([]NamedSeries{{Name: "flat", Values: []float64{85, 85, 85, 85}}}, 1.5)
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	st := r.Result["series"].([]BoxStats)[0]
	if st.IQR != 0 || st.Std != 0 || len(st.Outliers) != 0 {
		t.Errorf("constant series: expected zero spread and no outliers, got %+v", st)
	}
}

func TestBoxplotToolAcceptsSeriesMap(t *testing.T) {
	tool := &boxplotTool{}
	r := tool.Run(map[string]any{
		"E02_TEMP": []any{85.2, 85.4, 85.1, 85.3},
		"E01_TEMP": []any{84.9, 85.0, 85.1, 85.2},
	}, Config{})
	if !r.Success {
		t.Fatalf("run failed: %v", r.Errors)
	}
	series := r.PlotData["series"].([]map[string]any)
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}
	// Map inputs come back ordered by name for deterministic output.
	if series[0]["name"] != "E01_TEMP" || series[1]["name"] != "E02_TEMP" {
		t.Errorf("series not sorted by name: %v / %v", series[0]["name"], series[1]["name"])
	}

	r = tool.Run(map[string]any{"bad": "not numbers"}, Config{})
	if r.Success {
		t.Error("expected validation failure for non-numeric map values")
	}
}

func TestBoxplotInsufficientData(t *testing.T) {
	r := AnalyzeBoxplot([]NamedSeries{{Name: "x", Values: []float64{85}}}, 1.5)
	if r.Success {
		t.Error("expected failure when no series has 2 points")
	}
}
