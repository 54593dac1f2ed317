package tools

import (
	"fmt"
	"math"
	"sort"
)

const defaultOutlierFactor = 1.5

// NamedSeries is one labelled sample in a boxplot comparison. Input
// order is preserved in the output.
type NamedSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// BoxStats is the five-number summary plus moments for one series.
type BoxStats struct {
	Name     string    `json:"name"`
	N        int       `json:"n"`
	Min      float64   `json:"min"`
	Q1       float64   `json:"q1"`
	Median   float64   `json:"median"`
	Q3       float64   `json:"q3"`
	Max      float64   `json:"max"`
	Mean     float64   `json:"mean"`
	Std      float64   `json:"std"`
	IQR      float64   `json:"iqr"`
	LowerFen float64   `json:"lower_fence"`
	UpperFen float64   `json:"upper_fence"`
	Outliers []Outlier `json:"outliers"`
}

// Outlier is one sample outside the fences.
type Outlier struct {
	Value float64 `json:"value"`
	Side  string  `json:"side"` // low / high
}

// AnalyzeBoxplot computes five-number summaries and fence outliers for
// each series, then compares variability and centering across them.
func AnalyzeBoxplot(series []NamedSeries, outlierFactor float64) *Result {
	if outlierFactor <= 0 {
		outlierFactor = defaultOutlierFactor
	}
	valid := make([]NamedSeries, 0, len(series))
	for _, s := range series {
		if len(s.Values) >= 2 {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return failResult("数据点不足，每个序列至少需要2个数据点")
	}

	stats := make([]BoxStats, len(valid))
	for i, s := range valid {
		stats[i] = boxStats(s, outlierFactor)
	}

	r := newResult()
	r.Result = map[string]any{
		"series":         stats,
		"outlier_factor": outlierFactor,
	}
	if len(stats) > 1 {
		r.Result["comparison"] = compareSeries(stats)
	}
	r.PlotData = boxplotPlot(stats)

	totalOutliers := 0
	for _, st := range stats {
		totalOutliers += len(st.Outliers)
		r.Metrics["outliers_"+st.Name] = float64(len(st.Outliers))
	}
	r.Metrics["series_count"] = float64(len(stats))
	r.Metrics["total_outliers"] = float64(totalOutliers)

	if totalOutliers > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("共发现 %d 个离群点", totalOutliers))
	}
	r.Insights = boxplotInsights(stats)
	return r
}

func boxStats(s NamedSeries, factor float64) BoxStats {
	sorted := sortedCopy(s.Values)
	q1 := percentile(sorted, 25)
	med := percentile(sorted, 50)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	loFence := q1 - factor*iqr
	hiFence := q3 + factor*iqr

	outliers := []Outlier{}
	for _, v := range s.Values {
		if v < loFence {
			outliers = append(outliers, Outlier{Value: v, Side: "low"})
		} else if v > hiFence {
			outliers = append(outliers, Outlier{Value: v, Side: "high"})
		}
	}

	lo, hi := minMax(s.Values)
	return BoxStats{
		Name:     s.Name,
		N:        len(s.Values),
		Min:      lo,
		Q1:       q1,
		Median:   med,
		Q3:       q3,
		Max:      hi,
		Mean:     mean(s.Values),
		Std:      sampleStd(s.Values),
		IQR:      iqr,
		LowerFen: loFence,
		UpperFen: hiFence,
		Outliers: outliers,
	}
}

func compareSeries(stats []BoxStats) map[string]any {
	mostVariable := stats[0]
	mostOutliers := stats[0]
	maxMedian := stats[0]
	minMedian := stats[0]
	for _, st := range stats[1:] {
		if st.Std > mostVariable.Std {
			mostVariable = st
		}
		if len(st.Outliers) > len(mostOutliers.Outliers) {
			mostOutliers = st
		}
		if st.Median > maxMedian.Median {
			maxMedian = st
		}
		if st.Median < minMedian.Median {
			minMedian = st
		}
	}
	return map[string]any{
		"most_variable":     mostVariable.Name,
		"most_outliers":     mostOutliers.Name,
		"max_median_series": maxMedian.Name,
		"min_median_series": minMedian.Name,
		"median_range":      maxMedian.Median - minMedian.Median,
	}
}

// boxplotInsights names stable series: no outliers and a standard
// deviation in the lower half of the observed spread.
func boxplotInsights(stats []BoxStats) []string {
	insights := []string{fmt.Sprintf("共对比 %d 个序列", len(stats))}

	minStd, maxStd := stats[0].Std, stats[0].Std
	for _, st := range stats[1:] {
		minStd = math.Min(minStd, st.Std)
		maxStd = math.Max(maxStd, st.Std)
	}
	cut := minStd + 0.5*(maxStd-minStd)
	for _, st := range stats {
		if len(st.Outliers) == 0 && st.Std < cut {
			insights = append(insights, fmt.Sprintf("序列 %s 波动小且无离群点，过程稳定", st.Name))
		}
	}
	for _, st := range stats {
		if len(st.Outliers) > 0 {
			insights = append(insights, fmt.Sprintf("序列 %s 存在 %d 个离群点", st.Name, len(st.Outliers)))
		}
	}
	return insights
}

func boxplotPlot(stats []BoxStats) map[string]any {
	out := make([]map[string]any, len(stats))
	for i, st := range stats {
		values := make([]float64, len(st.Outliers))
		for j, o := range st.Outliers {
			values[j] = o.Value
		}
		out[i] = map[string]any{
			"name":     st.Name,
			"min":      st.Min,
			"q1":       st.Q1,
			"median":   st.Median,
			"q3":       st.Q3,
			"max":      st.Max,
			"outliers": values,
		}
	}
	return map[string]any{
		"type":   "boxplot",
		"series": out,
	}
}

// boxplotTool adapts AnalyzeBoxplot to the registry contract.
type boxplotTool struct{}

func (t *boxplotTool) Metadata() Metadata {
	return Metadata{
		Key:         "boxplot",
		Name:        "箱线图对比分析",
		Category:    CategoryDescriptive,
		Shape:       ShapeMultipleTimeSeries,
		Description: "五数概括、IQR 离群点检测与多序列稳定性对比",
	}
}

func (t *boxplotTool) Validate(data any, cfg Config) []string {
	series, ok := asNamedSeries(data)
	if !ok {
		return []string{"数据必须是命名序列列表"}
	}
	for _, s := range series {
		if len(s.Values) >= 2 {
			return nil
		}
	}
	return []string{"数据点不足，每个序列至少需要2个数据点"}
}

func (t *boxplotTool) Run(data any, cfg Config) *Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failResult(errs...)
	}
	series, _ := asNamedSeries(data)
	return AnalyzeBoxplot(series, cfg.FloatOr("outlier_factor", defaultOutlierFactor))
}

// asNamedSeries coerces generic JSON input into labelled series.
// Accepts []NamedSeries, a name→values map (sorted by name), a bare
// value list (one unnamed series), or a list of {name, values} objects.
func asNamedSeries(data any) ([]NamedSeries, bool) {
	switch v := data.(type) {
	case []NamedSeries:
		return v, true
	case map[string][]float64:
		return mapSeries(v)
	case map[string]any:
		return mapSeries(v)
	case []float64:
		return []NamedSeries{{Name: "series", Values: v}}, true
	case []any:
		if values, ok := asFloatSlice(v); ok {
			return []NamedSeries{{Name: "series", Values: values}}, true
		}
		out := make([]NamedSeries, 0, len(v))
		for _, e := range v {
			obj, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			name, _ := obj["name"].(string)
			values, ok := asFloatSlice(obj["values"])
			if !ok || name == "" {
				return nil, false
			}
			out = append(out, NamedSeries{Name: name, Values: values})
		}
		return out, true
	}
	return nil, false
}

func mapSeries[V any](m map[string]V) ([]NamedSeries, bool) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]NamedSeries, 0, len(names))
	for _, name := range names {
		values, ok := asFloatSlice(m[name])
		if !ok {
			return nil, false
		}
		out = append(out, NamedSeries{Name: name, Values: values})
	}
	return out, true
}
