package tools

import (
	"fmt"
	"sort"
)

// CategoryCount is one labelled tally in a Pareto input.
type CategoryCount struct {
	Category string  `json:"category"`
	Count    float64 `json:"count"`
}

// ParetoRow is one sorted output row with its cumulative share.
type ParetoRow struct {
	Category      string  `json:"category"`
	Count         float64 `json:"count"`
	Percentage    float64 `json:"percentage"`
	CumulativeCnt float64 `json:"cumulative_count"`
	CumulativePct float64 `json:"cumulative_percentage"`
	Class         string  `json:"class"` // A / B / C
}

// AnalyzePareto ranks categories by contribution and finds the vital
// few: the smallest prefix whose cumulative share reaches threshold.
func AnalyzePareto(items []CategoryCount, threshold float64) *Result {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}

	// Merge duplicate labels before ranking.
	merged := map[string]float64{}
	order := []string{}
	for _, it := range items {
		if _, seen := merged[it.Category]; !seen {
			order = append(order, it.Category)
		}
		merged[it.Category] += it.Count
	}

	cats := make([]CategoryCount, 0, len(order))
	total := 0.0
	for _, c := range order {
		cats = append(cats, CategoryCount{Category: c, Count: merged[c]})
		total += merged[c]
	}
	if len(cats) == 0 || total <= 0 {
		return failResult("数据点不足，无法进行帕累托分析")
	}

	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Count > cats[j].Count })

	rows := make([]ParetoRow, len(cats))
	cum := 0.0
	keyFew := 0
	for i, c := range cats {
		cum += c.Count
		rows[i] = ParetoRow{
			Category:      c.Category,
			Count:         c.Count,
			Percentage:    round3(c.Count / total * 100),
			CumulativeCnt: cum,
			CumulativePct: round3(cum / total * 100),
		}
		if keyFew == 0 && rows[i].CumulativePct >= threshold*100 {
			keyFew = i + 1
		}
	}
	if keyFew == 0 {
		keyFew = len(rows)
	}

	// ABC classes: A is the vital-few prefix, B grows the share to 95%,
	// C is the trailing tail.
	for i := range rows {
		switch {
		case i < keyFew:
			rows[i].Class = "A"
		case rows[i].CumulativePct <= 95 || (i > 0 && rows[i-1].CumulativePct < 95):
			rows[i].Class = "B"
		default:
			rows[i].Class = "C"
		}
	}

	keyFewContribution := rows[keyFew-1].CumulativePct

	r := newResult()
	r.Result = map[string]any{
		"total_count":          total,
		"total_categories":     len(rows),
		"key_few_count":        keyFew,
		"key_few_percentage":   round3(float64(keyFew) / float64(len(rows)) * 100),
		"key_few_contribution": keyFewContribution,
		"threshold":            threshold,
		"rows":                 rows,
	}
	r.PlotData = paretoPlot(rows, threshold)
	r.Metrics = map[string]float64{
		"total_count":          total,
		"total_categories":     float64(len(rows)),
		"key_few_count":        float64(keyFew),
		"key_few_contribution": keyFewContribution,
	}

	r.Insights = append(r.Insights,
		fmt.Sprintf("前 %d 个类别（占 %.1f%%）贡献了 %.1f%% 的问题", keyFew, float64(keyFew)/float64(len(rows))*100, keyFewContribution))
	top := keyFew
	if top > 3 {
		top = 3
	}
	for i := 0; i < top; i++ {
		r.Insights = append(r.Insights,
			fmt.Sprintf("关键类别 %s: %.0f 次，占比 %.1f%%", rows[i].Category, rows[i].Count, rows[i].Percentage))
	}
	if len(rows) == 1 {
		r.Insights = append(r.Insights, "仅有一个类别，帕累托区分度有限")
	}
	return r
}

func paretoPlot(rows []ParetoRow, threshold float64) map[string]any {
	categories := make([]string, len(rows))
	counts := make([]float64, len(rows))
	cumulative := make([]float64, len(rows))
	colors := make([]string, len(rows))
	for i, row := range rows {
		categories[i] = row.Category
		counts[i] = row.Count
		cumulative[i] = row.CumulativePct
		if i < 3 {
			colors[i] = fmt.Sprintf("rgba(255, %d, 0, 0.7)", 100-i*30)
		} else {
			colors[i] = "rgba(200, 200, 200, 0.5)"
		}
	}
	return map[string]any{
		"type":           "pareto",
		"categories":     categories,
		"counts":         counts,
		"cumulative":     cumulative,
		"threshold_line": threshold * 100,
		"colors":         colors,
	}
}

// paretoTool adapts AnalyzePareto to the registry contract.
type paretoTool struct{}

func (t *paretoTool) Metadata() Metadata {
	return Metadata{
		Key:         "pareto",
		Name:        "帕累托分析",
		Category:    CategoryDescriptive,
		Shape:       ShapeCategoricalCounts,
		Description: "按贡献度排序类别，识别关键少数（80/20）",
	}
}

func (t *paretoTool) Validate(data any, cfg Config) []string {
	items, ok := asCategoryCounts(data)
	if !ok {
		return []string{"数据必须是类别计数列表"}
	}
	if len(items) == 0 {
		return []string{"数据点不足，无法进行帕累托分析"}
	}
	return nil
}

func (t *paretoTool) Run(data any, cfg Config) *Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failResult(errs...)
	}
	items, _ := asCategoryCounts(data)
	return AnalyzePareto(items, cfg.FloatOr("threshold", 0.8))
}

// asCategoryCounts coerces generic JSON input into labelled tallies.
// Accepts []CategoryCount, a map of label to count, or a list of
// {category, count} objects.
func asCategoryCounts(data any) ([]CategoryCount, bool) {
	switch v := data.(type) {
	case []CategoryCount:
		return v, true
	case map[string]float64:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]CategoryCount, 0, len(v))
		for _, k := range keys {
			out = append(out, CategoryCount{Category: k, Count: v[k]})
		}
		return out, true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]CategoryCount, 0, len(v))
		for _, k := range keys {
			n, ok := v[k].(float64)
			if !ok {
				if i, isInt := v[k].(int); isInt {
					n = float64(i)
				} else {
					return nil, false
				}
			}
			out = append(out, CategoryCount{Category: k, Count: n})
		}
		return out, true
	case []any:
		out := make([]CategoryCount, 0, len(v))
		for _, e := range v {
			obj, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			cat, _ := obj["category"].(string)
			cnt, ok := obj["count"].(float64)
			if !ok {
				if i, isInt := obj["count"].(int); isInt {
					cnt = float64(i)
				} else {
					return nil, false
				}
			}
			if cat == "" {
				return nil, false
			}
			out = append(out, CategoryCount{Category: cat, Count: cnt})
		}
		return out, true
	}
	return nil, false
}
