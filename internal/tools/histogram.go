package tools

import (
	"fmt"
	"math"
)

const defaultBins = 10

// AnalyzeHistogram bins a sample into uniform intervals and reports
// distribution shape, normality, and specification conformance.
func AnalyzeHistogram(values []float64, bins int, usl, lsl *float64) *Result {
	if len(values) < 2 {
		return failResult("数据点不足，至少需要2个数据点")
	}
	if bins <= 0 {
		bins = defaultBins
	}

	n := len(values)
	lo, hi := minMax(values)
	m := mean(values)
	std := sampleStd(values)
	med := median(values)
	skew := skewness(values)
	kurt := kurtosis(values)

	boundaries, counts := binCounts(values, bins, lo, hi)

	w, pRaw, swOK := shapiroWilk(values)
	var pValue, wStat any
	var isNormal any
	normal := false
	if swOK {
		pValue = pRaw
		wStat = w
		normal = pRaw >= 0.05
		isNormal = normal
	}

	shape := distributionShape(swOK, normal, skew, kurt)

	r := newResult()
	r.Result = map[string]any{
		"n":            n,
		"mean":         m,
		"std":          std,
		"median":       med,
		"min":          lo,
		"max":          hi,
		"skewness":     round3(skew),
		"kurtosis":     round3(kurt),
		"bins":         boundaries,
		"counts":       counts,
		"w_statistic":  wStat,
		"p_value":      pValue,
		"is_normal":    isNormal,
		"distribution": shape,
	}
	r.PlotData = histogramPlot(boundaries, counts, m, med, usl, lsl)
	r.Metrics = map[string]float64{
		"n":        float64(n),
		"mean":     m,
		"std":      std,
		"median":   med,
		"skewness": skew,
		"kurtosis": kurt,
	}
	if swOK {
		r.Metrics["p_value"] = pRaw
	}

	if usl != nil && hi > *usl {
		r.Warnings = append(r.Warnings, fmt.Sprintf("存在超出规格上限的数据 (max=%.4g > USL=%.4g)", hi, *usl))
	}
	if lsl != nil && lo < *lsl {
		r.Warnings = append(r.Warnings, fmt.Sprintf("存在低于规格下限的数据 (min=%.4g < LSL=%.4g)", lo, *lsl))
	}
	if swOK && !normal {
		r.Warnings = append(r.Warnings, fmt.Sprintf("数据不服从正态分布 (p=%.4f < 0.05)", pRaw))
	}

	r.Insights = append(r.Insights, fmt.Sprintf("数据分布形态: %s", shape))
	r.Insights = append(r.Insights, fmt.Sprintf("均值 %.4g，中位数 %.4g，标准差 %.4g", m, med, std))
	if swOK {
		if normal {
			r.Insights = append(r.Insights, fmt.Sprintf("正态性检验通过 (W=%.4f, p=%.4f)", w, pRaw))
		} else {
			r.Insights = append(r.Insights, fmt.Sprintf("正态性检验未通过 (W=%.4f, p=%.4f)", w, pRaw))
		}
	} else {
		r.Insights = append(r.Insights, "样本量超出正态性检验范围或数据无波动，跳过检验")
	}
	return r
}

// binCounts bins values into uniform right-open intervals over [lo, hi];
// only the last interval is closed on the right. A constant sample
// collapses into the first bin.
func binCounts(values []float64, bins int, lo, hi float64) ([]float64, []int) {
	boundaries := make([]float64, bins+1)
	counts := make([]int, bins)
	width := (hi - lo) / float64(bins)
	for i := 0; i <= bins; i++ {
		boundaries[i] = lo + float64(i)*width
	}
	boundaries[bins] = hi

	for _, v := range values {
		var idx int
		if width == 0 {
			idx = 0
		} else {
			idx = int((v - lo) / width)
			if idx >= bins {
				idx = bins - 1
			}
		}
		counts[idx]++
	}
	return boundaries, counts
}

func distributionShape(swOK, normal bool, skew, kurt float64) string {
	if swOK && normal {
		return "正态"
	}
	if math.Abs(skew) < 1 && math.Abs(kurt) < 2 {
		return "近似正态"
	}
	if math.Abs(skew) >= 1 {
		if skew > 0 {
			return "右偏"
		}
		return "左偏"
	}
	return "不规则"
}

func histogramPlot(boundaries []float64, counts []int, m, med float64, usl, lsl *float64) map[string]any {
	lines := map[string]any{
		"mean":   map[string]any{"x": m, "label": "均值"},
		"median": map[string]any{"x": med, "label": "中位数"},
	}
	if usl != nil {
		lines["usl"] = map[string]any{"x": *usl, "label": "USL"}
	}
	if lsl != nil {
		lines["lsl"] = map[string]any{"x": *lsl, "label": "LSL"}
	}
	return map[string]any{
		"type":   "histogram",
		"bins":   boundaries,
		"counts": counts,
		"lines":  lines,
	}
}

// histogramTool adapts AnalyzeHistogram to the registry contract.
type histogramTool struct{}

func (t *histogramTool) Metadata() Metadata {
	return Metadata{
		Key:         "histogram",
		Name:        "直方图与正态性分析",
		Category:    CategoryDescriptive,
		Shape:       ShapeTimeSeries,
		Description: "分箱统计、偏度峰度与 Shapiro-Wilk 正态性检验",
	}
}

func (t *histogramTool) Validate(data any, cfg Config) []string {
	values, ok := asFloatSlice(data)
	if !ok {
		return []string{"数据必须是数值列表"}
	}
	if len(values) < 2 {
		return []string{"数据点不足，至少需要2个数据点"}
	}
	return nil
}

func (t *histogramTool) Run(data any, cfg Config) *Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failResult(errs...)
	}
	values, _ := asFloatSlice(data)
	return AnalyzeHistogram(values, cfg.Int("bins", defaultBins), cfg.Float("usl"), cfg.Float("lsl"))
}
