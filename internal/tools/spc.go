package tools

import (
	"fmt"
	"math"
)

// Control-limit constant 3/d2 for moving ranges of subgroup size 2.
const mrControlFactor = 2.66

// Violation rule names and types, fixed for UI compatibility.
const (
	ruleOutOfControl = "Out of control limit"
	ruleOutOfSpec    = "Out of specification"
)

// Violation marks one sample outside a control or specification limit.
type Violation struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
	Type  string  `json:"type"` // UCL / LCL / USL / LSL
	Rule  string  `json:"rule"`
}

// SPCConfig carries the specification limits for one analysis. Missing
// limits null out the affected capability indices.
type SPCConfig struct {
	USL    *float64
	LSL    *float64
	Target *float64
}

// AnalyzeSPC runs an individuals control chart analysis: moving-range
// control limits, capability indices, violations and process status.
func AnalyzeSPC(values []float64, cfg SPCConfig) *Result {
	if len(values) < 2 {
		return failResult("数据点不足，至少需要2个数据点")
	}

	n := len(values)
	m := mean(values)
	std := sampleStd(values)
	lo, hi := minMax(values)

	// Moving-range control limits.
	mrSum := 0.0
	for i := 1; i < n; i++ {
		mrSum += math.Abs(values[i] - values[i-1])
	}
	mrBar := mrSum / float64(n-1)
	ucl := m + mrControlFactor*mrBar
	lcl := m - mrControlFactor*mrBar

	// Capability. std == 0 leaves every index undefined.
	var cp, cpu, cpl, cpk *float64
	if std > 0 {
		if cfg.USL != nil && cfg.LSL != nil {
			v := round3((*cfg.USL - *cfg.LSL) / (6 * std))
			cp = &v
		}
		if cfg.USL != nil {
			v := round3((*cfg.USL - m) / (3 * std))
			cpu = &v
		}
		if cfg.LSL != nil {
			v := round3((m - *cfg.LSL) / (3 * std))
			cpl = &v
		}
		switch {
		case cpu != nil && cpl != nil:
			v := math.Min(*cpu, *cpl)
			cpk = &v
		case cpu != nil:
			cpk = cpu
		case cpl != nil:
			cpk = cpl
		}
	}

	violations := checkViolations(values, ucl, lcl, cfg)

	status := processStatus(values, m, std, cpk, violations)

	r := newResult()
	r.Result = map[string]any{
		"mean":           m,
		"std":            std,
		"min":            lo,
		"max":            hi,
		"n":              n,
		"mr_bar":         mrBar,
		"ucl":            ucl,
		"lcl":            lcl,
		"usl":            floatOrNil(cfg.USL),
		"lsl":            floatOrNil(cfg.LSL),
		"target":         floatOrNil(cfg.Target),
		"cp":             floatOrNil(cp),
		"cpu":            floatOrNil(cpu),
		"cpl":            floatOrNil(cpl),
		"cpk":            floatOrNil(cpk),
		"process_status": status,
		"violations":     violations,
	}
	r.PlotData = map[string]any{
		"type":       "spc",
		"values":     values,
		"ucl":        ucl,
		"lcl":        lcl,
		"target":     floatOrNil(cfg.Target),
		"usl":        floatOrNil(cfg.USL),
		"lsl":        floatOrNil(cfg.LSL),
		"violations": violations,
	}
	r.Metrics = map[string]float64{
		"mean":       m,
		"std":        std,
		"n":          float64(n),
		"violations": float64(len(violations)),
	}
	if cpk != nil {
		r.Metrics["cpk"] = *cpk
	}

	if cpk != nil && *cpk < 1.33 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("过程能力不足 (Cpk=%.3f < 1.33)", *cpk))
	}
	if len(violations) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("发现 %d 个违规数据点", len(violations)))
	}

	r.Insights = spcInsights(values, m, n, cpk, status, violations)
	return r
}

func checkViolations(values []float64, ucl, lcl float64, cfg SPCConfig) []Violation {
	violations := []Violation{}
	for i, v := range values {
		if v > ucl {
			violations = append(violations, Violation{Index: i, Value: v, Type: "UCL", Rule: ruleOutOfControl})
		} else if v < lcl {
			violations = append(violations, Violation{Index: i, Value: v, Type: "LCL", Rule: ruleOutOfControl})
		}
		if cfg.USL != nil && v > *cfg.USL {
			violations = append(violations, Violation{Index: i, Value: v, Type: "USL", Rule: ruleOutOfSpec})
		} else if cfg.LSL != nil && v < *cfg.LSL {
			violations = append(violations, Violation{Index: i, Value: v, Type: "LSL", Rule: ruleOutOfSpec})
		}
	}
	return violations
}

// processStatus grades the series: 失控 on a 3-sigma excursion or any
// specification breach, 警告 on weak capability, 受控 otherwise.
func processStatus(values []float64, m, std float64, cpk *float64, violations []Violation) string {
	if std > 0 {
		for _, v := range values {
			if math.Abs(v-m) > 3*std {
				return "失控"
			}
		}
	}
	for _, vio := range violations {
		if vio.Rule == ruleOutOfSpec {
			return "失控"
		}
	}
	if cpk != nil && *cpk < 1.33 {
		return "警告"
	}
	return "受控"
}

func cpkGrade(cpk float64) string {
	switch {
	case cpk >= 1.33:
		return "优秀"
	case cpk >= 1.0:
		return "良好"
	case cpk >= 0.67:
		return "勉强"
	default:
		return "不足"
	}
}

func spcInsights(values []float64, m float64, n int, cpk *float64, status string, violations []Violation) []string {
	insights := []string{fmt.Sprintf("过程状态: %s", status)}
	if cpk != nil {
		insights = append(insights, fmt.Sprintf("过程能力%s (Cpk=%.3f)", cpkGrade(*cpk), *cpk))
	} else {
		insights = append(insights, "缺少规格限或数据无波动，无法计算过程能力指数")
	}
	insights = append(insights, fmt.Sprintf("共分析 %d 个数据点，发现 %d 个违规点", n, len(violations)))
	if len(violations) > 0 {
		worst := violations[0]
		for _, vio := range violations[1:] {
			if math.Abs(vio.Value-m) > math.Abs(worst.Value-m) {
				worst = vio
			}
		}
		insights = append(insights, fmt.Sprintf("第 %d 个样本偏离最大 (值=%.4g，超出 %s)", worst.Index+1, worst.Value, worst.Type))
	}
	return insights
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// spcTool adapts AnalyzeSPC to the registry contract.
type spcTool struct{}

func (t *spcTool) Metadata() Metadata {
	return Metadata{
		Key:         "spc",
		Name:        "SPC 统计过程控制分析",
		Category:    CategoryDescriptive,
		Shape:       ShapeTimeSeries,
		Description: "计算过程能力指数(Cpk)、控制限，判定过程是否受控",
	}
}

func (t *spcTool) Validate(data any, cfg Config) []string {
	values, ok := asFloatSlice(data)
	if !ok {
		return []string{"数据必须是数值列表"}
	}
	if len(values) < 2 {
		return []string{"数据点不足，至少需要2个数据点"}
	}
	return nil
}

func (t *spcTool) Run(data any, cfg Config) *Result {
	if errs := t.Validate(data, cfg); len(errs) > 0 {
		return failResult(errs...)
	}
	values, _ := asFloatSlice(data)
	return AnalyzeSPC(values, SPCConfig{
		USL:    cfg.Float("usl"),
		LSL:    cfg.Float("lsl"),
		Target: cfg.Float("target"),
	})
}
