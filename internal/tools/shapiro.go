package tools

import (
	"math"
	"sort"
)

// Shapiro-Wilk normality test, Royston's AS R94 variant. Valid for
// sample sizes between 3 and 5000.

const (
	shapiroMinN = 3
	shapiroMaxN = 5000
)

var (
	swC1 = []float64{0, 0.221157, -0.147981, -2.071190, 4.434685, -2.706056}
	swC2 = []float64{0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633}
	swC3 = []float64{0.5440, -0.39978, 0.025054, -6.714e-4}
	swC4 = []float64{1.3822, -0.77857, 0.062767, -0.0020322}
	swC5 = []float64{-1.5861, -0.31082, -0.083751, 0.0038915}
	swC6 = []float64{-0.4803, -0.082676, 0.0030302}
	swG  = []float64{-2.273, 0.459}
)

func swPoly(c []float64, x float64) float64 {
	res := c[0]
	if len(c) > 1 {
		p := x
		for _, coef := range c[1:] {
			res += coef * p
			p *= x
		}
	}
	return res
}

// shapiroWilk returns the W statistic and p-value. ok is false when the
// sample size is outside the supported range or the data is degenerate.
func shapiroWilk(values []float64) (w, p float64, ok bool) {
	n := len(values)
	if n < shapiroMinN || n > shapiroMaxN {
		return 0, 0, false
	}

	x := make([]float64, n)
	copy(x, values)
	sort.Float64s(x)
	if x[n-1]-x[0] <= 0 {
		return 0, 0, false
	}

	an := float64(n)
	nn2 := n / 2
	a := make([]float64, nn2+1) // 1-based, matching the published algorithm

	if n == 3 {
		a[1] = math.Sqrt(0.5)
	} else {
		an25 := an + 0.25
		summ2 := 0.0
		for i := 1; i <= nn2; i++ {
			a[i] = normQuantile((float64(i) - 0.375) / an25)
			summ2 += a[i] * a[i]
		}
		summ2 *= 2
		ssumm2 := math.Sqrt(summ2)
		rsn := 1 / math.Sqrt(an)
		a1 := swPoly(swC1, rsn) - a[1]/ssumm2

		var i1 int
		var fac float64
		if n > 5 {
			i1 = 3
			a2 := -a[2]/ssumm2 + swPoly(swC2, rsn)
			fac = math.Sqrt((summ2 - 2*a[1]*a[1] - 2*a[2]*a[2]) /
				(1 - 2*a1*a1 - 2*a2*a2))
			a[2] = a2
		} else {
			i1 = 2
			fac = math.Sqrt((summ2 - 2*a[1]*a[1]) / (1 - 2*a1*a1))
		}
		a[1] = a1
		for i := i1; i <= nn2; i++ {
			a[i] /= -fac
		}
	}

	// W statistic from scaled data.
	rng := x[n-1] - x[0]
	xx := x[0] / rng
	sx := xx
	sa := -a[1]
	for i := 2; i <= n; i++ {
		xi := x[i-1] / rng
		if i != n-i+1 {
			sa += float64(sign(i-(n-i+1))) * a[minInt(i, n-i+1)]
		}
		sx += xi
	}
	sa /= an
	sx /= an

	var ssa, ssx, sax float64
	for i := 1; i <= n; i++ {
		j := n - i + 1
		var asa float64
		if i != j {
			asa = float64(sign(i-j))*a[minInt(i, j)] - sa
		} else {
			asa = -sa
		}
		xsx := x[i-1]/rng - sx
		ssa += asa * asa
		ssx += xsx * xsx
		sax += asa * xsx
	}

	ssassx := math.Sqrt(ssa * ssx)
	w1 := (ssassx - sax) * (ssassx + sax) / (ssa * ssx)
	w = 1 - w1

	// P-value.
	if n == 3 {
		const pi6 = 1.90985931710274
		const stqr = 1.04719755119660
		p = pi6 * (math.Asin(math.Sqrt(w)) - stqr)
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		return w, p, true
	}

	y := math.Log(w1)
	var mu, sigma float64
	if n <= 11 {
		gamma := swPoly(swG, an)
		if y >= gamma {
			return w, 1e-99, true
		}
		y = -math.Log(gamma - y)
		mu = swPoly(swC3, an)
		sigma = math.Exp(swPoly(swC4, an))
	} else {
		lnN := math.Log(an)
		mu = swPoly(swC5, lnN)
		sigma = math.Exp(swPoly(swC6, lnN))
	}
	p = normUpperTail((y - mu) / sigma)
	return w, p, true
}

func sign(d int) int {
	if d < 0 {
		return -1
	}
	return 1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// normUpperTail is P(Z > z) for a standard normal.
func normUpperTail(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}

// normQuantile inverts the standard normal CDF (Acklam's rational
// approximation, relative error below 1.15e-9).
func normQuantile(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}

	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02,
		-2.759285104469687e+02, 1.383577518672690e+02,
		-3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02,
		-1.556989798598866e+02, 6.680131188771972e+01,
		-1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01,
		-2.400758277161838e+00, -2.549732539343734e+00,
		4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01,
		2.445134137142996e+00, 3.754408661907416e+00}

	const pLow = 0.02425
	const pHigh = 1 - pLow

	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p <= pHigh:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	default:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}
}
