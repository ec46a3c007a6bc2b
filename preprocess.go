// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"flag"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultTRCCountCutoff = 20
	DefaultASCCountCutoff = 5
	DefaultASCCountCap    = 5000
	DefaultASCWeightCap   = 100
)

// TRCConfig holds the filtering thresholds for the total-read-count
// analysis.
type TRCConfig struct {
	CountCutoff float64
}

func DefaultTRCConfig() TRCConfig {
	return TRCConfig{CountCutoff: DefaultTRCCountCutoff}
}

func (c *TRCConfig) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&c.CountCutoff, "trc-cutoff", DefaultTRCCountCutoff, "drop samples with total read count below `N`")
}

// ASCConfig holds the filtering and weighting thresholds for the
// allele-specific-count analysis.
type ASCConfig struct {
	CountCutoff float64
	CountCap    float64
	WeightCap   float64
}

func DefaultASCConfig() ASCConfig {
	return ASCConfig{
		CountCutoff: DefaultASCCountCutoff,
		CountCap:    DefaultASCCountCap,
		WeightCap:   DefaultASCWeightCap,
	}
}

func (c *ASCConfig) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&c.CountCutoff, "asc-cutoff", DefaultASCCountCutoff, "drop samples with either allele count below `N`")
	flags.Float64Var(&c.CountCap, "asc-cap", DefaultASCCountCap, "drop samples with either allele count above `N`")
	flags.Float64Var(&c.WeightCap, "weight-cap", DefaultASCWeightCap, "clip precision weights at `FOLD` times the smallest weight")
}

// MethodResult is the per-variant output of one analysis method.
// Beta and SE are aligned to the genotype column order; variants
// that could not be fit (monomorphic, too few samples) are NaN.
// SampleSize is the number of observations that survived filtering,
// reported even when every beta is NaN.
type MethodResult struct {
	Beta       []float64
	SE         []float64
	SampleSize int
}

func newMethodResult(nvar, samples int) *MethodResult {
	r := &MethodResult{
		Beta:       make([]float64, nvar),
		SE:         make([]float64, nvar),
		SampleSize: samples,
	}
	for p := range r.Beta {
		r.Beta[p] = math.NaN()
		r.SE[p] = math.NaN()
	}
	return r
}

// TotalCountQTL estimates per-variant allelic fold change from total
// read counts. The response is log(trc/2/libSize) − covariate;
// samples with counts below cfg.CountCutoff or an undefined response
// are dropped. hap1 and hap2 are N×P haplotype dosage matrices. Each
// variant with two polymorphic haplotype columns is fit with both as
// predictors; a variant with one polymorphic column falls back to a
// single-predictor fit; the resulting haplotype estimates are pooled
// inverse-variance into one estimate per variant.
func TotalCountQTL(trc, libSize, covariate []float64, hap1, hap2 *mat.Dense, cfg TRCConfig) (*MethodResult, error) {
	nobs := len(trc)
	if len(libSize) != nobs || len(covariate) != nobs {
		return nil, fmt.Errorf("%w: %d counts, %d library sizes, %d covariates", ErrDimensionMismatch, nobs, len(libSize), len(covariate))
	}
	rows1, nvar := hap1.Dims()
	rows2, nvar2 := hap2.Dims()
	if rows1 != nobs || rows2 != nobs {
		return nil, fmt.Errorf("%w: %d counts, haplotype dosages have %d and %d rows", ErrDimensionMismatch, nobs, rows1, rows2)
	}
	if nvar != nvar2 {
		return nil, fmt.Errorf("%w: hap1 has %d cols, hap2 has %d", ErrDimensionMismatch, nvar, nvar2)
	}

	var keep []int
	var y []float64
	for i := range trc {
		v := math.Log(trc[i]/2/libSize[i]) - covariate[i]
		if trc[i] < cfg.CountCutoff || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		keep = append(keep, i)
		y = append(y, v)
	}
	res := newMethodResult(nvar, len(keep))
	if len(keep) <= 2 {
		return res, nil
	}

	h1 := filterRows(hap1, keep)
	h2 := filterRows(hap2, keep)
	ymat := mat.NewDense(len(keep), 1, y)

	var both, single []int
	singleFrom := map[int]*mat.Dense{}
	for p := 0; p < nvar; p++ {
		p1 := columnVariance(h1, p) > 0
		p2 := columnVariance(h2, p) > 0
		switch {
		case p1 && p2:
			both = append(both, p)
		case p1:
			single = append(single, p)
			singleFrom[p] = h1
		case p2:
			single = append(single, p)
			singleFrom[p] = h2
		}
	}

	if len(both) > 0 {
		x1 := pickColumns(h1, both)
		x2 := pickColumns(h2, both)
		fit, err := LeastSquaresBivariate(ymat, x1, x2, uniformSampleSizes(len(both), len(keep)))
		if err != nil {
			return nil, err
		}
		for i, p := range both {
			res.Beta[p], res.SE[p] = poolEstimates(
				fit.Beta1.At(0, i), fit.SE1.At(0, i),
				fit.Beta2.At(0, i), fit.SE2.At(0, i))
		}
	}
	if len(single) > 0 {
		x := mat.NewDense(len(keep), len(single), nil)
		for i, p := range single {
			for r := 0; r < len(keep); r++ {
				x.Set(r, i, singleFrom[p].At(r, p))
			}
		}
		fit, err := LeastSquares(ymat, x, uniformSampleSizes(len(single), len(keep)))
		if err != nil {
			return nil, err
		}
		for i, p := range single {
			res.Beta[p] = fit.Beta.At(0, i)
			res.SE[p] = fit.SE.At(0, i)
		}
	}
	return res, nil
}

// AlleleSpecificQTL estimates per-variant allelic fold change from
// paired allele-specific counts. genotype is the N×P haplotype
// contrast matrix. Samples are kept when both counts are within
// [cfg.CountCutoff, cfg.CountCap]; the response log(asc1/asc2) and
// the genotype columns are rescaled by the square root of capped
// precision weights before the single-predictor fit.
func AlleleSpecificQTL(asc1, asc2 []float64, genotype *mat.Dense, cfg ASCConfig) (*MethodResult, error) {
	nobs := len(asc1)
	if len(asc2) != nobs {
		return nil, fmt.Errorf("%w: %d hap1 counts, %d hap2 counts", ErrDimensionMismatch, nobs, len(asc2))
	}
	grows, nvar := genotype.Dims()
	if grows != nobs {
		return nil, fmt.Errorf("%w: %d counts, genotype has %d rows", ErrDimensionMismatch, nobs, grows)
	}

	var keep []int
	for i := range asc1 {
		if asc1[i] >= cfg.CountCutoff && asc1[i] <= cfg.CountCap &&
			asc2[i] >= cfg.CountCutoff && asc2[i] <= cfg.CountCap {
			keep = append(keep, i)
		}
	}
	res := newMethodResult(nvar, len(keep))
	if len(keep) <= 2 {
		return res, nil
	}

	g := filterRows(genotype, keep)
	var alive []int
	for p := 0; p < nvar; p++ {
		if columnVariance(g, p) > 0 {
			alive = append(alive, p)
		}
	}
	if len(alive) == 0 {
		return res, nil
	}

	a1 := make([]float64, len(keep))
	a2 := make([]float64, len(keep))
	for i, row := range keep {
		a1[i] = asc1[row]
		a2[i] = asc2[row]
	}
	w := ascWeights(a1, a2, cfg.WeightCap)

	y := make([]float64, len(keep))
	for i := range y {
		y[i] = math.Log(a1[i]/a2[i]) * math.Sqrt(w[i])
	}
	x := pickColumns(g, alive)
	for i := range w {
		sw := math.Sqrt(w[i])
		for j := 0; j < len(alive); j++ {
			x.Set(i, j, x.At(i, j)*sw)
		}
	}

	fit, err := LeastSquares(mat.NewDense(len(keep), 1, y), x, uniformSampleSizes(len(alive), len(keep)))
	if err != nil {
		return nil, err
	}
	for i, p := range alive {
		res.Beta[p] = fit.Beta.At(0, i)
		res.SE[p] = fit.SE.At(0, i)
	}
	return res, nil
}

// ascWeights computes per-observation precision weights
// asc1·asc2/(asc1+asc2), then clips them at min(w) times
// min(capFold, ⌊n/10⌋) so that no single deep-coverage sample
// dominates the fit. With fewer than 10 observations the clip level
// is zero and every weight collapses to zero, leaving the regressor
// to report NaN.
func ascWeights(a1, a2 []float64, capFold float64) []float64 {
	w := make([]float64, len(a1))
	for i := range w {
		w[i] = a1[i] * a2[i] / (a1[i] + a2[i])
	}
	fold := math.Min(capFold, math.Floor(float64(len(w))/10))
	cutoff := floats.Min(w) * fold
	for i := range w {
		if w[i] > cutoff {
			w[i] = cutoff
		}
	}
	return w
}

// poolEstimates combines the two haplotype-coefficient estimates of
// the same fold change into one, weighting each by its inverse
// variance.
func poolEstimates(b1, se1, b2, se2 float64) (float64, float64) {
	w1 := 1 / (se1 * se1)
	w2 := 1 / (se2 * se2)
	return (w1*b1 + w2*b2) / (w1 + w2), math.Sqrt(1 / (w1 + w2))
}

func filterRows(m *mat.Dense, keep []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(keep), cols, nil)
	for i, row := range keep {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(row, j))
		}
	}
	return out
}

func pickColumns(m *mat.Dense, cols []int) *mat.Dense {
	rows, _ := m.Dims()
	out := mat.NewDense(rows, len(cols), nil)
	for j, src := range cols {
		for i := 0; i < rows; i++ {
			out.Set(i, j, m.At(i, src))
		}
	}
	return out
}

func columnVariance(m *mat.Dense, col int) float64 {
	rows, _ := m.Dims()
	buf := make([]float64, rows)
	mat.Col(buf, col, m)
	return stat.Variance(buf, nil)
}

func uniformSampleSizes(nvar, samples int) *mat.Dense {
	n := mat.NewDense(1, nvar, nil)
	for p := 0; p < nvar; p++ {
		n.Set(0, p, float64(samples))
	}
	return n
}
