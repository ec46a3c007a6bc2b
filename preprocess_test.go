// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type preprocessSuite struct{}

var _ = check.Suite(&preprocessSuite{})

// simulated total counts: variant 0 has a real effect, variant 1 is
// monomorphic. The monomorphic slot must come back NaN without
// disturbing alignment, and the effect estimate must be positive.
func (s *preprocessSuite) TestTotalCountEffectAndMonomorphic(c *check.C) {
	rnd := rand.New(rand.NewSource(1))
	nobs := 100
	trueBeta := 0.4
	lib := 50000.0

	trc := make([]float64, nobs)
	libSize := make([]float64, nobs)
	covariate := make([]float64, nobs)
	hap1 := mat.NewDense(nobs, 2, nil)
	hap2 := mat.NewDense(nobs, 2, nil)
	for i := 0; i < nobs; i++ {
		h1 := float64(rnd.Intn(2))
		h2 := float64(rnd.Intn(2))
		hap1.Set(i, 0, h1)
		hap2.Set(i, 0, h2)
		libSize[i] = lib
		trc[i] = 2 * lib * math.Exp(trueBeta*(h1+h2)+0.05*rnd.NormFloat64())
	}

	res, err := TotalCountQTL(trc, libSize, covariate, hap1, hap2, DefaultTRCConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.SampleSize, check.Equals, nobs)
	c.Check(len(res.Beta), check.Equals, 2)
	c.Check(math.IsNaN(res.Beta[1]), check.Equals, true)
	c.Check(math.IsNaN(res.SE[1]), check.Equals, true)
	c.Check(res.Beta[0] > 0, check.Equals, true)
	near(c, res.Beta[0], trueBeta, 0.1)
	c.Check(res.SE[0] > 0, check.Equals, true)
}

func (s *preprocessSuite) TestTotalCountFiltering(c *check.C) {
	trc := []float64{1000, 5, 0, 1200, 900, 1100, 800}
	libSize := []float64{1e5, 1e5, 1e5, 1e5, 1e5, 1e5, 1e5}
	covariate := make([]float64, 7)
	hap1 := mat.NewDense(7, 1, []float64{1, 1, 0, 0, 1, 0, 1})
	hap2 := mat.NewDense(7, 1, []float64{0, 1, 1, 1, 0, 0, 1})

	res, err := TotalCountQTL(trc, libSize, covariate, hap1, hap2, DefaultTRCConfig())
	c.Assert(err, check.IsNil)
	// count 5 is below the cutoff, count 0 has no log
	c.Check(res.SampleSize, check.Equals, 5)
	c.Check(math.IsNaN(res.Beta[0]), check.Equals, false)
}

func (s *preprocessSuite) TestTotalCountSmallSampleGate(c *check.C) {
	trc := []float64{1000, 1200, 5, 3}
	libSize := []float64{1e5, 1e5, 1e5, 1e5}
	covariate := make([]float64, 4)
	hap1 := mat.NewDense(4, 1, []float64{1, 0, 1, 0})
	hap2 := mat.NewDense(4, 1, []float64{0, 1, 0, 1})

	res, err := TotalCountQTL(trc, libSize, covariate, hap1, hap2, DefaultTRCConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.SampleSize, check.Equals, 2)
	c.Check(math.IsNaN(res.Beta[0]), check.Equals, true)
	c.Check(math.IsNaN(res.SE[0]), check.Equals, true)
}

func (s *preprocessSuite) TestTotalCountSingleHaplotypeFallback(c *check.C) {
	rnd := rand.New(rand.NewSource(2))
	nobs := 40
	trc := make([]float64, nobs)
	libSize := make([]float64, nobs)
	covariate := make([]float64, nobs)
	hap1 := mat.NewDense(nobs, 1, nil)
	hap2 := mat.NewDense(nobs, 1, nil) // constant: degenerate column
	for i := 0; i < nobs; i++ {
		h1 := float64(rnd.Intn(2))
		hap1.Set(i, 0, h1)
		libSize[i] = 1e5
		trc[i] = 2 * 1e5 * math.Exp(0.3*h1+0.05*rnd.NormFloat64())
	}
	res, err := TotalCountQTL(trc, libSize, covariate, hap1, hap2, DefaultTRCConfig())
	c.Assert(err, check.IsNil)
	c.Check(math.IsNaN(res.Beta[0]), check.Equals, false)
	near(c, res.Beta[0], 0.3, 0.1)
}

// balanced allele counts mean zero allelic imbalance: every
// estimable variant must come back with a slope of exactly zero.
func (s *preprocessSuite) TestAlleleSpecificBalancedCounts(c *check.C) {
	asc1 := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 15, 25}
	asc2 := append([]float64(nil), asc1...)
	genotype := mat.NewDense(12, 2, nil)
	for i := 0; i < 12; i++ {
		genotype.Set(i, 0, float64(i%3-1)) // -1, 0, 1
		genotype.Set(i, 1, 1)              // constant: degenerate
	}
	res, err := AlleleSpecificQTL(asc1, asc2, genotype, DefaultASCConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.SampleSize, check.Equals, 12)
	c.Check(res.Beta[0], check.Equals, 0.0)
	c.Check(math.IsNaN(res.Beta[1]), check.Equals, true)
}

func (s *preprocessSuite) TestAlleleSpecificCountFilter(c *check.C) {
	// counts outside [cutoff, cap] on either haplotype drop the row
	asc1 := []float64{2, 10, 6000, 20, 30, 40, 50, 60, 70, 80, 90, 100, 15}
	asc2 := []float64{10, 3, 20, 20, 30, 40, 50, 60, 70, 80, 90, 100, 15}
	genotype := mat.NewDense(13, 1, []float64{1, -1, 0, 1, -1, 0, 1, -1, 0, 1, -1, 0, 1})
	res, err := AlleleSpecificQTL(asc1, asc2, genotype, DefaultASCConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.SampleSize, check.Equals, 10)
}

func (s *preprocessSuite) TestAlleleSpecificRecoversEffect(c *check.C) {
	rnd := rand.New(rand.NewSource(3))
	nobs := 50
	trueBeta := 0.5
	asc1 := make([]float64, nobs)
	asc2 := make([]float64, nobs)
	genotype := mat.NewDense(nobs, 1, nil)
	for i := 0; i < nobs; i++ {
		g := float64(rnd.Intn(3) - 1)
		genotype.Set(i, 0, g)
		base := 50 + 20*rnd.Float64()
		asc2[i] = base
		asc1[i] = base * math.Exp(trueBeta*g+0.05*rnd.NormFloat64())
	}
	res, err := AlleleSpecificQTL(asc1, asc2, genotype, DefaultASCConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.SampleSize, check.Equals, nobs)
	near(c, res.Beta[0], trueBeta, 0.1)
	c.Check(res.SE[0] > 0, check.Equals, true)
}

// under 10 observations the weight clip level is zero, so the
// weighted design degenerates and the fit reports NaN while the
// sample size is still surfaced.
func (s *preprocessSuite) TestAlleleSpecificTinySampleWeights(c *check.C) {
	asc1 := []float64{10, 20, 30, 40, 50}
	asc2 := []float64{12, 18, 33, 37, 52}
	genotype := mat.NewDense(5, 1, []float64{1, -1, 0, 1, -1})
	res, err := AlleleSpecificQTL(asc1, asc2, genotype, DefaultASCConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.SampleSize, check.Equals, 5)
	c.Check(math.IsNaN(res.Beta[0]), check.Equals, true)
}

func (s *preprocessSuite) TestWeightCapBound(c *check.C) {
	rnd := rand.New(rand.NewSource(4))
	nobs := 30
	a1 := make([]float64, nobs)
	a2 := make([]float64, nobs)
	for i := range a1 {
		a1[i] = 5 + 4000*rnd.Float64()
		a2[i] = 5 + 4000*rnd.Float64()
	}
	w := ascWeights(a1, a2, DefaultASCWeightCap)
	bound := floats.Min(w) * math.Min(DefaultASCWeightCap, math.Floor(float64(nobs)/10))
	c.Check(floats.Max(w) <= bound, check.Equals, true)
}

func (s *preprocessSuite) TestPreprocessorDimensionMismatch(c *check.C) {
	_, err := TotalCountQTL(
		[]float64{1, 2, 3}, []float64{1, 2}, []float64{0, 0, 0},
		mat.NewDense(3, 1, nil), mat.NewDense(3, 1, nil), DefaultTRCConfig())
	c.Check(err, check.NotNil)

	_, err = AlleleSpecificQTL(
		[]float64{1, 2, 3}, []float64{1, 2, 3},
		mat.NewDense(4, 1, nil), DefaultASCConfig())
	c.Check(err, check.NotNil)
}
