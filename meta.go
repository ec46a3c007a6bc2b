// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultMetaSampleCutoff is the per-method sample size at which the
// test statistic switches from the t(1) to the standard-normal
// regime, and below which a method is excluded from meta-analysis.
const DefaultMetaSampleCutoff = 15

// Association is one method's test result for one variant.
type Association struct {
	Method   string
	Beta     float64
	SE       float64
	Stat     float64
	StatType string
	PValue   float64
}

var (
	stdNormal = distuv.Normal{Mu: 0, Sigma: 1}
	studentT1 = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 1}
)

func twoSidedZ(stat float64) float64 {
	return 2 * stdNormal.Survival(math.Abs(stat))
}

func twoSidedT1(stat float64) float64 {
	return 2 * studentT1.Survival(math.Abs(stat))
}

// MetaAnalyze converts the total-count and allele-specific results
// for one variant set into per-variant test statistics and p-values,
// and, when both methods have at least nCutoff samples, adds an
// inverse-variance-weighted combined estimate under the key "meta".
// A method with fewer than nCutoff samples is tested against t with
// 1 df instead of the standard normal; when either method falls
// below the cutoff the "meta" key is absent entirely.
func MetaAnalyze(trc, asc *MethodResult, nCutoff int) (map[string][]Association, error) {
	if len(trc.Beta) != len(asc.Beta) {
		return nil, fmt.Errorf("%w: trc has %d variants, asc has %d", ErrDimensionMismatch, len(trc.Beta), len(asc.Beta))
	}
	out := map[string][]Association{
		"trc": methodAssociations("trc", trc, nCutoff),
		"asc": methodAssociations("asc", asc, nCutoff),
	}
	if trc.SampleSize < nCutoff || asc.SampleSize < nCutoff {
		return out, nil
	}
	meta := make([]Association, len(trc.Beta))
	for p := range meta {
		w1 := 1 / (trc.SE[p] * trc.SE[p])
		w2 := 1 / (asc.SE[p] * asc.SE[p])
		beta := (w1*trc.Beta[p] + w2*asc.Beta[p]) / (w1 + w2)
		se := math.Sqrt(1 / (w1 + w2))
		stat := beta / se
		meta[p] = Association{
			Method:   "meta",
			Beta:     beta,
			SE:       se,
			Stat:     stat,
			StatType: "z",
			PValue:   twoSidedZ(stat),
		}
	}
	out["meta"] = meta
	return out, nil
}

func methodAssociations(method string, r *MethodResult, nCutoff int) []Association {
	statType, pvalue := "z", twoSidedZ
	if r.SampleSize < nCutoff {
		statType, pvalue = "t", twoSidedT1
	}
	out := make([]Association, len(r.Beta))
	for p := range out {
		stat := r.Beta[p] / r.SE[p]
		out[p] = Association{
			Method:   method,
			Beta:     r.Beta[p],
			SE:       r.SE[p],
			Stat:     stat,
			StatType: statType,
			PValue:   pvalue(stat),
		}
	}
	return out
}
