// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch reports inputs whose row or column counts
// disagree. The whole batch call fails; no partial result is
// produced.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// RegressionResult holds per-(response, variant) slope estimates and
// standard errors from a batched no-intercept fit. Both matrices are
// K×P, aligned to the column order of the inputs. Cells that could
// not be estimated (zero-variance predictor, too few observations)
// are NaN.
type RegressionResult struct {
	Beta *mat.Dense
	SE   *mat.Dense
}

// BivariateResult is the two-predictor analogue of RegressionResult.
type BivariateResult struct {
	Beta1 *mat.Dense
	SE1   *mat.Dense
	Beta2 *mat.Dense
	SE2   *mat.Dense
}

// LeastSquares fits y = x*beta + e (no intercept) for every pair of
// a response column of Y (N×K) and a predictor column of X (N×P),
// using cross-product sufficient statistics only. n gives the number
// of observations behind each fit, as a K×P matrix or a 1×P row
// broadcast across responses.
func LeastSquares(Y, X, n *mat.Dense) (*RegressionResult, error) {
	rowsY, nresp := Y.Dims()
	rowsX, nvar := X.Dims()
	if rowsY != rowsX {
		return nil, fmt.Errorf("%w: Y has %d rows, X has %d", ErrDimensionMismatch, rowsY, rowsX)
	}
	if err := checkSampleSizes(n, nresp, nvar); err != nil {
		return nil, err
	}

	var sxy mat.Dense
	sxy.Mul(Y.T(), X)
	syy := columnSquares(Y)

	beta := mat.NewDense(nresp, nvar, nil)
	se := mat.NewDense(nresp, nvar, nil)
	eachColumnRange(nvar, func(lo, hi int) {
		xcol := make([]float64, rowsX)
		for p := lo; p < hi; p++ {
			mat.Col(xcol, p, X)
			sxx := floats.Dot(xcol, xcol)
			for k := 0; k < nresp; k++ {
				b, s := fitOne(sxy.At(k, p), sxx, syy[k], sampleSizeAt(n, k, p)-1)
				beta.Set(k, p, b)
				se.Set(k, p, s)
			}
		}
	})
	return &RegressionResult{Beta: beta, SE: se}, nil
}

func fitOne(sxy, sxx, syy, df float64) (beta, se float64) {
	if sxx == 0 || df <= 0 {
		return math.NaN(), math.NaN()
	}
	beta = sxy / sxx
	rss := syy - 2*beta*sxy + beta*beta*sxx
	if rss < 0 {
		// floating cancellation near a perfect fit
		rss = 0
	}
	se = math.Sqrt(rss / df / sxx)
	return beta, se
}

// LeastSquaresBivariate fits y = x1*beta1 + x2*beta2 + e (no
// intercept) for every pair of a response column of Y (N×K) and a
// predictor-column pair taken from X1 and X2 (each N×P), solving the
// 2×2 normal equations in closed form. Collinear predictor pairs and
// fits with fewer than 3 observations come back as NaN cells.
func LeastSquaresBivariate(Y, X1, X2, n *mat.Dense) (*BivariateResult, error) {
	rowsY, nresp := Y.Dims()
	rows1, nvar := X1.Dims()
	rows2, nvar2 := X2.Dims()
	if rowsY != rows1 || rowsY != rows2 {
		return nil, fmt.Errorf("%w: Y has %d rows, X1 has %d, X2 has %d", ErrDimensionMismatch, rowsY, rows1, rows2)
	}
	if nvar != nvar2 {
		return nil, fmt.Errorf("%w: X1 has %d cols, X2 has %d", ErrDimensionMismatch, nvar, nvar2)
	}
	if err := checkSampleSizes(n, nresp, nvar); err != nil {
		return nil, err
	}

	var t1, t2 mat.Dense
	t1.Mul(Y.T(), X1)
	t2.Mul(Y.T(), X2)
	syy := columnSquares(Y)

	beta1 := mat.NewDense(nresp, nvar, nil)
	se1 := mat.NewDense(nresp, nvar, nil)
	beta2 := mat.NewDense(nresp, nvar, nil)
	se2 := mat.NewDense(nresp, nvar, nil)
	eachColumnRange(nvar, func(lo, hi int) {
		x1col := make([]float64, rowsY)
		x2col := make([]float64, rowsY)
		for p := lo; p < hi; p++ {
			mat.Col(x1col, p, X1)
			mat.Col(x2col, p, X2)
			s11 := floats.Dot(x1col, x1col)
			s22 := floats.Dot(x2col, x2col)
			s12 := floats.Dot(x1col, x2col)
			// abs() guards the sign of the determinant against
			// floating error when the columns are nearly collinear
			delta := math.Abs(s11*s22 - s12*s12)
			for k := 0; k < nresp; k++ {
				df := sampleSizeAt(n, k, p) - 2
				if delta == 0 || df <= 0 {
					beta1.Set(k, p, math.NaN())
					se1.Set(k, p, math.NaN())
					beta2.Set(k, p, math.NaN())
					se2.Set(k, p, math.NaN())
					continue
				}
				u1 := t1.At(k, p)
				u2 := t2.At(k, p)
				b1 := (s22*u1 - s12*u2) / delta
				b2 := (s11*u2 - s12*u1) / delta
				rss := syy[k] - 2*b1*u1 - 2*b2*u2 + 2*b1*b2*s12 + b1*b1*s11 + b2*b2*s22
				if rss < 0 {
					rss = 0
				}
				sigma := math.Sqrt(rss / df)
				beta1.Set(k, p, b1)
				se1.Set(k, p, sigma*math.Sqrt(s22/delta))
				beta2.Set(k, p, b2)
				se2.Set(k, p, sigma*math.Sqrt(s11/delta))
			}
		}
	})
	return &BivariateResult{Beta1: beta1, SE1: se1, Beta2: beta2, SE2: se2}, nil
}

// checkSampleSizes accepts a K×P matrix or a 1×P row that broadcasts
// across responses.
func checkSampleSizes(n *mat.Dense, nresp, nvar int) error {
	rows, cols := n.Dims()
	if cols != nvar || (rows != 1 && rows != nresp) {
		return fmt.Errorf("%w: sample sizes are %d×%d, want %d×%d or 1×%d", ErrDimensionMismatch, rows, cols, nresp, nvar, nvar)
	}
	return nil
}

func sampleSizeAt(n *mat.Dense, k, p int) float64 {
	if rows, _ := n.Dims(); rows == 1 {
		return n.At(0, p)
	}
	return n.At(k, p)
}

// columnSquares returns sum(col²) for each column of m.
func columnSquares(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, cols)
	buf := make([]float64, rows)
	for j := range out {
		mat.Col(buf, j, m)
		out[j] = floats.Dot(buf, buf)
	}
	return out
}
