// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// readNumpyMatrix loads a 2-dimensional float64 .npy file into a
// row-major dense matrix.
func readNumpyMatrix(fnm string) (*mat.Dense, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(bufio.NewReaderSize(f, 1<<26))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(npy.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2-dimensional array, got shape %v", fnm, npy.Shape)
	}
	data, err := npy.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	rows, cols := npy.Shape[0], npy.Shape[1]
	if npy.ColumnMajor {
		rowmajor := make([]float64, len(data))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				rowmajor[i*cols+j] = data[j*rows+i]
			}
		}
		data = rowmajor
	}
	return mat.NewDense(rows, cols, data), nil
}

func writeNumpyFloat64(fnm string, out []float64, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	npw.WriteFloat64(out)
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func writeNumpyInt32(fnm string, out []int32, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 4,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	npw.WriteInt32(out)
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
