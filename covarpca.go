// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// covariatePCA reduces a samples×genes expression matrix to its
// leading principal components, for use as regression covariates
// upstream of the scan command.
type covariatePCA struct{}

func (cmd *covariatePCA) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "expression matrix `file` (float64 .npy, samples × genes)")
	outputFilename := flags.String("o", "covariates.npy", "output `file`")
	components := flags.Int("components", 4, "number of components")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *inputFilename == "" {
		err = fmt.Errorf("-i is required")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	log.Print("reading")
	expr, err := readNumpyMatrix(*inputFilename)
	if err != nil {
		return 1
	}
	mtx := mat.Matrix(expr.T())

	log.Print("fitting")
	transformer := nlp.NewPCA(*components)
	transformer.Fit(mtx)
	log.Print("transforming")
	mtx, err = transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	mtx = mtx.T()

	rows, cols := mtx.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = mtx.At(i, j)
		}
	}
	err = writeNumpyFloat64(*outputFilename, out, rows, cols)
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}
