// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

type scancmd struct {
	trcConfig TRCConfig
	ascConfig ASCConfig
	nCutoff   int
}

func (cmd *scancmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	countsFilename := flags.String("counts", "-", "per-sample counts `file` (tsv, .gz ok; columns: sample trc libsize covariate asc1 asc2)")
	hap1Filename := flags.String("hap1", "", "haplotype 1 dosage matrix `file` (float64 .npy, samples × variants)")
	hap2Filename := flags.String("hap2", "", "haplotype 2 dosage matrix `file` (float64 .npy, samples × variants)")
	contrastFilename := flags.String("contrast", "", "haplotype contrast matrix `file` (float64 .npy, samples × variants)")
	outputFilename := flags.String("o", "-", "output `file` (tsv)")
	npyDir := flags.String("output-npy", "", "also write beta.npy and se.npy matrices to `dir`")
	flags.IntVar(&cmd.nCutoff, "n-cutoff", DefaultMetaSampleCutoff, "sample size below which the t(1) regime applies and meta-analysis is skipped")
	cmd.trcConfig.Flags(flags)
	cmd.ascConfig.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *hap1Filename == "" || *hap2Filename == "" || *contrastFilename == "" {
		err = fmt.Errorf("-hap1, -hap2, and -contrast are all required")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	var input io.ReadCloser
	if *countsFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = os.Open(*countsFilename)
		if err != nil {
			return 1
		}
		defer input.Close()
	}
	reader := io.Reader(input)
	if strings.HasSuffix(*countsFilename, ".gz") {
		var gz *pgzip.Reader
		gz, err = pgzip.NewReader(input)
		if err != nil {
			return 1
		}
		defer gz.Close()
		reader = gz
	}
	counts, err := readCountsTable(reader)
	if err != nil {
		return 1
	}
	err = input.Close()
	if err != nil {
		return 1
	}
	log.Infof("read %d samples from %s", len(counts.trc), *countsFilename)

	hap1, err := readNumpyMatrix(*hap1Filename)
	if err != nil {
		return 1
	}
	hap2, err := readNumpyMatrix(*hap2Filename)
	if err != nil {
		return 1
	}
	contrast, err := readNumpyMatrix(*contrastFilename)
	if err != nil {
		return 1
	}

	var trcRes, ascRes *MethodResult
	var th throttle
	th.Max = 2
	th.Go(func() error {
		var err error
		trcRes, err = TotalCountQTL(counts.trc, counts.libSize, counts.covariate, hap1, hap2, cmd.trcConfig)
		return err
	})
	th.Go(func() error {
		var err error
		ascRes, err = AlleleSpecificQTL(counts.asc1, counts.asc2, contrast, cmd.ascConfig)
		return err
	})
	err = th.Wait()
	if err != nil {
		return 1
	}
	log.WithFields(log.Fields{
		"trc_samples": trcRes.SampleSize,
		"asc_samples": ascRes.SampleSize,
	}).Info("fits done")

	results, err := MetaAnalyze(trcRes, ascRes, cmd.nCutoff)
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = writeAssociations(bufw, results, trcRes.SampleSize, ascRes.SampleSize)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if *npyDir != "" {
		err = writeAssociationNumpy(*npyDir, results)
		if err != nil {
			return 1
		}
	}
	return 0
}

type countsTable struct {
	sample    []string
	trc       []float64
	libSize   []float64
	covariate []float64
	asc1      []float64
	asc2      []float64
}

var countsColumns = []string{"sample", "trc", "libsize", "covariate", "asc1", "asc2"}

func readCountsTable(r io.Reader) (*countsTable, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading counts header: %w", err)
	}
	colidx := map[string]int{}
	for i, name := range header {
		colidx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range countsColumns {
		if _, ok := colidx[name]; !ok {
			return nil, fmt.Errorf("counts table is missing a %q column (have %q)", name, header)
		}
	}
	tbl := &countsTable{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		tbl.sample = append(tbl.sample, rec[colidx["sample"]])
		for _, f := range []struct {
			name string
			dst  *[]float64
		}{
			{"trc", &tbl.trc},
			{"libsize", &tbl.libSize},
			{"covariate", &tbl.covariate},
			{"asc1", &tbl.asc1},
			{"asc2", &tbl.asc2},
		} {
			v, err := strconv.ParseFloat(rec[colidx[f.name]], 64)
			if err != nil {
				return nil, fmt.Errorf("counts line %d, column %s: %w", line, f.name, err)
			}
			*f.dst = append(*f.dst, v)
		}
	}
	return tbl, nil
}

func writeAssociations(w io.Writer, results map[string][]Association, trcN, ascN int) error {
	_, err := fmt.Fprintln(w, "variant\tmethod\tbeta\tse\tstat\tstat_type\tpval\tn")
	if err != nil {
		return err
	}
	for _, method := range []string{"trc", "asc", "meta"} {
		assocs, ok := results[method]
		if !ok {
			continue
		}
		n := trcN
		switch method {
		case "asc":
			n = ascN
		case "meta":
			// the smaller method drives the gate
			if ascN < trcN {
				n = ascN
			}
		}
		for p, a := range assocs {
			_, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
				p, a.Method, tsvFloat(a.Beta), tsvFloat(a.SE), tsvFloat(a.Stat), a.StatType, tsvFloat(a.PValue), n)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func tsvFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeAssociationNumpy writes 3×P beta and se matrices, rows in
// trc, asc, meta order, with NaN rows for an absent meta.
func writeAssociationNumpy(dir string, results map[string][]Association) error {
	nvar := len(results["trc"])
	beta := make([]float64, 3*nvar)
	se := make([]float64, 3*nvar)
	for i := range beta {
		beta[i] = math.NaN()
		se[i] = math.NaN()
	}
	for row, method := range []string{"trc", "asc", "meta"} {
		for p, a := range results[method] {
			beta[row*nvar+p] = a.Beta
			se[row*nvar+p] = a.SE
		}
	}
	err := writeNumpyFloat64(dir+"/beta.npy", beta, 3, nvar)
	if err != nil {
		return err
	}
	return writeNumpyFloat64(dir+"/se.npy", se, 3, nvar)
}
