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

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// PermutationIndexes returns a samples×replicates matrix (row-major)
// whose columns are independent permutations of 0..samples-1, drawn
// from a generator seeded with seed. The same seed always produces
// the same matrix.
func PermutationIndexes(replicates, samples int, seed uint64) []int32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]int32, samples*replicates)
	for k := 0; k < replicates; k++ {
		for i, j := range rng.Perm(samples) {
			out[i*replicates+k] = int32(j)
		}
	}
	return out
}

type permutecmd struct{}

func (cmd *permutecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	replicates := flags.Int("replicates", 1000, "number of permutation replicates")
	samples := flags.Int("samples", 0, "number of samples (`N`) to permute")
	seed := flags.Uint64("seed", 1, "random seed")
	outputFilename := flags.String("o", "permutations.npy", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *samples < 1 {
		err = fmt.Errorf("invalid -samples=%d", *samples)
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	out := PermutationIndexes(*replicates, *samples, *seed)
	err = writeNumpyInt32(*outputFilename, out, *samples, *replicates)
	if err != nil {
		return 1
	}
	return 0
}
