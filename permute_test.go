// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"os"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type permuteSuite struct{}

var _ = check.Suite(&permuteSuite{})

func (s *permuteSuite) TestColumnsArePermutations(c *check.C) {
	replicates, samples := 5, 7
	out := PermutationIndexes(replicates, samples, 42)
	c.Assert(len(out), check.Equals, samples*replicates)
	for k := 0; k < replicates; k++ {
		seen := make([]bool, samples)
		for i := 0; i < samples; i++ {
			v := out[i*replicates+k]
			c.Assert(v >= 0 && int(v) < samples, check.Equals, true)
			c.Check(seen[v], check.Equals, false)
			seen[v] = true
		}
	}
}

func (s *permuteSuite) TestSeedDeterminism(c *check.C) {
	a := PermutationIndexes(3, 20, 7)
	b := PermutationIndexes(3, 20, 7)
	c.Check(a, check.DeepEquals, b)

	d := PermutationIndexes(3, 20, 8)
	same := true
	for i := range a {
		if a[i] != d[i] {
			same = false
			break
		}
	}
	c.Check(same, check.Equals, false)
}

func (s *permuteSuite) TestPermuteCommand(c *check.C) {
	tmpdir := c.MkDir()
	exited := (&permutecmd{}).RunCommand("permute", []string{
		"-replicates=4",
		"-samples=9",
		"-seed=5",
		"-o", tmpdir + "/perm.npy",
	}, nil, os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	f, err := os.Open(tmpdir + "/perm.npy")
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{9, 4})
	data, err := npy.GetInt32()
	c.Assert(err, check.IsNil)
	c.Check(data, check.DeepEquals, PermutationIndexes(4, 9, 5))
}
