// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/mixqtl/mixqtl"

func main() {
	mixqtl.Main()
}
