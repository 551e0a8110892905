// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"strings"
)

// MinimalUniquePaths returns for each path the shortest suffix of its components (at least the file name)
// that distinguishes it from all the other paths. Used to name the columns of checkpoints compared side by side.
func MinimalUniquePaths(paths ...string) []string {
	split := make([][]string, len(paths))
	for ii, path := range paths {
		split[ii] = strings.Split(filepath.Clean(path), string(filepath.Separator))
	}
	suffix := func(components []string, n int) string {
		n = min(n, len(components))
		return filepath.Join(components[len(components)-n:]...)
	}

	result := make([]string, len(paths))
	for ii, components := range split {
		for n := 1; n <= len(components); n++ {
			candidate := suffix(components, n)
			unique := true
			for jj, other := range split {
				if jj != ii && suffix(other, n) == candidate {
					unique = false
					break
				}
			}
			result[ii] = candidate
			if unique {
				break
			}
		}
	}
	return result
}
