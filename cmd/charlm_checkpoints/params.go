// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"

	"github.com/gomlx/charlm/pkg/ml/context/checkpoints"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
)

// maxValueLength is the maximum length of a parameter value printed: longer values (e.g. the dictionary) are
// elided.
const maxValueLength = 60

// Params prints the parameters of all checkpoints side by side. Rows where the checkpoints differ are
// highlighted in red.
func Params(records []*checkpoints.Record, names []string) {
	numCheckpoints := len(names)
	numCols := numCheckpoints + 2

	fmt.Println(titleStyle.Render("Hyperparameters"))
	table := newPlainTableWithReds(true)

	// Build the headers row.
	headers := make([]string, 0, numCols)
	headers = append(headers, "Name", "Type")
	if numCheckpoints == 1 {
		headers = append(headers, "Value")
	} else {
		headers = append(headers, names...)
	}
	table.Table.Headers(headers...)

	// List params set on any of the checkpoints, in the order they are first seen.
	var keys []string
	for _, r := range records {
		for _, key := range r.ParamKeys() {
			if !slices.Contains(keys, key) {
				keys = append(keys, key)
			}
		}
	}

	for _, key := range keys {
		row := make([]string, numCols)
		row[0] = key
		for ii, r := range records {
			value, found := r.Param(key)
			if !found {
				continue
			}
			if row[1] == "" {
				row[1] = fmt.Sprintf("%T", value)
			}
			row[2+ii] = formatParam(key, value)
		}
		table.Row(!isAllEqual(row[2:]), row...)
	}
	fmt.Println(table.Table.Render())
}

// formatParam converts a parameter value to a string for display.
func formatParam(key string, value any) string {
	var s string
	switch {
	case value == nil:
		s = "<absent>"
	case key == charlm.ParamDictionary:
		if items, ok := value.([]string); ok {
			s = fmt.Sprintf("%d items %q", len(items), items)
		}
	}
	if s == "" {
		s = fmt.Sprintf("%v", value)
	}
	if runes := []rune(s); len(runes) > maxValueLength {
		s = string(runes[:maxValueLength-1]) + "…"
	}
	return s
}
