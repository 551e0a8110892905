// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for the command line: a progress bar, model configuration
// settings given as flags and reports.
package commandline

import (
	"fmt"
	"math"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"gonum.org/v1/gonum/floats"
)

// SprintPerplexities returns a table with the perplexity of each named text, followed by the mean.
// Names and perplexities must have the same length.
func SprintPerplexities(names []string, perplexities []float64) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("Text", "Perplexity").
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 1 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	for ii, name := range names {
		table.Row(name, formatPerplexity(perplexities[ii]))
	}
	if len(perplexities) > 1 {
		table.Row("mean", formatPerplexity(floats.Sum(perplexities)/float64(len(perplexities))))
	}
	return table.String()
}

func formatPerplexity(perplexity float64) string {
	if math.IsInf(perplexity, 0) || math.IsNaN(perplexity) {
		return fmt.Sprint(perplexity)
	}
	return fmt.Sprintf("%.4f", perplexity)
}
