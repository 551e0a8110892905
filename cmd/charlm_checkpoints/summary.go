// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/gomlx/charlm/pkg/ml/context/checkpoints"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
)

// Summary prints a table with one column per checkpoint: storage format, direction, training progress and sizes.
func Summary(paths []string, records []*checkpoints.Record, names []string) {
	numCheckpoints := len(names)
	newRow := func(title string) []string {
		row := make([]string, numCheckpoints+1)
		row[0] = title
		return row
	}

	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	table.Row(append([]string{"checkpoint"}, names...)...)

	formatRow, dtypeRow, directionRow := newRow("format"), newRow("dtype"), newRow("direction")
	epochRow, lossRow := newRow("epoch"), newRow("loss")
	variablesRow, parametersRow, memoryRow, fileRow := newRow("# variables"), newRow("# parameters"),
		newRow("# bytes"), newRow("file size")
	var haveEpoch, haveLoss bool
	for ii, r := range records {
		col := ii + 1
		formatRow[col] = r.BinFormat().String()
		dtype := checkpoints.Float64
		if r.NumVariables() > 0 {
			dtype = r.Variables()[0].DType
		}
		dtypeRow[col] = dtype.String()
		if isForward, err := checkpoints.ParamAs[bool](r, charlm.ParamIsForwardLM); err == nil {
			directionRow[col] = charlm.Backward.String()
			if isForward {
				directionRow[col] = charlm.Forward.String()
			}
		}
		if epoch, err := checkpoints.ParamAs[int](r, charlm.ParamEpoch); err == nil {
			epochRow[col] = humanize.Comma(int64(epoch))
			haveEpoch = true
		}
		if loss, err := checkpoints.ParamAs[float64](r, charlm.ParamLoss); err == nil {
			lossRow[col] = fmt.Sprintf("%.4f", loss)
			haveLoss = true
		}
		variablesRow[col] = humanize.Comma(int64(r.NumVariables()))
		parametersRow[col] = humanize.Comma(int64(r.NumValues()))
		memoryRow[col] = humanize.Bytes(uint64(r.NumValues() * dtype.Size()))
		if info, err := os.Stat(paths[ii]); err == nil {
			fileRow[col] = humanize.Bytes(uint64(info.Size()))
		}
	}
	table.Row(formatRow...)
	table.Row(dtypeRow...)
	table.Row(directionRow...)
	if haveEpoch {
		table.Row(epochRow...)
	}
	if haveLoss {
		table.Row(lossRow...)
	}
	table.Row(variablesRow...)
	table.Row(parametersRow...)
	table.Row(memoryRow...)
	table.Row(fileRow...)
	fmt.Println(table.Render())
}
