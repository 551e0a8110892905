// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"time"
)

var durationUnits = []struct {
	unit time.Duration
	name string
}{
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
}

// FormatDuration pretty prints duration in its largest unit, without a long list of decimal points.
// E.g.: 1.50s, 2.25h or 310.00µs.
func FormatDuration(d time.Duration) string {
	abs := d
	if abs < 0 {
		abs = -abs
	}
	for _, u := range durationUnits {
		if abs >= u.unit {
			return fmt.Sprintf("%.2f%s", float64(d)/float64(u.unit), u.name)
		}
	}
	return d.String()
}
