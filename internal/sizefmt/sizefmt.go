// Package sizefmt renders byte counts for chat captions and status replies.
package sizefmt

import (
	"github.com/dustin/go-humanize"
)

// Format returns a human-readable size using binary units, e.g. "95 MiB".
// Negative values are clamped to zero.
func Format(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// Reduction returns how much smaller out is than orig, as a percentage.
// A zero or negative original size yields 0. The result is negative when
// the output grew.
func Reduction(orig, out int64) float64 {
	if orig <= 0 {
		return 0
	}
	return float64(orig-out) / float64(orig) * 100
}
