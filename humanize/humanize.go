// Package humanize formats sizes for log and progress output.
package humanize

import "fmt"

func BPS(bps uint64) string {
	switch {
	case bps > (1024 * 1024):
		return fmt.Sprintf("%.f MiB/s", float64(bps)/1024/1024)
	case bps > 1024:
		return fmt.Sprintf("%.f KiB/s", float64(bps)/1024)
	default:
		return fmt.Sprintf("%d B/s", bps)
	}
}

func Bytes(bytes uint64) string {
	switch {
	case bytes > (1024 * 1024):
		return fmt.Sprintf("%.f MiB", float64(bytes)/1024/1024)
	case bytes > 1024:
		return fmt.Sprintf("%.f KiB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// Extent formats the inclusive block range [start, end] together with its
// size in bytes, e.g. "LBA 34-66590 (33 MiB)".
func Extent(start, end uint64, blockSize uint32) string {
	return fmt.Sprintf("LBA %d-%d (%s)", start, end, Bytes((end-start+1)*uint64(blockSize)))
}
