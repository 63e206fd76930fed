package engine

import (
	"fmt"
	"math"
	"time"
)

// percentComplete returns the whole-number completion percentage,
// clamped to 0-100.
func percentComplete(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(completed) / float64(total) * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// formatSpeed renders a transfer rate as "X.XX MB/s".
func formatSpeed(deltaBytes int64, elapsed time.Duration) string {
	if elapsed <= 0 || deltaBytes < 0 {
		return "0.00 MB/s"
	}
	perSecond := float64(deltaBytes) / elapsed.Seconds()
	return fmt.Sprintf("%.2f MB/s", perSecond/(1024*1024))
}
