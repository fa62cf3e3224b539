package session

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RemainingSeconds returns max(0, timer - floor(now - start)).
func RemainingSeconds(start time.Time, timer int, now time.Time) int {
	elapsed := int64(math.Floor(now.Sub(start).Seconds()))
	remaining := int64(timer) - elapsed
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// FormatTime renders seconds as M:SS, or H:MM:SS from one hour up.
// Negative input renders as 00:00.
func FormatTime(seconds int) string {
	if seconds < 0 {
		return "00:00"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// IsTimeRunningLow reports seconds < threshold.
func IsTimeRunningLow(seconds, threshold int) bool {
	return seconds < threshold
}

// ParseTimeToSeconds parses MM:SS or HH:MM:SS. Anything else is 0.
func ParseTimeToSeconds(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		nums[i] = n
	}
	switch len(nums) {
	case 2:
		return nums[0]*60 + nums[1]
	case 3:
		return nums[0]*3600 + nums[1]*60 + nums[2]
	}
	return 0
}
