package clickhouse

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

func parseGasUsed(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	gas, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gas used %q: %w", raw, err)
	}
	return gas, nil
}

func formatGasUsed(gas uint64) string {
	return strconv.FormatUint(gas, 10)
}

// firstSeenVersion orders rows so ReplacingMergeTree keeps the earliest
// observation of a receipt, matching the insert-once journals.
func firstSeenVersion(observedAt time.Time) uint64 {
	ms := observedAt.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return math.MaxUint64 - uint64(ms)
}
