package metrics

import (
	"sort"
	"strconv"
)

// StatusBucket is the number of responses that ended with one status code.
type StatusBucket struct {
	Code  string
	Count int64
}

// FlattenStatusCodes converts a code->count map into rows sorted by descending
// count, then by numeric code for stability.
func FlattenStatusCodes(codes map[string]int64) []StatusBucket {
	if len(codes) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(codes))
	for code, count := range codes {
		rows = append(rows, StatusBucket{Code: code, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return codeLess(rows[i].Code, rows[j].Code)
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

func codeLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}
