// Package batch turns an input sheet into per-worker queues and expands the
// collected results back to every original row.
package batch

import (
	"github.com/sells-group/taxid-cli/internal/model"
)

// DuplicateMap maps a representative's original index to every original
// index in its consecutive run, the representative first.
type DuplicateMap map[int][]int

// Total returns the number of original indices covered by the map.
func (m DuplicateMap) Total() int {
	n := 0
	for _, group := range m {
		n += len(group)
	}
	return n
}

// Saved returns how many lookups the map avoids.
func (m DuplicateMap) Saved() int {
	return m.Total() - len(m)
}

// KeyFunc maps a raw input key to the key used for duplicate detection.
type KeyFunc func(string) string

// DedupeConsecutive collapses runs of adjacent records with equal keys into
// their first record. Equal keys separated by a different key start a new
// group: input is assumed to be sorted by key in blocks.
func DedupeConsecutive(pending []model.InputRecord, key KeyFunc) ([]model.InputRecord, DuplicateMap) {
	reps := make([]model.InputRecord, 0, len(pending))
	dups := make(DuplicateMap, len(pending))

	var prevKey string
	repIdx := -1
	for i, rec := range pending {
		k := key(rec.Key)
		if i == 0 || k != prevKey {
			reps = append(reps, rec)
			repIdx = rec.Index
			dups[repIdx] = []int{rec.Index}
			prevKey = k
			continue
		}
		dups[repIdx] = append(dups[repIdx], rec.Index)
	}
	return reps, dups
}
