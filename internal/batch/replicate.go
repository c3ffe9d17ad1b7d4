package batch

import (
	"maps"

	"github.com/sells-group/taxid-cli/internal/model"
)

// DuplicateNote is appended to the note of every replicated clone.
const DuplicateNote = " (duplicado)"

// Replicate expands results for representatives into one record per index
// in their group. Results whose index is not a representative in dups are
// dropped, so the output length equals the sum of the group sizes of the
// representatives present in results.
//
// When rows holds the input record of a group member, its clone takes that
// row's raw key and aux values; otherwise the representative's are kept.
func Replicate(results []model.ResultRecord, dups DuplicateMap, rows map[int]model.InputRecord) []model.ResultRecord {
	out := make([]model.ResultRecord, 0, dups.Total())
	for _, r := range results {
		group, ok := dups[r.Index]
		if !ok {
			continue
		}
		for _, idx := range group {
			c := r.Clone()
			if idx != r.Index {
				c.Index = idx
				c.Note += DuplicateNote
				if in, ok := rows[idx]; ok {
					c.InputKey = in.Key
					c.Aux = maps.Clone(in.Aux)
				}
			}
			out = append(out, c)
		}
	}
	return out
}
