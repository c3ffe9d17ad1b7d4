package batch

import (
	"slices"

	"github.com/sells-group/taxid-cli/internal/model"
)

// Plan is the run state computed once at startup.
type Plan struct {
	Inputs         []model.InputRecord
	Previous       []model.ResultRecord
	Processed      map[int]struct{}
	Pending        []model.InputRecord
	Representative []model.InputRecord
	Duplicates     DuplicateMap
	Rows           map[int]model.InputRecord
}

// PlanOptions tunes how previous results are interpreted.
type PlanOptions struct {
	// RetryFailed drops previous ERROR and CONNECTION_ERROR rows so their
	// indices are looked up again.
	RetryFailed bool
	Key         KeyFunc
}

// NewPlan derives the pending set from inputs and previously persisted
// results, then deduplicates it. The processed set is exactly the set of
// indices present in previous.
func NewPlan(inputs []model.InputRecord, previous []model.ResultRecord, opts PlanOptions) *Plan {
	if opts.RetryFailed {
		previous = slices.DeleteFunc(slices.Clone(previous), func(r model.ResultRecord) bool {
			return r.Status.IsFailure()
		})
	}
	processed := model.Indices(previous)

	pending := make([]model.InputRecord, 0, len(inputs))
	rows := make(map[int]model.InputRecord, len(inputs))
	for _, in := range inputs {
		rows[in.Index] = in
		if _, done := processed[in.Index]; done {
			continue
		}
		pending = append(pending, in)
	}

	key := opts.Key
	if key == nil {
		key = func(s string) string { return s }
	}
	reps, dups := DedupeConsecutive(pending, key)

	return &Plan{
		Inputs:         inputs,
		Previous:       previous,
		Processed:      processed,
		Pending:        pending,
		Representative: reps,
		Duplicates:     dups,
		Rows:           rows,
	}
}

// Done reports whether nothing is left to look up.
func (p *Plan) Done() bool {
	return len(p.Pending) == 0
}

// Finalize merges previous results with this run's results expanded to
// every duplicate index.
func (p *Plan) Finalize(results []model.ResultRecord) []model.ResultRecord {
	expanded := Replicate(results, p.Duplicates, p.Rows)
	out := make([]model.ResultRecord, 0, len(p.Previous)+len(expanded))
	for _, r := range p.Previous {
		out = append(out, r.Clone())
	}
	return append(out, expanded...)
}
