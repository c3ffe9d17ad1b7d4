package enrich

import (
	"strconv"
	"time"

	"github.com/sells-group/taxid-cli/internal/model"
)

// Summary reports the outcome of a run.
type Summary struct {
	Inputs          int
	Previous        int
	Pending         int
	LookedUp        int
	DuplicatesSaved int
	Workers         int
	WorkersFailed   int
	Incidents       int
	Interrupted     bool
	Duration        time.Duration

	// Total is the number of rows in the persisted output.
	Total int
	// Found counts rows with an identifier.
	Found    int
	ByStatus map[model.Status]int
}

// Count returns the rows with status s.
func (s *Summary) Count(st model.Status) int {
	return s.ByStatus[st]
}

// Summarize counts results by status.
func Summarize(results []model.ResultRecord) *Summary {
	s := &Summary{Total: len(results), ByStatus: make(map[model.Status]int)}
	for _, r := range results {
		s.ByStatus[r.Status]++
		if r.Identifier != "" {
			s.Found++
		}
	}
	return s
}

func itoa(n int) string { return strconv.Itoa(n) }
