package batch

import "github.com/sells-group/taxid-cli/internal/model"

// Distribute assigns item i to worker i mod n. Each queue keeps the
// representative order. n below one is treated as one.
func Distribute(items []model.InputRecord, n int) [][]model.InputRecord {
	n = max(n, 1)
	queues := make([][]model.InputRecord, n)
	for i, item := range items {
		queues[i%n] = append(queues[i%n], item)
	}
	return queues
}
