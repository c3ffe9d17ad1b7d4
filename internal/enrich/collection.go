package enrich

import (
	"sync"

	"github.com/sells-group/taxid-cli/internal/model"
)

// Collection is the append-only result set shared by workers and the
// checkpoint writer. Records loaded from a previous run form its base and
// are included in every snapshot.
type Collection struct {
	mu    sync.Mutex
	base  []model.ResultRecord
	added []model.ResultRecord
}

// NewCollection returns a collection seeded with previous results.
func NewCollection(previous []model.ResultRecord) *Collection {
	base := make([]model.ResultRecord, len(previous))
	for i, r := range previous {
		base[i] = r.Clone()
	}
	return &Collection{base: base}
}

// Append records one result.
func (c *Collection) Append(r model.ResultRecord) {
	c.mu.Lock()
	c.added = append(c.added, r)
	c.mu.Unlock()
}

// Len returns how many results this run has appended.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.added)
}

// Snapshot returns previous results followed by this run's results, as a
// copy safe to persist while workers keep appending. added counts the
// records appended this run.
func (c *Collection) Snapshot() (records []model.ResultRecord, added int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ResultRecord, 0, len(c.base)+len(c.added))
	for _, r := range c.base {
		out = append(out, r.Clone())
	}
	for _, r := range c.added {
		out = append(out, r.Clone())
	}
	return out, len(c.added)
}

// Added returns a copy of this run's results only.
func (c *Collection) Added() []model.ResultRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ResultRecord, len(c.added))
	for i, r := range c.added {
		out[i] = r.Clone()
	}
	return out
}
