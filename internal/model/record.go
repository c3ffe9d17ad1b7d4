// Package model defines the records that flow through an enrichment run.
package model

import "maps"

// InputRecord is one row of the input sheet. Index is assigned at load time
// and never reused; Aux carries pass-through columns the core never reads.
type InputRecord struct {
	Index int               `json:"original_index"`
	Key   string            `json:"key"`
	Aux   map[string]string `json:"aux,omitempty"`
}

// ResultRecord is the lookup result for one original index. An empty
// Identifier means no identifier was found.
type ResultRecord struct {
	Index      int               `json:"original_index"`
	InputKey   string            `json:"input_key"`
	Identifier string            `json:"identifier,omitempty"`
	Status     Status            `json:"status"`
	Note       string            `json:"note"`
	WorkerID   int               `json:"worker_id"`
	Aux        map[string]string `json:"aux,omitempty"`
}

// NewResult seeds a pending result for the given input record.
func NewResult(in InputRecord, workerID int) ResultRecord {
	return ResultRecord{
		Index:    in.Index,
		InputKey: in.Key,
		Status:   StatusPending,
		WorkerID: workerID,
		Aux:      maps.Clone(in.Aux),
	}
}

// Clone returns a deep copy of r.
func (r ResultRecord) Clone() ResultRecord {
	c := r
	c.Aux = maps.Clone(r.Aux)
	return c
}

// Indices returns the set of original indices present in results.
func Indices(results []ResultRecord) map[int]struct{} {
	set := make(map[int]struct{}, len(results))
	for _, r := range results {
		set[r.Index] = struct{}{}
	}
	return set
}
