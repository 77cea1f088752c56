// Package persister defines the durable storage contract for saga instances
// and locks, plus two reference implementations: an in-memory store and a
// Postgres-backed store.
package persister

import (
	"sort"

	"github.com/google/uuid"
)

// Record is the materialized saga state for one instance: an ordered
// mapping from step index to that step's serialized result, plus a flag
// set once a compensation has run successfully.
//
// Step 0 always holds the serialized initial input, so a Record with only
// step 0 populated is sufficient to resume. Keys form a contiguous prefix
// {0,1,...,N} under normal operation; gaps are tolerated on read but never
// produced on write.
type Record struct {
	ID        uuid.UUID
	States    map[uint8]string
	Cancelled bool
}

// NewRecord returns an empty Record for the given instance id.
func NewRecord(id uuid.UUID) *Record {
	return &Record{
		ID:     id,
		States: make(map[uint8]string),
	}
}

// Get returns the serialized state stored at step, if any.
func (r *Record) Get(step uint8) (string, bool) {
	s, ok := r.States[step]
	return s, ok
}

// Set stores (or overwrites) the serialized state at step.
func (r *Record) Set(step uint8, state string) {
	if r.States == nil {
		r.States = make(map[uint8]string)
	}
	r.States[step] = state
}

// Steps returns the populated step indices in ascending order.
func (r *Record) Steps() []uint8 {
	steps := make([]uint8, 0, len(r.States))
	for step := range r.States {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps
}

// LastStep returns the highest populated step index, or 0 if empty.
func (r *Record) LastStep() uint8 {
	var last uint8
	for step := range r.States {
		if step > last {
			last = step
		}
	}
	return last
}

// Clone returns a deep copy, safe to hand to a caller that may mutate it.
func (r *Record) Clone() *Record {
	clone := &Record{
		ID:        r.ID,
		States:    make(map[uint8]string, len(r.States)),
		Cancelled: r.Cancelled,
	}
	for k, v := range r.States {
		clone.States[k] = v
	}
	return clone
}
