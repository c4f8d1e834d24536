package placement

import (
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

var (
	// ErrNoRanks is returned when a registry has no ranks to place onto.
	ErrNoRanks = errors.New("no ranks to place fields on")

	// ErrUnknownField is returned by Lookup for a field never assigned.
	ErrUnknownField = errors.New("field has no assignment")

	// ErrBadRank is returned for a rank outside [0, NumRanks).
	ErrBadRank = errors.New("rank out of range")
)

// Assignment records which rank serves a field.
//
// Explicit assignments come from the run file and survive Rebalance;
// the rest are placed by the registry.
type Assignment struct {
	Field    string
	Rank     int
	Explicit bool
}

// Registry maps field names to the rank that serves them.
//
//	┌───────────────────────────────────────┐
//	│              Registry                 │
//	├───────────────────────────────────────┤
//	│  assignments: field name → rank       │
//	│  numRanks: size of the process group  │
//	├───────────────────────────────────────┤
//	│  "raob-72469" → fnv32a → % n → rank 2 │
//	└───────────────────────────────────────┘
//
// Every rank of a group builds the same registry from the same run file,
// so all ranks agree on each field's server without talking.
// Safe for concurrent use.
type Registry struct {
	assignments map[string]*Assignment
	mu          sync.RWMutex
	numRanks    int
}

// NewRegistry returns an empty registry for a group of numRanks ranks.
func NewRegistry(numRanks int) *Registry {
	return &Registry{
		assignments: make(map[string]*Assignment),
		numRanks:    numRanks,
	}
}

// NumRanks returns the group size the registry places onto.
func (r *Registry) NumRanks() int {
	return r.numRanks
}

func (r *Registry) checkRank(rank int) error {
	if r.numRanks <= 0 {
		return ErrNoRanks
	}
	if rank < 0 || rank >= r.numRanks {
		return errors.Wrapf(ErrBadRank, "rank %d, must be in range [0, %d)", rank, r.numRanks)
	}
	return nil
}

// Assign pins a field to rank, replacing any previous assignment.
func (r *Registry) Assign(field string, rank int) error {
	if field == "" {
		return errors.New("field name cannot be empty")
	}
	if err := r.checkRank(rank); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.assignments[field] = &Assignment{Field: field, Rank: rank, Explicit: true}
	return nil
}

// Remove forgets a field's assignment. Removing an unknown field is a no-op.
func (r *Registry) Remove(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.assignments, field)
}

// Lookup returns a copy of the field's assignment.
func (r *Registry) Lookup(field string) (Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[field]
	if !ok {
		return Assignment{}, errors.Wrapf(ErrUnknownField, "%q", field)
	}
	return *a, nil
}

// Assignments returns copies of every assignment ordered by field name.
func (r *Registry) Assignments() []Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Assignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b Assignment) int {
		switch {
		case a.Field < b.Field:
			return -1
		case a.Field > b.Field:
			return 1
		}
		return 0
	})
	return out
}

// HashRank returns the rank a field name hashes to, ignoring assignments.
func (r *Registry) HashRank(field string) int {
	h := fnv.New32a()
	h.Write([]byte(field))
	return int(h.Sum32() % uint32(r.numRanks))
}

// ServerFor returns the field's assigned rank, or its hash rank when it
// has none. The hash rank is not recorded.
func (r *Registry) ServerFor(field string) (int, error) {
	if r.numRanks <= 0 {
		return 0, ErrNoRanks
	}

	r.mu.RLock()
	a, ok := r.assignments[field]
	r.mu.RUnlock()

	if ok {
		return a.Rank, nil
	}
	return r.HashRank(field), nil
}

// FieldsFor returns the names of the fields assigned to rank, sorted.
func (r *Registry) FieldsFor(rank int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var fields []string
	for name, a := range r.assignments {
		if a.Rank == rank {
			fields = append(fields, name)
		}
	}
	slices.Sort(fields)
	return fields
}

// Rebalance deals fields round-robin across ranks in the order given.
// Explicit assignments are kept and do not take a turn.
func (r *Registry) Rebalance(fields []string) error {
	if r.numRanks <= 0 {
		return ErrNoRanks
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := 0
	for _, name := range fields {
		if a, ok := r.assignments[name]; ok && a.Explicit {
			continue
		}
		r.assignments[name] = &Assignment{Field: name, Rank: next % r.numRanks}
		next++
	}
	return nil
}
