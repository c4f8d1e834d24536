// Package placement decides which rank of a process group serves each
// field.
//
// # Overview
//
// A field is served by exactly one rank. The run file may name that rank
// explicitly; otherwise the Registry places the field by one of two
// policies:
//
//	hash          fnv32a(name) % ranks, stable across runs and group members
//	round-robin   fields dealt over ranks 0, 1, ... in run file order
//
// Placement is computed, not negotiated. Each rank builds its own Registry
// from the same inputs and arrives at the same answer.
//
// # Example
//
//	reg := placement.NewRegistry(g.Size())
//	_ = reg.Assign("raob-72469", 0)
//	if err := reg.Rebalance(names); err != nil {
//	    return err
//	}
//	server, err := reg.ServerFor("raob-72520")
//
// # Errors
//
// ErrNoRanks: the registry was built for an empty group
// ErrBadRank: an explicit rank outside the group
// ErrUnknownField: Lookup of a field with no assignment
package placement
