// Package group provides the message-passing capability that field
// containers use to share data between cooperating ranks.
//
// # Overview
//
// A Group is a fixed set of ranks numbered 0..Size()-1. Rank 0 is the root.
// Ranks exchange typed, tagged, point-to-point messages and meet at
// barriers. The field package never constructs a Group; the driver picks
// one of the implementations here and injects it.
//
// # Implementations
//
// Local: one rank, no peers.
//   - Sync is a no-op
//   - Messages sent to rank 0 are queued for later receives
//
// Mem: every rank is a goroutine in one process.
//   - NewMem(n, seed, log) returns n linked ranks
//   - Payloads are copied on send
//   - Sync is a reusable n-party barrier
//
// HTTP: every rank is a separate process.
//   - Each rank serves Handler() and knows every peer's address
//   - Sends POST a JSON envelope to the destination's /msg
//   - Rank 0 coordinates barriers through /sync and /release
//   - ReadyProbe waits for every peer's /health before the first barrier
//
// # Message Model
//
// The channel is partitioned by Tag:
//
//	GREQ     client → server  commands (DONE, WANT_META, WANT_DATA)
//	GMETA    server → client  scalar metadata
//	GDIMS    server → client  dimension sizes and direction
//	GNUM     client → server  point counts
//	GCOORDS  both             indices or coordinate values
//	GVALS    server → client  field values
//
// Each envelope carries its payload Kind and a sequence number per
// (source, destination, tag) route. Receives return ErrDesync when the
// sequence skips and ErrTypeMismatch when the kind differs from what the
// receiver asked for. Neither condition is recoverable: the two ends have
// issued different operation sequences.
//
// # Blocking
//
// Every receive and every Sync blocks until the peer reaches the matching
// point. There is no timeout and no liveness check: a rank that exits
// early leaves its partners blocked. Close unblocks a rank's own pending
// receives and its waits in Sync with ErrClosed; on Mem it releases every
// rank's Sync, since the barrier is shared. It exists for shutdown, not
// for recovery.
//
// # Example
//
//	ranks := group.NewMem(2, 1, nil)
//	go func() {
//		_ = ranks[1].SendInts(0, group.TagCount, []int{42})
//	}()
//	v, from, err := ranks[0].ReceiveInts(group.AnySource, group.TagCount)
package group
