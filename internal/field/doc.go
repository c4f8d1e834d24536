// Package field implements the meteorological data containers and the
// lock-step protocol that lets one rank of a process group serve a field's
// values to every other rank.
//
// # Overview
//
// Every container embeds Field, which carries the metadata a consumer needs
// to interpret values: physical quantity, units and the affine transform to
// SI (MKS) units, valid time in two forms, a fill sentinel, free-form
// attributes, cacheability and expiration. Variants add the data:
//
//	┌──────────────────────────────────────────┐
//	│                 Field                     │
//	│  quantity, units, MKS, time, fill, attrs  │
//	│  group binding: grp + server rank         │
//	└──────────────────────────────────────────┘
//	      ▲                ▲               ▲
//	      │                │               │
//	┌───────────┐  ┌──────────────┐  ┌───────────┐
//	│   Axis    │  │ PeriodicAxis │  │  Profile  │
//	│ monotonic │  │ Axis + wraps │  │ values on │
//	│ coords    │  │ period 360   │  │ owned Axis│
//	└───────────┘  └──────────────┘  └───────────┘
//
// # Roles
//
// A field bound with BindGroup(g, server) is in one of three roles on a
// given rank:
//
//	server   g.ID() == server: holds data, answers requests
//	client   g.ID() != server: requests metadata and values
//	local    server < 0 or no group: holds data, never talks
//
// # Session
//
// Clients and the server run a strict lock-step exchange. Both sides must
// issue matching calls in the same order:
//
//	client                          server
//	------                          ------
//	StartServing  -> true           StartServing (blocks in Listen)
//	RequestMeta   -- GREQ WANT_META ->
//	ReceiveMeta   <- GMETA, GDIMS, GCOORDS --
//	RequestData   -- GREQ WANT_DATA ->
//	FetchPoints   -- GNUM, GCOORDS ->
//	              <- GVALS --
//	DoneServing   -- GREQ DONE ->   (returns after every client is done)
//
// FetchPoints with FetchDone sends DONE after the values arrive. Index
// checks happen on the client before anything is sent, so a rejected fetch
// leaves the session aligned. A server that still receives a bad request
// replies with an empty value block and returns the error.
//
// # Records
//
// MarshalBinary writes a versioned host-native record: the header (version,
// quantity, units, MKS pair, calendar time, clock, expiration in Unix
// seconds, fill, sorted attributes) followed by the variant's own section.
// Save and Restore put records in a storage.Store for the field cache.
//
// # Errors
//
// ErrNonMonotonic: coordinates that are not strictly monotonic
// ErrIndexOutOfRange: an index or bracket query outside the axis
// ErrDataUnavailable: no local data, or no group to fetch it from
// ErrServerRole: a client-only operation on the server rank, or the reverse
// ErrBadRecord, ErrAllocation: a corrupt or oversized record
//
// # Concurrency
//
// Fields are not safe for concurrent use. Each rank owns its copy and the
// protocol serialises access between ranks.
package field
