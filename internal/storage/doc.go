// Package storage holds encoded field records for the field cache and for
// save/restore within a run.
//
// # Overview
//
// A field's binary record (see the field package) is an opaque byte slice
// to this package. Stores map cache keys to records and know nothing about
// their contents, expiration or cacheability; the field package checks
// those before Put and after Get.
//
// # Implementations
//
// MemoryStore: records kept in a map guarded by sync.RWMutex
//   - Save/restore inside one process
//   - Lost on exit
//   - Values are copied in and out, so callers may reuse buffers
//
// FileStore: one file per record in a cache directory
//   - Keys are escaped with url.PathEscape and suffixed ".rec"
//   - Put writes a temporary file and renames it into place
//   - Files not ending in ".rec" are ignored by List and Stats
//
// CountingStore: wraps another Store
//   - Counts Get (and missed Get), Put and Delete calls
//   - Reported by the driver at the end of a run
//
// # Concurrency
//
// Both stores are safe for concurrent use by the goroutines of one
// process. FileStore does not lock across processes: ranks of a group
// sharing one cache directory must write distinct keys, which is the case
// when only a field's server rank saves it.
//
// # Errors
//
// ErrKeyNotFound: Get on a missing key
// ErrInvalidKey: Put with an empty key
//
// # Example
//
//	store, err := storage.NewFileStore("/var/cache/metfield")
//	if err != nil {
//	    return err
//	}
//	if err := field.Save(store, "raob/72469/2024010100", profile); err != nil {
//	    return err
//	}
package storage
