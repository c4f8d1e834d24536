package field

import "github.com/pkg/errors"

var (
	// ErrNonMonotonic is returned when coordinates would stop being
	// strictly monotonic in the axis direction.
	ErrNonMonotonic = errors.New("coordinates not strictly monotonic")

	// ErrIndexOutOfRange is returned for indices or query values outside
	// an axis.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrDataUnavailable is returned when values are needed but none are
	// held locally and no server rank can supply them.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrNoDimensions is returned when an operation needs an axis that has
	// not been loaded.
	ErrNoDimensions = errors.New("no dimensions")

	// ErrServerRole is returned when the serving rank is asked to serve
	// itself or to act as a client.
	ErrServerRole = errors.New("server role violation")

	// ErrMissingAttribute is returned by Get for unknown keys.
	ErrMissingAttribute = errors.New("missing attribute")

	// ErrAllocation is returned when a record asks for an implausibly
	// large metadata buffer.
	ErrAllocation = errors.New("allocation failure")

	// ErrIncompatible is returned when two inputs being combined disagree
	// in length or coordinates.
	ErrIncompatible = errors.New("incompatible input")

	// ErrBadRecord is returned for malformed or foreign binary records.
	ErrBadRecord = errors.New("bad record")

	// ErrNotCacheable is returned when saving a field not flagged cacheable.
	ErrNotCacheable = errors.New("field not cacheable")

	// ErrExpired is returned when a restored record is past its expiration.
	ErrExpired = errors.New("cached field expired")
)
