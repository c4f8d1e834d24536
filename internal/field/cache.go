package field

import (
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/metfield/internal/storage"
)

// Save writes v's binary record to s under key. Only fields flagged
// cacheable are saved.
func Save(s storage.Store, key string, v Variable) error {
	if !v.Base().Cacheable() {
		return errors.Wrapf(ErrNotCacheable, "%s", key)
	}
	data, err := v.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	return s.Put(key, data)
}

// Restore reads key from s into v. A record whose expiration is at or
// before now is discarded, v is cleared and ErrExpired returned.
func Restore(s storage.Store, key string, v Variable, now time.Time) error {
	data, err := s.Get(key)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	if err := v.UnmarshalBinary(data); err != nil {
		v.Clear()
		return errors.Wrapf(err, "decoding %s", key)
	}
	if v.Base().Expired(now) {
		v.Clear()
		return errors.Wrapf(ErrExpired, "%s", key)
	}
	// restored data came from a cache, so it may go back into one
	v.Base().SetCacheable()
	return nil
}
