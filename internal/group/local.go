package group

import (
	"time"

	"github.com/dreamware/metfield/internal/logger"
)

// Local is the single-process group: rank 0 of 1. Sends to self are queued
// and may be received later; Sync returns immediately.
type Local struct {
	*endpoint
}

var _ Group = (*Local)(nil)

// NewLocal returns a one-rank group.
func NewLocal(log logger.Logger) *Local {
	l := &Local{endpoint: newEndpoint(0, 1, time.Now().UnixNano(), log)}
	l.deliver = func(env Envelope) error {
		l.box.deliver(env)
		return nil
	}
	return l
}

// Sync is a no-op for a single rank.
func (l *Local) Sync(label string) error {
	return nil
}
