package group

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/dreamware/metfield/internal/logger"
)

// Mem is one rank of an in-process group whose ranks are goroutines.
// Messages are copied between ranks, never shared.
type Mem struct {
	*endpoint
	bar *barrier
}

var _ Group = (*Mem)(nil)

// NewMem returns n linked ranks. seed fixes every rank's Random sequence.
func NewMem(n int, seed int64, log logger.Logger) []*Mem {
	if log == nil {
		log = logger.NopLogger
	}
	bar := newBarrier(n)
	ranks := make([]*Mem, n)
	for i := range ranks {
		ranks[i] = &Mem{
			endpoint: newEndpoint(i, n, seed, log.WithPrefix(fmt.Sprintf("rank[%d] ", i))),
			bar:      bar,
		}
	}
	for _, r := range ranks {
		r.deliver = func(env Envelope) error {
			ranks[env.To].box.deliver(env)
			return nil
		}
	}
	return ranks
}

// Sync waits for all ranks. Ranks that disagree on label all get ErrDesync.
func (m *Mem) Sync(label string) error {
	m.log.Debugf("sync %q", label)
	return m.bar.wait(label)
}

// Close unblocks this rank's pending receives and every rank waiting in
// Sync, all with ErrClosed. The barrier stays closed for the whole group.
func (m *Mem) Close() error {
	m.bar.close()
	return m.endpoint.Close()
}

// barrier is a reusable n-party barrier that compares labels per round.
type barrier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	n        int
	count    int
	gen      uint64
	label    string
	mismatch bool
	closed   bool
	// result of the last completed round
	lastMismatch bool
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait(label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.count == 0 {
		b.label = label
	} else if label != b.label {
		b.mismatch = true
	}
	b.count++
	gen := b.gen
	if b.count == b.n {
		b.lastMismatch = b.mismatch
		b.count, b.mismatch = 0, false
		b.gen++
		b.cond.Broadcast()
	} else {
		for gen == b.gen && !b.closed {
			b.cond.Wait()
		}
		if gen == b.gen {
			return ErrClosed
		}
	}
	if b.lastMismatch {
		return errors.Wrapf(ErrDesync, "sync labels disagree in round %d", gen)
	}
	return nil
}

func (b *barrier) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
