package group

import (
	"sync"

	"github.com/pkg/errors"
)

// mailbox queues delivered envelopes per tag in arrival order and checks
// each (source, tag) route's sequence on take.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[Tag][]Envelope
	expect map[route]uint64
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{
		queues: make(map[Tag][]Envelope),
		expect: make(map[route]uint64),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) deliver(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[env.Tag] = append(m.queues[env.Tag], env)
	m.cond.Broadcast()
}

// take blocks until an envelope on tag from src (or from anyone when src
// is AnySource) is queued, removes it and returns it.
func (m *mailbox) take(src int, tag Tag) (Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if m.closed {
			return Envelope{}, ErrClosed
		}
		q := m.queues[tag]
		for i, env := range q {
			if src != AnySource && env.From != src {
				continue
			}
			m.queues[tag] = append(q[:i:i], q[i+1:]...)
			k := route{peer: env.From, tag: tag}
			want := m.expect[k]
			m.expect[k] = env.Seq + 1
			if env.Seq != want {
				return env, errors.Wrapf(ErrDesync, "%s from %d: seq %d, expected %d", tag, env.From, env.Seq, want)
			}
			return env, nil
		}
		m.cond.Wait()
	}
}

// pending reports how many envelopes are queued on tag.
func (m *mailbox) pending(tag Tag) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[tag])
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
