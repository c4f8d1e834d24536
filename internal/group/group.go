package group

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/dreamware/metfield/internal/logger"
)

// AnySource lets a receive accept the oldest message on a tag from any peer.
const AnySource = -1

var (
	// ErrDesync is returned when a received envelope is not the next one
	// in sequence for its (source, tag) route.
	ErrDesync = errors.New("message sequence out of step")

	// ErrTypeMismatch is returned when a receive expects a different payload
	// kind than the sender used.
	ErrTypeMismatch = errors.New("message payload kind mismatch")

	// ErrBadRank is returned for ranks outside [0, Size()).
	ErrBadRank = errors.New("rank out of range")

	// ErrClosed is returned by receives and barriers on a closed group.
	ErrClosed = errors.New("group closed")
)

// Tag partitions the channel by message purpose.
type Tag int

const (
	TagRequest Tag = iota + 1 // GREQ
	TagMeta                   // GMETA
	TagDims                   // GDIMS
	TagCount                  // GNUM
	TagCoords                 // GCOORDS
	TagValues                 // GVALS
)

func (t Tag) String() string {
	switch t {
	case TagRequest:
		return "GREQ"
	case TagMeta:
		return "GMETA"
	case TagDims:
		return "GDIMS"
	case TagCount:
		return "GNUM"
	case TagCoords:
		return "GCOORDS"
	case TagValues:
		return "GVALS"
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

func (t Tag) valid() bool { return t >= TagRequest && t <= TagValues }

// Command is carried on TagRequest from a client to the serving rank.
type Command int

const (
	CmdDone Command = iota
	CmdWantMeta
	CmdWantData
)

func (c Command) String() string {
	switch c {
	case CmdDone:
		return "DONE"
	case CmdWantMeta:
		return "WANT_META"
	case CmdWantData:
		return "WANT_DATA"
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Group is a message-passing group of cooperating ranks.
//
// Every receive blocks until a matching message arrives. There is no
// timeout: a peer that dies leaves its partners blocked. Both ends of an
// exchange must issue matching operations in the same order.
type Group interface {
	ID() int
	Size() int
	IsRoot() bool

	// Sync blocks until every rank has called Sync with the same label.
	Sync(label string) error

	SendInts(dest int, tag Tag, v []int) error
	ReceiveInts(src int, tag Tag) ([]int, int, error)
	SendReals(dest int, tag Tag, v []float32) error
	ReceiveReals(src int, tag Tag) ([]float32, int, error)
	SendDoubles(dest int, tag Tag, v []float64) error
	ReceiveDoubles(src int, tag Tag) ([]float64, int, error)
	SendString(dest int, tag Tag, s string) error
	ReceiveString(src int, tag Tag) (string, int, error)

	Random() float64
	ProcessorCount() int
}

// Kind identifies an envelope payload.
type Kind int

const (
	KindInts Kind = iota + 1
	KindReals
	KindDoubles
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInts:
		return "ints"
	case KindReals:
		return "reals"
	case KindDoubles:
		return "doubles"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) valid() bool { return k >= KindInts && k <= KindString }

// Envelope is one point-to-point message.
type Envelope struct {
	From    int
	To      int
	Tag     Tag
	Seq     uint64
	Kind    Kind
	Ints    []int
	Reals   []float32
	Doubles []float64
	Str     string
}

type route struct {
	peer int
	tag  Tag
}

// endpoint carries the send/receive half shared by every Group
// implementation; transports supply deliver and a barrier.
type endpoint struct {
	id, size int
	box      *mailbox
	deliver  func(Envelope) error
	log      logger.Logger

	mu   sync.Mutex
	next map[route]uint64

	rngMu sync.Mutex
	rng   *rand.Rand
}

func newEndpoint(id, size int, seed int64, log logger.Logger) *endpoint {
	if log == nil {
		log = logger.NopLogger
	}
	return &endpoint{
		id:   id,
		size: size,
		box:  newMailbox(),
		log:  log,
		next: make(map[route]uint64),
		rng:  rand.New(rand.NewSource(seed + int64(id))),
	}
}

func (e *endpoint) ID() int      { return e.id }
func (e *endpoint) Size() int    { return e.size }
func (e *endpoint) IsRoot() bool { return e.id == 0 }

// ProcessorCount reports the CPUs available to this rank.
func (e *endpoint) ProcessorCount() int { return runtime.NumCPU() }

// Random returns a pseudo-random number in [0,1) from this rank's source.
func (e *endpoint) Random() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (e *endpoint) checkRank(r int) error {
	if r < 0 || r >= e.size {
		return errors.Wrapf(ErrBadRank, "rank %d not in [0,%d)", r, e.size)
	}
	return nil
}

func (e *endpoint) send(dest int, tag Tag, env Envelope) error {
	if err := e.checkRank(dest); err != nil {
		return err
	}
	e.mu.Lock()
	k := route{peer: dest, tag: tag}
	env.Seq = e.next[k]
	e.next[k]++
	e.mu.Unlock()

	env.From, env.To, env.Tag = e.id, dest, tag
	e.log.Debugf("send %s %s seq=%d to %d", tag, env.Kind, env.Seq, dest)
	return e.deliver(env)
}

func (e *endpoint) receive(src int, tag Tag, kind Kind) (Envelope, error) {
	if src != AnySource {
		if err := e.checkRank(src); err != nil {
			return Envelope{}, err
		}
	}
	env, err := e.box.take(src, tag)
	if err != nil {
		return Envelope{}, err
	}
	if env.Kind != kind {
		return env, errors.Wrapf(ErrTypeMismatch, "%s from %d: got %s, want %s", tag, env.From, env.Kind, kind)
	}
	return env, nil
}

func (e *endpoint) SendInts(dest int, tag Tag, v []int) error {
	return e.send(dest, tag, Envelope{Kind: KindInts, Ints: append([]int(nil), v...)})
}

func (e *endpoint) ReceiveInts(src int, tag Tag) ([]int, int, error) {
	env, err := e.receive(src, tag, KindInts)
	return env.Ints, env.From, err
}

func (e *endpoint) SendReals(dest int, tag Tag, v []float32) error {
	return e.send(dest, tag, Envelope{Kind: KindReals, Reals: append([]float32(nil), v...)})
}

func (e *endpoint) ReceiveReals(src int, tag Tag) ([]float32, int, error) {
	env, err := e.receive(src, tag, KindReals)
	return env.Reals, env.From, err
}

func (e *endpoint) SendDoubles(dest int, tag Tag, v []float64) error {
	return e.send(dest, tag, Envelope{Kind: KindDoubles, Doubles: append([]float64(nil), v...)})
}

func (e *endpoint) ReceiveDoubles(src int, tag Tag) ([]float64, int, error) {
	env, err := e.receive(src, tag, KindDoubles)
	return env.Doubles, env.From, err
}

func (e *endpoint) SendString(dest int, tag Tag, s string) error {
	return e.send(dest, tag, Envelope{Kind: KindString, Str: s})
}

func (e *endpoint) ReceiveString(src int, tag Tag) (string, int, error) {
	env, err := e.receive(src, tag, KindString)
	return env.Str, env.From, err
}

// Close unblocks pending receives on this rank with ErrClosed. Transports
// with a barrier also release ranks waiting in Sync.
func (e *endpoint) Close() error {
	e.box.close()
	return nil
}
