package group

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/metfield/internal/logger"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// HTTP is one rank of a group whose ranks are separate processes that
// exchange JSON envelopes over HTTP. Rank 0 coordinates barriers.
//
// Endpoints served by Handler:
//
//	POST /msg      deliver one envelope to this rank
//	POST /sync     barrier arrival (rank 0 only)
//	POST /release  barrier release (ranks other than 0)
//	GET  /health   readiness probe
type HTTP struct {
	*endpoint
	peers []string

	mu       sync.Mutex
	cond     *sync.Cond
	gen      uint64
	arrived  map[uint64]*arrival
	released map[uint64]bool
	closed   bool
}

var _ Group = (*HTTP)(nil)

type arrival struct {
	count    int
	label    string
	mismatch bool
}

// wireEnvelope is the JSON form of Envelope. Floats travel as IEEE bits so
// NaN and infinite fill values survive the trip.
type wireEnvelope struct {
	From    int      `json:"from"`
	To      int      `json:"to"`
	Tag     Tag      `json:"tag"`
	Seq     uint64   `json:"seq"`
	Kind    Kind     `json:"kind"`
	Ints    []int    `json:"ints,omitempty"`
	Reals   []uint32 `json:"reals,omitempty"`
	Doubles []uint64 `json:"doubles,omitempty"`
	Str     string   `json:"str,omitempty"`
}

type syncRequest struct {
	From  int    `json:"from"`
	Gen   uint64 `json:"gen"`
	Label string `json:"label"`
}

type releaseRequest struct {
	Gen      uint64 `json:"gen"`
	Mismatch bool   `json:"mismatch"`
}

// NewHTTP returns rank id of a group whose members listen at peers, indexed
// by rank. Peer addresses may omit the http:// scheme.
func NewHTTP(id int, peers []string, log logger.Logger) (*HTTP, error) {
	if id < 0 || id >= len(peers) {
		return nil, errors.Wrapf(ErrBadRank, "rank %d with %d peers", id, len(peers))
	}
	if log == nil {
		log = logger.NopLogger
	}
	h := &HTTP{
		endpoint: newEndpoint(id, len(peers), time.Now().UnixNano(), log.WithPrefix(fmt.Sprintf("rank[%d] ", id))),
		peers:    make([]string, len(peers)),
		arrived:  make(map[uint64]*arrival),
		released: make(map[uint64]bool),
	}
	for i, p := range peers {
		h.peers[i] = baseURL(p)
	}
	h.cond = sync.NewCond(&h.mu)
	h.deliver = h.post
	return h, nil
}

func baseURL(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}

// Peers returns the base URL of every rank.
func (h *HTTP) Peers() []string {
	return append([]string(nil), h.peers...)
}

func (h *HTTP) post(env Envelope) error {
	w := wireEnvelope{
		From: env.From, To: env.To, Tag: env.Tag, Seq: env.Seq, Kind: env.Kind,
		Ints: env.Ints, Str: env.Str,
	}
	for _, v := range env.Reals {
		w.Reals = append(w.Reals, math.Float32bits(v))
	}
	for _, v := range env.Doubles {
		w.Doubles = append(w.Doubles, math.Float64bits(v))
	}
	if env.To == h.id {
		h.box.deliver(env)
		return nil
	}
	return postJSON(context.Background(), h.peers[env.To]+"/msg", w)
}

// Sync blocks until all ranks reach a barrier. Rank 0 counts arrivals and
// releases everyone once the round is complete.
func (h *HTTP) Sync(label string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	gen := h.gen
	h.gen++
	h.mu.Unlock()
	h.log.Debugf("sync %q round %d", label, gen)

	var mismatch bool
	if h.id == 0 {
		h.arrive(syncRequest{From: 0, Gen: gen, Label: label})
		h.mu.Lock()
		for h.arrived[gen].count < h.size && !h.closed {
			h.cond.Wait()
		}
		if h.arrived[gen].count < h.size {
			h.mu.Unlock()
			return ErrClosed
		}
		mismatch = h.arrived[gen].mismatch
		delete(h.arrived, gen)
		h.mu.Unlock()

		for r := 1; r < h.size; r++ {
			if err := postJSON(context.Background(), h.peers[r]+"/release", releaseRequest{Gen: gen, Mismatch: mismatch}); err != nil {
				return errors.Wrapf(err, "releasing rank %d", r)
			}
		}
	} else {
		if err := postJSON(context.Background(), h.peers[0]+"/sync", syncRequest{From: h.id, Gen: gen, Label: label}); err != nil {
			return errors.Wrap(err, "barrier arrival")
		}
		h.mu.Lock()
		for {
			m, ok := h.released[gen]
			if ok {
				mismatch = m
				delete(h.released, gen)
				break
			}
			if h.closed {
				h.mu.Unlock()
				return ErrClosed
			}
			h.cond.Wait()
		}
		h.mu.Unlock()
	}
	if mismatch {
		return errors.Wrapf(ErrDesync, "sync labels disagree in round %d", gen)
	}
	return nil
}

// Close unblocks pending receives and a Sync in progress on this rank with
// ErrClosed. Later calls to Sync fail the same way.
func (h *HTTP) Close() error {
	h.mu.Lock()
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
	return h.endpoint.Close()
}

func (h *HTTP) arrive(req syncRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a := h.arrived[req.Gen]
	if a == nil {
		a = &arrival{label: req.Label}
		h.arrived[req.Gen] = a
	} else if a.label != req.Label {
		a.mismatch = true
	}
	a.count++
	h.cond.Broadcast()
}

// Handler returns the HTTP handler peers talk to.
func (h *HTTP) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/msg", h.handleMsg)
	mux.HandleFunc("/sync", h.handleSync)
	mux.HandleFunc("/release", h.handleRelease)
	return mux
}

func (h *HTTP) handleMsg(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var we wireEnvelope
	if err := json.NewDecoder(r.Body).Decode(&we); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if we.To != h.id || we.From < 0 || we.From >= h.size {
		http.Error(w, "misrouted envelope", http.StatusBadRequest)
		return
	}
	if !we.Kind.valid() || !we.Tag.valid() {
		http.Error(w, "unknown kind or tag", http.StatusBadRequest)
		return
	}
	env := Envelope{
		From: we.From, To: we.To, Tag: we.Tag, Seq: we.Seq, Kind: we.Kind,
		Ints: we.Ints, Str: we.Str,
	}
	for _, b := range we.Reals {
		env.Reals = append(env.Reals, math.Float32frombits(b))
	}
	for _, b := range we.Doubles {
		env.Doubles = append(env.Doubles, math.Float64frombits(b))
	}
	h.box.deliver(env)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.id != 0 {
		http.Error(w, "only rank 0 coordinates barriers", http.StatusBadRequest)
		return
	}
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	h.arrive(req)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.released[req.Gen] = req.Mismatch
	h.cond.Broadcast()
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func postJSON(ctx context.Context, url string, body any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return nil
}
