package group

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// PeerState is the last probe result for one rank.
type PeerState struct {
	LastCheck        time.Time // Timestamp of the last probe attempt
	Rank             int       // Rank probed
	Ready            bool      // Whether the last probe succeeded
	ConsecutiveFails int       // Failed probes since the last success
}

// ReadyProbe checks that every peer of an HTTP group answers /health
// before the first barrier. It only runs at startup: once the protocol is
// under way nothing watches for dead peers.
type ReadyProbe struct {
	checkFunc func(addr string) error
	client    *http.Client
	interval  time.Duration

	mu    sync.RWMutex
	peers map[int]*PeerState
}

// NewReadyProbe returns a probe polling every interval.
func NewReadyProbe(interval time.Duration) *ReadyProbe {
	p := &ReadyProbe{
		interval: interval,
		client:   &http.Client{Timeout: 2 * time.Second},
		peers:    make(map[int]*PeerState),
	}
	p.checkFunc = p.defaultCheck
	return p
}

// SetCheckFunction replaces the HTTP probe, for tests.
func (p *ReadyProbe) SetCheckFunction(f func(addr string) error) {
	p.checkFunc = f
}

// WaitReady polls every peer of h until all have answered once or ctx ends.
func (p *ReadyProbe) WaitReady(ctx context.Context, h *HTTP) error {
	return p.wait(ctx, h.Peers(), h.log.Infof)
}

func (p *ReadyProbe) wait(ctx context.Context, peers []string, logf func(string, ...interface{})) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if p.checkAll(peers) {
			logf("all %d peers ready", len(peers))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for peers: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *ReadyProbe) checkAll(peers []string) bool {
	all := true
	for rank, addr := range peers {
		p.mu.RLock()
		st := p.peers[rank]
		p.mu.RUnlock()
		if st != nil && st.Ready {
			continue
		}
		err := p.checkFunc(addr)

		p.mu.Lock()
		if st == nil {
			st = &PeerState{Rank: rank}
			p.peers[rank] = st
		}
		st.LastCheck = time.Now()
		if err != nil {
			st.ConsecutiveFails++
			all = false
		} else {
			st.Ready = true
			st.ConsecutiveFails = 0
		}
		p.mu.Unlock()
	}
	return all
}

// State returns a copy of the probe state for rank, or nil if never probed.
func (p *ReadyProbe) State(rank int) *PeerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.peers[rank]
	if !ok {
		return nil
	}
	c := *st
	return &c
}

func (p *ReadyProbe) defaultCheck(addr string) error {
	resp, err := p.client.Get(baseURL(addr) + "/health")
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
