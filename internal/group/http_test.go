package group

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// startHTTPGroup brings up n HTTP ranks behind httptest servers.
func startHTTPGroup(t *testing.T, n int) []*HTTP {
	t.Helper()

	// Servers must exist before ranks know their peers, so route through
	// a handler slot filled in afterwards.
	handlers := make([]http.Handler, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		i := i
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers[i].ServeHTTP(w, r)
		}))
		t.Cleanup(srv.Close)
		addrs[i] = srv.URL
	}

	ranks := make([]*HTTP, n)
	for i := range ranks {
		h, err := NewHTTP(i, addrs, nil)
		require.NoError(t, err)
		ranks[i] = h
		handlers[i] = h.Handler()
	}
	return ranks
}

func TestHTTPSendReceive(t *testing.T) {
	ranks := startHTTPGroup(t, 2)

	require.NoError(t, ranks[0].SendDoubles(1, TagValues, []float64{math.Inf(1), -0.5}))
	require.NoError(t, ranks[0].SendString(1, TagMeta, "hPa"))

	v, from, err := ranks[1].ReceiveDoubles(0, TagValues)
	require.NoError(t, err)
	assert.Equal(t, 0, from)
	assert.True(t, math.IsInf(v[0], 1))
	assert.Equal(t, -0.5, v[1])

	s, _, err := ranks[1].ReceiveString(AnySource, TagMeta)
	require.NoError(t, err)
	assert.Equal(t, "hPa", s)
}

func TestHTTPSync(t *testing.T) {
	ranks := startHTTPGroup(t, 3)

	var g errgroup.Group
	for _, r := range ranks {
		r := r
		g.Go(func() error {
			for i := 0; i < 3; i++ {
				if err := r.Sync("step"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestHTTPSyncLabelMismatch(t *testing.T) {
	ranks := startHTTPGroup(t, 2)

	var g errgroup.Group
	g.Go(func() error { return ranks[0].Sync("x") })
	g.Go(func() error { return ranks[1].Sync("y") })
	assert.True(t, errors.Is(g.Wait(), ErrDesync))
}

func TestHTTPCloseReleasesSync(t *testing.T) {
	ranks := startHTTPGroup(t, 3)
	errs := make(chan error, 2)
	go func() { errs <- ranks[0].Sync("x") }()
	go func() { errs <- ranks[1].Sync("x") }()

	// give rank 1 time to report its arrival, then abandon the round
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, ranks[0].Close())
	require.NoError(t, ranks[1].Close())
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("Sync still blocked after Close")
		}
	}
	assert.ErrorIs(t, ranks[0].Sync("x"), ErrClosed)
}

func TestHTTPRejectsUnknownKindAndTag(t *testing.T) {
	ranks := startHTTPGroup(t, 2)
	for _, body := range []string{
		`{"from":0,"to":1,"tag":1,"kind":9}`,
		`{"from":0,"to":1,"tag":42,"kind":1}`,
		`{"from":0,"to":1,"tag":1,"kind":0}`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/msg", strings.NewReader(body))
		ranks[1].Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, "Kind(9)", Kind(9).String())
	assert.Equal(t, "doubles", KindDoubles.String())
}

func TestHTTPRejectsMisroutedEnvelope(t *testing.T) {
	ranks := startHTTPGroup(t, 2)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/msg", strings.NewReader(`{"from":0,"to":0,"tag":1,"kind":1}`))
	ranks[1].Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewHTTPBadRank(t *testing.T) {
	_, err := NewHTTP(2, []string{"a", "b"}, nil)
	assert.ErrorIs(t, err, ErrBadRank)
}

func TestReadyProbe(t *testing.T) {
	ranks := startHTTPGroup(t, 2)

	p := NewReadyProbe(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.WaitReady(ctx, ranks[0]))

	st := p.State(1)
	require.NotNil(t, st)
	assert.True(t, st.Ready)
	assert.Nil(t, p.State(5))
}

func TestReadyProbeRetriesUntilPeerAnswers(t *testing.T) {
	p := NewReadyProbe(5 * time.Millisecond)
	calls := 0
	p.SetCheckFunction(func(addr string) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.wait(ctx, []string{"rank0"}, t.Logf))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, p.State(0).ConsecutiveFails)
}

func TestReadyProbeGivesUp(t *testing.T) {
	p := NewReadyProbe(5 * time.Millisecond)
	p.SetCheckFunction(func(string) error { return errors.New("down") })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.wait(ctx, []string{"a"}, t.Logf)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, p.State(0).ConsecutiveFails, 0)
}
