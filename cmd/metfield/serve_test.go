package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/metfield/internal/logger"
)

// freeAddrs reserves n loopback ports and releases them for the ranks.
func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[i] = l.Addr().String()
		require.NoError(t, l.Close())
	}
	return addrs
}

// TestServeOverHTTP runs a three rank group over loopback HTTP, each rank
// with its own server and client, as separate processes would.
func TestServeOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("starts HTTP listeners")
	}
	rf := mustParse(t, testRunFile)
	peers := freeAddrs(t, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reports := make([][]Report, len(peers))
	var eg errgroup.Group
	for rank := range peers {
		eg.Go(func() error {
			var err error
			reports[rank], err = serve(ctx, rank, peers, peers[rank], 10*time.Second, rf, logger.NopLogger)
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for rank, reps := range reports {
		require.Len(t, reps, len(rf.Profiles), "rank %d", rank)
		for i, rep := range reps {
			assert.Equal(t, rank, rep.Rank)
			assert.Equal(t, rf.Profiles[i].Values, rep.Values, "%s on rank %d", rep.Name, rank)
			assert.Equal(t, rf.Profiles[i].Levels, rep.Levels, "%s on rank %d", rep.Name, rank)
		}
	}
	assert.Equal(t, 2, reports[0][2].Server)
}

func TestServeBadRank(t *testing.T) {
	rf := mustParse(t, testRunFile)
	_, err := serve(context.Background(), 3, []string{"127.0.0.1:1"}, "127.0.0.1:0", time.Second, rf, logger.NopLogger)
	assert.Error(t, err)
}
