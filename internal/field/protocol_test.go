package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/metfield/internal/group"
	"github.com/dreamware/metfield/internal/logger"
)

const serverRank = 1

// clientProfile binds an empty profile as a client of serverRank.
func clientProfile(t *testing.T, g group.Group) *Profile {
	t.Helper()
	p := NewProfile("")
	require.NoError(t, p.BindGroup(g, serverRank))
	return p
}

func TestProtocolProfileEcho(t *testing.T) {
	ranks := group.NewMem(2, 7, logger.NewLogfLogger(t))

	server := sounding(t)
	server.Set("station", "72469")
	require.NoError(t, server.BindGroup(ranks[serverRank], serverRank))

	client := clientProfile(t, ranks[0])
	idx := []int{4, 0, 2}
	out := make([]float64, len(idx))

	var eg errgroup.Group
	eg.Go(func() error {
		drive, err := StartServing(server)
		assert.False(t, drive)
		return err
	})
	eg.Go(func() error {
		drive, err := StartServing(client)
		if err != nil || !drive {
			return err
		}
		if err := client.RequestMeta(); err != nil {
			return err
		}
		if err := client.ReceiveMeta(); err != nil {
			return err
		}
		if err := client.RequestData(); err != nil {
			return err
		}
		return client.FetchPoints(idx, out, FetchDone)
	})
	require.NoError(t, eg.Wait())

	assert.Equal(t, []float64{253.0, 288.2, 279.4}, out)
	assert.Equal(t, "raob-72469", client.Name())
	assert.Equal(t, "air_temperature", client.Quantity())
	assert.Equal(t, "K", client.Units())
	assert.Equal(t, 8766.0, client.Time())
	assert.Equal(t, "2024-01-01T00Z", client.MetTime())
	assert.Equal(t, server.Levels(), client.Levels())
	assert.Equal(t, "air_pressure", client.Axis().Quantity())
	assert.Equal(t, "hPa", client.Axis().Units())
	assert.False(t, client.HasData())
	assert.Zero(t, client.Status()&StatusNoTime)
	assert.True(t, client.Compatible(server, CompareStrict))
}

// TestProtocolRepeatedFetches keeps the session open across several
// requests before sending DONE.
func TestProtocolRepeatedFetches(t *testing.T) {
	ranks := group.NewMem(2, 7, logger.NewLogfLogger(t))

	server := sounding(t)
	require.NoError(t, server.BindGroup(ranks[serverRank], serverRank))
	client := clientProfile(t, ranks[0])

	var got [][]float64
	var eg errgroup.Group
	eg.Go(func() error { return Listen(server, 0) })
	eg.Go(func() error {
		if err := client.RequestMeta(); err != nil {
			return err
		}
		if err := client.ReceiveMeta(); err != nil {
			return err
		}
		for i := 0; i < client.Len(); i++ {
			if err := client.RequestData(); err != nil {
				return err
			}
			out := make([]float64, 1)
			if err := client.FetchPoints([]int{i}, out, 0); err != nil {
				return err
			}
			got = append(got, out)
		}
		return client.DoneServing()
	})
	require.NoError(t, eg.Wait())

	want := server.Values()
	require.Len(t, got, len(want))
	for i, v := range want {
		assert.Equal(t, v, got[i][0])
	}
}

// TestProtocolSyncBeforeMeta has every rank meet at Sync after the server
// loads but before the client knows anything about the profile.
func TestProtocolSyncBeforeMeta(t *testing.T) {
	ranks := group.NewMem(3, 7, logger.NewLogfLogger(t))

	profiles := make([]*Profile, len(ranks))
	for r := range ranks {
		if r == serverRank {
			profiles[r] = sounding(t)
		} else {
			profiles[r] = NewProfile("")
		}
		profiles[r].SetLogger(logger.NewLogfLogger(t))
		require.NoError(t, profiles[r].BindGroup(ranks[r], serverRank))
	}

	var eg errgroup.Group
	for r := range profiles {
		p := profiles[r]
		eg.Go(func() error {
			if err := p.Sync(); err != nil {
				return err
			}
			drive, err := StartServing(p)
			if err != nil {
				return err
			}
			if drive {
				if err := p.RequestMeta(); err != nil {
					return err
				}
				if err := p.ReceiveMeta(); err != nil {
					return err
				}
				if err := p.DoneServing(); err != nil {
					return err
				}
			}
			return p.Sync()
		})
	}
	require.NoError(t, eg.Wait())

	for r, p := range profiles {
		assert.Equal(t, "air_temperature", p.Quantity(), "rank %d", r)
		assert.Equal(t, 5, p.Len(), "rank %d", r)
	}
}

func TestProtocolClientRejectsBadIndex(t *testing.T) {
	ranks := group.NewMem(2, 7, logger.NewLogfLogger(t))

	server := sounding(t)
	require.NoError(t, server.BindGroup(ranks[serverRank], serverRank))
	client := clientProfile(t, ranks[0])

	var eg errgroup.Group
	eg.Go(func() error { return Listen(server, 0) })
	eg.Go(func() error {
		if err := client.RequestMeta(); err != nil {
			return err
		}
		if err := client.ReceiveMeta(); err != nil {
			return err
		}
		// rejected before anything is sent, so the session stays aligned
		err := client.FetchPoints([]int{client.Len()}, make([]float64, 1), 0)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		return client.DoneServing()
	})
	require.NoError(t, eg.Wait())
}

// TestProtocolServerRepliesToBadIndex drives the wire directly so the
// server sees an index it does not hold.
func TestProtocolServerRepliesToBadIndex(t *testing.T) {
	ranks := group.NewMem(2, 7, logger.NewLogfLogger(t))

	server := sounding(t)
	require.NoError(t, server.BindGroup(ranks[serverRank], serverRank))

	var reply []float64
	var eg errgroup.Group
	eg.Go(func() error {
		err := server.ServeValues(0)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		return nil
	})
	eg.Go(func() error {
		c := ranks[0]
		if err := c.SendInts(serverRank, group.TagCount, []int{1}); err != nil {
			return err
		}
		if err := c.SendInts(serverRank, group.TagCoords, []int{99}); err != nil {
			return err
		}
		var err error
		reply, _, err = c.ReceiveDoubles(serverRank, group.TagValues)
		return err
	})
	require.NoError(t, eg.Wait())
	assert.Empty(t, reply)
}

func TestProtocolPeriodicAxis(t *testing.T) {
	ranks := group.NewMem(2, 3, logger.NewLogfLogger(t))

	server := loadedLon(t, globalLongitudes(), 0)
	server.SetQuantity("longitude")
	server.SetUnits("degrees_east")
	require.NoError(t, server.BindGroup(ranks[serverRank], serverRank))

	client := NewPeriodicAxis()
	require.NoError(t, client.BindGroup(ranks[0], serverRank))

	out := make([]float64, 2)
	var eg errgroup.Group
	eg.Go(func() error {
		_, err := StartServing(server)
		return err
	})
	eg.Go(func() error {
		if err := client.RequestMeta(); err != nil {
			return err
		}
		if err := client.ReceiveMeta(); err != nil {
			return err
		}
		if err := client.RequestData(); err != nil {
			return err
		}
		return client.FetchPoints([]int{0, 71}, out, FetchDone)
	})
	require.NoError(t, eg.Wait())

	assert.Equal(t, []float64{-180, 175}, out)
	assert.True(t, client.Wraps())
	assert.Equal(t, 72, client.Len())
	assert.Equal(t, 1, client.Direction())
	assert.False(t, client.HasData())
	assert.Equal(t, "degrees_east", client.Units())
}

// TestProtocolManyClients serves three clients from one rank, each
// reaching the server through AnySource in whatever order they arrive.
func TestProtocolManyClients(t *testing.T) {
	const n = 4
	ranks := group.NewMem(n, 11, logger.NewLogfLogger(t))

	vars := make([]*Axis, n)
	for r := range vars {
		if r == serverRank {
			vars[r] = loadedAxis(t, pressureLevels())
			vars[r].SetQuantity("air_pressure")
		} else {
			vars[r] = NewAxis()
		}
		require.NoError(t, vars[r].BindGroup(ranks[r], serverRank))
	}

	outs := make([][]float64, n)
	var eg errgroup.Group
	for r := range vars {
		a := vars[r]
		eg.Go(func() error {
			drive, err := StartServing(a)
			if err != nil {
				return err
			}
			if drive {
				if err := a.RequestMeta(); err != nil {
					return err
				}
				if err := a.ReceiveMeta(); err != nil {
					return err
				}
				if err := a.RequestData(); err != nil {
					return err
				}
				idx := []int{a.Len() - 1, 0}
				outs[r] = make([]float64, len(idx))
				if err := a.FetchPoints(idx, outs[r], FetchDone); err != nil {
					return err
				}
			}
			return a.Sync()
		})
	}
	require.NoError(t, eg.Wait())

	for r := range outs {
		if r == serverRank {
			assert.Nil(t, outs[r])
			continue
		}
		assert.Equal(t, []float64{100, 1000}, outs[r], "rank %d", r)
		assert.Equal(t, "air_pressure", vars[r].Quantity())
		assert.Equal(t, -1, vars[r].Direction())
	}
}
