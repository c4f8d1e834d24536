package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/metfield/internal/field"
	"github.com/dreamware/metfield/internal/group"
	"github.com/dreamware/metfield/internal/logger"
	"github.com/dreamware/metfield/internal/placement"
	"github.com/dreamware/metfield/internal/storage"
)

// Report is what one rank ended up holding for one profile.
type Report struct {
	Rank     int
	Server   int
	Name     string
	Quantity string
	Units    string
	MetTime  string
	Vertical string
	Fill     float64
	Levels   []float64
	Values   []float64
	Status   field.Status
	Cached   bool
}

// runner walks a run file on one rank of a group.
type runner struct {
	g     group.Group
	rf    *RunFile
	log   logger.Logger
	store *storage.CountingStore
	reg   *placement.Registry
	now   func() time.Time
}

func newRunner(g group.Group, rf *RunFile, log logger.Logger) (*runner, error) {
	r := &runner{g: g, rf: rf, log: log, now: time.Now}

	var base storage.Store = storage.NewMemoryStore()
	if rf.CacheDir != "" {
		fs, err := storage.NewFileStore(rf.CacheDir)
		if err != nil {
			return nil, errors.Wrap(err, "opening cache")
		}
		base = fs
	}
	r.store = storage.NewCountingStore(base)

	reg, err := buildRegistry(rf, g.Size())
	if err != nil {
		return nil, err
	}
	r.reg = reg
	return r, nil
}

// buildRegistry gives every rank the same placement for the same run file.
func buildRegistry(rf *RunFile, ranks int) (*placement.Registry, error) {
	reg := placement.NewRegistry(ranks)
	names := make([]string, 0, len(rf.Profiles))
	for _, ps := range rf.Profiles {
		if ps.Server != nil {
			if err := reg.Assign(ps.Name, *ps.Server); err != nil {
				return nil, errors.Wrapf(err, "profile %q", ps.Name)
			}
		}
		names = append(names, ps.Name)
	}
	if rf.Placement == PlacementRoundRobin {
		if err := reg.Rebalance(names); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// run serves or fetches every profile in run file order. All ranks of the
// group must call it with the same run file.
func (r *runner) run() ([]Report, error) {
	reports := make([]Report, 0, len(r.rf.Profiles))
	for i := range r.rf.Profiles {
		rep, err := r.exchange(&r.rf.Profiles[i])
		if err != nil {
			return reports, errors.Wrapf(err, "profile %q", r.rf.Profiles[i].Name)
		}
		reports = append(reports, rep)
	}
	if err := r.g.Sync("end"); err != nil {
		return reports, err
	}
	ops := r.store.Ops()
	r.log.Infof("done: %d profiles, cache %d gets (%d missed), %d puts",
		len(reports), ops.Gets, ops.Misses, ops.Puts)
	return reports, nil
}

func (r *runner) exchange(ps *ProfileSpec) (Report, error) {
	server, err := r.reg.ServerFor(ps.Name)
	if err != nil {
		return Report{}, err
	}

	p := field.NewProfile(ps.Name)
	p.SetLogger(r.log)
	if err := p.BindGroup(r.g, server); err != nil {
		return Report{}, err
	}

	cached := false
	if p.IsServer() {
		if cached, err = r.prepare(ps, p); err != nil {
			return Report{}, err
		}
	}

	if err := p.Sync(); err != nil {
		return Report{}, err
	}

	drive, err := field.StartServing(p)
	if err != nil {
		return Report{}, err
	}
	if drive {
		if err := fetch(p); err != nil {
			return Report{}, err
		}
	}

	return Report{
		Rank:     r.g.ID(),
		Server:   server,
		Name:     p.Name(),
		Quantity: p.Quantity(),
		Units:    p.Units(),
		MetTime:  p.MetTime(),
		Vertical: p.Axis().Units(),
		Fill:     p.FillVal(),
		Levels:   p.Levels(),
		Values:   p.Values(),
		Status:   p.Status(),
		Cached:   cached,
	}, nil
}

// prepare fills p on its server rank, from the cache when a live record
// exists and from the run file otherwise.
func (r *runner) prepare(ps *ProfileSpec, p *field.Profile) (bool, error) {
	key := ps.cacheKey()
	now := r.now()
	err := field.Restore(r.store, key, p, now)
	if err == nil {
		r.log.Infof("%s restored from cache", key)
		return true, nil
	}
	r.log.Debugf("%s not restored: %v", key, err)

	if err := ps.build(p, now); err != nil {
		return false, err
	}
	if p.Cacheable() {
		if err := field.Save(r.store, key, p); err != nil {
			return false, err
		}
		r.log.Debugf("%s saved to cache", key)
	}
	return false, nil
}

// fetch pulls metadata and every value of p from its server.
func fetch(p *field.Profile) error {
	if !p.IsRemote() {
		return nil
	}
	if err := p.RequestMeta(); err != nil {
		return err
	}
	if err := p.ReceiveMeta(); err != nil {
		return err
	}
	if err := p.RequestData(); err != nil {
		return err
	}
	idx := make([]int, p.Len())
	for i := range idx {
		idx[i] = i
	}
	out := make([]float64, len(idx))
	if err := p.FetchPoints(idx, out, field.FetchDone); err != nil {
		return err
	}
	return p.LoadValues(out)
}

func formatValue(v, fill float64) string {
	if v == fill {
		return "missing"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// printReports writes reports as a plain listing, one block per profile.
func printReports(w io.Writer, reports []Report) {
	for _, rep := range reports {
		source := fmt.Sprintf("from rank %d", rep.Server)
		switch {
		case rep.Rank == rep.Server && rep.Cached:
			source = "served, cached"
		case rep.Rank == rep.Server:
			source = "served"
		}
		fmt.Fprintf(w, "rank %d %s %s [%s] at %s (%s) status=%s\n",
			rep.Rank, rep.Name, rep.Quantity, rep.Units, rep.MetTime, source, rep.Status)
		for i, lev := range rep.Levels {
			v := "missing"
			if i < len(rep.Values) {
				v = formatValue(rep.Values[i], rep.Fill)
			}
			fmt.Fprintf(w, "  %g %s\t%s\n", lev, rep.Vertical, v)
		}
	}
}
