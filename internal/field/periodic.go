package field

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"

	"github.com/dreamware/metfield/internal/group"
)

// Period is the span of one trip around a longitude axis, in degrees.
const Period = 360.0

// LoadFlag carries caller hints to Load.
type LoadFlag uint

const (
	// LoadPeriodic forces a longitude axis to wrap.
	LoadPeriodic LoadFlag = 1 << iota
	// LoadNotPeriodic forces a longitude axis not to wrap.
	LoadNotPeriodic
	// LoadPrefill fills a profile's values with the fill sentinel when its
	// axis is loaded.
	LoadPrefill
)

// PeriodicAxis is a longitude axis that may wrap around the globe.
type PeriodicAxis struct {
	Axis
	wraps bool
}

var _ Variable = (*PeriodicAxis)(nil)

// NewPeriodicAxis returns an empty longitude axis.
func NewPeriodicAxis() *PeriodicAxis {
	return &PeriodicAxis{Axis: Axis{Field: newField()}}
}

// Load replaces the coordinates and decides periodicity from flags.
func (p *PeriodicAxis) Load(vals []float64, flags LoadFlag) error {
	if err := p.Axis.Load(vals); err != nil {
		return err
	}
	p.SetPeriodic(flags)
	return nil
}

// SetPeriodic honours an explicit LoadPeriodic or LoadNotPeriodic hint.
// Without one, the axis wraps when stepping once more past the last point
// and folding by one period lands within a quarter step of the first.
func (p *PeriodicAxis) SetPeriodic(flags LoadFlag) {
	switch {
	case flags&LoadPeriodic != 0:
		p.wraps = true
	case flags&LoadNotPeriodic != 0:
		p.wraps = false
	default:
		p.wraps = inferPeriodic(p.vals, p.dir)
	}
}

func inferPeriodic(vals []float64, dir int) bool {
	n := len(vals)
	if n < 2 || dir == 0 {
		return false
	}
	step := vals[n-1] - vals[n-2]
	span := floats.Max(vals) - floats.Min(vals)
	if span+math.Abs(step) > Period+math.Abs(step)/4 {
		return false
	}
	next := vals[n-1] + step - float64(dir)*Period
	return math.Abs(next-vals[0]) < math.Abs(step)/4
}

func (p *PeriodicAxis) Wraps() bool { return p.wraps }

// Wrap folds v into the one-period window that starts at the first
// coordinate and extends in the axis direction: [base, base+360) on an
// increasing axis, (base-360, base] on a decreasing one.
func (p *PeriodicAxis) Wrap(v float64) float64 {
	if len(p.vals) == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	base := p.vals[0]
	d := math.Mod(v-base, Period)
	if p.dir < 0 {
		if d > 0 {
			d -= Period
		}
		if d <= -Period {
			d = 0
		}
		return base + d
	}
	if d < 0 {
		d += Period
	}
	if d >= Period {
		d = 0
	}
	return base + d
}

// WrapIndex folds i into [0, Len()) on a wrapping axis. On any other axis
// it only accepts indices already in range.
func (p *PeriodicAxis) WrapIndex(i int) (int, error) {
	n := p.n
	if i >= 0 && i < n {
		return i, nil
	}
	if !p.wraps || n == 0 {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "index %d on non-wrapping axis of %d", i, n)
	}
	return ((i % n) + n) % n, nil
}

// Bracket wraps z first on a wrapping axis. A z in the gap between the
// last point and the first point one period on returns Hi == Len() with
// NeedsWrap set.
func (p *PeriodicAxis) Bracket(z float64) (Bracket, error) {
	if !p.wraps || len(p.vals) < 2 {
		return p.Axis.Bracket(z)
	}
	z = p.Wrap(z)
	n := len(p.vals)
	if (z-p.vals[n-1])*float64(p.dir) > 0 {
		return Bracket{Lo: n - 1, Hi: n, NeedsWrap: true}, nil
	}
	return p.Axis.Bracket(z)
}

// Resolve applies WrapIndex to both ends of b.
func (p *PeriodicAxis) Resolve(b Bracket) (lo, hi int, err error) {
	if lo, err = p.WrapIndex(b.Lo); err != nil {
		return 0, 0, err
	}
	if hi, err = p.WrapIndex(b.Hi); err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// Duplicate returns an unbound deep copy.
func (p *PeriodicAxis) Duplicate() *PeriodicAxis {
	return &PeriodicAxis{Axis: *p.Axis.Duplicate(), wraps: p.wraps}
}

func (p *PeriodicAxis) Clear() {
	p.Axis.Clear()
	p.wraps = false
}

func (p *PeriodicAxis) ServeMeta(client int) error {
	if err := p.checkClient(client); err != nil {
		return err
	}
	if err := p.serveMeta(p.grp, client); err != nil {
		return err
	}
	w := 0
	if p.wraps {
		w = 1
	}
	return p.grp.SendInts(client, group.TagDims, []int{w})
}

func (p *PeriodicAxis) ReceiveMeta() error {
	if err := p.Axis.ReceiveMeta(); err != nil {
		return err
	}
	w, _, err := p.grp.ReceiveInts(p.server, group.TagDims)
	if err != nil {
		return err
	}
	p.wraps = slices.Equal(w, []int{1})
	return nil
}

func (p *PeriodicAxis) MarshalBinary() ([]byte, error) {
	var w recordWriter
	p.writeHeader(&w)
	p.writeAxis(&w)
	wraps := 0
	if p.wraps {
		wraps = 1
	}
	w.int32(wraps)
	return w.buf.Bytes(), nil
}

func (p *PeriodicAxis) UnmarshalBinary(data []byte) error {
	r := newRecordReader(data)
	if err := p.readHeader(r); err != nil {
		return err
	}
	if err := p.readAxis(r); err != nil {
		return err
	}
	p.wraps = r.int32() == 1
	return r.finish()
}
