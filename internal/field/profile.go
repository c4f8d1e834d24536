package field

import (
	"iter"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"

	"github.com/dreamware/metfield/internal/group"
)

// LevelTolerance is the largest difference between two levels that still
// counts as the same level.
const LevelTolerance = 1e-8

// CompareMask selects what Compatible checks.
type CompareMask uint

const (
	CompareHoriz CompareMask = 1 << iota
	CompareVert
	CompareTime

	CompareStrict = CompareHoriz | CompareVert | CompareTime
)

// Profile is a physical quantity carried along one owned vertical axis.
// Once populated, the value count equals the axis length.
type Profile struct {
	Field
	axis *Axis
	vals []float64
	name string
}

var _ Variable = (*Profile)(nil)

// NewProfile returns an empty profile labelled name.
func NewProfile(name string) *Profile {
	return &Profile{Field: newField(), axis: NewAxis(), name: name}
}

func (p *Profile) Name() string        { return p.name }
func (p *Profile) SetName(name string) { p.name = name }

// Axis returns the owned vertical axis. Its quantity and units describe
// the vertical coordinate.
func (p *Profile) Axis() *Axis { return p.axis }

func (p *Profile) Len() int { return p.axis.Len() }

// Load populates both the axis and the values.
func (p *Profile) Load(coords, values []float64, flags LoadFlag) error {
	if err := p.LoadAxis(coords, flags&^LoadPrefill); err != nil {
		return err
	}
	return p.LoadValues(values)
}

// LoadAxis replaces the vertical coordinates and discards any values. With
// LoadPrefill the values start as the fill sentinel instead of absent.
func (p *Profile) LoadAxis(coords []float64, flags LoadFlag) error {
	if err := p.axis.Load(coords); err != nil {
		return err
	}
	p.vals = nil
	if flags&LoadPrefill != 0 {
		p.vals = make([]float64, len(coords))
		for i := range p.vals {
			p.vals[i] = p.fill
		}
	}
	return nil
}

// LoadValues replaces the values. A length that differs from the axis
// leaves the profile without data.
func (p *Profile) LoadValues(values []float64) error {
	if p.axis.Len() == 0 {
		p.vals = nil
		return errors.Wrap(ErrNoDimensions, "profile values before axis")
	}
	if len(values) != p.axis.Len() {
		p.vals = nil
		return errors.Wrapf(ErrIncompatible, "%d values for %d levels", len(values), p.axis.Len())
	}
	p.vals = slices.Clone(values)
	return nil
}

func (p *Profile) HasData() bool { return p.vals != nil }

func (p *Profile) checkIndex(i int) error {
	if p.vals == nil {
		return errors.Wrapf(ErrDataUnavailable, "profile %s holds no values", p.name)
	}
	if i < 0 || i >= len(p.vals) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, profile length %d", i, len(p.vals))
	}
	return nil
}

func (p *Profile) Value(i int) (float64, error) {
	if err := p.checkIndex(i); err != nil {
		return 0, err
	}
	return p.vals[i], nil
}

// SetValue stores v at i. Profile values need not be monotonic.
func (p *Profile) SetValue(i int, v float64) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	p.vals[i] = v
	return nil
}

// Values returns a copy of the local values.
func (p *Profile) Values() []float64 { return slices.Clone(p.vals) }

// Levels returns a copy of the vertical coordinates.
func (p *Profile) Levels() []float64 { return p.axis.Gridpoints() }

// Compatible reports whether p and o can be combined under mask. Vertical
// compatibility needs the same profile name, vertical quantity and units,
// and every level equal within LevelTolerance. Time compatibility needs
// the same clock and calendar string. Profiles have no horizontal extent,
// so CompareHoriz always holds.
func (p *Profile) Compatible(o *Profile, mask CompareMask) bool {
	if mask&CompareVert != 0 {
		if p.name != o.name ||
			p.axis.quantity != o.axis.quantity ||
			p.axis.units != o.axis.units ||
			p.axis.Len() != o.axis.Len() {
			return false
		}
		if !floats.EqualFunc(p.axis.vals, o.axis.vals, func(a, b float64) bool {
			return math.Abs(a-b) <= LevelTolerance
		}) {
			return false
		}
	}
	if mask&CompareTime != 0 {
		if p.time != o.time || p.metTime != o.metTime {
			return false
		}
	}
	return true
}

// Match is strict compatibility plus equal quantity, units and fill value.
func (p *Profile) Match(o *Profile) bool {
	return p.Compatible(o, CompareStrict) &&
		p.quantity == o.quantity &&
		p.units == o.units &&
		(p.fill == o.fill || (math.IsNaN(p.fill) && math.IsNaN(o.fill)))
}

// SetFillVal changes the fill sentinel and rewrites every stored value
// equal to the old one. A new sentinel equal to a real data value makes
// that value indistinguishable from missing.
func (p *Profile) SetFillVal(v float64) {
	old := p.fill
	for i, x := range p.vals {
		if x == old {
			p.vals[i] = v
		}
	}
	p.setFill(v)
}

// Transform maps every non-fill value v to v*scale + offset in newUnits,
// keeping the MKS transform able to recover SI values.
func (p *Profile) Transform(newUnits string, scale, offset float64) error {
	if err := p.rescale(newUnits, scale, offset); err != nil {
		return err
	}
	for i, v := range p.vals {
		if v == p.fill {
			continue
		}
		p.vals[i] = v*scale + offset
	}
	return nil
}

func (p *Profile) Status() Status {
	s := p.status()
	if p.axis.Len() == 0 {
		s |= StatusNoDims
	}
	if p.vals == nil {
		s |= StatusNoData
	} else if len(p.vals) != p.axis.Len() {
		s |= StatusDimMismatch
	}
	return s
}

// Clear resets metadata, axis and values.
func (p *Profile) Clear() {
	p.clearMeta()
	p.axis.Clear()
	p.vals = nil
}

// FlushData drops the values but keeps metadata and levels.
func (p *Profile) FlushData() {
	p.vals = nil
}

// Duplicate returns an unbound deep copy.
func (p *Profile) Duplicate() *Profile {
	c := &Profile{Field: p.Field, axis: p.axis.Duplicate(), vals: slices.Clone(p.vals), name: p.name}
	c.attrs = p.Attributes()
	c.grp, c.server = nil, NoServer
	return c
}

// FetchPoints copies the values at idx into out, locally or from the
// server rank. A remote fetch must follow RequestData.
func (p *Profile) FetchPoints(idx []int, out []float64, flags FetchFlag) error {
	if err := fetchPoints(&p.Field, p.vals, p.axis.Len(), idx, out, flags); err != nil {
		return err
	}
	if flags&FetchDone != 0 {
		return p.DoneServing()
	}
	return nil
}

func (p *Profile) ServeValues(client int) error {
	return serveValues(&p.Field, p.vals, client)
}

// ServeMeta sends quantity, units, calendar time, numeric time, fill and
// profile name, then the axis metadata, then the levels.
func (p *Profile) ServeMeta(client int) error {
	if err := p.checkClient(client); err != nil {
		return err
	}
	g := p.grp
	if err := p.serveScalars(g, client); err != nil {
		return err
	}
	if err := g.SendString(client, group.TagMeta, p.name); err != nil {
		return err
	}
	if err := p.axis.serveMeta(g, client); err != nil {
		return err
	}
	return g.SendDoubles(client, group.TagCoords, p.axis.vals)
}

// ReceiveMeta completes RequestMeta on a client rank. Afterwards the levels
// are held locally and values must be fetched.
func (p *Profile) ReceiveMeta() error {
	if !p.IsRemote() {
		return errors.Wrap(ErrServerRole, "ReceiveMeta on a rank that is not a client")
	}
	g, server := p.grp, p.server
	if err := p.receiveScalars(g, server); err != nil {
		return err
	}
	name, _, err := g.ReceiveString(server, group.TagMeta)
	if err != nil {
		return err
	}
	p.name = name
	if err := p.axis.receiveMeta(g, server); err != nil {
		return err
	}
	n := p.axis.Len()
	coords, _, err := g.ReceiveDoubles(server, group.TagCoords)
	if err != nil {
		return err
	}
	if len(coords) != n {
		return errors.Wrapf(ErrIncompatible, "%d levels for axis of %d", len(coords), n)
	}
	p.vals = nil
	return p.axis.Load(coords)
}

// All iterates index and value pairs of the local values.
func (p *Profile) All() iter.Seq2[int, float64] {
	return func(yield func(int, float64) bool) {
		for i, v := range p.vals {
			if !yield(i, v) {
				return
			}
		}
	}
}

func (p *Profile) MarshalBinary() ([]byte, error) {
	var w recordWriter
	p.writeHeader(&w)
	w.string(p.name)
	p.axis.writeHeader(&w)
	p.axis.writeAxis(&w)
	w.float64s(p.vals)
	return w.buf.Bytes(), nil
}

func (p *Profile) UnmarshalBinary(data []byte) error {
	r := newRecordReader(data)
	if err := p.readHeader(r); err != nil {
		return err
	}
	p.name = r.string()
	if err := p.axis.readHeader(r); err != nil {
		return err
	}
	if err := p.axis.readAxis(r); err != nil {
		return err
	}
	vals := r.float64s()
	if r.err != nil {
		return r.err
	}
	p.vals = nil
	if vals != nil {
		if err := p.LoadValues(vals); err != nil {
			return errors.Wrap(ErrBadRecord, err.Error())
		}
	}
	return r.finish()
}
