package field

import (
	"iter"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/metfield/internal/group"
)

// BracketTolerance is how far outside an axis a query may lie and still be
// clamped to the boundary pair.
const BracketTolerance = 1e-4

// FetchFlag modifies FetchPoints.
type FetchFlag uint

const (
	// FetchLocal reads the local buffer even when bound to a remote server.
	FetchLocal FetchFlag = 1 << iota
	// FetchDone calls DoneServing after the fetch.
	FetchDone
)

// Bracket is the adjacent index pair straddling a query value. When
// NeedsWrap is set, Hi equals the axis length and must go through
// PeriodicAxis.WrapIndex before use.
type Bracket struct {
	Lo, Hi    int
	NeedsWrap bool
}

// Axis is one ordered coordinate dimension. Values are strictly monotonic
// in the recorded direction: +1 increasing, -1 decreasing, 0 when fewer
// than two points are held.
type Axis struct {
	Field
	vals []float64
	n    int
	dir  int
}

var _ Variable = (*Axis)(nil)

// NewAxis returns an empty axis.
func NewAxis() *Axis {
	return &Axis{Field: newField()}
}

func direction(vals []float64) (int, error) {
	if len(vals) < 2 {
		return 0, nil
	}
	dir := 1
	if vals[1] < vals[0] {
		dir = -1
	}
	for i := 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		if !(d*float64(dir) > 0) {
			return 0, errors.Wrapf(ErrNonMonotonic, "at index %d (%g after %g)", i, vals[i], vals[i-1])
		}
	}
	return dir, nil
}

// Load replaces the coordinates with a copy of vals.
func (a *Axis) Load(vals []float64) error {
	dir, err := direction(vals)
	if err != nil {
		return err
	}
	a.vals = slices.Clone(vals)
	if a.vals == nil {
		a.vals = []float64{}
	}
	a.n = len(vals)
	a.dir = dir
	return nil
}

// Len is the number of points, known on clients after ReceiveMeta even
// when no values are held locally.
func (a *Axis) Len() int { return a.n }

func (a *Axis) Direction() int { return a.dir }

// HasData reports whether coordinates are held locally.
func (a *Axis) HasData() bool { return a.vals != nil }

func (a *Axis) checkIndex(i int) error {
	if a.vals == nil {
		return errors.Wrapf(ErrDataUnavailable, "axis %s holds no values", a.quantity)
	}
	if i < 0 || i >= len(a.vals) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, axis length %d", i, len(a.vals))
	}
	return nil
}

func (a *Axis) Value(i int) (float64, error) {
	if err := a.checkIndex(i); err != nil {
		return 0, err
	}
	return a.vals[i], nil
}

// SetValue replaces one coordinate, refusing values that would break
// monotonicity against either neighbour.
func (a *Axis) SetValue(i int, v float64) error {
	if err := a.checkIndex(i); err != nil {
		return err
	}
	if a.dir == 0 {
		if len(a.vals) == 1 {
			a.vals[0] = v
		}
		return nil
	}
	d := float64(a.dir)
	if i > 0 && !((v-a.vals[i-1])*d > 0) {
		return errors.Wrapf(ErrNonMonotonic, "%g at %d against %g at %d", v, i, a.vals[i-1], i-1)
	}
	if i < len(a.vals)-1 && !((a.vals[i+1]-v)*d > 0) {
		return errors.Wrapf(ErrNonMonotonic, "%g at %d against %g at %d", v, i, a.vals[i+1], i+1)
	}
	a.vals[i] = v
	return nil
}

// Gridpoints returns a copy of the local coordinates.
func (a *Axis) Gridpoints() []float64 {
	return slices.Clone(a.vals)
}

// Bracket finds the adjacent pair (i, i+1) whose values straddle z in the
// axis direction. Values within BracketTolerance outside the axis clamp to
// the boundary pair.
func (a *Axis) Bracket(z float64) (Bracket, error) {
	if a.vals == nil {
		return Bracket{}, errors.Wrap(ErrDataUnavailable, "bracket on axis without values")
	}
	n := len(a.vals)
	if n < 2 {
		return Bracket{}, errors.Wrapf(ErrIndexOutOfRange, "bracket on axis of %d points", n)
	}
	if math.IsNaN(z) {
		return Bracket{}, errors.Wrap(ErrIndexOutOfRange, "bracket on NaN")
	}
	d := float64(a.dir)
	first, last := a.vals[0], a.vals[n-1]
	switch {
	case (z-first)*d < 0:
		if math.Abs(z-first) <= BracketTolerance {
			return Bracket{Lo: 0, Hi: 1}, nil
		}
		return Bracket{}, errors.Wrapf(ErrIndexOutOfRange, "%g before axis start %g", z, first)
	case (z-last)*d > 0:
		if math.Abs(z-last) <= BracketTolerance {
			return Bracket{Lo: n - 2, Hi: n - 1}, nil
		}
		return Bracket{}, errors.Wrapf(ErrIndexOutOfRange, "%g past axis end %g", z, last)
	}
	for i := 0; i < n-1; i++ {
		if (a.vals[i+1]-z)*d >= 0 {
			return Bracket{Lo: i, Hi: i + 1}, nil
		}
	}
	return Bracket{Lo: n - 2, Hi: n - 1}, nil
}

// SetFillVal changes the fill sentinel and rewrites every stored value
// equal to the old one. A new sentinel equal to a real coordinate makes
// that coordinate indistinguishable from missing.
func (a *Axis) SetFillVal(v float64) {
	old := a.fill
	for i, x := range a.vals {
		if x == old {
			a.vals[i] = v
		}
	}
	a.setFill(v)
}

// Transform maps every coordinate v to v*scale + offset in newUnits. A
// negative scale reverses the direction.
func (a *Axis) Transform(newUnits string, scale, offset float64) error {
	if err := a.rescale(newUnits, scale, offset); err != nil {
		return err
	}
	for i := range a.vals {
		a.vals[i] = a.vals[i]*scale + offset
	}
	if scale < 0 {
		a.dir = -a.dir
	}
	return nil
}

func (a *Axis) Status() Status {
	s := a.status()
	if a.n == 0 {
		s |= StatusNoDims
	}
	if a.vals == nil {
		s |= StatusNoData
	}
	return s
}

// Clear resets metadata and coordinates.
func (a *Axis) Clear() {
	a.clearMeta()
	a.FlushData()
}

// FlushData drops the coordinates but keeps metadata.
func (a *Axis) FlushData() {
	a.vals, a.n, a.dir = nil, 0, 0
}

// Duplicate returns an unbound deep copy.
func (a *Axis) Duplicate() *Axis {
	c := &Axis{Field: a.Field, vals: slices.Clone(a.vals), n: a.n, dir: a.dir}
	c.attrs = a.Attributes()
	c.grp, c.server = nil, NoServer
	return c
}

// FetchPoints copies the values at idx into out, from the local buffer or,
// on a client rank, from the server. A remote fetch must follow RequestData.
func (a *Axis) FetchPoints(idx []int, out []float64, flags FetchFlag) error {
	if err := fetchPoints(&a.Field, a.vals, a.n, idx, out, flags); err != nil {
		return err
	}
	if flags&FetchDone != 0 {
		return a.DoneServing()
	}
	return nil
}

// fetchPoints is shared by every one-dimensional variant.
func fetchPoints(f *Field, vals []float64, n int, idx []int, out []float64, flags FetchFlag) error {
	if len(out) < len(idx) {
		return errors.Wrapf(ErrIncompatible, "%d indices into %d outputs", len(idx), len(out))
	}
	if flags&FetchLocal != 0 || !f.IsRemote() {
		if vals == nil {
			return errors.Wrapf(ErrDataUnavailable, "%s has no local data", f.quantity)
		}
		for j, i := range idx {
			if i < 0 || i >= len(vals) {
				return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(vals))
			}
			out[j] = vals[i]
		}
		return nil
	}

	for _, i := range idx {
		if i < 0 || i >= n {
			return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, n)
		}
	}
	g := f.grp
	if err := g.SendInts(f.server, group.TagCount, []int{len(idx)}); err != nil {
		return err
	}
	if err := g.SendInts(f.server, group.TagCoords, idx); err != nil {
		return err
	}
	got, _, err := g.ReceiveDoubles(f.server, group.TagValues)
	if err != nil {
		return err
	}
	if len(got) != len(idx) {
		return errors.Wrapf(ErrIndexOutOfRange, "server returned %d of %d values", len(got), len(idx))
	}
	copy(out, got)
	return nil
}

// serveValues answers one fetchPoints from client. A bad request still
// gets an (empty) reply so the client does not block.
func serveValues(f *Field, vals []float64, client int) error {
	if err := f.checkClient(client); err != nil {
		return err
	}
	g := f.grp
	cnt, _, err := g.ReceiveInts(client, group.TagCount)
	if err != nil {
		return err
	}
	idx, _, err := g.ReceiveInts(client, group.TagCoords)
	if err != nil {
		return err
	}
	var bad error
	switch {
	case vals == nil:
		bad = errors.Wrapf(ErrDataUnavailable, "server holds no %s data", f.quantity)
	case len(cnt) != 1 || cnt[0] != len(idx):
		bad = errors.Wrapf(ErrIncompatible, "count %v for %d indices", cnt, len(idx))
	}
	out := make([]float64, 0, len(idx))
	for _, i := range idx {
		if bad != nil {
			break
		}
		if i < 0 || i >= len(vals) {
			bad = errors.Wrapf(ErrIndexOutOfRange, "client %d asked for index %d of %d", client, i, len(vals))
			break
		}
		out = append(out, vals[i])
	}
	if bad != nil {
		out = nil
	}
	if err := g.SendDoubles(client, group.TagValues, out); err != nil {
		return err
	}
	return bad
}

func (a *Axis) ServeValues(client int) error {
	return serveValues(&a.Field, a.vals, client)
}

func (a *Axis) ServeMeta(client int) error {
	if err := a.checkClient(client); err != nil {
		return err
	}
	return a.serveMeta(a.grp, client)
}

// serveMeta sends scalars then dimensions. Owners of an unbound axis pass
// their own group.
func (a *Axis) serveMeta(g group.Group, client int) error {
	if err := a.serveScalars(g, client); err != nil {
		return err
	}
	return g.SendInts(client, group.TagDims, []int{a.n, a.dir})
}

// ReceiveMeta completes RequestMeta on a client rank. Afterwards Len and
// Direction are known but no coordinates are held.
func (a *Axis) ReceiveMeta() error {
	if !a.IsRemote() {
		return errors.Wrap(ErrServerRole, "ReceiveMeta on a rank that is not a client")
	}
	return a.receiveMeta(a.grp, a.server)
}

func (a *Axis) receiveMeta(g group.Group, server int) error {
	if err := a.receiveScalars(g, server); err != nil {
		return err
	}
	dims, _, err := g.ReceiveInts(server, group.TagDims)
	if err != nil {
		return err
	}
	if len(dims) != 2 {
		return errors.Wrapf(ErrIncompatible, "dimension block of %d ints", len(dims))
	}
	a.vals, a.n, a.dir = nil, dims[0], dims[1]
	return nil
}

// All iterates index and value pairs of the local coordinates.
func (a *Axis) All() iter.Seq2[int, float64] {
	return func(yield func(int, float64) bool) {
		for i, v := range a.vals {
			if !yield(i, v) {
				return
			}
		}
	}
}

func (a *Axis) MarshalBinary() ([]byte, error) {
	var w recordWriter
	a.writeHeader(&w)
	a.writeAxis(&w)
	return w.buf.Bytes(), nil
}

func (a *Axis) writeAxis(w *recordWriter) {
	w.int32(a.dir)
	w.float64s(a.vals)
}

func (a *Axis) UnmarshalBinary(data []byte) error {
	r := newRecordReader(data)
	if err := a.readHeader(r); err != nil {
		return err
	}
	if err := a.readAxis(r); err != nil {
		return err
	}
	return r.finish()
}

func (a *Axis) readAxis(r *recordReader) error {
	dir := r.int32()
	vals := r.float64s()
	if r.err != nil {
		return r.err
	}
	if err := a.Load(vals); err != nil {
		return errors.Wrap(ErrBadRecord, err.Error())
	}
	if len(vals) == 0 {
		a.FlushData()
	}
	if a.dir != dir {
		return errors.Wrapf(ErrBadRecord, "direction %d, coordinates say %d", dir, a.dir)
	}
	return nil
}
