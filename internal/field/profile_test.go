package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sounding returns a temperature profile on pressure levels.
func sounding(t *testing.T) *Profile {
	t.Helper()
	p := NewProfile("raob-72469")
	p.SetQuantity("air_temperature")
	p.SetUnits("K")
	p.SetTime(8766, "2024-01-01T00Z")
	p.Axis().SetQuantity("air_pressure")
	p.Axis().SetUnits("hPa")
	require.NoError(t, p.Load(
		[]float64{1000, 925, 850, 700, 500},
		[]float64{288.2, 283.1, 279.4, DefaultFill, 253.0},
		0,
	))
	return p
}

func TestProfileLoad(t *testing.T) {
	p := sounding(t)
	assert.Equal(t, 5, p.Len())
	assert.True(t, p.HasData())
	assert.Equal(t, []float64{1000, 925, 850, 700, 500}, p.Levels())
	v, err := p.Value(2)
	require.NoError(t, err)
	assert.Equal(t, 279.4, v)
}

func TestProfileLengthMismatchLeavesNoData(t *testing.T) {
	p := sounding(t)
	err := p.LoadValues([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.False(t, p.HasData())
	assert.NotZero(t, p.Status()&StatusNoData)
	assert.Equal(t, 5, p.Len())

	q := NewProfile("x")
	assert.ErrorIs(t, q.LoadValues([]float64{1}), ErrNoDimensions)
}

func TestProfileLoadAxis(t *testing.T) {
	p := sounding(t)
	require.NoError(t, p.LoadAxis([]float64{1, 2, 3}, 0))
	assert.False(t, p.HasData())

	p.SetFillVal(-1)
	require.NoError(t, p.LoadAxis([]float64{1, 2, 3}, LoadPrefill))
	assert.Equal(t, []float64{-1, -1, -1}, p.Values())

	assert.ErrorIs(t, p.LoadAxis([]float64{1, 1}, 0), ErrNonMonotonic)
}

func TestProfileValuesNeedNotBeMonotonic(t *testing.T) {
	p := sounding(t)
	require.NoError(t, p.SetValue(0, 200))
	require.NoError(t, p.SetValue(1, 300))

	c := p.Cursor()
	*c.Ref() = 1
	c.Next()
	assert.Equal(t, 300.0, c.Value())
	assert.Equal(t, 925.0, c.Level())
	*c.Ref() = -5

	assert.Equal(t, []float64{1, -5, 279.4, DefaultFill, 253.0}, p.Values())
}

func TestProfileCursorWalk(t *testing.T) {
	p := sounding(t)
	n := 0
	for c := p.Cursor(); c.Valid(); c.Next() {
		assert.Equal(t, n, c.Index())
		n++
	}
	assert.Equal(t, p.Len(), n)

	a, b := p.Cursor(), p.Cursor()
	assert.True(t, a.Equal(b))
	b.Next()
	assert.False(t, a.Equal(b))

	var sum float64
	for _, v := range p.All() {
		if v != DefaultFill {
			sum += v
		}
	}
	assert.InDelta(t, 288.2+283.1+279.4+253.0, sum, 1e-9)
}

func TestProfileCompatible(t *testing.T) {
	base := sounding(t)

	shifted := base.Duplicate()
	require.NoError(t, shifted.Axis().SetValue(2, 850+1e-9))

	moved := base.Duplicate()
	require.NoError(t, moved.Axis().SetValue(2, 851))

	later := base.Duplicate()
	later.SetTime(8772, "2024-01-01T06Z")

	renamed := base.Duplicate()
	renamed.SetName("raob-72520")

	otherUnits := base.Duplicate()
	otherUnits.Axis().SetUnits("Pa")

	tests := []struct {
		name  string
		other *Profile
		mask  CompareMask
		want  bool
	}{
		{name: "identical strict", other: base.Duplicate(), mask: CompareStrict, want: true},
		{name: "within level tolerance", other: shifted, mask: CompareVert, want: true},
		{name: "moved level", other: moved, mask: CompareVert, want: false},
		{name: "moved level time only", other: moved, mask: CompareTime, want: true},
		{name: "later vert", other: later, mask: CompareVert, want: true},
		{name: "later time", other: later, mask: CompareTime, want: false},
		{name: "later strict", other: later, mask: CompareStrict, want: false},
		{name: "renamed", other: renamed, mask: CompareVert, want: false},
		{name: "vertical units", other: otherUnits, mask: CompareVert, want: false},
		{name: "horizontal only", other: moved, mask: CompareHoriz, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Compatible(tt.other, tt.mask))
			assert.Equal(t, tt.want, tt.other.Compatible(base, tt.mask), "symmetry")
		})
	}
}

func TestProfileMatch(t *testing.T) {
	a := sounding(t)
	b := a.Duplicate()
	assert.True(t, a.Match(b))

	b.SetFillVal(-1)
	assert.False(t, a.Match(b))

	c := a.Duplicate()
	c.SetUnits("degC")
	assert.False(t, a.Match(c))
	assert.True(t, a.Compatible(c, CompareStrict))
}

func TestProfileTransform(t *testing.T) {
	p := sounding(t)
	require.NoError(t, p.Transform("degC", 1, -273.15))

	vals := p.Values()
	assert.InDelta(t, 15.05, vals[0], 1e-9)
	assert.Equal(t, DefaultFill, vals[3], "fill values are left alone")
	assert.Equal(t, "degC", p.Units())

	// SI value recoverable through the MKS transform
	assert.InDelta(t, 288.2, p.ToMKS(vals[0]), 1e-9)

	require.NoError(t, p.Transform("degF", 1.8, 32))
	assert.InDelta(t, 288.2, p.ToMKS(p.Values()[0]), 1e-9)
	assert.InDelta(t, 253.0, p.ToMKS(p.Values()[4]), 1e-9)
}

func TestProfileSetFillValHazard(t *testing.T) {
	p := sounding(t)
	// the new sentinel collides with a real value at index 4
	p.SetFillVal(253.0)
	assert.Equal(t, []float64{288.2, 283.1, 279.4, 253.0, 253.0}, p.Values())
	assert.Equal(t, 253.0, p.FillVal())
}

func TestProfileStatusClearFlush(t *testing.T) {
	p := sounding(t)
	assert.Equal(t, StatusNoCache, p.Status())

	p.FlushData()
	assert.Equal(t, StatusNoCache|StatusNoData, p.Status())
	assert.Equal(t, 5, p.Len())

	p.Clear()
	s := p.Status()
	assert.NotZero(t, s&StatusNoDims)
	assert.NotZero(t, s&StatusNoQuantity)
	assert.NotZero(t, s&StatusNoTime)
	assert.Equal(t, "no-data|no-cache|no-dimensions|no-quantity|no-time", s.String())
}

func TestProfileDuplicateIsDeep(t *testing.T) {
	p := sounding(t)
	d := p.Duplicate()
	require.NoError(t, d.SetValue(0, 0))
	require.NoError(t, d.Axis().SetValue(0, 1010))
	assert.Equal(t, 288.2, p.Values()[0])
	assert.Equal(t, 1000.0, p.Levels()[0])
}

func TestProfileFetchLocal(t *testing.T) {
	p := sounding(t)
	out := make([]float64, 2)
	require.NoError(t, p.FetchPoints([]int{4, 0}, out, FetchLocal))
	assert.Equal(t, []float64{253.0, 288.2}, out)
}
