package field

// AxisCursor walks an axis forward from index 0. It borrows the axis: the
// caller must not reload or clear the axis while a cursor is in use. Two
// cursors over axes of equal length stay in step only if the caller
// advances them together.
type AxisCursor struct {
	a *Axis
	i int
}

// Cursor returns a cursor at the first coordinate.
func (a *Axis) Cursor() *AxisCursor { return &AxisCursor{a: a} }

func (c *AxisCursor) Valid() bool { return c.i >= 0 && c.i < len(c.a.vals) }
func (c *AxisCursor) Next()       { c.i++ }
func (c *AxisCursor) Index() int  { return c.i }

// Equal reports whether both cursors sit at the same index of the same axis.
func (c *AxisCursor) Equal(o *AxisCursor) bool { return c.a == o.a && c.i == o.i }

// Value returns the coordinate under the cursor.
func (c *AxisCursor) Value() float64 { return c.a.vals[c.i] }

// Set writes through the cursor with the same neighbour checks as
// Axis.SetValue.
func (c *AxisCursor) Set(v float64) error { return c.a.SetValue(c.i, v) }

// ProfileCursor walks a profile's values forward. Like AxisCursor it
// borrows its profile for its lifetime.
type ProfileCursor struct {
	p *Profile
	i int
}

func (p *Profile) Cursor() *ProfileCursor { return &ProfileCursor{p: p} }

func (c *ProfileCursor) Valid() bool                 { return c.i >= 0 && c.i < len(c.p.vals) }
func (c *ProfileCursor) Next()                       { c.i++ }
func (c *ProfileCursor) Index() int                  { return c.i }
func (c *ProfileCursor) Equal(o *ProfileCursor) bool { return c.p == o.p && c.i == o.i }
func (c *ProfileCursor) Value() float64              { return c.p.vals[c.i] }

// Ref returns a settable reference to the value under the cursor. No
// invariant is checked on writes through it.
func (c *ProfileCursor) Ref() *float64 { return &c.p.vals[c.i] }

// Level returns the vertical coordinate at the cursor's index.
func (c *ProfileCursor) Level() float64 { return c.p.axis.vals[c.i] }
