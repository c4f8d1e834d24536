package field

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/dreamware/metfield/internal/group"
	"github.com/dreamware/metfield/internal/logger"
)

// NoServer is the server rank of a field used purely locally.
const NoServer = -1

// DefaultFill is the fill sentinel of a new field.
const DefaultFill = -9999.0

const noQuantity = "none"

// Status describes which parts of a field are populated. Zero means the
// field is complete.
type Status uint32

const (
	StatusNoData Status = 1 << iota
	StatusNoCache
	StatusNoDims
	StatusDimMismatch
	StatusNoQuantity
	StatusNoTime
)

func (s Status) String() string {
	if s == 0 {
		return "ok"
	}
	names := []string{"no-data", "no-cache", "no-dimensions", "dimension-mismatch", "no-quantity", "no-time"}
	out := ""
	for i, n := range names {
		if s&(1<<i) != 0 {
			if out != "" {
				out += "|"
			}
			out += n
		}
	}
	return out
}

// Variable is implemented by every field variant. The serving loop and
// the cache dispatch through it.
type Variable interface {
	Base() *Field
	Status() Status
	Clear()
	Transform(units string, scale, offset float64) error
	ServeMeta(client int) error
	ServeValues(client int) error
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// Field holds the scalar metadata shared by every variant and its binding
// to a process group. Variants embed it.
type Field struct {
	quantity  string
	units     string
	mksScale  float64
	mksOffset float64
	metTime   string
	time      float64
	hasTime   bool
	fill      float64
	expires   time.Time
	cacheable bool
	attrs     map[string]string

	grp    group.Group
	server int
	log    logger.Logger
}

func newField() Field {
	return Field{
		quantity: noQuantity,
		mksScale: 1,
		fill:     DefaultFill,
		attrs:    make(map[string]string),
		server:   NoServer,
		log:      logger.NopLogger,
	}
}

// Base returns the receiver so variants satisfy Variable through embedding.
func (f *Field) Base() *Field { return f }

// clearMeta resets everything except the group binding and logger.
func (f *Field) clearMeta() {
	grp, server, log := f.grp, f.server, f.log
	*f = newField()
	f.grp, f.server, f.log = grp, server, log
}

func (f *Field) status() Status {
	var s Status
	if f.quantity == "" || f.quantity == noQuantity {
		s |= StatusNoQuantity
	}
	if !f.hasTime {
		s |= StatusNoTime
	}
	if !f.cacheable {
		s |= StatusNoCache
	}
	return s
}

func (f *Field) Quantity() string { return f.quantity }

// SetQuantity names the physical quantity and resets the MKS transform.
func (f *Field) SetQuantity(q string) {
	f.quantity = q
	f.mksScale, f.mksOffset = 1, 0
}

func (f *Field) Units() string { return f.units }

// SetUnits sets the unit string and resets the MKS transform.
func (f *Field) SetUnits(u string) {
	f.units = u
	f.mksScale, f.mksOffset = 1, 0
}

// MKS returns the affine transform from the current units to SI units:
// si = v*scale + offset.
func (f *Field) MKS() (scale, offset float64) { return f.mksScale, f.mksOffset }

// SetMKS records the affine transform from the current units to SI units.
func (f *Field) SetMKS(scale, offset float64) {
	f.mksScale, f.mksOffset = scale, offset
}

// ToMKS maps v from the current units to SI units.
func (f *Field) ToMKS(v float64) float64 { return v*f.mksScale + f.mksOffset }

// rescale records that values were mapped v' = v*scale + offset into units.
func (f *Field) rescale(units string, scale, offset float64) error {
	if scale == 0 {
		return errors.Wrap(ErrIncompatible, "zero transform scale")
	}
	S, O := f.mksScale, f.mksOffset
	f.units = units
	f.mksScale = S / scale
	f.mksOffset = O - offset*S/scale
	return nil
}

// Time returns the internal model clock.
func (f *Field) Time() float64 { return f.time }

// MetTime returns the source-specific calendar time string.
func (f *Field) MetTime() string { return f.metTime }

// SetTime sets both forms of the valid time together. A NaN clock with an
// empty calendar string does not survive a binary record round trip.
func (f *Field) SetTime(t float64, metTime string) {
	f.time, f.metTime, f.hasTime = t, metTime, true
}

func (f *Field) FillVal() float64 { return f.fill }

func (f *Field) setFill(v float64) { f.fill = v }

// Get returns an attribute value.
func (f *Field) Get(key string) (string, error) {
	v, ok := f.attrs[key]
	if !ok {
		return "", errors.Wrapf(ErrMissingAttribute, "%q", key)
	}
	return v, nil
}

// Set stores an attribute, replacing any previous value for key.
func (f *Field) Set(key, value string) {
	f.attrs[key] = value
}

// Attributes returns a copy of the attribute map.
func (f *Field) Attributes() map[string]string {
	return maps.Clone(f.attrs)
}

func (f *Field) Cacheable() bool { return f.cacheable }
func (f *Field) SetCacheable()   { f.cacheable = true }
func (f *Field) ClearCacheable() { f.cacheable = false }

// Expires returns the expiration time; the zero time never expires.
func (f *Field) Expires() time.Time      { return f.expires }
func (f *Field) SetExpires(t time.Time) { f.expires = t }

// Expired reports whether the field has an expiration at or before now.
func (f *Field) Expired(now time.Time) bool {
	return !f.expires.IsZero() && !now.Before(f.expires)
}

func (f *Field) SetLogger(l logger.Logger) {
	if l == nil {
		l = logger.NopLogger
	}
	f.log = l
}

// BindGroup attaches the field to g with serverRank holding the data.
// A negative serverRank means purely local use.
func (f *Field) BindGroup(g group.Group, serverRank int) error {
	if serverRank < 0 {
		f.grp, f.server = g, NoServer
		return nil
	}
	if g == nil {
		return errors.Wrap(group.ErrBadRank, "server rank without a group")
	}
	if serverRank >= g.Size() {
		return errors.Wrapf(group.ErrBadRank, "server rank %d in group of %d", serverRank, g.Size())
	}
	f.grp, f.server = g, serverRank
	return nil
}

func (f *Field) Group() group.Group { return f.grp }
func (f *Field) ServerRank() int    { return f.server }

// IsServer reports whether this rank holds the field's data for its group.
func (f *Field) IsServer() bool {
	return f.grp != nil && f.server >= 0 && f.grp.ID() == f.server
}

// IsRemote reports whether values must be requested from another rank.
func (f *Field) IsRemote() bool {
	return f.grp != nil && f.server >= 0 && f.grp.ID() != f.server
}

// SyncLabel is the barrier label Field.Sync uses. A client does not know
// the quantity until metadata arrives, so the label cannot depend on it.
const SyncLabel = "field"

// Sync waits for every rank of the bound group. No-op when unbound.
func (f *Field) Sync() error {
	if f.grp == nil {
		return nil
	}
	return f.grp.Sync(SyncLabel)
}

func (f *Field) command(c group.Command) error {
	if f.server < 0 || f.grp == nil {
		return errors.Wrapf(ErrDataUnavailable, "%s request on unbound %s", c, f.quantity)
	}
	if f.IsServer() {
		return errors.Wrapf(ErrServerRole, "rank %d cannot send %s to itself", f.server, c)
	}
	return f.grp.SendInts(f.server, group.TagRequest, []int{int(c)})
}

// RequestMeta asks the server rank for metadata. Follow with ReceiveMeta.
func (f *Field) RequestMeta() error { return f.command(group.CmdWantMeta) }

// RequestData asks the server rank to answer one FetchPoints.
func (f *Field) RequestData() error { return f.command(group.CmdWantData) }

// DoneServing tells the server this client will send no more requests.
// No-op when unbound or on the server rank.
func (f *Field) DoneServing() error {
	if !f.IsRemote() {
		return nil
	}
	return f.command(group.CmdDone)
}

// checkClient guards the server side of an exchange.
func (f *Field) checkClient(client int) error {
	if f.grp == nil {
		return errors.Wrapf(ErrDataUnavailable, "serving %s without a group", f.quantity)
	}
	if client == f.grp.ID() {
		return errors.Wrapf(ErrServerRole, "rank %d asked to serve itself", client)
	}
	return nil
}

// serveScalars sends the base metadata in the fixed order quantity, units,
// calendar time, then numeric time, fill and MKS transform.
func (f *Field) serveScalars(g group.Group, client int) error {
	for _, s := range []string{f.quantity, f.units, f.metTime} {
		if err := g.SendString(client, group.TagMeta, s); err != nil {
			return err
		}
	}
	hasTime := 0.0
	if f.hasTime {
		hasTime = 1
	}
	return g.SendDoubles(client, group.TagMeta, []float64{f.time, f.fill, f.mksScale, f.mksOffset, hasTime})
}

func (f *Field) receiveScalars(g group.Group, server int) error {
	var err error
	for _, dst := range []*string{&f.quantity, &f.units, &f.metTime} {
		if *dst, _, err = g.ReceiveString(server, group.TagMeta); err != nil {
			return err
		}
	}
	d, _, err := g.ReceiveDoubles(server, group.TagMeta)
	if err != nil {
		return err
	}
	if len(d) != 5 {
		return errors.Wrapf(ErrIncompatible, "metadata block of %d values", len(d))
	}
	f.time, f.fill, f.mksScale, f.mksOffset = d[0], d[1], d[2], d[3]
	f.hasTime = d[4] != 0
	return nil
}

// StartServing returns true on every rank that should drive its own
// requests. On the field's server rank it instead serves all other ranks
// until each has sent DONE, then returns false.
func StartServing(v Variable) (bool, error) {
	f := v.Base()
	if !f.IsServer() {
		return true, nil
	}
	return false, Listen(v, group.AnySource)
}

// Listen answers requests for v until the expected number of DONE
// commands arrives: one when client names a rank, otherwise one from every
// rank but this one.
func Listen(v Variable, client int) error {
	f := v.Base()
	if f.grp == nil {
		return errors.Wrap(ErrDataUnavailable, "listen without a group")
	}
	expected := 1
	if client == group.AnySource {
		expected = f.grp.Size() - 1
	} else if err := f.checkClient(client); err != nil {
		return err
	}

	for done := 0; done < expected; {
		cmd, from, err := f.grp.ReceiveInts(client, group.TagRequest)
		if err != nil {
			return errors.Wrap(err, "receiving request")
		}
		if len(cmd) != 1 {
			return errors.Wrapf(ErrIncompatible, "request of %d ints from %d", len(cmd), from)
		}
		c := group.Command(cmd[0])
		f.log.Debugf("%s: %s from %d", f.quantity, c, from)
		switch c {
		case group.CmdDone:
			done++
		case group.CmdWantMeta:
			err = v.ServeMeta(from)
		case group.CmdWantData:
			err = v.ServeValues(from)
		default:
			err = errors.Wrapf(ErrIncompatible, "unknown command %d from %d", cmd[0], from)
		}
		if err != nil {
			return err
		}
	}
	f.log.Debugf("%s: all %d clients done", f.quantity, expected)
	return nil
}
