package field

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// RecordVersion is written first in every binary record.
const RecordVersion = 2

// maxString bounds length prefixes read from a record.
const maxString = 1 << 20

// The record is host-native: integers are int32 except the expiration
// (int64 Unix seconds), reals are float64, strings are int32 length
// prefixed. Variants append their own sections after the header.
var order = binary.NativeEndian

type recordWriter struct {
	buf bytes.Buffer
}

func (w *recordWriter) int32(v int)       { _ = binary.Write(&w.buf, order, int32(v)) }
func (w *recordWriter) int64(v int64)     { _ = binary.Write(&w.buf, order, v) }
func (w *recordWriter) float64(v float64) { _ = binary.Write(&w.buf, order, v) }

func (w *recordWriter) string(s string) {
	w.int32(len(s))
	w.buf.WriteString(s)
}

func (w *recordWriter) float64s(v []float64) {
	w.int32(len(v))
	if len(v) > 0 {
		_ = binary.Write(&w.buf, order, v)
	}
}

// recordReader reads a record, remembering the first error so callers
// check once at the end of a section.
type recordReader struct {
	r   *bytes.Reader
	err error
}

func newRecordReader(data []byte) *recordReader {
	return &recordReader{r: bytes.NewReader(data)}
}

func (r *recordReader) fail(err error) {
	if r.err == nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = errors.Wrap(ErrBadRecord, "truncated")
		}
		r.err = err
	}
}

func (r *recordReader) int32() int {
	var v int32
	if r.err == nil {
		r.fail(binary.Read(r.r, order, &v))
	}
	return int(v)
}

func (r *recordReader) int64() int64 {
	var v int64
	if r.err == nil {
		r.fail(binary.Read(r.r, order, &v))
	}
	return v
}

func (r *recordReader) float64() float64 {
	var v float64
	if r.err == nil {
		r.fail(binary.Read(r.r, order, &v))
	}
	return v
}

// length reads a count and checks that size bytes per element remain.
func (r *recordReader) length(size int) int {
	n := r.int32()
	if r.err != nil {
		return 0
	}
	if n < 0 || n > maxString || n*size > r.r.Len() {
		r.fail(errors.Wrapf(ErrAllocation, "length %d with %d bytes left", n, r.r.Len()))
		return 0
	}
	return n
}

func (r *recordReader) string() string {
	n := r.length(1)
	if r.err != nil || n == 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return ""
	}
	return string(b)
}

// float64s returns nil for an empty section.
func (r *recordReader) float64s() []float64 {
	n := r.length(8)
	if r.err != nil || n == 0 {
		return nil
	}
	v := make([]float64, n)
	r.fail(binary.Read(r.r, order, v))
	return v
}

func (r *recordReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.r.Len() != 0 {
		return errors.Wrapf(ErrBadRecord, "%d trailing bytes", r.r.Len())
	}
	return nil
}

// writeHeader writes the base section in its fixed field order.
func (f *Field) writeHeader(w *recordWriter) {
	w.int32(RecordVersion)
	w.string(f.quantity)
	w.string(f.units)
	w.float64(f.mksScale)
	w.float64(f.mksOffset)
	w.string(f.metTime)
	// NaN in the clock slot marks a field whose time was never set.
	t := f.time
	if !f.hasTime {
		t = math.NaN()
	}
	w.float64(t)
	var exp int64
	if !f.expires.IsZero() {
		exp = f.expires.Unix()
	}
	w.int64(exp)
	w.float64(f.fill)

	keys := make([]string, 0, len(f.attrs))
	for k := range f.attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	w.int32(len(keys))
	for _, k := range keys {
		w.string(k)
		w.string(f.attrs[k])
	}
}

// readHeader replaces the base metadata from r, keeping the group binding.
func (f *Field) readHeader(r *recordReader) error {
	if v := r.int32(); r.err == nil && v != RecordVersion {
		return errors.Wrapf(ErrBadRecord, "record version %d, want %d", v, RecordVersion)
	}
	f.clearMeta()
	f.quantity = r.string()
	f.units = r.string()
	f.mksScale = r.float64()
	f.mksOffset = r.float64()
	f.metTime = r.string()
	if t := r.float64(); !math.IsNaN(t) {
		f.time, f.hasTime = t, true
	}
	if exp := r.int64(); exp != 0 {
		f.expires = time.Unix(exp, 0).UTC()
	}
	f.fill = r.float64()
	n := r.length(8)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.string()
		f.attrs[k] = r.string()
	}
	if f.metTime != "" {
		f.hasTime = true
	}
	return r.err
}
