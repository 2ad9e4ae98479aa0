package metadata

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var (
	// ErrUnknownTag is returned when adding an entry for a tag with no
	// known type.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrTypeMismatch is returned when values do not match the tag's type.
	ErrTypeMismatch = errors.New("tag type mismatch")
)

// Entry is one tag and its values. Exactly one of the typed slices is
// populated, selected by Type.
type Entry struct {
	Tag  Tag
	Type Type

	u8  []uint8
	i32 []int32
	f32 []float32
	i64 []int64
	f64 []float64
}

// Count returns the number of values in the entry.
func (e *Entry) Count() int {
	switch e.Type {
	case TypeByte:
		return len(e.u8)
	case TypeInt32:
		return len(e.i32)
	case TypeFloat:
		return len(e.f32)
	case TypeInt64:
		return len(e.i64)
	case TypeDouble:
		return len(e.f64)
	}
	return 0
}

// DataSize returns the out-of-line storage needed by the entry: values that
// fit in four bytes are stored inline and need none, larger payloads are
// rounded up to eight bytes.
func (e *Entry) DataSize() int {
	n := e.Count() * e.Type.Size()
	if n <= 4 {
		return 0
	}
	return (n + 7) &^ 7
}

// Bytes returns the byte values, or nil for other types.
func (e *Entry) Bytes() []uint8 { return e.u8 }

// Int32s returns the int32 values, or nil for other types.
func (e *Entry) Int32s() []int32 { return e.i32 }

// Floats returns the float values, or nil for other types.
func (e *Entry) Floats() []float32 { return e.f32 }

// Int64s returns the int64 values, or nil for other types.
func (e *Entry) Int64s() []int64 { return e.i64 }

// Doubles returns the double values, or nil for other types.
func (e *Entry) Doubles() []float64 { return e.f64 }

func (e Entry) clone() Entry {
	c := Entry{Tag: e.Tag, Type: e.Type}
	c.u8 = append([]uint8(nil), e.u8...)
	c.i32 = append([]int32(nil), e.i32...)
	c.f32 = append([]float32(nil), e.f32...)
	c.i64 = append([]int64(nil), e.i64...)
	c.f64 = append([]float64(nil), e.f64...)
	return c
}

func (e *Entry) valueString() string {
	var parts []string
	switch e.Type {
	case TypeByte:
		for _, v := range e.u8 {
			parts = append(parts, fmt.Sprint(v))
		}
	case TypeInt32:
		for _, v := range e.i32 {
			parts = append(parts, fmt.Sprint(v))
		}
	case TypeFloat:
		for _, v := range e.f32 {
			parts = append(parts, fmt.Sprint(v))
		}
	case TypeInt64:
		for _, v := range e.i64 {
			parts = append(parts, fmt.Sprint(v))
		}
	case TypeDouble:
		for _, v := range e.f64 {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Record is an ordered list of metadata entries.
//
// Not safe for concurrent use. Ownership of a record moves between the
// request source and the pipeline; only the current owner touches it.
type Record struct {
	entries []Entry
	sorted  bool
}

// New creates an empty record. The capacities are preallocation hints only;
// a record grows as entries are added.
func New(entryCapacity, dataCapacity int) *Record {
	_ = dataCapacity
	if entryCapacity < 0 {
		entryCapacity = 0
	}
	return &Record{entries: make([]Entry, 0, entryCapacity), sorted: true}
}

// EntryCount returns the number of entries.
func (r *Record) EntryCount() int { return len(r.entries) }

// DataCount returns the total out-of-line data size of all entries.
func (r *Record) DataCount() int {
	n := 0
	for i := range r.entries {
		n += r.entries[i].DataSize()
	}
	return n
}

// Entries returns the entries in their current order. The slice must not be
// modified.
func (r *Record) Entries() []Entry { return r.entries }

func checkType(t Tag, want Type) error {
	info, ok := LookupTag(t)
	if !ok {
		return fmt.Errorf("%w: 0x%08x", ErrUnknownTag, uint32(t))
	}
	if info.Type != want {
		return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, t, info.Type, want)
	}
	return nil
}

func (r *Record) add(e Entry) {
	if n := len(r.entries); n > 0 && r.entries[n-1].Tag > e.Tag {
		r.sorted = false
	}
	r.entries = append(r.entries, e)
}

// AddBytes appends a byte entry.
func (r *Record) AddBytes(t Tag, v ...uint8) error {
	if err := checkType(t, TypeByte); err != nil {
		return err
	}
	r.add(Entry{Tag: t, Type: TypeByte, u8: append([]uint8(nil), v...)})
	return nil
}

// AddInt32 appends an int32 entry.
func (r *Record) AddInt32(t Tag, v ...int32) error {
	if err := checkType(t, TypeInt32); err != nil {
		return err
	}
	r.add(Entry{Tag: t, Type: TypeInt32, i32: append([]int32(nil), v...)})
	return nil
}

// AddFloat appends a float entry.
func (r *Record) AddFloat(t Tag, v ...float32) error {
	if err := checkType(t, TypeFloat); err != nil {
		return err
	}
	r.add(Entry{Tag: t, Type: TypeFloat, f32: append([]float32(nil), v...)})
	return nil
}

// AddInt64 appends an int64 entry.
func (r *Record) AddInt64(t Tag, v ...int64) error {
	if err := checkType(t, TypeInt64); err != nil {
		return err
	}
	r.add(Entry{Tag: t, Type: TypeInt64, i64: append([]int64(nil), v...)})
	return nil
}

// AddDouble appends a double entry.
func (r *Record) AddDouble(t Tag, v ...float64) error {
	if err := checkType(t, TypeDouble); err != nil {
		return err
	}
	r.add(Entry{Tag: t, Type: TypeDouble, f64: append([]float64(nil), v...)})
	return nil
}

// SetInt32 replaces the values of the first entry for t, or appends a new
// entry when none exists.
func (r *Record) SetInt32(t Tag, v ...int32) error {
	if e, ok := r.Find(t); ok {
		if e.Type != TypeInt32 {
			return fmt.Errorf("%w: %s is %s", ErrTypeMismatch, t, e.Type)
		}
		e.i32 = append(e.i32[:0], v...)
		return nil
	}
	return r.AddInt32(t, v...)
}

// SetInt64 replaces the values of the first entry for t, or appends one.
func (r *Record) SetInt64(t Tag, v ...int64) error {
	if e, ok := r.Find(t); ok {
		if e.Type != TypeInt64 {
			return fmt.Errorf("%w: %s is %s", ErrTypeMismatch, t, e.Type)
		}
		e.i64 = append(e.i64[:0], v...)
		return nil
	}
	return r.AddInt64(t, v...)
}

// SetBytes replaces the values of the first entry for t, or appends one.
func (r *Record) SetBytes(t Tag, v ...uint8) error {
	if e, ok := r.Find(t); ok {
		if e.Type != TypeByte {
			return fmt.Errorf("%w: %s is %s", ErrTypeMismatch, t, e.Type)
		}
		e.u8 = append(e.u8[:0], v...)
		return nil
	}
	return r.AddBytes(t, v...)
}

// Sort orders entries by tag. Entries with equal tags keep their relative
// order.
func (r *Record) Sort() {
	if r.sorted {
		return
	}
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Tag < r.entries[j].Tag
	})
	r.sorted = true
}

// Find returns the first entry for t. The returned pointer stays valid until
// the record is modified structurally (add, append or sort).
func (r *Record) Find(t Tag) (*Entry, bool) {
	if r.sorted {
		i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Tag >= t })
		if i < len(r.entries) && r.entries[i].Tag == t {
			return &r.entries[i], true
		}
		return nil, false
	}
	for i := range r.entries {
		if r.entries[i].Tag == t {
			return &r.entries[i], true
		}
	}
	return nil, false
}

// Int32 returns the first value of an int32 entry.
func (r *Record) Int32(t Tag) (int32, bool) {
	e, ok := r.Find(t)
	if !ok || e.Type != TypeInt32 || len(e.i32) == 0 {
		return 0, false
	}
	return e.i32[0], true
}

// Int64 returns the first value of an int64 entry.
func (r *Record) Int64(t Tag) (int64, bool) {
	e, ok := r.Find(t)
	if !ok || e.Type != TypeInt64 || len(e.i64) == 0 {
		return 0, false
	}
	return e.i64[0], true
}

// Byte returns the first value of a byte entry.
func (r *Record) Byte(t Tag) (uint8, bool) {
	e, ok := r.Find(t)
	if !ok || e.Type != TypeByte || len(e.u8) == 0 {
		return 0, false
	}
	return e.u8[0], true
}

// Append copies every entry of src onto the end of r.
func (r *Record) Append(src *Record) error {
	if src == nil {
		return errors.New("append: nil source record")
	}
	for _, e := range src.entries {
		r.add(e.clone())
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := New(len(r.entries), r.DataCount())
	for _, e := range r.entries {
		c.entries = append(c.entries, e.clone())
	}
	c.sorted = r.sorted
	return c
}

// Dump writes one line per entry.
func (r *Record) Dump(w io.Writer) {
	for i := range r.entries {
		e := &r.entries[i]
		fmt.Fprintf(w, "  %s (%s x%d): %s\n", e.Tag, e.Type, e.Count(), e.valueString())
	}
}
