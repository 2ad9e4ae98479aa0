package stream

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/randomizedcoder/go-fakecam/internal/camerr"
)

// Stream is a configured output sink.
type Stream struct {
	ID         uint32
	Width      int
	Height     int
	Format     Format
	Stride     int
	Sink       Sink
	Usage      uint32
	MaxBuffers int

	category Category
}

// Category returns the category the stream counts against.
func (s Stream) Category() Category { return s.category }

// Allocation is what the caller learns about a newly allocated stream.
type Allocation struct {
	ID         uint32
	Format     Format
	Usage      uint32
	MaxBuffers int
}

// InUseProber reports whether a pipeline component references a stream.
type InUseProber interface {
	IsStreamInUse(id uint32) bool
}

// Registry owns the configured streams and the per-category counters. All
// mutations happen under one lock; Release holds it across the in-use probes.
// A prober must report a stream as in use before it looks the stream up, so
// a request either blocks the Release or fails its lookup.
type Registry struct {
	facing Facing

	mu      sync.Mutex
	nextID  uint32
	streams map[uint32]*Stream
	counts  [categoryCount]int
	probers []InUseProber
}

// NewRegistry creates an empty registry using the resolution tables for
// facing.
func NewRegistry(facing Facing) *Registry {
	return &Registry{
		facing:  facing,
		streams: make(map[uint32]*Stream),
	}
}

// Facing returns the facing the registry validates resolutions against.
func (r *Registry) Facing() Facing { return r.facing }

// AddProber registers an in-use probe. Probes run in registration order.
func (r *Registry) AddProber(p InUseProber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers = append(r.probers, p)
}

// Allocate creates a stream. Opaque requests produce an unresolved stream
// counted as processed.
func (r *Registry) Allocate(width, height int, requested PixelFormat, sink Sink) (Allocation, error) {
	const op = "allocate_stream"

	if !requested.Supported() {
		return Allocation{}, camerr.InvalidArgument(op, "unsupported format %s", requested)
	}
	if sink == nil {
		return Allocation{}, camerr.InvalidArgument(op, "nil sink")
	}
	if !SizeSupported(requested, r.facing, width, height) {
		return Allocation{}, camerr.InvalidArgument(op, "%dx%d not supported for %s on %s camera",
			width, height, requested, r.facing)
	}

	format := Concrete(requested)
	if requested == FormatOpaque {
		format = Unresolved()
	}
	cat := CategoryOf(requested)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts[cat] >= cat.Limit() {
		return Allocation{}, camerr.New(op, camerr.ErrResourceExhausted,
			"%s streams at limit %d", cat, cat.Limit())
	}
	r.counts[cat]++

	id := r.nextID
	r.nextID++
	s := &Stream{
		ID:         id,
		Width:      width,
		Height:     height,
		Format:     format,
		Stride:     width,
		Sink:       sink,
		Usage:      UsageCameraWrite,
		MaxBuffers: DefaultMaxBuffers,
		category:   cat,
	}
	r.streams[id] = s

	return Allocation{ID: id, Format: format, Usage: s.Usage, MaxBuffers: s.MaxBuffers}, nil
}

// FinalizeFormat resolves the format of a stream once its buffers are known.
// An already concrete stream accepts only its own format, and an unresolved
// stream only resolves within its category.
func (r *Registry) FinalizeFormat(id uint32, pf PixelFormat) error {
	const op = "register_stream_buffers"

	if pf == FormatOpaque || !pf.Supported() {
		return camerr.InvalidArgument(op, "stream %d: %s is not a concrete format", id, pf)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return camerr.InvalidArgument(op, "unknown stream %d", id)
	}
	if cur, resolved := s.Format.Resolved(); resolved {
		if cur != pf {
			return camerr.InvalidArgument(op, "stream %d is %s, buffers are %s", id, cur, pf)
		}
		return nil
	}
	if CategoryOf(pf) != s.category {
		return camerr.InvalidArgument(op, "stream %d: %s is not a %s format", id, pf, s.category)
	}
	s.Format = Concrete(pf)
	return nil
}

// Release removes a stream. It fails while any probe reports the stream in
// use.
func (r *Registry) Release(id uint32) error {
	const op = "release_stream"

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return camerr.InvalidArgument(op, "unknown stream %d", id)
	}
	for _, p := range r.probers {
		if p.IsStreamInUse(id) {
			return camerr.New(op, camerr.ErrFailedPrecondition, "stream %d in use", id)
		}
	}

	r.counts[s.category]--
	delete(r.streams, id)
	return nil
}

// Lookup returns a copy of the stream record.
func (r *Registry) Lookup(id uint32) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return Stream{}, camerr.InvalidArgument("lookup_stream", "unknown stream %d", id)
	}
	return *s, nil
}

// Streams returns copies of all streams ordered by id.
func (r *Registry) Streams() []Stream {
	r.mu.Lock()
	out := make([]Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the live stream count per category.
func (r *Registry) Counts() map[Category]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Category]int, categoryCount)
	for c := Category(0); c < categoryCount; c++ {
		out[c] = r.counts[c]
	}
	return out
}

// Dump writes the stream table.
func (r *Registry) Dump(w io.Writer) {
	streams := r.Streams()
	counts := r.Counts()

	fmt.Fprintf(w, "Streams (%s camera): raw %d/%d, processed %d/%d, compressed %d/%d\n",
		r.facing,
		counts[CategoryRaw], MaxRawStreams,
		counts[CategoryProcessed], MaxProcessedStreams,
		counts[CategoryCompressed], MaxCompressedStreams)
	if len(streams) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, s := range streams {
		fmt.Fprintf(w, "  stream %d: %dx%d format=%s stride=%d max_buffers=%d\n",
			s.ID, s.Width, s.Height, s.Format, s.Stride, s.MaxBuffers)
	}
}
