// Package nstring implements Span, a length-tagged string over a byte slice. A span's extent is
// always its explicit length: no operation other than FromCString ever scans for a terminator.
//
// Spans are values and are never modified in place. Operations either borrow the storage of their
// input (FromCString, FromBytes, Slice) or allocate fresh storage (Copy, SliceCopy, Concat). Borrowed
// spans share bytes with their source, so writes made through one are visible through the other; the
// garbage collector keeps shared storage alive for as long as any span refers to it. Storage that comes
// from a pool.SpanAllocator is different: it is only valid until the allocator is released.
package nstring

import (
	"bytes"
	"math"

	cerrors "github.com/cockroachdb/errors"
	"github.com/nulibc/nucore/memutils"
)

// Span is a (storage, length) string. The zero Span is the empty string.
type Span struct {
	data   []byte
	length int
}

// FromCString returns a span over b up to, and not including, its first zero byte. If b contains no
// zero byte the span covers all of b, so the scan never reads past the slice. The span borrows b.
//
// memutils.ErrInvalidInput is returned if b is nil.
func FromCString(b []byte) (Span, error) {
	if b == nil {
		return Span{}, cerrors.Wrap(memutils.ErrInvalidInput, "cannot create a span from a nil sequence")
	}

	length := bytes.IndexByte(b, 0)
	if length < 0 {
		length = len(b)
	}

	return Span{data: b, length: length}, nil
}

// FromBytes returns a span over all of b, zero bytes included. The span borrows b.
func FromBytes(b []byte) Span {
	return Span{data: b, length: len(b)}
}

// FromString returns a span holding a copy of s
func FromString(s string) Span {
	return Span{data: []byte(s), length: len(s)}
}

// Len returns the span's length without scanning
func (s Span) Len() int {
	return s.length
}

// Len returns the span's length without scanning
func Len(s Span) int {
	return s.length
}

func (s Span) IsEmpty() bool {
	return s.length == 0
}

// Bytes returns the span's contents. The slice shares the span's storage and is capped at the span's
// length, so appending to it never writes over bytes beyond the span.
func (s Span) Bytes() []byte {
	return s.data[:s.length:s.length]
}

func (s Span) String() string {
	return string(s.data[:s.length])
}

// Copy returns a span with newly allocated storage holding the same bytes as s
func Copy(s Span) Span {
	copied, err := CopyWith(HeapAllocator{}, s)
	if err != nil {
		// The heap allocator only fails for sizes the runtime refuses outright, which an existing
		// span cannot have
		panic(err)
	}
	return copied
}

// CopyWith returns a span holding the same bytes as s in exactly s.Len() bytes of storage obtained from alloc.
//
// Errors from alloc are marked as memutils.ErrAllocationFailed.
func CopyWith(alloc Allocator, s Span) (Span, error) {
	data, err := allocate(alloc, s.length)
	if err != nil {
		return Span{}, err
	}

	copy(data, s.data[:s.length])
	return Span{data: data, length: s.length}, nil
}

func checkRange(s Span, start, length int) error {
	if start < 0 || length < 0 || start > s.length || length > s.length-start {
		return cerrors.Wrapf(memutils.ErrOutOfRange, "cannot slice [%d, %d+%d) from a span of length %d", start, start, length, s.length)
	}
	return nil
}

// Slice returns the span covering [start, start+length) of s. The result borrows the storage of s.
//
// memutils.ErrOutOfRange is returned, with no partial result, if start or length is negative or the range
// extends past the end of s.
func Slice(s Span, start, length int) (Span, error) {
	err := checkRange(s, start, length)
	if err != nil {
		return Span{}, err
	}

	return Span{data: s.data[start : start+length : start+length], length: length}, nil
}

// SliceCopy is Slice followed by Copy: the result owns its storage
func SliceCopy(s Span, start, length int) (Span, error) {
	sliced, err := Slice(s, start, length)
	if err != nil {
		return Span{}, err
	}

	return Copy(sliced), nil
}

// Equals returns true if a and b have the same length and the same bytes. The comparison is exact:
// no case folding or normalization is applied.
func Equals(a, b Span) bool {
	return bytes.Equal(a.data[:a.length], b.data[:b.length])
}

// Compare orders a and b byte-wise, returning -1, 0 or +1. A span that is a prefix of another sorts first.
func Compare(a, b Span) int {
	return bytes.Compare(a.data[:a.length], b.data[:b.length])
}

// Concat returns a span with newly allocated storage holding a followed by b
func Concat(a, b Span) (Span, error) {
	return ConcatWith(HeapAllocator{}, a, b)
}

// ConcatWith returns a span holding a followed by b in exactly a.Len()+b.Len() bytes of storage
// obtained from alloc.
//
// memutils.ErrAllocationFailed is returned if the combined length cannot be represented or alloc fails.
// Errors from alloc keep their cause and carry memutils.ErrAllocationFailed as a
// github.com/cockroachdb/errors mark.
func ConcatWith(alloc Allocator, a, b Span) (Span, error) {
	if a.length > math.MaxInt-b.length {
		return Span{}, cerrors.Wrapf(memutils.ErrAllocationFailed, "the combined length of %d and %d bytes overflows", a.length, b.length)
	}

	length := a.length + b.length
	data, err := allocate(alloc, length)
	if err != nil {
		return Span{}, err
	}

	copy(data, a.data[:a.length])
	copy(data[a.length:], b.data[:b.length])

	return Span{data: data, length: length}, nil
}
