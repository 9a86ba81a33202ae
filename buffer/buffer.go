// Package buffer implements the in-memory model of formatted document
// content: a sequence of Unicode scalars, a run-length encoded table of
// typed attributes and a sparse map of attachments anchored at placeholder
// characters.
//
// All offsets are scalar counts, an attachment counts as one position.
// Every operation validates its input before touching the buffer, a rejected
// edit leaves the buffer unchanged and returns ErrStructuralViolation.
package buffer

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
)

// ErrStructuralViolation is returned when an edit would orphan an attachment
// placeholder or desynchronize text and attribute runs.
var ErrStructuralViolation = errors.New("structural violation")

func violation(op, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrStructuralViolation, fmt.Sprintf(format, args...))
}

// Buffer is formatted content of a single document version. Buffer is not
// safe for concurrent mutation, callers that need to keep a state around use
// Clone.
type Buffer struct {
	text []rune
	runs []Run
	atts map[int]Attachment
}

// New creates buffer holding text formatted with attrs. Text must not contain
// placeholder characters.
func New(text string, attrs Attributes) (*Buffer, error) {
	b := &Buffer{atts: make(map[int]Attachment)}
	if err := b.InsertText(0, text, attrs); err != nil {
		return nil, err
	}
	return b, nil
}

// Empty returns empty buffer.
func Empty() *Buffer {
	return &Buffer{atts: make(map[int]Attachment)}
}

// FromParts assembles buffer from decoded parts and verifies all invariants.
func FromParts(text string, runs []Run, atts map[int]Attachment) (*Buffer, error) {
	b := &Buffer{
		text: []rune(text),
		runs: slices.Clone(runs),
		atts: make(map[int]Attachment, len(atts)),
	}
	for off, a := range atts {
		if a == nil {
			return nil, violation("assemble", "nil attachment at offset %d", off)
		}
		b.atts[off] = a.clone()
	}
	b.normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Len returns number of positions in the buffer.
func (b *Buffer) Len() int {
	return len(b.text)
}

// String returns buffer text including placeholder characters.
func (b *Buffer) String() string {
	return string(b.text)
}

// PlainText returns text with attachment placeholders removed, this is what
// environments unable to render rich content see.
func (b *Buffer) PlainText() string {
	if len(b.atts) == 0 {
		return string(b.text)
	}
	var sb strings.Builder
	sb.Grow(len(b.text))
	for i, r := range b.text {
		if _, ok := b.atts[i]; ok {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Text returns text in range r, placeholders included. Out of bounds ranges
// are clamped.
func (b *Buffer) Text(r Range) string {
	r = b.clamp(r)
	return string(b.text[r.Start:r.End])
}

// Runes returns a copy of buffer text as scalars.
func (b *Buffer) Runes() []rune {
	return slices.Clone(b.text)
}

// AttributesAt returns attributes of character at offset.
func (b *Buffer) AttributesAt(off int) (Attributes, bool) {
	if off < 0 || off >= len(b.text) {
		return Attributes{}, false
	}
	i, _ := b.locate(off)
	return b.runs[i].Attrs, true
}

// TypingAttributes returns attributes newly typed text at offset receives:
// those of the closest preceding non-attachment character, or of the
// following one at the start of the buffer.
func (b *Buffer) TypingAttributes(at int) Attributes {
	for off := min(at, len(b.text)) - 1; off >= 0; off-- {
		if _, ok := b.atts[off]; !ok {
			a, _ := b.AttributesAt(off)
			return a
		}
	}
	for off := max(at, 0); off < len(b.text); off++ {
		if _, ok := b.atts[off]; !ok {
			a, _ := b.AttributesAt(off)
			return a
		}
	}
	return Attributes{}
}

// Runs iterates over attribute runs in order.
func (b *Buffer) Runs() iter.Seq2[Range, Attributes] {
	return func(yield func(Range, Attributes) bool) {
		pos := 0
		for _, r := range b.runs {
			if !yield(Range{Start: pos, End: pos + r.Length}, r.Attrs) {
				return
			}
			pos += r.Length
		}
	}
}

// RunTable returns a copy of the normalized run table.
func (b *Buffer) RunTable() []Run {
	return slices.Clone(b.runs)
}

// Enumerate yields maximal ranges inside r over which key(attributes) stays
// the same, together with that value.
func Enumerate[T comparable](b *Buffer, r Range, key func(Attributes) T) iter.Seq2[T, Range] {
	return func(yield func(T, Range) bool) {
		r = b.clamp(r)
		if r.IsEmpty() {
			return
		}
		var (
			cur     T
			curR    Range
			started bool
		)
		for rr, attrs := range b.Runs() {
			seg, ok := rr.Intersect(r)
			if !ok {
				if rr.Start >= r.End {
					break
				}
				continue
			}
			v := key(attrs)
			if started && v == cur && curR.End == seg.Start {
				curR.End = seg.End
				continue
			}
			if started && !yield(cur, curR) {
				return
			}
			cur, curR, started = v, seg, true
		}
		if started {
			yield(cur, curR)
		}
	}
}

// Attachments iterates over attachments in offset order.
func (b *Buffer) Attachments() iter.Seq2[int, Attachment] {
	return func(yield func(int, Attachment) bool) {
		for _, off := range slices.Sorted(maps.Keys(b.atts)) {
			if !yield(off, b.atts[off]) {
				return
			}
		}
	}
}

// AttachmentCount returns number of attachments in the buffer.
func (b *Buffer) AttachmentCount() int {
	return len(b.atts)
}

// AttachmentAt returns attachment anchored at offset.
func (b *Buffer) AttachmentAt(off int) (Attachment, bool) {
	a, ok := b.atts[off]
	return a, ok
}

// IsAttachment reports whether offset holds an attachment placeholder.
func (b *Buffer) IsAttachment(off int) bool {
	_, ok := b.atts[off]
	return ok
}

// Clone returns deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{
		text: slices.Clone(b.text),
		runs: slices.Clone(b.runs),
		atts: make(map[int]Attachment, len(b.atts)),
	}
	for off, a := range b.atts {
		c.atts[off] = a.clone()
	}
	return c
}

// Equal reports whether both buffers have identical text, attribute runs and
// attachments (same identities, offsets and payloads).
func (b *Buffer) Equal(o *Buffer) bool {
	if b == nil || o == nil {
		return b == o
	}
	if !slices.Equal(b.text, o.text) || !slices.Equal(b.runs, o.runs) || len(b.atts) != len(o.atts) {
		return false
	}
	for off, a := range b.atts {
		if !SameAttachment(a, o.atts[off]) {
			return false
		}
	}
	return true
}

// Slice returns fragment of the buffer covering r. Attachments in the
// fragment keep their identities.
func (b *Buffer) Slice(r Range) *Buffer {
	r = b.clamp(r)
	f := &Buffer{
		text: slices.Clone(b.text[r.Start:r.End]),
		runs: b.runsIn(r),
		atts: make(map[int]Attachment),
	}
	for off, a := range b.atts {
		if r.Contains(off) {
			f.atts[off-r.Start] = a.clone()
		}
	}
	return f
}

// ParagraphRange expands r to full paragraphs. Paragraphs are separated by
// newline characters which belong to the paragraph they terminate.
func (b *Buffer) ParagraphRange(r Range) Range {
	r = b.clamp(r)
	start := r.Start
	for start > 0 && b.text[start-1] != '\n' {
		start--
	}
	end := r.End
	if end == r.Start || b.text[end-1] != '\n' {
		for end < len(b.text) && b.text[end] != '\n' {
			end++
		}
		if end < len(b.text) {
			end++
		}
	}
	return Range{Start: start, End: end}
}

// Validate checks buffer invariants.
func (b *Buffer) Validate() error {
	total := 0
	for i, r := range b.runs {
		if r.Length <= 0 {
			return violation("validate", "run %d has non positive length %d", i, r.Length)
		}
		total += r.Length
	}
	if total != len(b.text) {
		return violation("validate", "runs cover %d positions, text has %d", total, len(b.text))
	}
	ids := make(map[string]int, len(b.atts))
	for off, a := range b.atts {
		if off < 0 || off >= len(b.text) {
			return violation("validate", "attachment %q at offset %d outside of text", a.ID(), off)
		}
		if b.text[off] != Placeholder {
			return violation("validate", "attachment %q at offset %d has no placeholder", a.ID(), off)
		}
		if a.ID() == "" {
			return violation("validate", "attachment at offset %d has no identity", off)
		}
		if prev, dup := ids[a.ID()]; dup {
			return violation("validate", "attachment %q present at offsets %d and %d", a.ID(), prev, off)
		}
		ids[a.ID()] = off
	}
	for i, r := range b.text {
		if _, ok := b.atts[i]; r == Placeholder && !ok {
			return violation("validate", "placeholder at offset %d without attachment", i)
		}
	}
	return nil
}

func (b *Buffer) clamp(r Range) Range {
	r.Start = min(max(r.Start, 0), len(b.text))
	r.End = min(max(r.End, r.Start), len(b.text))
	return r
}

func (b *Buffer) checkRange(op string, r Range) error {
	if r.Start < 0 || r.End > len(b.text) || r.Start > r.End {
		return violation(op, "range [%d,%d) is outside of buffer [0,%d)", r.Start, r.End, len(b.text))
	}
	return nil
}

// locate returns index of run containing offset and offset inside that run.
// Offset must be inside the buffer.
func (b *Buffer) locate(off int) (int, int) {
	pos := 0
	for i, r := range b.runs {
		if off < pos+r.Length {
			return i, off - pos
		}
		pos += r.Length
	}
	return len(b.runs), 0
}

// split makes sure a run boundary exists at offset and returns index of the
// run starting there (len(runs) at the end of buffer).
func (b *Buffer) split(off int) int {
	if off >= len(b.text) {
		return len(b.runs)
	}
	i, in := b.locate(off)
	if in == 0 {
		return i
	}
	r := b.runs[i]
	b.runs[i].Length = in
	b.runs = slices.Insert(b.runs, i+1, Run{Length: r.Length - in, Attrs: r.Attrs})
	return i + 1
}

// runsIn returns runs covering r without modifying buffer.
func (b *Buffer) runsIn(r Range) []Run {
	var out []Run
	for rr, attrs := range b.Runs() {
		if seg, ok := rr.Intersect(r); ok {
			out = append(out, Run{Length: seg.Len(), Attrs: attrs})
		} else if rr.Start >= r.End {
			break
		}
	}
	return out
}

// normalize drops empty runs and merges neighbours with equal attributes.
func (b *Buffer) normalize() {
	out := b.runs[:0]
	for _, r := range b.runs {
		if r.Length <= 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Attrs == r.Attrs {
			out[n-1].Length += r.Length
			continue
		}
		out = append(out, r)
	}
	b.runs = out
}

// shiftAttachments moves every attachment at or after offset by delta.
func (b *Buffer) shiftAttachments(from, delta int) {
	if delta == 0 || len(b.atts) == 0 {
		return
	}
	moved := make(map[int]Attachment, len(b.atts))
	for off, a := range b.atts {
		if off >= from {
			off += delta
		}
		moved[off] = a
	}
	b.atts = moved
}

// segments splits r into sub ranges that do not contain attachment offsets.
func (b *Buffer) segments(r Range) []Range {
	var out []Range
	start := r.Start
	for off := r.Start; off < r.End; off++ {
		if _, ok := b.atts[off]; ok {
			if off > start {
				out = append(out, Range{Start: start, End: off})
			}
			start = off + 1
		}
	}
	if r.End > start {
		out = append(out, Range{Start: start, End: r.End})
	}
	return out
}

func (b *Buffer) hasID(id string) bool {
	for _, a := range b.atts {
		if a.ID() == id {
			return true
		}
	}
	return false
}
