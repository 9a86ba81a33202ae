package buffer

import (
	"slices"
	"strings"
)

// SetAttributes replaces attributes of every character in r. Attachment
// positions are skipped, their placeholders keep attributes they have.
func (b *Buffer) SetAttributes(r Range, attrs Attributes) error {
	if err := b.checkRange("set attributes", r); err != nil {
		return err
	}
	for _, seg := range b.segments(r) {
		i, j := b.split(seg.Start), b.split(seg.End)
		b.runs = slices.Replace(b.runs, i, j, Run{Length: seg.Len(), Attrs: attrs})
	}
	b.normalize()
	return nil
}

// UpdateAttributes transforms attributes of every character in r with fn.
// Attachment positions are skipped.
func (b *Buffer) UpdateAttributes(r Range, fn func(Attributes) Attributes) error {
	if err := b.checkRange("update attributes", r); err != nil {
		return err
	}
	for _, seg := range b.segments(r) {
		i, j := b.split(seg.Start), b.split(seg.End)
		for k := i; k < j; k++ {
			b.runs[k].Attrs = fn(b.runs[k].Attrs)
		}
	}
	b.normalize()
	return nil
}

// SetParagraphStyle sets paragraph layout for every position in r including
// attachment placeholders. This is the only way to change alignment of an
// image or page break.
func (b *Buffer) SetParagraphStyle(r Range, p ParagraphStyle) error {
	if err := b.checkRange("set paragraph style", r); err != nil {
		return err
	}
	if r.IsEmpty() {
		return nil
	}
	i, j := b.split(r.Start), b.split(r.End)
	for k := i; k < j; k++ {
		b.runs[k].Attrs.Paragraph = p
	}
	b.normalize()
	return nil
}

// InsertText inserts text formatted with attrs at offset. Attachments at or
// after the insertion point move forward by the inserted length.
func (b *Buffer) InsertText(at int, text string, attrs Attributes) error {
	if at < 0 || at > len(b.text) {
		return violation("insert text", "offset %d is outside of buffer [0,%d]", at, len(b.text))
	}
	if strings.ContainsRune(text, Placeholder) {
		return violation("insert text", "text contains reserved placeholder character")
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	b.insert(at, runes, []Run{{Length: len(runes), Attrs: attrs}}, nil)
	return nil
}

// InsertTyped inserts text using typing attributes at offset.
func (b *Buffer) InsertTyped(at int, text string) error {
	return b.InsertText(at, text, b.TypingAttributes(at))
}

// InsertAttachment anchors attachment at offset. Its identity must be set and
// must not already be present in the buffer.
func (b *Buffer) InsertAttachment(at int, a Attachment, attrs Attributes) error {
	if at < 0 || at > len(b.text) {
		return violation("insert attachment", "offset %d is outside of buffer [0,%d]", at, len(b.text))
	}
	if a == nil || a.ID() == "" {
		return violation("insert attachment", "attachment has no identity")
	}
	if b.hasID(a.ID()) {
		return violation("insert attachment", "attachment %q is already present", a.ID())
	}
	b.insert(at, []rune{Placeholder}, []Run{{Length: 1, Attrs: attrs}}, map[int]Attachment{0: a.clone()})
	return nil
}

// InsertBuffer inserts fragment (usually obtained with Slice) at offset.
// Attachment identities from the fragment are preserved and must not clash
// with those already in the buffer.
func (b *Buffer) InsertBuffer(at int, f *Buffer) error {
	if at < 0 || at > len(b.text) {
		return violation("insert fragment", "offset %d is outside of buffer [0,%d]", at, len(b.text))
	}
	if f == nil || f.Len() == 0 {
		return nil
	}
	if err := f.Validate(); err != nil {
		return err
	}
	for _, a := range f.atts {
		if b.hasID(a.ID()) {
			return violation("insert fragment", "attachment %q is already present", a.ID())
		}
	}
	atts := make(map[int]Attachment, len(f.atts))
	for off, a := range f.atts {
		atts[off] = a.clone()
	}
	b.insert(at, slices.Clone(f.text), slices.Clone(f.runs), atts)
	return nil
}

func (b *Buffer) insert(at int, runes []rune, runs []Run, atts map[int]Attachment) {
	if b.atts == nil {
		b.atts = make(map[int]Attachment)
	}
	b.shiftAttachments(at, len(runes))
	i := b.split(at)
	b.text = slices.Insert(b.text, at, runes...)
	b.runs = slices.Insert(b.runs, i, runs...)
	for off, a := range atts {
		b.atts[at+off] = a
	}
	b.normalize()
}

// Delete removes r from the buffer and returns attachments which were
// anchored inside it in offset order. Attachments after the range move back.
func (b *Buffer) Delete(r Range) ([]Attachment, error) {
	if err := b.checkRange("delete", r); err != nil {
		return nil, err
	}
	if r.IsEmpty() {
		return nil, nil
	}
	var removed []Attachment
	for off, a := range b.Attachments() {
		if r.Contains(off) {
			removed = append(removed, a)
			delete(b.atts, off)
		}
	}
	i, j := b.split(r.Start), b.split(r.End)
	b.runs = slices.Delete(b.runs, i, j)
	b.text = slices.Delete(b.text, r.Start, r.End)
	b.shiftAttachments(r.End, -r.Len())
	b.normalize()
	return removed, nil
}

// Replace substitutes text in r. Replacement takes attributes of the first
// replaced character (typing attributes for empty ranges). Ranges containing
// attachments are rejected so markers are never dropped as a side effect.
func (b *Buffer) Replace(r Range, text string) error {
	if err := b.checkRange("replace", r); err != nil {
		return err
	}
	if strings.ContainsRune(text, Placeholder) {
		return violation("replace", "text contains reserved placeholder character")
	}
	for off := r.Start; off < r.End; off++ {
		if _, ok := b.atts[off]; ok {
			return violation("replace", "range [%d,%d) contains attachment at %d", r.Start, r.End, off)
		}
	}
	attrs := b.TypingAttributes(r.Start)
	if !r.IsEmpty() {
		attrs, _ = b.AttributesAt(r.Start)
	}
	if _, err := b.Delete(r); err != nil {
		return err
	}
	return b.InsertText(r.Start, text, attrs)
}

// ReplaceAttachment swaps payload of an attachment keeping its offset. The
// replacement must carry the same identity and variant.
func (b *Buffer) ReplaceAttachment(a Attachment) error {
	if a == nil {
		return violation("replace attachment", "nil attachment")
	}
	for off, old := range b.atts {
		if old.ID() != a.ID() {
			continue
		}
		if old.Kind() != a.Kind() {
			return violation("replace attachment", "attachment %q is %s, not %s", a.ID(), old.Kind(), a.Kind())
		}
		b.atts[off] = a.clone()
		return nil
	}
	return violation("replace attachment", "attachment %q is not present", a.ID())
}

// Rekey changes identity of attachment keeping its offset and payload. It is
// used when content is duplicated into a new version and identities must not
// be shared between versions.
func (b *Buffer) Rekey(oldID, newID string) error {
	if newID == "" {
		return violation("rekey attachment", "attachment has no identity")
	}
	if b.hasID(newID) {
		return violation("rekey attachment", "attachment %q is already present", newID)
	}
	for off, a := range b.atts {
		if a.ID() == oldID {
			b.atts[off] = WithID(a, newID)
			return nil
		}
	}
	return violation("rekey attachment", "attachment %q is not present", oldID)
}
