package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"shed/attach"
	"shed/buffer"
	"shed/common"
	"shed/history"
	"shed/style"
	"shed/version"
)

// editable returns current version if it may be edited.
func (s *Session) editable() (*version.Version, error) {
	if s.closed {
		return nil, ErrClosed
	}
	v := s.doc.Current()
	if err := v.CheckEditable(); err != nil {
		return nil, err
	}
	if !v.Reconciled() {
		s.doc.Activate()
		if !v.Reconciled() {
			return nil, fmt.Errorf("%w: %w", ErrNotLoaded, s.activateErr)
		}
	}
	return v, nil
}

func checkRange(op string, b *buffer.Buffer, r buffer.Range) error {
	if r.Start < 0 || r.End > b.Len() || r.Start > r.End {
		return fmt.Errorf("%s %s: %w: outside of buffer [0,%d)", op, r, buffer.ErrStructuralViolation, b.Len())
	}
	return nil
}

func (s *Session) execute(v *version.Version, cmd history.Command) error {
	if err := s.engine.Execute(cmd); err != nil {
		return err
	}
	s.typing = false
	return s.commit(v)
}

// edit records fn applied to a copy of current content as a snapshot
// command. Edits that change nothing are not recorded.
func (s *Session) edit(kind history.Kind, desc string, fn func(b *buffer.Buffer) error) error {
	v, err := s.editable()
	if err != nil {
		return err
	}
	cmd, err := history.NewEdit(v, kind, desc, fn)
	if err != nil {
		if errors.Is(err, history.ErrNoChange) {
			return nil
		}
		return err
	}
	return s.execute(v, cmd)
}

// TypeText inserts text typed at offset. Consecutive typing becomes a single
// undo step and is saved on Flush.
func (s *Session) TypeText(at int, text string) error {
	v, err := s.editable()
	if err != nil {
		return err
	}
	if err := s.engine.Type(v, at, text); err != nil {
		return err
	}
	s.typing = text != "" || s.typing
	return nil
}

// Flush closes current typing step and saves it.
func (s *Session) Flush() error {
	if s.closed {
		return ErrClosed
	}
	s.engine.Flush()
	if !s.typing {
		return nil
	}
	s.typing = false
	return s.commit(s.doc.Current())
}

// Delete removes range r. Backing records of markers inside the range are
// deleted too and come back on undo.
func (s *Session) Delete(r buffer.Range) error {
	v, err := s.editable()
	if err != nil {
		return err
	}
	b := v.Content()
	if err := checkRange("delete", b, r); err != nil || r.IsEmpty() {
		return err
	}
	if !containsAttachment(b, r) {
		return s.execute(v, history.NewDelete(v, r))
	}
	return s.edit(history.KindDelete, "Delete", func(b *buffer.Buffer) error {
		if _, err := b.Delete(r); err != nil {
			return err
		}
		_, err := attach.Renumber(b)
		return err
	})
}

// Replace substitutes plain text in r. Ranges containing attachments are
// rejected.
func (s *Session) Replace(r buffer.Range, text string) error {
	v, err := s.editable()
	if err != nil {
		return err
	}
	b := v.Content()
	if err := checkRange("replace", b, r); err != nil {
		return err
	}
	if containsAttachment(b, r) {
		return fmt.Errorf("replace %s: %w: range contains attachment", r, buffer.ErrStructuralViolation)
	}
	if strings.ContainsRune(text, buffer.Placeholder) {
		return fmt.Errorf("replace %s: %w: text contains reserved placeholder character", r, buffer.ErrStructuralViolation)
	}
	return s.execute(v, history.NewReplace(v, r, text))
}

// ApplyFormat transforms character attributes in r, attachments are skipped.
func (s *Session) ApplyFormat(r buffer.Range, desc string, fn func(buffer.Attributes) buffer.Attributes) error {
	return s.edit(history.KindFormatApply, desc, func(b *buffer.Buffer) error {
		return b.UpdateAttributes(r, fn)
	})
}

// ApplyStyle formats r with named style of the project stylesheet and tags
// it so later stylesheet changes are reapplied.
func (s *Session) ApplyStyle(r buffer.Range, name string) error {
	attrs, ok := style.Resolve(name, s.sheet)
	if !ok {
		return fmt.Errorf("style %q: %w", name, style.ErrUnresolvable)
	}
	return s.edit(history.KindFormatApply, "Apply style "+name, func(b *buffer.Buffer) error {
		return b.SetAttributes(r, attrs)
	})
}

// SetAlignment aligns every paragraph touched by r, including image and page
// break paragraphs.
func (s *Session) SetAlignment(r buffer.Range, a common.Alignment) error {
	if !a.IsValid() {
		return fmt.Errorf("invalid alignment %d", a)
	}
	return s.edit(history.KindFormatApply, "Align "+a.String(), func(b *buffer.Buffer) error {
		return setAlignment(b, b.ParagraphRange(r), a)
	})
}

func setAlignment(b *buffer.Buffer, r buffer.Range, a common.Alignment) error {
	type segment struct {
		r buffer.Range
		p buffer.ParagraphStyle
	}
	var segs []segment
	for p, rr := range buffer.Enumerate(b, r, func(attrs buffer.Attributes) buffer.ParagraphStyle { return attrs.Paragraph }) {
		p.Alignment = a
		segs = append(segs, segment{r: rr, p: p})
	}
	for _, seg := range segs {
		if err := b.SetParagraphStyle(seg.r, seg.p); err != nil {
			return err
		}
	}
	return nil
}

// InsertImage anchors new image at offset and returns its identity. MIME type
// is detected when empty. New images take default image alignment of the
// project stylesheet.
func (s *Session) InsertImage(at int, data []byte, mimeType, caption string) (string, error) {
	img := buffer.NewImage(attach.NewID(), data, mimeType)
	img.Caption = caption
	err := s.edit(history.KindInsertImage, "Insert image", func(b *buffer.Buffer) error {
		attrs := b.TypingAttributes(at)
		if s.sheet != nil && s.sheet.ImageAlignment != common.AlignmentNatural {
			attrs.Paragraph.Alignment = s.sheet.ImageAlignment
		}
		return b.InsertAttachment(at, img, attrs)
	})
	if err != nil {
		return "", err
	}
	return img.AttachmentID, nil
}

// UpdateImage changes payload of an image.
func (s *Session) UpdateImage(id string, fn func(img *buffer.Image)) error {
	return s.edit(history.KindImageUpdate, "Update image", func(b *buffer.Buffer) error {
		img, _, err := findImage(b, id)
		if err != nil {
			return err
		}
		fn(&img)
		img.AttachmentID = id
		return b.ReplaceAttachment(img)
	})
}

// SetImageAlignment sets per instance alignment of an image.
func (s *Session) SetImageAlignment(id string, a common.Alignment) error {
	if !a.IsValid() {
		return fmt.Errorf("invalid alignment %d", a)
	}
	return s.edit(history.KindImageUpdate, "Align image", func(b *buffer.Buffer) error {
		_, off, err := findImage(b, id)
		if err != nil {
			return err
		}
		return setAlignment(b, buffer.Range{Start: off, End: off + 1}, a)
	})
}

func findImage(b *buffer.Buffer, id string) (buffer.Image, int, error) {
	off, ok := attach.FindPosition(b, id)
	if !ok {
		return buffer.Image{}, 0, fmt.Errorf("image %s: %w: not present", id, buffer.ErrStructuralViolation)
	}
	a, _ := b.AttachmentAt(off)
	img, ok := a.(buffer.Image)
	if !ok {
		return buffer.Image{}, 0, fmt.Errorf("attachment %s is %s, not image", id, a.Kind())
	}
	return img, off, nil
}

// InsertPageBreak anchors page break at offset and returns its identity.
func (s *Session) InsertPageBreak(at int, hint string) (string, error) {
	pb := buffer.PageBreak{AttachmentID: attach.NewID(), Hint: hint}
	err := s.edit(history.KindInsertAttachment, "Insert page break", func(b *buffer.Buffer) error {
		return b.InsertAttachment(at, pb, b.TypingAttributes(at))
	})
	if err != nil {
		return "", err
	}
	return pb.AttachmentID, nil
}

// AddComment creates comment record and anchors its marker at offset.
func (s *Session) AddComment(at int, body string) (attach.Record, error) {
	return s.addNote(common.AttachmentKindComment, at, body)
}

// AddFootnote creates footnote record, anchors its marker at offset and
// renumbers footnotes.
func (s *Session) AddFootnote(at int, body string) (attach.Record, error) {
	return s.addNote(common.AttachmentKindFootnote, at, body)
}

// addNote writes record first, so a failure between the two writes leaves an
// orphan which is reinserted on next load.
func (s *Session) addNote(kind common.AttachmentKind, at int, body string) (attach.Record, error) {
	v, err := s.editable()
	if err != nil {
		return attach.Record{}, err
	}
	if at < 0 || at > v.Content().Len() {
		return attach.Record{}, fmt.Errorf("insert %s at %d: %w: outside of buffer [0,%d]", kind, at, buffer.ErrStructuralViolation, v.Content().Len())
	}
	rec, err := attach.NewRecord(kind, v.ID(), at, body)
	if err != nil {
		return attach.Record{}, err
	}
	if err := s.st.SaveRecord(s.ctx, rec); err != nil {
		return attach.Record{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.recordsOf(v)[rec.AttachmentID] = rec

	cmd, err := history.NewEdit(v, history.KindInsertAttachment, "Add "+kind.String(), func(b *buffer.Buffer) error {
		if err := b.InsertAttachment(at, rec.Marker(), b.TypingAttributes(at)); err != nil {
			return err
		}
		_, err := attach.Renumber(b)
		return err
	})
	if err == nil {
		err = s.engine.Execute(cmd)
	}
	if err != nil {
		delete(s.records[v.ID()], rec.AttachmentID)
		if e := s.st.DeleteRecord(s.ctx, rec.AttachmentID); e != nil {
			s.log.Warn("Unable to drop record of failed insertion", zap.String("id", rec.AttachmentID), zap.Error(e))
		}
		return attach.Record{}, err
	}
	s.typing = false
	return rec, s.commit(v)
}

// EditNote changes body of comment or footnote record. It is not recorded in
// history.
func (s *Session) EditNote(id, body string) error {
	v, err := s.editable()
	if err != nil {
		return err
	}
	rec, ok := s.records[v.ID()][id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, attach.ErrMissingRecord)
	}
	rec.Body = body
	if err := s.st.SaveRecord(s.ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.records[v.ID()][id] = rec
	return nil
}

// RemoveAttachment removes attachment by identity. For comments and
// footnotes this may be initiated from either side: when the marker is
// present it is removed (and its record with it), when only the record is
// left the record is deleted.
func (s *Session) RemoveAttachment(id string) error {
	v, err := s.editable()
	if err != nil {
		return err
	}
	off, ok := attach.FindPosition(v.Content(), id)
	if !ok {
		if _, known := s.records[v.ID()][id]; !known {
			return fmt.Errorf("attachment %s: %w: not present", id, buffer.ErrStructuralViolation)
		}
		if err := s.st.DeleteRecord(s.ctx, id); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		delete(s.records[v.ID()], id)
		return nil
	}
	return s.edit(history.KindRemoveAttachment, "Remove attachment", func(b *buffer.Buffer) error {
		if _, err := b.Delete(buffer.Range{Start: off, End: off + 1}); err != nil {
			return err
		}
		_, err := attach.Renumber(b)
		return err
	})
}

// ReplaceRanges substitutes every range with replacement as a single undo
// step and saves the document synchronously. If saving fails the edit is
// rolled back and the error returned. Ranges must not overlap or contain
// attachments.
func (s *Session) ReplaceRanges(ctx context.Context, ranges []buffer.Range, replacement string) (int, error) {
	v, err := s.editable()
	if err != nil {
		return 0, err
	}
	if len(ranges) == 0 {
		return 0, nil
	}
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b buffer.Range) int { return b.Start - a.Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].End > sorted[i-1].Start {
			return 0, fmt.Errorf("replace %s: %w: overlaps %s", sorted[i], buffer.ErrStructuralViolation, sorted[i-1])
		}
	}

	cmd, err := history.NewEdit(v, history.KindBatchReplace, fmt.Sprintf("Replace %d matches", len(sorted)), func(b *buffer.Buffer) error {
		for _, r := range sorted {
			if err := b.Replace(r, replacement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, history.ErrNoChange) {
			return 0, nil
		}
		return 0, err
	}
	if err := s.engine.Execute(cmd); err != nil {
		return 0, err
	}
	s.typing = false

	// only failure of this write undoes the replacement, failures of earlier
	// background saves are reported by the next Save
	if err := s.saveVersion(ctx, v); err != nil {
		if rerr := s.engine.Rollback(cmd); rerr != nil {
			s.log.Error("Unable to roll back unsaved replacement", zap.Error(rerr))
		}
		return 0, err
	}
	return len(sorted), nil
}

// Undo reverts the most recent edit. It does nothing while the current
// version is locked, when the edit targets a locked version or there is
// nothing to undo.
func (s *Session) Undo() error {
	return s.restore(true)
}

// Redo re-applies the most recently undone edit.
func (s *Session) Redo() error {
	return s.restore(false)
}

func (s *Session) restore(undo bool) error {
	if s.closed {
		return ErrClosed
	}
	if !s.restorable(undo) {
		return nil
	}
	s.typing = false
	s.restoreErr = nil
	fn := s.engine.Redo
	if undo {
		fn = s.engine.Undo
	}
	if err := fn(); err != nil {
		return err
	}
	err := s.restoreErr
	s.restoreErr = nil
	return err
}

func (s *Session) restorable(undo bool) bool {
	if s.closed || s.doc.Current().Locked() {
		return false
	}
	target, ok := s.engine.NextTarget(undo)
	if !ok {
		return false
	}
	if l, ok := target.(interface{ Locked() bool }); ok && l.Locked() {
		return false
	}
	return true
}

// CanUndo reports whether Undo would do anything.
func (s *Session) CanUndo() bool {
	return s.restorable(true)
}

// CanRedo reports whether Redo would do anything.
func (s *Session) CanRedo() bool {
	return s.restorable(false)
}

// History returns descriptions of the steps Undo and Redo would apply.
func (s *Session) History() (undo, redo string) {
	return s.engine.Peek()
}

func containsAttachment(b *buffer.Buffer, r buffer.Range) bool {
	for off := r.Start; off < r.End; off++ {
		if b.IsAttachment(off) {
			return true
		}
	}
	return false
}
