// Package attach manages identities of inline attachments and keeps comment
// and footnote markers in a buffer consistent with their backing records.
package attach

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shed/buffer"
	"shed/common"
)

// ErrMissingRecord is reported for comment and footnote markers which have no
// backing record. Such markers are left in place.
var ErrMissingRecord = errors.New("missing backing record")

// NewID returns new process unique attachment identifier. Identifiers are
// time ordered and never reused.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// clock sequence failure, random identity is still unique
		return uuid.NewString()
	}
	return id.String()
}

// FindPosition returns current offset of attachment with the given id. This
// is a linear scan and the only authoritative way to locate a marker, cached
// offsets go stale with every edit.
func FindPosition(b *buffer.Buffer, id string) (int, bool) {
	for off, a := range b.Attachments() {
		if a.ID() == id {
			return off, true
		}
	}
	return 0, false
}

// Record is backing object of a comment or footnote marker. It is keyed by
// the marker attachment identity.
type Record struct {
	AttachmentID string
	VersionID    string
	Kind         common.AttachmentKind
	// Position is last known marker offset, used to reinsert lost markers.
	Position int
	Body     string
	Created  time.Time
}

// NewRecord creates record for a freshly inserted marker.
func NewRecord(kind common.AttachmentKind, versionID string, position int, body string) (Record, error) {
	if !kind.HasBackingRecord() {
		return Record{}, fmt.Errorf("attachment kind %s has no backing record", kind)
	}
	return Record{
		AttachmentID: NewID(),
		VersionID:    versionID,
		Kind:         kind,
		Position:     position,
		Body:         body,
		Created:      time.Now().UTC(),
	}, nil
}

// Marker returns buffer attachment anchoring the record.
func (r Record) Marker() buffer.Attachment {
	if r.Kind == common.AttachmentKindFootnote {
		return buffer.FootnoteMarker{AttachmentID: r.AttachmentID}
	}
	return buffer.CommentMarker{AttachmentID: r.AttachmentID}
}

// Result of reconciliation.
type Result struct {
	// Orphans are records whose marker is missing from the buffer.
	Orphans []Record
	// Inert lists identities of markers without backing record. They are
	// left in place and only reported.
	Inert []string
}

// IsClean returns true when buffer and records agree.
func (r Result) IsClean() bool {
	return len(r.Orphans) == 0 && len(r.Inert) == 0
}

// Reconcile compares markers present in the buffer against records of the
// same version.
func Reconcile(b *buffer.Buffer, records []Record, log *zap.Logger) Result {
	if log == nil {
		log = zap.NewNop()
	}

	present := make(map[string]bool)
	for _, a := range b.Attachments() {
		if a.Kind().HasBackingRecord() {
			present[a.ID()] = false
		}
	}

	var res Result
	for _, rec := range records {
		if _, ok := present[rec.AttachmentID]; ok {
			present[rec.AttachmentID] = true
			continue
		}
		res.Orphans = append(res.Orphans, rec)
	}
	for _, a := range b.Attachments() {
		if matched, ok := present[a.ID()]; ok && !matched {
			res.Inert = append(res.Inert, a.ID())
			log.Warn("Marker left inert", zap.String("id", a.ID()), zap.Stringer("kind", a.Kind()), zap.Error(ErrMissingRecord))
		}
	}
	slices.SortStableFunc(res.Orphans, func(a, b Record) int {
		return cmp.Compare(a.Position, b.Position)
	})
	if len(res.Orphans) > 0 {
		log.Debug("Orphaned records found", zap.Int("count", len(res.Orphans)))
	}
	return res
}

// Reinsert puts markers of orphaned records back into the buffer at their
// last known positions clamped to buffer length. Records are processed in
// ascending position order so that earlier insertions reproduce the layout
// later positions were recorded against. Returns number of markers inserted.
func Reinsert(b *buffer.Buffer, orphans []Record) (int, error) {
	sorted := slices.Clone(orphans)
	slices.SortStableFunc(sorted, func(a, b Record) int {
		return cmp.Compare(a.Position, b.Position)
	})

	count := 0
	for _, rec := range sorted {
		if _, ok := FindPosition(b, rec.AttachmentID); ok {
			continue
		}
		at := min(max(rec.Position, 0), b.Len())
		if err := b.InsertAttachment(at, rec.Marker(), b.TypingAttributes(at)); err != nil {
			return count, fmt.Errorf("unable to reinsert marker %s: %w", rec.AttachmentID, err)
		}
		count++
	}
	return count, nil
}

// Track refreshes last known positions of records from the buffer. Records
// whose markers are not present keep their previous position.
func Track(b *buffer.Buffer, records []Record) []Record {
	pos := make(map[string]int)
	for off, a := range b.Attachments() {
		if a.Kind().HasBackingRecord() {
			pos[a.ID()] = off
		}
	}
	out := slices.Clone(records)
	for i := range out {
		if off, ok := pos[out[i].AttachmentID]; ok {
			out[i].Position = off
		}
	}
	return out
}

// Renumber assigns footnote display numbers 1..n in offset order. Returns
// true if any marker changed.
func Renumber(b *buffer.Buffer) (bool, error) {
	var updates []buffer.FootnoteMarker
	n := 0
	for _, a := range b.Attachments() {
		fn, ok := a.(buffer.FootnoteMarker)
		if !ok {
			continue
		}
		n++
		if fn.Number != n {
			fn.Number = n
			updates = append(updates, fn)
		}
	}
	for _, fn := range updates {
		if err := b.ReplaceAttachment(fn); err != nil {
			return false, fmt.Errorf("unable to renumber footnotes: %w", err)
		}
	}
	return len(updates) > 0, nil
}
