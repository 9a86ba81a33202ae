package attach

import (
	"slices"
	"testing"

	"go.uber.org/zap/zaptest"

	"shed/buffer"
	"shed/common"
)

func newBuffer(t *testing.T, text string) *buffer.Buffer {
	t.Helper()
	b, err := buffer.New(text, buffer.Attributes{Font: "Serif"})
	if err != nil {
		t.Fatalf("buffer.New: %v", err)
	}
	return b
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		if id == "" || seen[id] {
			t.Fatalf("NewID returned empty or duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestFindPosition_StableAcrossEdits(t *testing.T) {
	b := newBuffer(t, "hello world")
	rec, err := NewRecord(common.AttachmentKindComment, "v1", 5, "note")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.InsertAttachment(5, rec.Marker(), buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	if err := b.InsertText(0, "well, ", buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	off, ok := FindPosition(b, rec.AttachmentID)
	if !ok || off != 11 {
		t.Errorf("FindPosition = %d, %v, want 11, true", off, ok)
	}
	if _, err := b.Delete(buffer.Range{Start: 0, End: 6}); err != nil {
		t.Fatal(err)
	}
	if off, _ := FindPosition(b, rec.AttachmentID); off != 5 {
		t.Errorf("FindPosition after delete = %d, want 5", off)
	}
	if _, ok := FindPosition(b, "missing"); ok {
		t.Errorf("found attachment that does not exist")
	}
}

func TestNewRecord_RejectsKindsWithoutRecords(t *testing.T) {
	if _, err := NewRecord(common.AttachmentKindImage, "v1", 0, ""); err == nil {
		t.Errorf("expected error for image record")
	}
}

func TestReconcile(t *testing.T) {
	log := zaptest.NewLogger(t)
	b := newBuffer(t, "abcdefgh")

	kept, _ := NewRecord(common.AttachmentKindFootnote, "v1", 1, "kept")
	lostA, _ := NewRecord(common.AttachmentKindComment, "v1", 6, "lost late")
	lostB, _ := NewRecord(common.AttachmentKindComment, "v1", 3, "lost early")

	if err := b.InsertAttachment(1, kept.Marker(), buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	if err := b.InsertAttachment(4, buffer.CommentMarker{AttachmentID: "stray"}, buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	if err := b.InsertAttachment(0, buffer.NewImage(NewID(), []byte("GIF89a"), ""), buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}

	res := Reconcile(b, []Record{kept, lostA, lostB}, log)
	if res.IsClean() {
		t.Fatal("expected differences")
	}
	if !slices.Equal(res.Inert, []string{"stray"}) {
		t.Errorf("Inert = %v, want [stray]", res.Inert)
	}
	if len(res.Orphans) != 2 || res.Orphans[0].AttachmentID != lostB.AttachmentID {
		t.Fatalf("Orphans = %+v, want lostB then lostA", res.Orphans)
	}

	before := b.Len()
	n, err := Reinsert(b, res.Orphans)
	if err != nil {
		t.Fatalf("Reinsert: %v", err)
	}
	if n != 2 || b.Len() != before+2 {
		t.Errorf("Reinsert inserted %d, len %d -> %d", n, before, b.Len())
	}
	if off, _ := FindPosition(b, lostB.AttachmentID); off != 3 {
		t.Errorf("lostB at %d, want 3", off)
	}
	if off, _ := FindPosition(b, lostA.AttachmentID); off != 6 {
		t.Errorf("lostA at %d, want 6", off)
	}
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}

	// second pass is a no-op apart from the stray marker
	res = Reconcile(b, []Record{kept, lostA, lostB}, log)
	if len(res.Orphans) != 0 || len(res.Inert) != 1 {
		t.Errorf("second reconcile = %+v", res)
	}
}

func TestReinsert_ClampsPosition(t *testing.T) {
	b := newBuffer(t, "abc")
	rec, _ := NewRecord(common.AttachmentKindFootnote, "v1", 100, "")
	if _, err := Reinsert(b, []Record{rec}); err != nil {
		t.Fatal(err)
	}
	if off, ok := FindPosition(b, rec.AttachmentID); !ok || off != 3 {
		t.Errorf("position = %d, %v, want 3", off, ok)
	}
}

func TestTrack(t *testing.T) {
	b := newBuffer(t, "abc")
	rec, _ := NewRecord(common.AttachmentKindComment, "v1", 1, "")
	gone, _ := NewRecord(common.AttachmentKindComment, "v1", 2, "")
	if err := b.InsertAttachment(1, rec.Marker(), buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	if err := b.InsertText(0, "xx", buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	got := Track(b, []Record{rec, gone})
	if got[0].Position != 3 || got[1].Position != 2 {
		t.Errorf("positions = %d, %d, want 3, 2", got[0].Position, got[1].Position)
	}
	if rec.Position != 1 {
		t.Errorf("Track modified input record")
	}
}

func TestRenumber(t *testing.T) {
	b := newBuffer(t, "abcdef")
	for i, at := range []int{4, 2, 0} {
		fn := buffer.FootnoteMarker{AttachmentID: NewID(), Number: i + 1}
		if err := b.InsertAttachment(at, fn, buffer.Attributes{}); err != nil {
			t.Fatal(err)
		}
	}
	changed, err := Renumber(b)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Errorf("expected renumbering")
	}
	var numbers []int
	for _, a := range b.Attachments() {
		numbers = append(numbers, a.(buffer.FootnoteMarker).Number)
	}
	if !slices.Equal(numbers, []int{1, 2, 3}) {
		t.Errorf("numbers = %v", numbers)
	}
	if changed, _ := Renumber(b); changed {
		t.Errorf("second renumber reported changes")
	}
}
