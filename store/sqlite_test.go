package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"shed/attach"
	"shed/common"
	"shed/style"
	"shed/version"
)

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(Memory, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDocument() Document {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return Document{
		ID:             "doc-1",
		ProjectID:      "proj-1",
		Title:          "Chapter 1",
		CurrentVersion: "v2",
		Versions: []version.Meta{
			{ID: "v2", Number: 2, Comment: "rewrite", Created: created.Add(time.Hour)},
			{ID: "v1", Number: 1, Locked: true, LockReason: "sent", Created: created},
		},
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if _, err := s.LoadDocument(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadDocument on empty store = %v, want ErrNotFound", err)
	}
	doc := sampleDocument()
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadDocument(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != doc.Title || got.ProjectID != doc.ProjectID || got.CurrentVersion != "v2" {
		t.Errorf("document = %+v", got)
	}
	if len(got.Versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(got.Versions))
	}
	if v := got.Versions[0]; v.ID != "v1" || !v.Locked || v.LockReason != "sent" || !v.Created.Equal(doc.Versions[1].Created) {
		t.Errorf("first version = %+v", v)
	}
	if v := got.Versions[1]; v.ID != "v2" || v.Comment != "rewrite" {
		t.Errorf("second version = %+v", v)
	}

	doc.Title = "Chapter One"
	doc.Versions[1].Locked = false
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadDocument(ctx, "doc-1")
	if got.Title != "Chapter One" || got.Versions[0].Locked {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	for _, d := range []Document{
		{ID: "b", ProjectID: "p1", Title: "Beta"},
		{ID: "a", ProjectID: "p1", Title: "Alpha"},
		{ID: "c", ProjectID: "p2", Title: "Other"},
	} {
		if err := s.SaveDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.Documents(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "b" {
		t.Errorf("Documents(p1) = %+v", docs)
	}
}

func TestContent(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if err := s.SaveContent(ctx, "v1", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveContent for unknown version = %v", err)
	}
	if err := s.SaveDocument(ctx, sampleDocument()); err != nil {
		t.Fatal(err)
	}
	data, err := s.LoadContent(ctx, "v1")
	if err != nil || len(data) != 0 {
		t.Fatalf("fresh version content = %q, %v", data, err)
	}
	if err := s.SaveContent(ctx, "v1", []byte{0xE0, 0x01, 0x00, 0xEA}); err != nil {
		t.Fatal(err)
	}
	data, err = s.LoadContent(ctx, "v1")
	if err != nil || string(data) != "\xE0\x01\x00\xEA" {
		t.Errorf("LoadContent = %x, %v", data, err)
	}
	if _, err := s.LoadContent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadContent(missing) = %v", err)
	}
}

func TestRecords(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	if err := s.SaveDocument(ctx, sampleDocument()); err != nil {
		t.Fatal(err)
	}

	late, _ := attach.NewRecord(common.AttachmentKindComment, "v1", 12, "check date")
	early, _ := attach.NewRecord(common.AttachmentKindFootnote, "v1", 3, "see appendix")
	for _, r := range []attach.Record{late, early} {
		if err := s.SaveRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := s.Records(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].AttachmentID != early.AttachmentID || recs[0].Kind != common.AttachmentKindFootnote {
		t.Fatalf("Records = %+v", recs)
	}

	late.Position = 20
	late.Body = "date checked"
	if err := s.SaveRecord(ctx, late); err != nil {
		t.Fatal(err)
	}
	recs, _ = s.Records(ctx, "v1")
	if recs[1].Position != 20 || recs[1].Body != "date checked" {
		t.Errorf("updated record = %+v", recs[1])
	}

	if err := s.DeleteRecord(ctx, early.AttachmentID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRecord(ctx, early.AttachmentID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRecord = %v", err)
	}
	if recs, _ := s.Records(ctx, "v2"); len(recs) != 0 {
		t.Errorf("records leaked to other version: %+v", recs)
	}
}

func TestDeleteVersion(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	if err := s.SaveDocument(ctx, sampleDocument()); err != nil {
		t.Fatal(err)
	}
	rec, _ := attach.NewRecord(common.AttachmentKindComment, "v1", 0, "note")
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteVersion(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadContent(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("content survived deletion: %v", err)
	}
	if recs, _ := s.Records(ctx, "v1"); len(recs) != 0 {
		t.Errorf("records survived deletion: %+v", recs)
	}
	doc, _ := s.LoadDocument(ctx, "doc-1")
	if len(doc.Versions) != 1 || doc.Versions[0].ID != "v2" {
		t.Errorf("versions after deletion = %+v", doc.Versions)
	}
	if err := s.DeleteVersion(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteVersion = %v", err)
	}
}

func TestStylesheet(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	if _, err := s.LoadStylesheet(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadStylesheet = %v, want ErrNotFound", err)
	}
	sheet := style.NewStylesheet("manuscript")
	sheet.ImageAlignment = common.AlignmentCenter
	sheet.Add(&style.Style{Name: "Body", Font: style.Ptr("Georgia"), Size: style.Ptr(12.0)})
	sheet.Add(&style.Style{Name: "Heading", BasedOn: "Body", Bold: style.Ptr(true)})
	if err := s.SaveStylesheet(ctx, "p1", sheet); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadStylesheet(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "manuscript" || got.ImageAlignment != common.AlignmentCenter || len(got.Styles) != 2 {
		t.Errorf("stylesheet = %+v", got)
	}
	attrs, ok := style.Resolve("Heading", got)
	if !ok || !attrs.Bold || attrs.Font != "Georgia" {
		t.Errorf("Resolve(Heading) = %+v, %v", attrs, ok)
	}
}

func TestFileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shed.db")

	s, err := OpenSQLite(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDocument(ctx, sampleDocument()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := s.Documents(ctx, "proj-1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Documents on closed store = %v", err)
	}

	s, err = OpenSQLite(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	docs, err := s.Documents(ctx, "proj-1")
	if err != nil || len(docs) != 1 {
		t.Errorf("reopened Documents = %+v, %v", docs, err)
	}
}

func TestCanceledContext(t *testing.T) {
	s := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SaveDocument(ctx, sampleDocument()); !errors.Is(err, context.Canceled) {
		t.Errorf("SaveDocument with canceled context = %v", err)
	}
}
