package history

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"shed/buffer"
)

type target struct {
	id string
	b  *buffer.Buffer
}

func (t *target) ID() string                  { return t.id }
func (t *target) Content() *buffer.Buffer     { return t.b }
func (t *target) SetContent(b *buffer.Buffer) { t.b = b }

func newTarget(t *testing.T, text string) *target {
	t.Helper()
	b, err := buffer.New(text, buffer.Attributes{Font: "Serif", Size: 12})
	if err != nil {
		t.Fatal(err)
	}
	return &target{id: "v1", b: b}
}

func typeChars(t *testing.T, e *Engine, tg Target, at int, text string) {
	t.Helper()
	for i, r := range []rune(text) {
		if err := e.Type(tg, at+i, string(r)); err != nil {
			t.Fatalf("Type(%q): %v", r, err)
		}
	}
}

func TestTypingCoalesce(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := &target{id: "v1", b: buffer.Empty()}

	typeChars(t, e, tg, 0, "Hello")
	if e.State() != StateRecording {
		t.Errorf("State() = %s, want recording", e.State())
	}
	if e.UndoCount() != 1 {
		t.Fatalf("UndoCount() = %d, want 1", e.UndoCount())
	}
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if tg.b.String() != "" {
		t.Errorf("after undo = %q, want empty", tg.b.String())
	}
	if e.State() != StateIdle {
		t.Errorf("State() = %s, want idle", e.State())
	}
	if err := e.Redo(); err != nil {
		t.Fatal(err)
	}
	if tg.b.String() != "Hello" {
		t.Errorf("after redo = %q, want Hello", tg.b.String())
	}
}

func TestTyping_NonAdjacentSplits(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "0123456789")

	typeChars(t, e, tg, 2, "ab")
	typeChars(t, e, tg, 10, "xy")
	if e.UndoCount() != 2 {
		t.Fatalf("UndoCount() = %d, want 2", e.UndoCount())
	}
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if tg.b.String() != "01ab23456789" {
		t.Errorf("after first undo = %q", tg.b.String())
	}
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if tg.b.String() != "0123456789" {
		t.Errorf("after second undo = %q", tg.b.String())
	}
}

func TestTyping_WithoutCoalescing(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t), WithCoalescing(false))
	tg := newTarget(t, "")
	typeChars(t, e, tg, 0, "abc")
	if e.UndoCount() != 3 || e.State() != StateIdle {
		t.Errorf("UndoCount() = %d, State() = %s", e.UndoCount(), e.State())
	}
}

func TestUndoRedo_EmptyIsNoop(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	if err := e.Undo(); err != nil {
		t.Errorf("Undo on empty stack: %v", err)
	}
	if err := e.Redo(); err != nil {
		t.Errorf("Redo on empty stack: %v", err)
	}
	if e.CanUndo() || e.CanRedo() {
		t.Errorf("CanUndo/CanRedo on empty engine")
	}
}

func TestSnapshot_InverseLawPreservesIdentity(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "a picture here")
	if err := tg.b.InsertAttachment(2, buffer.NewImage("img-1", []byte("GIF89a"), ""), buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	if err := tg.b.InsertAttachment(0, buffer.FootnoteMarker{AttachmentID: "fn-1", Number: 1}, buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	before := tg.b.Clone()

	cmd, err := NewEdit(tg, KindFormatApply, "Bold", func(b *buffer.Buffer) error {
		return b.UpdateAttributes(buffer.Range{Start: 0, End: b.Len()}, func(a buffer.Attributes) buffer.Attributes {
			a.Bold = true
			return a
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if !tg.b.Equal(before) {
		t.Fatal("NewEdit modified target")
	}
	if err := e.Execute(cmd); err != nil {
		t.Fatal(err)
	}
	after := tg.b.Clone()

	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if !tg.b.Equal(before) {
		t.Errorf("undo(execute(c, B)) != B\n%s", tg.b.Dump())
	}
	if err := e.Redo(); err != nil {
		t.Fatal(err)
	}
	if !tg.b.Equal(after) {
		t.Errorf("redo(undo(execute(c, B))) != B'\n%s", tg.b.Dump())
	}
	if a, ok := tg.b.AttachmentAt(3); !ok || a.ID() != "img-1" {
		t.Errorf("image identity lost: %v", a)
	}
}

func TestNewEdit_NoChangeAndFailure(t *testing.T) {
	tg := newTarget(t, "abc")
	if _, err := NewEdit(tg, KindEdit, "noop", func(*buffer.Buffer) error { return nil }); !errors.Is(err, ErrNoChange) {
		t.Errorf("err = %v, want ErrNoChange", err)
	}
	boom := errors.New("boom")
	_, err := NewEdit(tg, KindEdit, "fail", func(b *buffer.Buffer) error {
		if err := b.InsertText(0, "zzz", buffer.Attributes{}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) || tg.b.String() != "abc" {
		t.Errorf("failed edit: err = %v, content = %q", err, tg.b.String())
	}
}

func TestDiff_DeleteRestoresAttachments(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "keep this and that")
	if err := tg.b.InsertAttachment(7, buffer.CommentMarker{AttachmentID: "c-1"}, buffer.Attributes{}); err != nil {
		t.Fatal(err)
	}
	before := tg.b.Clone()

	if err := e.Execute(NewDelete(tg, buffer.Range{Start: 5, End: 11})); err != nil {
		t.Fatal(err)
	}
	if tg.b.AttachmentCount() != 0 || tg.b.String() != "keep and that" {
		t.Fatalf("after delete = %q", tg.b.String())
	}
	after := tg.b.Clone()
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if !tg.b.Equal(before) {
		t.Errorf("undo of delete differs\n%s", tg.b.Dump())
	}
	if err := e.Redo(); err != nil {
		t.Fatal(err)
	}
	if !tg.b.Equal(after) {
		t.Errorf("redo of delete differs")
	}
}

func TestDiff_Replace(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "the cat sat")
	bold := buffer.Attributes{Font: "Serif", Size: 12, Bold: true}
	if err := tg.b.SetAttributes(buffer.Range{Start: 4, End: 7}, bold); err != nil {
		t.Fatal(err)
	}
	before := tg.b.Clone()
	if err := e.Execute(NewReplace(tg, buffer.Range{Start: 4, End: 7}, "dog")); err != nil {
		t.Fatal(err)
	}
	if tg.b.String() != "the dog sat" {
		t.Errorf("after replace = %q", tg.b.String())
	}
	if a, _ := tg.b.AttributesAt(5); a != bold {
		t.Errorf("replacement attributes = %+v", a)
	}
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if !tg.b.Equal(before) {
		t.Errorf("undo of replace differs")
	}
}

func TestExecute_ClearsRedo(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "abc")
	typeChars(t, e, tg, 3, "d")
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if !e.CanRedo() {
		t.Fatal("expected redo")
	}
	if err := e.Execute(NewDelete(tg, buffer.Range{Start: 0, End: 1})); err != nil {
		t.Fatal(err)
	}
	if e.CanRedo() {
		t.Errorf("redo stack not cleared by execute")
	}
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	typeChars(t, e, tg, 0, "x")
	if e.CanRedo() {
		t.Errorf("redo stack not cleared by typing")
	}
}

func TestLimit(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t), WithLimit(2))
	tg := newTarget(t, "abcdef")
	for range 3 {
		if err := e.Execute(NewDelete(tg, buffer.Range{Start: 0, End: 1})); err != nil {
			t.Fatal(err)
		}
	}
	if e.UndoCount() != 2 {
		t.Errorf("UndoCount() = %d, want 2", e.UndoCount())
	}
	for e.CanUndo() {
		if err := e.Undo(); err != nil {
			t.Fatal(err)
		}
	}
	if tg.b.String() != "bcdef" {
		t.Errorf("content = %q, want bcdef", tg.b.String())
	}
}

func TestRestoreHandler_Reentrancy(t *testing.T) {
	var (
		calls   []bool
		states  []State
		reentry error
		tg      = newTarget(t, "abc")
		e       *Engine
	)
	e = NewEngine(zaptest.NewLogger(t), WithRestoreHandler(func(cmd Command, undo bool) {
		calls = append(calls, undo)
		states = append(states, e.State())
		reentry = e.Type(tg, 0, "x")
	}))
	typeChars(t, e, tg, 3, "d")
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if err := e.Redo(); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || !calls[0] || calls[1] {
		t.Errorf("calls = %v", calls)
	}
	if states[0] != StateApplyingUndo || states[1] != StateApplyingRedo {
		t.Errorf("states = %v", states)
	}
	if !errors.Is(reentry, ErrReentrant) {
		t.Errorf("edit from restore handler: %v", reentry)
	}
	if tg.b.String() != "abcd" || e.State() != StateIdle {
		t.Errorf("content = %q, state = %s", tg.b.String(), e.State())
	}
}

func TestSnapshot_ForcesStaleContent(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "abc")
	before := tg.b.Clone()
	cmd, err := NewEdit(tg, KindFormatApply, "Italic", func(b *buffer.Buffer) error {
		return b.SetAttributes(buffer.Range{Start: 0, End: 3}, buffer.Attributes{Italic: true})
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Execute(cmd); err != nil {
		t.Fatal(err)
	}
	// content replaced behind the engine's back
	tg.b, _ = buffer.New("something else", buffer.Attributes{})

	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if !tg.b.Equal(before) {
		t.Errorf("stale snapshot not forced, content = %q", tg.b.String())
	}
}

func TestDiff_StaleIsDropped(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "abc")
	typeChars(t, e, tg, 3, "def")
	e.Flush()
	if _, err := tg.b.Delete(buffer.Range{Start: 2, End: 5}); err != nil {
		t.Fatal(err)
	}
	stale := tg.b.Clone()

	err := e.Undo()
	if !errors.Is(err, ErrStaleCommand) {
		t.Fatalf("err = %v, want ErrStaleCommand", err)
	}
	if !tg.b.Equal(stale) {
		t.Errorf("failed undo modified content")
	}
	if e.CanUndo() || e.CanRedo() {
		t.Errorf("stale command kept in history")
	}
}

func TestForget(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	v1 := newTarget(t, "one")
	v2 := &target{id: "v2", b: v1.b.Clone()}
	if err := e.Execute(NewDelete(v1, buffer.Range{Start: 0, End: 1})); err != nil {
		t.Fatal(err)
	}
	if err := e.Execute(NewDelete(v2, buffer.Range{Start: 0, End: 1})); err != nil {
		t.Fatal(err)
	}
	typeChars(t, e, v1, 0, "x")
	e.Forget("v1")
	if e.UndoCount() != 1 {
		t.Fatalf("UndoCount() = %d, want 1", e.UndoCount())
	}
	if u, _ := e.Peek(); u != "Delete" {
		t.Errorf("Peek() = %q", u)
	}
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if v2.b.String() != "one" {
		t.Errorf("v2 = %q", v2.b.String())
	}
}

func TestRollback(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tg := newTarget(t, "the cat sat")
	first := NewReplace(tg, buffer.Range{Start: 4, End: 7}, "dog")
	if err := e.Execute(first); err != nil {
		t.Fatal(err)
	}
	second := NewReplace(tg, buffer.Range{Start: 8, End: 11}, "ran")
	if err := e.Execute(second); err != nil {
		t.Fatal(err)
	}

	if err := e.Rollback(first); err == nil {
		t.Fatal("rollback of buried command succeeded")
	}
	if err := e.Rollback(second); err != nil {
		t.Fatal(err)
	}
	if got := tg.b.String(); got != "the dog sat" {
		t.Errorf("content = %q", got)
	}
	if e.UndoCount() != 1 || e.CanRedo() {
		t.Errorf("undo %d, redo %v", e.UndoCount(), e.CanRedo())
	}
}

func TestNextTarget(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	if _, ok := e.NextTarget(true); ok {
		t.Fatal("target of empty history")
	}
	v1 := newTarget(t, "one")
	v2 := &target{id: "v2", b: v1.b.Clone()}
	if err := e.Execute(NewDelete(v1, buffer.Range{Start: 0, End: 1})); err != nil {
		t.Fatal(err)
	}
	typeChars(t, e, v2, 0, "x")

	if tg, ok := e.NextTarget(true); !ok || tg.ID() != "v2" {
		t.Errorf("undo target with pending typing = %v, %v", tg, ok)
	}
	if err := e.Undo(); err != nil {
		t.Fatal(err)
	}
	if tg, ok := e.NextTarget(true); !ok || tg.ID() != "v1" {
		t.Errorf("undo target = %v, %v", tg, ok)
	}
	if tg, ok := e.NextTarget(false); !ok || tg.ID() != "v2" {
		t.Errorf("redo target = %v, %v", tg, ok)
	}
}
