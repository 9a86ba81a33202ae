// Package history implements per document undo and redo over buffer
// content. Formatting and structural edits are recorded as full snapshots,
// plain typing and deletions as compact diffs.
package history

import (
	"errors"
	"fmt"
	"strings"

	"shed/buffer"
)

var (
	// ErrStaleCommand is returned when a diff command no longer matches live
	// content of its target.
	ErrStaleCommand = errors.New("command does not match current content")
	// ErrNoChange is returned by NewEdit when mutation left content as is.
	ErrNoChange = errors.New("edit did not change content")
)

// Kind classifies recorded commands.
type Kind int

const (
	KindTyping Kind = iota
	KindDelete
	KindReplace
	KindFormatApply
	KindImageUpdate
	KindInsertImage
	KindInsertAttachment
	KindRemoveAttachment
	KindBatchReplace
	KindEdit
)

var kindNames = []string{
	"typing", "delete", "replace", "format", "image update", "insert image",
	"insert attachment", "remove attachment", "batch replace", "edit",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Target is content holder commands operate on, normally a document
// version.
type Target interface {
	ID() string
	// Content returns live buffer, diff commands modify it in place.
	Content() *buffer.Buffer
	SetContent(*buffer.Buffer)
}

// Command is a reversible unit of buffer mutation.
type Command interface {
	Description() string
	Kind() Kind
	Target() Target
	// Undo restores content as it was before the command.
	Undo() error
	// Redo applies the command (again).
	Redo() error
}

// SnapshotCommand keeps complete content before and after the edit.
type SnapshotCommand struct {
	kind   Kind
	desc   string
	target Target
	before *buffer.Buffer
	after  *buffer.Buffer
}

// NewSnapshot creates snapshot command. Buffers are copied.
func NewSnapshot(target Target, kind Kind, desc string, before, after *buffer.Buffer) *SnapshotCommand {
	return &SnapshotCommand{
		kind:   kind,
		desc:   desc,
		target: target,
		before: before.Clone(),
		after:  after.Clone(),
	}
}

// NewEdit clones live content of target, runs fn on the copy and wraps the
// result into a snapshot command. Target is not modified, execute returned
// command to apply it. A failing fn leaves nothing behind.
func NewEdit(target Target, kind Kind, desc string, fn func(*buffer.Buffer) error) (*SnapshotCommand, error) {
	before := target.Content().Clone()
	after := before.Clone()
	if err := fn(after); err != nil {
		return nil, err
	}
	if after.Equal(before) {
		return nil, ErrNoChange
	}
	return &SnapshotCommand{kind: kind, desc: desc, target: target, before: before, after: after}, nil
}

func (c *SnapshotCommand) Description() string { return c.desc }
func (c *SnapshotCommand) Kind() Kind          { return c.kind }
func (c *SnapshotCommand) Target() Target      { return c.target }

// Undo forces target content to the stored "before" snapshot. Content is
// replaced even if it has diverged from the "after" snapshot in the meantime.
func (c *SnapshotCommand) Undo() error {
	c.target.SetContent(c.before.Clone())
	return nil
}

// Redo forces target content to the stored "after" snapshot.
func (c *SnapshotCommand) Redo() error {
	c.target.SetContent(c.after.Clone())
	return nil
}

// matches reports whether live content is what the command expects to find
// before undo (or redo).
func (c *SnapshotCommand) matches(undo bool) bool {
	if undo {
		return c.target.Content().Equal(c.after)
	}
	return c.target.Content().Equal(c.before)
}

// After returns copy of the content command produces.
func (c *SnapshotCommand) After() *buffer.Buffer {
	return c.after.Clone()
}

// DiffCommand records text replacement at a position: fragment that was
// removed (with its formatting and attachments) and plain text that was
// inserted in its place.
type DiffCommand struct {
	kind     Kind
	desc     string
	target   Target
	position int
	deleted  *buffer.Buffer
	inserted string
	attrs    buffer.Attributes
}

// NewInsert records insertion of text at position with typing attributes
// of that position.
func NewInsert(target Target, at int, text string) *DiffCommand {
	return &DiffCommand{
		kind:     KindTyping,
		desc:     "Typing",
		target:   target,
		position: at,
		deleted:  buffer.Empty(),
		inserted: text,
		attrs:    target.Content().TypingAttributes(at),
	}
}

// NewDelete records deletion of r.
func NewDelete(target Target, r buffer.Range) *DiffCommand {
	return &DiffCommand{
		kind:     KindDelete,
		desc:     "Delete",
		target:   target,
		position: r.Start,
		deleted:  target.Content().Slice(r),
	}
}

// NewReplace records replacement of r with text. Inserted text takes
// attributes of the first replaced character.
func NewReplace(target Target, r buffer.Range, text string) *DiffCommand {
	b := target.Content()
	attrs := b.TypingAttributes(r.Start)
	if !r.IsEmpty() && !b.IsAttachment(r.Start) {
		attrs, _ = b.AttributesAt(r.Start)
	}
	return &DiffCommand{
		kind:     KindReplace,
		desc:     "Replace",
		target:   target,
		position: r.Start,
		deleted:  b.Slice(r),
		inserted: text,
		attrs:    attrs,
	}
}

func (c *DiffCommand) Description() string { return c.desc }
func (c *DiffCommand) Kind() Kind          { return c.kind }
func (c *DiffCommand) Target() Target      { return c.target }

// Position returns offset command applies at.
func (c *DiffCommand) Position() int { return c.position }

// Inserted returns inserted text.
func (c *DiffCommand) Inserted() string { return c.inserted }

func (c *DiffCommand) insertedLen() int {
	return len([]rune(c.inserted))
}

// Redo removes recorded fragment and inserts text. Live content must still
// hold the fragment at the recorded position.
func (c *DiffCommand) Redo() error {
	b := c.target.Content()
	r := buffer.Range{Start: c.position, End: c.position + c.deleted.Len()}
	if r.End > b.Len() || !b.Slice(r).Equal(c.deleted) {
		return fmt.Errorf("%s at %d: %w", c.desc, c.position, ErrStaleCommand)
	}
	work := b.Clone()
	if _, err := work.Delete(r); err != nil {
		return err
	}
	if err := work.InsertText(c.position, c.inserted, c.attrs); err != nil {
		return err
	}
	c.target.SetContent(work)
	return nil
}

// Undo removes inserted text and puts recorded fragment back preserving
// attachment identities.
func (c *DiffCommand) Undo() error {
	b := c.target.Content()
	r := buffer.Range{Start: c.position, End: c.position + c.insertedLen()}
	if r.End > b.Len() || b.Text(r) != c.inserted || hasAttachments(b, r) {
		return fmt.Errorf("%s at %d: %w", c.desc, c.position, ErrStaleCommand)
	}
	work := b.Clone()
	if _, err := work.Delete(r); err != nil {
		return err
	}
	if err := work.InsertBuffer(c.position, c.deleted); err != nil {
		return err
	}
	c.target.SetContent(work)
	return nil
}

// extend appends text typed right after the previously inserted one.
func (c *DiffCommand) extend(text string) {
	c.inserted += text
}

// adjacent reports whether insertion at offset continues this command.
func (c *DiffCommand) adjacent(target Target, at int) bool {
	return c.kind == KindTyping && c.target == target && c.deleted.Len() == 0 &&
		at == c.position+c.insertedLen()
}

func hasAttachments(b *buffer.Buffer, r buffer.Range) bool {
	for off := r.Start; off < r.End; off++ {
		if b.IsAttachment(off) {
			return true
		}
	}
	return false
}

// summary is used in log messages.
func summary(c Command) string {
	var sb strings.Builder
	sb.WriteString(c.Kind().String())
	if d := c.Description(); d != "" && !strings.EqualFold(d, c.Kind().String()) {
		sb.WriteString(": ")
		sb.WriteString(d)
	}
	return sb.String()
}
