// Package version keeps ordered list of retained versions of a document
// and the pointer to the current one.
package version

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shed/buffer"
)

var (
	// ErrLastVersion is returned on attempt to delete the only version.
	ErrLastVersion = errors.New("document must keep at least one version")
	// ErrLocked is returned on attempt to edit locked version.
	ErrLocked = errors.New("version is locked")
	// ErrNotFound is returned when referenced version does not exist.
	ErrNotFound = errors.New("version not found")
	// ErrNotEmpty is returned by WriteFirst for documents which already
	// have versions.
	ErrNotEmpty = errors.New("document already has versions")
)

// Meta is version metadata persisted separately from content.
type Meta struct {
	ID         string
	Number     int
	Locked     bool
	LockReason string
	Comment    string
	Created    time.Time
}

// Version is a retained state of document content.
type Version struct {
	meta       Meta
	content    *buffer.Buffer
	reconciled bool
}

// NewVersion creates unlocked version holding content.
func NewVersion(number int, content *buffer.Buffer) *Version {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if content == nil {
		content = buffer.Empty()
	}
	return &Version{
		meta:    Meta{ID: id.String(), Number: number, Created: time.Now().UTC()},
		content: content,
	}
}

// Restore recreates version from persisted metadata and content.
func Restore(meta Meta, content *buffer.Buffer) *Version {
	if content == nil {
		content = buffer.Empty()
	}
	return &Version{meta: meta, content: content}
}

func (v *Version) ID() string   { return v.meta.ID }
func (v *Version) Meta() Meta   { return v.meta }
func (v *Version) Number() int  { return v.meta.Number }
func (v *Version) Locked() bool { return v.meta.Locked }

// Content returns live buffer of the version.
func (v *Version) Content() *buffer.Buffer {
	return v.content
}

// SetContent replaces content of the version. It does not check lock, callers
// editing content go through CheckEditable first.
func (v *Version) SetContent(b *buffer.Buffer) {
	v.content = b
}

// CheckEditable returns ErrLocked for locked versions.
func (v *Version) CheckEditable() error {
	if v.meta.Locked {
		if v.meta.LockReason != "" {
			return fmt.Errorf("%w: %s", ErrLocked, v.meta.LockReason)
		}
		return ErrLocked
	}
	return nil
}

// Lock prevents edits of the version.
func (v *Version) Lock(reason string) {
	v.meta.Locked, v.meta.LockReason = true, reason
}

// Unlock allows edits again.
func (v *Version) Unlock() {
	v.meta.Locked, v.meta.LockReason = false, ""
}

// SetComment sets free form version comment.
func (v *Version) SetComment(comment string) {
	v.meta.Comment = comment
}

// Reconciled reports whether activation hook already ran for the version.
func (v *Version) Reconciled() bool {
	return v.reconciled
}

// Position tells whether current version is at either end of the list.
type Position struct {
	First bool
	Last  bool
}

// Activator is called the first time a version becomes current after load.
// If it fails the version is activated anyway and hook is retried next time.
type Activator func(v *Version) error

// Document owns ordered versions of a single text.
type Document struct {
	ID        string
	ProjectID string
	Title     string

	log       *zap.Logger
	versions  []*Version
	current   int
	activator Activator
}

// New creates document without versions.
func New(id, projectID, title string, log *zap.Logger) *Document {
	if log == nil {
		log = zap.NewNop()
	}
	return &Document{
		ID:        id,
		ProjectID: projectID,
		Title:     title,
		log:       log.Named("version").With(zap.String("document", id)),
	}
}

// Load fills document with persisted versions. Versions are ordered by
// number, current points to the version with given id (latest when empty
// or not found).
func (d *Document) Load(versions []*Version, currentID string) {
	d.versions = slices.Clone(versions)
	slices.SortStableFunc(d.versions, func(a, b *Version) int { return a.meta.Number - b.meta.Number })
	d.current = len(d.versions) - 1
	for i, v := range d.versions {
		if v.meta.ID == currentID {
			d.current = i
		}
	}
	d.current = max(d.current, 0)
}

// SetActivator installs hook run on first activation of each version.
func (d *Document) SetActivator(fn Activator) {
	d.activator = fn
}

// Versions returns versions in order.
func (d *Document) Versions() []*Version {
	return slices.Clone(d.versions)
}

// Len returns number of versions.
func (d *Document) Len() int {
	return len(d.versions)
}

// Current returns current version, nil for empty document.
func (d *Document) Current() *Version {
	if len(d.versions) == 0 {
		return nil
	}
	return d.versions[d.current]
}

// Lookup finds version by id.
func (d *Document) Lookup(id string) (*Version, bool) {
	for _, v := range d.versions {
		if v.meta.ID == id {
			return v, true
		}
	}
	return nil, false
}

// Position returns navigation position of the current version.
func (d *Document) Position() Position {
	return Position{First: d.current == 0, Last: d.current >= len(d.versions)-1}
}

// Activate runs activation hook for current version unless it already ran.
func (d *Document) Activate() {
	v := d.Current()
	if v == nil || v.reconciled {
		return
	}
	if d.activator == nil {
		v.reconciled = true
		return
	}
	if err := d.activator(v); err != nil {
		d.log.Warn("Version activation failed, will retry", zap.Int("number", v.meta.Number), zap.Error(err))
		return
	}
	v.reconciled = true
}

// WriteFirst creates the first version of an empty document.
func (d *Document) WriteFirst(content *buffer.Buffer) (*Version, error) {
	if len(d.versions) > 0 {
		return nil, ErrNotEmpty
	}
	v := NewVersion(1, content)
	v.reconciled = true
	d.versions = append(d.versions, v)
	d.current = 0
	d.log.Debug("First version written", zap.String("version", v.ID()))
	return v, nil
}

// AddVersion duplicates current version and makes the copy current. On an
// empty document it creates empty first version.
func (d *Document) AddVersion() *Version {
	cur := d.Current()
	if cur == nil {
		v, _ := d.WriteFirst(buffer.Empty())
		return v
	}
	number := 0
	for _, v := range d.versions {
		number = max(number, v.meta.Number)
	}
	v := NewVersion(number+1, cur.content.Clone())
	v.reconciled = cur.reconciled
	d.versions = append(d.versions, v)
	d.current = len(d.versions) - 1
	d.log.Debug("Version added", zap.Int("number", v.meta.Number), zap.Int("from", cur.meta.Number))
	return v
}

// DeleteVersion removes current version. The preceding version (or the
// following one when deleting the first) becomes current. The only
// remaining version cannot be deleted.
func (d *Document) DeleteVersion() (*Version, error) {
	if len(d.versions) <= 1 {
		return nil, ErrLastVersion
	}
	v := d.versions[d.current]
	d.versions = slices.Delete(d.versions, d.current, d.current+1)
	d.current = max(d.current-1, 0)
	d.log.Debug("Version deleted", zap.Int("number", v.meta.Number))
	d.Activate()
	return v, nil
}

// ChangeVersion moves current pointer by delta clamping at both ends.
func (d *Document) ChangeVersion(by int) Position {
	if len(d.versions) == 0 {
		return Position{First: true, Last: true}
	}
	d.current = min(max(d.current+by, 0), len(d.versions)-1)
	d.Activate()
	return d.Position()
}

// SelectLatest makes the last version current.
func (d *Document) SelectLatest() Position {
	return d.ChangeVersion(len(d.versions))
}

// Select makes version with id current.
func (d *Document) Select(id string) (Position, error) {
	for i, v := range d.versions {
		if v.meta.ID == id {
			d.current = i
			d.Activate()
			return d.Position(), nil
		}
	}
	return d.Position(), fmt.Errorf("%w: %s", ErrNotFound, id)
}
