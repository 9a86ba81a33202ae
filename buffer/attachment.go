package buffer

import (
	"bytes"

	"github.com/h2non/filetype"

	"shed/common"
)

// Placeholder is the reserved character occupying an attachment offset.
const Placeholder = '\uFFFC'

// Attachment is an inline non-text object anchored at a single buffer
// offset. The set of variants is closed: Image, CommentMarker,
// FootnoteMarker and PageBreak.
type Attachment interface {
	// ID returns stable identifier assigned at insertion time.
	ID() string
	Kind() common.AttachmentKind

	clone() Attachment
	equal(Attachment) bool
}

// Image owns its payload. Per-instance alignment is not part of the payload,
// it is the paragraph alignment of the placeholder position.
type Image struct {
	AttachmentID string
	Data         []byte
	MimeType     string
	Scale        float64
	Caption      string
}

// NewImage creates image attachment, MIME type is detected from content when
// not provided. Scale defaults to 1.
func NewImage(id string, data []byte, mimeType string) Image {
	if mimeType == "" {
		if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
			mimeType = kind.MIME.Value
		} else {
			mimeType = "application/octet-stream"
		}
	}
	return Image{AttachmentID: id, Data: data, MimeType: mimeType, Scale: 1}
}

func (i Image) ID() string                  { return i.AttachmentID }
func (i Image) Kind() common.AttachmentKind { return common.AttachmentKindImage }

// Image data is never modified in place (updates replace the attachment), so
// clones share it.
func (i Image) clone() Attachment { return i }

func (i Image) equal(o Attachment) bool {
	other, ok := o.(Image)
	return ok && i.AttachmentID == other.AttachmentID &&
		bytes.Equal(i.Data, other.Data) &&
		i.MimeType == other.MimeType &&
		i.Scale == other.Scale &&
		i.Caption == other.Caption
}

// CommentMarker anchors a comment record kept in the object store. The
// record is keyed by the marker ID.
type CommentMarker struct {
	AttachmentID string
}

func (c CommentMarker) ID() string                  { return c.AttachmentID }
func (c CommentMarker) Kind() common.AttachmentKind { return common.AttachmentKindComment }
func (c CommentMarker) clone() Attachment           { return c }
func (c CommentMarker) equal(o Attachment) bool {
	other, ok := o.(CommentMarker)
	return ok && other == c
}

// FootnoteMarker anchors a footnote record kept in the object store. Number
// is display number maintained by renumbering.
type FootnoteMarker struct {
	AttachmentID string
	Number       int
}

func (f FootnoteMarker) ID() string                  { return f.AttachmentID }
func (f FootnoteMarker) Kind() common.AttachmentKind { return common.AttachmentKindFootnote }
func (f FootnoteMarker) clone() Attachment           { return f }
func (f FootnoteMarker) equal(o Attachment) bool {
	other, ok := o.(FootnoteMarker)
	return ok && other == f
}

// PageBreak carries nothing but a rendering hint.
type PageBreak struct {
	AttachmentID string
	Hint         string
}

func (p PageBreak) ID() string                  { return p.AttachmentID }
func (p PageBreak) Kind() common.AttachmentKind { return common.AttachmentKindPageBreak }
func (p PageBreak) clone() Attachment           { return p }
func (p PageBreak) equal(o Attachment) bool {
	other, ok := o.(PageBreak)
	return ok && other == p
}

// SameAttachment compares identity and payload of two attachments.
func SameAttachment(a, b Attachment) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.equal(b)
}

// WithID returns copy of attachment carrying a different identity.
func WithID(a Attachment, id string) Attachment {
	switch v := a.(type) {
	case Image:
		v.AttachmentID = id
		return v
	case CommentMarker:
		v.AttachmentID = id
		return v
	case FootnoteMarker:
		v.AttachmentID = id
		return v
	case PageBreak:
		v.AttachmentID = id
		return v
	}
	return a
}
