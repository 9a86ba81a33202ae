// Package codec converts buffers to and from the persisted blob format.
//
// Blob is a single Amazon Ion binary struct carrying a plain text fallback
// for environments that cannot render rich text, the full text, the run
// length encoded attribute table and the attachment table keyed by offset
// and attachment identity. Encoding is deterministic: decoding and encoding
// a blob again produces identical bytes.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/amazon-ion/ion-go/ion"

	"shed/buffer"
	"shed/common"
)

// FormatVersion is written into every blob. Blobs without version carry only
// plain text fallback.
const FormatVersion = 1

// ErrFormat is returned for blobs which cannot be decoded.
var ErrFormat = errors.New("unsupported content format")

// Ion binary version marker.
var ionBVM = []byte{0xE0, 0x01, 0x00, 0xEA}

type blob struct {
	Format      int          `ion:"format,omitempty"`
	Plain       string       `ion:"plain"`
	Text        string       `ion:"text,omitempty"`
	Runs        []run        `ion:"runs,omitempty"`
	Attachments []attachment `ion:"attachments,omitempty"`
}

type run struct {
	Length          int     `ion:"len"`
	Style           string  `ion:"style,omitempty"`
	Font            string  `ion:"font,omitempty"`
	Size            float64 `ion:"size,omitempty"`
	Bold            bool    `ion:"bold,omitempty"`
	Italic          bool    `ion:"italic,omitempty"`
	Underline       bool    `ion:"underline,omitempty"`
	Strikethrough   bool    `ion:"strike,omitempty"`
	Color           string  `ion:"color,omitempty"`
	Alignment       string  `ion:"align,omitempty,symbol"`
	LineSpacing     float64 `ion:"line_spacing,omitempty"`
	SpaceBefore     float64 `ion:"space_before,omitempty"`
	SpaceAfter      float64 `ion:"space_after,omitempty"`
	FirstLineIndent float64 `ion:"first_indent,omitempty"`
	HeadIndent      float64 `ion:"head_indent,omitempty"`
	TailIndent      float64 `ion:"tail_indent,omitempty"`
}

type attachment struct {
	Offset  int     `ion:"offset"`
	ID      string  `ion:"id"`
	Kind    string  `ion:"kind,symbol"`
	Data    []byte  `ion:"data,omitempty"`
	Mime    string  `ion:"mime,omitempty"`
	Scale   float64 `ion:"scale,omitempty"`
	Caption string  `ion:"caption,omitempty"`
	Number  int     `ion:"number,omitempty"`
	Hint    string  `ion:"hint,omitempty"`
}

// Marshal encodes buffer into blob.
func Marshal(b *buffer.Buffer) ([]byte, error) {
	data, err := ion.MarshalBinary(toBlob(b))
	if err != nil {
		return nil, fmt.Errorf("unable to encode content: %w", err)
	}
	return data, nil
}

// MarshalText encodes buffer as Ion text, used for diagnostics only.
func MarshalText(b *buffer.Buffer) ([]byte, error) {
	data, err := ion.MarshalText(toBlob(b))
	if err != nil {
		return nil, fmt.Errorf("unable to encode content: %w", err)
	}
	return data, nil
}

// Unmarshal decodes blob into buffer verifying buffer invariants. Legacy
// blobs (Ion without format version or raw UTF-8 text) load as untagged
// text with default attributes.
func Unmarshal(data []byte) (*buffer.Buffer, error) {
	if len(data) == 0 {
		return buffer.Empty(), nil
	}
	if !bytes.HasPrefix(data, ionBVM) {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: neither ion nor utf-8 text", ErrFormat)
		}
		return legacy(string(data))
	}

	var bl blob
	if err := ion.Unmarshal(data, &bl); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	switch {
	case bl.Format == 0:
		return legacy(bl.Plain)
	case bl.Format > FormatVersion:
		return nil, fmt.Errorf("%w: format version %d is newer than supported %d", ErrFormat, bl.Format, FormatVersion)
	}
	return fromBlob(&bl)
}

func legacy(text string) (*buffer.Buffer, error) {
	// placeholders in legacy text have no attachments to back them
	text = stripPlaceholders(text)
	b, err := buffer.New(text, buffer.Attributes{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return b, nil
}

func stripPlaceholders(s string) string {
	if !strings.ContainsRune(s, buffer.Placeholder) {
		return s
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r != buffer.Placeholder {
			out = append(out, r)
		}
	}
	return string(out)
}

func toBlob(b *buffer.Buffer) *blob {
	bl := &blob{
		Format: FormatVersion,
		Plain:  b.PlainText(),
		Text:   b.String(),
	}
	for r, a := range b.Runs() {
		bl.Runs = append(bl.Runs, run{
			Length:          r.Len(),
			Style:           a.StyleName,
			Font:            a.Font,
			Size:            a.Size,
			Bold:            a.Bold,
			Italic:          a.Italic,
			Underline:       a.Underline,
			Strikethrough:   a.Strikethrough,
			Color:           a.Color,
			Alignment:       alignmentName(a.Paragraph.Alignment),
			LineSpacing:     a.Paragraph.LineSpacing,
			SpaceBefore:     a.Paragraph.SpaceBefore,
			SpaceAfter:      a.Paragraph.SpaceAfter,
			FirstLineIndent: a.Paragraph.FirstLineIndent,
			HeadIndent:      a.Paragraph.HeadIndent,
			TailIndent:      a.Paragraph.TailIndent,
		})
	}
	for off, a := range b.Attachments() {
		at := attachment{Offset: off, ID: a.ID(), Kind: a.Kind().String()}
		switch x := a.(type) {
		case buffer.Image:
			at.Data, at.Mime, at.Scale, at.Caption = x.Data, x.MimeType, x.Scale, x.Caption
		case buffer.FootnoteMarker:
			at.Number = x.Number
		case buffer.PageBreak:
			at.Hint = x.Hint
		}
		bl.Attachments = append(bl.Attachments, at)
	}
	return bl
}

// natural alignment is not written at all.
func alignmentName(a common.Alignment) string {
	if a == common.AlignmentNatural {
		return ""
	}
	return a.String()
}

func fromBlob(bl *blob) (*buffer.Buffer, error) {
	runs := make([]buffer.Run, 0, len(bl.Runs))
	for i, r := range bl.Runs {
		align, err := common.ParseAlignment(r.Alignment)
		if err != nil {
			return nil, fmt.Errorf("%w: run %d: %w", ErrFormat, i, err)
		}
		runs = append(runs, buffer.Run{
			Length: r.Length,
			Attrs: buffer.Attributes{
				StyleName:     r.Style,
				Font:          r.Font,
				Size:          r.Size,
				Bold:          r.Bold,
				Italic:        r.Italic,
				Underline:     r.Underline,
				Strikethrough: r.Strikethrough,
				Color:         r.Color,
				Paragraph: buffer.ParagraphStyle{
					Alignment:       align,
					LineSpacing:     r.LineSpacing,
					SpaceBefore:     r.SpaceBefore,
					SpaceAfter:      r.SpaceAfter,
					FirstLineIndent: r.FirstLineIndent,
					HeadIndent:      r.HeadIndent,
					TailIndent:      r.TailIndent,
				},
			},
		})
	}

	atts := make(map[int]buffer.Attachment, len(bl.Attachments))
	for _, a := range bl.Attachments {
		if _, dup := atts[a.Offset]; dup {
			return nil, fmt.Errorf("%w: two attachments at offset %d", ErrFormat, a.Offset)
		}
		kind, err := common.ParseAttachmentKind(a.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: attachment %s: %w", ErrFormat, a.ID, err)
		}
		switch kind {
		case common.AttachmentKindImage:
			atts[a.Offset] = buffer.Image{
				AttachmentID: a.ID,
				Data:         slices.Clone(a.Data),
				MimeType:     a.Mime,
				Scale:        a.Scale,
				Caption:      a.Caption,
			}
		case common.AttachmentKindComment:
			atts[a.Offset] = buffer.CommentMarker{AttachmentID: a.ID}
		case common.AttachmentKindFootnote:
			atts[a.Offset] = buffer.FootnoteMarker{AttachmentID: a.ID, Number: a.Number}
		case common.AttachmentKindPageBreak:
			atts[a.Offset] = buffer.PageBreak{AttachmentID: a.ID, Hint: a.Hint}
		}
	}

	b, err := buffer.FromParts(bl.Text, runs, atts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return b, nil
}
