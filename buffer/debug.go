package buffer

import (
	"shed/utils/debug"
)

// Dump returns human readable representation of the buffer: text, attribute
// runs and attachment table.
func (b *Buffer) Dump() string {
	tw := debug.NewTreeWriter()
	tw.Line(0, "buffer len=%d runs=%d attachments=%d", b.Len(), len(b.runs), len(b.atts))
	tw.TextBlock(1, "text", b.String())
	for r, a := range b.Runs() {
		tw.Fields(2, "run",
			"range", r,
			"style", a.StyleName,
			"font", a.Font,
			"size", a.Size,
			"bold", a.Bold,
			"italic", a.Italic,
			"underline", a.Underline,
			"strike", a.Strikethrough,
			"color", a.Color,
			"align", a.Paragraph.Alignment.String(),
		)
	}
	for off, a := range b.Attachments() {
		switch x := a.(type) {
		case Image:
			tw.Fields(2, "image", "at", off, "id", x.AttachmentID, "mime", x.MimeType, "bytes", len(x.Data), "scale", x.Scale, "caption", x.Caption)
		case FootnoteMarker:
			tw.Fields(2, "footnote", "at", off, "id", x.AttachmentID, "number", x.Number)
		case PageBreak:
			tw.Fields(2, "pagebreak", "at", off, "id", x.AttachmentID, "hint", x.Hint)
		default:
			tw.Fields(2, a.Kind().String(), "at", off, "id", a.ID())
		}
	}
	return tw.String()
}
