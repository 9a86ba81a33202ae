package buffer

import (
	"fmt"

	"shed/common"
)

// ParagraphStyle holds paragraph layout. Values are in points except
// LineSpacing which is a multiplier (0 means default).
type ParagraphStyle struct {
	Alignment       common.Alignment
	LineSpacing     float64
	SpaceBefore     float64
	SpaceAfter      float64
	FirstLineIndent float64
	HeadIndent      float64
	TailIndent      float64
}

// Attributes is the complete formatting of a single character. It is a
// closed, comparable record: two characters are formatted identically iff
// their attributes compare equal with ==.
//
// StyleName records the stylesheet style the attributes were derived from.
// Empty StyleName marks manual (or legacy) formatting which is never touched
// by stylesheet reapplication.
type Attributes struct {
	StyleName     string
	Font          string
	Size          float64
	Bold          bool
	Italic        bool
	Underline     bool
	Strikethrough bool
	Color         string
	Paragraph     ParagraphStyle
}

// Tagged reports whether attributes carry a style name.
func (a Attributes) Tagged() bool {
	return a.StyleName != ""
}

// Untagged returns a copy of attributes with style tag removed. Used when
// formatting is changed directly by the user so the range is no longer
// governed by the stylesheet.
func (a Attributes) Untagged() Attributes {
	a.StyleName = ""
	return a
}

// Run is a stretch of characters sharing the same attributes.
type Run struct {
	Length int
	Attrs  Attributes
}

// Range is a half open interval [Start, End) of scalar offsets.
type Range struct {
	Start int
	End   int
}

// Len returns number of positions in range.
func (r Range) Len() int {
	return r.End - r.Start
}

// IsEmpty returns true for zero length ranges.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Contains reports whether offset is inside the range.
func (r Range) Contains(off int) bool {
	return off >= r.Start && off < r.End
}

// Intersect returns overlap of two ranges, ok is false if there is none.
func (r Range) Intersect(o Range) (Range, bool) {
	res := Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	if res.IsEmpty() {
		return Range{}, false
	}
	return res, true
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}
