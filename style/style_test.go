package style

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"shed/buffer"
	"shed/common"
)

const sampleYAML = `
name: manuscript
image_alignment: center
styles:
  body:
    font: Georgia
    size: 12
    line_spacing: 1.5
    first_line_indent: 18
  heading:
    based_on: body
    size: 18
    bold: true
    alignment: center
    first_line_indent: 0
  quote:
    based_on: body
    italic: true
    head_indent: 36
`

func loadSample(t *testing.T) *Stylesheet {
	t.Helper()
	sheet, err := LoadYAML(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	return sheet
}

func TestLoadYAML(t *testing.T) {
	sheet := loadSample(t)
	if sheet.Name != "manuscript" || sheet.ImageAlignment != common.AlignmentCenter {
		t.Errorf("sheet header = %q, %s", sheet.Name, sheet.ImageAlignment)
	}
	if got := sheet.Names(); !slices.Equal(got, []string{"body", "heading", "quote"}) {
		t.Errorf("Names() = %v", got)
	}
	if sheet.Styles["heading"].Name != "heading" {
		t.Errorf("style name not set from key")
	}
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "name: x\nstyles:\n  body:\n    colour: red\n"},
		{"bad alignment", "name: x\nstyles:\n  body:\n    alignment: sideways\n"},
		{"unknown parent", "name: x\nstyles:\n  body:\n    based_on: base\n"},
		{"cycle", "name: x\nstyles:\n  a:\n    based_on: b\n  b:\n    based_on: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadYAML(strings.NewReader(tt.data)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestMarshalYAML_RoundTrip(t *testing.T) {
	sheet := loadSample(t)
	data, err := MarshalYAML(sheet)
	if err != nil {
		t.Fatal(err)
	}
	again, err := LoadYAML(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("LoadYAML(MarshalYAML()): %v\n%s", err, data)
	}
	for _, name := range sheet.Names() {
		a, _ := Resolve(name, sheet)
		b, _ := Resolve(name, again)
		if a != b {
			t.Errorf("style %q differs after round trip: %+v vs %+v", name, a, b)
		}
	}
}

func TestResolve(t *testing.T) {
	sheet := loadSample(t)

	got, ok := Resolve("heading", sheet)
	if !ok {
		t.Fatal("heading not resolved")
	}
	want := buffer.Attributes{
		StyleName: "heading",
		Font:      "Georgia",
		Size:      18,
		Bold:      true,
		Paragraph: buffer.ParagraphStyle{Alignment: common.AlignmentCenter, LineSpacing: 1.5},
	}
	if got != want {
		t.Errorf("Resolve(heading) = %+v, want %+v", got, want)
	}

	if _, ok := Resolve("missing", sheet); ok {
		t.Errorf("missing style resolved")
	}
	if _, ok := Resolve("body", nil); ok {
		t.Errorf("resolved against nil stylesheet")
	}
	if err := sheet.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	sheet.Styles["body"].BasedOn = "quote"
	err := sheet.Validate()
	if err == nil || errors.Is(err, ErrUnresolvable) {
		t.Errorf("Validate with cycle = %v", err)
	}
}

// manuscript builds "Title\n" (heading) + "Body " (body) + image + "bold" (manual) + " end\n" (body)
func manuscript(t *testing.T, sheet *Stylesheet) *buffer.Buffer {
	t.Helper()
	heading, _ := Resolve("heading", sheet)
	body, _ := Resolve("body", sheet)
	b, err := buffer.New("Title\n", heading)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.InsertText(b.Len(), "Body ", body); err != nil {
		t.Fatal(err)
	}
	imgAttrs := body
	imgAttrs.Paragraph.Alignment = common.AlignmentRight
	if err := b.InsertAttachment(b.Len(), buffer.NewImage("img", []byte("GIF89a"), ""), imgAttrs); err != nil {
		t.Fatal(err)
	}
	manual := body.Untagged()
	manual.Bold = true
	if err := b.InsertText(b.Len(), "bold", manual); err != nil {
		t.Fatal(err)
	}
	if err := b.InsertText(b.Len(), " end\n", body); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReapply(t *testing.T) {
	sheet := loadSample(t)
	b := manuscript(t, sheet)
	orig := b.Clone()

	r := NewResolver(zaptest.NewLogger(t))
	if _, changed := r.Reapply(b, sheet); changed {
		t.Errorf("reapplying unchanged stylesheet reported changes")
	}

	edited := sheet.Clone()
	edited.Styles["body"].Font = Ptr("Palatino")
	edited.Styles["body"].Size = Ptr(11.0)
	edited.Styles["body"].Alignment = Ptr(common.AlignmentJustified)

	out, changed := r.Reapply(b, edited)
	if !changed {
		t.Fatal("expected changes")
	}
	if !b.Equal(orig) {
		t.Errorf("source buffer modified")
	}
	if err := out.Validate(); err != nil {
		t.Fatal(err)
	}

	head, _ := out.AttributesAt(0)
	if head.Font != "Palatino" || head.Size != 18 || head.Paragraph.Alignment != common.AlignmentCenter {
		t.Errorf("heading = %+v", head)
	}
	bodyAt, _ := out.AttributesAt(7)
	if bodyAt.Font != "Palatino" || bodyAt.Size != 11 || bodyAt.Paragraph.Alignment != common.AlignmentJustified {
		t.Errorf("body = %+v", bodyAt)
	}

	img, _ := out.AttributesAt(11)
	if img.Paragraph.Alignment != common.AlignmentRight {
		t.Errorf("image alignment = %s, want right", img.Paragraph.Alignment)
	}
	if a, ok := out.AttachmentAt(11); !ok || a.ID() != "img" {
		t.Errorf("image lost: %v %v", a, ok)
	}

	manual, _ := out.AttributesAt(12)
	if manual.Font != "Georgia" || !manual.Bold || manual.Tagged() {
		t.Errorf("manual formatting touched: %+v", manual)
	}

	again, changed := r.Reapply(out, edited)
	if changed || !again.Equal(out) {
		t.Errorf("reapply is not idempotent")
	}
}

func TestReapply_UnresolvableStyle(t *testing.T) {
	sheet := loadSample(t)
	b := manuscript(t, sheet)

	edited := sheet.Clone()
	delete(edited.Styles, "heading")
	edited.Styles["body"].Italic = Ptr(true)

	r := NewResolver(zaptest.NewLogger(t))
	out, changed := r.Reapply(b, edited)
	if !changed {
		t.Fatal("expected body change")
	}
	if got := r.Unresolved(); !slices.Equal(got, []string{"heading"}) {
		t.Errorf("Unresolved() = %v", got)
	}
	before, _ := b.AttributesAt(0)
	after, _ := out.AttributesAt(0)
	if before != after {
		t.Errorf("range with missing style changed: %+v -> %+v", before, after)
	}
	if a, _ := out.AttributesAt(7); !a.Italic {
		t.Errorf("body not updated: %+v", a)
	}
}

func TestParseCSS(t *testing.T) {
	data := []byte(`
		.body { font-family: "Iowan Old Style", serif; font-size: 12pt; line-height: 1.4; text-indent: 1.5em; }
		.heading { -shed-based-on: body; font-size: 150%; font-weight: 700; text-align: center; text-indent: 0; }
		.struck { text-decoration: line-through; color: #aa0000; }
		.bad { font-size: 10vw; }
		p > em { font-style: italic; }
	`)
	sheet, err := ParseCSS(data, "css", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("ParseCSS: %v", err)
	}
	if got := sheet.Names(); !slices.Equal(got, []string{"bad", "body", "heading", "struck"}) {
		t.Errorf("Names() = %v", got)
	}

	h, ok := Resolve("heading", sheet)
	if !ok {
		t.Fatal("heading not resolved")
	}
	want := buffer.Attributes{
		StyleName: "heading",
		Font:      "Iowan Old Style",
		Size:      18,
		Bold:      true,
		Paragraph: buffer.ParagraphStyle{Alignment: common.AlignmentCenter, LineSpacing: 1.4},
	}
	if h != want {
		t.Errorf("heading = %+v, want %+v", h, want)
	}
	s, _ := Resolve("struck", sheet)
	if !s.Strikethrough || s.Underline || s.Color != "#aa0000" {
		t.Errorf("struck = %+v", s)
	}
	if sheet.Styles["bad"].Size != nil {
		t.Errorf("unsupported size applied")
	}
}

func TestWriteCSS_RoundTrip(t *testing.T) {
	sheet := loadSample(t)
	text := WriteCSS(sheet).String()
	again, err := ParseCSS([]byte(text), sheet.Name, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("ParseCSS(WriteCSS()): %v\n%s", err, text)
	}
	for _, name := range sheet.Names() {
		a, _ := Resolve(name, sheet)
		b, _ := Resolve(name, again)
		if a != b {
			t.Errorf("style %q differs:\n%+v\n%+v\ncss:\n%s", name, a, b, text)
		}
	}
}
