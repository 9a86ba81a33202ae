// Package style resolves named styles from a stylesheet into concrete
// buffer attributes and reapplies a stylesheet across buffer content.
package style

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"

	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"shed/buffer"
	"shed/common"
)

// ErrUnresolvable is reported for style names without current definition.
var ErrUnresolvable = errors.New("unresolvable style")

// Style is a named set of formatting overrides. Nil fields are inherited
// from BasedOn style (or left at zero value).
type Style struct {
	Name    string `yaml:"-"`
	BasedOn string `yaml:"based_on,omitempty"`

	Font          *string  `yaml:"font,omitempty"`
	Size          *float64 `yaml:"size,omitempty"`
	Bold          *bool    `yaml:"bold,omitempty"`
	Italic        *bool    `yaml:"italic,omitempty"`
	Underline     *bool    `yaml:"underline,omitempty"`
	Strikethrough *bool    `yaml:"strikethrough,omitempty"`
	Color         *string  `yaml:"color,omitempty"`

	Alignment       *common.Alignment `yaml:"alignment,omitempty"`
	LineSpacing     *float64          `yaml:"line_spacing,omitempty"`
	SpaceBefore     *float64          `yaml:"space_before,omitempty"`
	SpaceAfter      *float64          `yaml:"space_after,omitempty"`
	FirstLineIndent *float64          `yaml:"first_line_indent,omitempty"`
	HeadIndent      *float64          `yaml:"head_indent,omitempty"`
	TailIndent      *float64          `yaml:"tail_indent,omitempty"`
}

func (s *Style) applyTo(a *buffer.Attributes) {
	set(&a.Font, s.Font)
	set(&a.Size, s.Size)
	set(&a.Bold, s.Bold)
	set(&a.Italic, s.Italic)
	set(&a.Underline, s.Underline)
	set(&a.Strikethrough, s.Strikethrough)
	set(&a.Color, s.Color)
	set(&a.Paragraph.Alignment, s.Alignment)
	set(&a.Paragraph.LineSpacing, s.LineSpacing)
	set(&a.Paragraph.SpaceBefore, s.SpaceBefore)
	set(&a.Paragraph.SpaceAfter, s.SpaceAfter)
	set(&a.Paragraph.FirstLineIndent, s.FirstLineIndent)
	set(&a.Paragraph.HeadIndent, s.HeadIndent)
	set(&a.Paragraph.TailIndent, s.TailIndent)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Ptr returns pointer to v, handy for building styles in code.
func Ptr[T any](v T) *T {
	return &v
}

func (s *Style) clone() *Style {
	c := *s
	// pointed to values are never modified in place, sharing is fine
	return &c
}

// Stylesheet is a named collection of styles belonging to a project.
type Stylesheet struct {
	Name string `yaml:"name"`
	// ImageAlignment is default alignment for newly inserted images. It is
	// never applied to existing images.
	ImageAlignment common.Alignment  `yaml:"image_alignment,omitempty"`
	Styles         map[string]*Style `yaml:"styles"`
}

// NewStylesheet creates empty stylesheet.
func NewStylesheet(name string) *Stylesheet {
	return &Stylesheet{Name: name, Styles: make(map[string]*Style)}
}

// Add puts style into the stylesheet replacing one with the same name.
func (s *Stylesheet) Add(st *Style) {
	if s.Styles == nil {
		s.Styles = make(map[string]*Style)
	}
	s.Styles[st.Name] = st
}

// Clone returns copy of the stylesheet which may be modified independently.
func (s *Stylesheet) Clone() *Stylesheet {
	c := &Stylesheet{Name: s.Name, ImageAlignment: s.ImageAlignment, Styles: make(map[string]*Style, len(s.Styles))}
	for k, v := range s.Styles {
		c.Styles[k] = v.clone()
	}
	return c
}

// Names returns style names in natural order.
func (s *Stylesheet) Names() []string {
	names := slices.Collect(maps.Keys(s.Styles))
	sort.Sort(natural.StringSlice(names))
	return names
}

// Validate checks that every BasedOn reference exists and that inheritance
// has no cycles.
func (s *Stylesheet) Validate() error {
	var err error
	for _, name := range s.Names() {
		if _, e := s.chain(name); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return err
}

// chain returns style inheritance chain starting with the root.
func (s *Stylesheet) chain(name string) ([]*Style, error) {
	var (
		out  []*Style
		seen = make(map[string]bool)
	)
	for cur := name; cur != ""; {
		if seen[cur] {
			return nil, fmt.Errorf("style %q: inheritance cycle through %q", name, cur)
		}
		seen[cur] = true
		st, ok := s.Styles[cur]
		if !ok {
			if cur == name {
				return nil, fmt.Errorf("%w: %q", ErrUnresolvable, name)
			}
			return nil, fmt.Errorf("style %q: based on unknown style %q", name, cur)
		}
		out = append(out, st)
		cur = st.BasedOn
	}
	slices.Reverse(out)
	return out, nil
}

// Resolve computes attributes for a style name. Returned attributes are
// tagged with the name. Returns false when the style does not exist or its
// inheritance chain is broken.
func Resolve(name string, sheet *Stylesheet) (buffer.Attributes, bool) {
	if sheet == nil || name == "" {
		return buffer.Attributes{}, false
	}
	chain, err := sheet.chain(name)
	if err != nil {
		return buffer.Attributes{}, false
	}
	attrs := buffer.Attributes{StyleName: name}
	for _, st := range chain {
		st.applyTo(&attrs)
	}
	return attrs, true
}

// LoadYAML reads stylesheet definition. Unknown fields are rejected.
func LoadYAML(r io.Reader) (*Stylesheet, error) {
	sheet := &Stylesheet{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(sheet); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode stylesheet: %w", err)
	}
	if sheet.Styles == nil {
		sheet.Styles = make(map[string]*Style)
	}
	for name, st := range sheet.Styles {
		if st == nil {
			st = &Style{}
			sheet.Styles[name] = st
		}
		st.Name = name
	}
	if err := sheet.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stylesheet %q: %w", sheet.Name, err)
	}
	return sheet, nil
}

// MarshalYAML returns YAML representation of the stylesheet readable by
// LoadYAML.
func MarshalYAML(sheet *Stylesheet) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(sheet); err != nil {
		return nil, fmt.Errorf("failed to encode stylesheet: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode stylesheet: %w", err)
	}
	return buf.Bytes(), nil
}
