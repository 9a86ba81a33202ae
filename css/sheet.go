package css

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// Value is a single declaration value. Number and Unit are set for lengths,
// percentages and plain numbers, Ident for identifiers, strings and colors.
// Everything else keeps only Raw.
type Value struct {
	Raw    string
	Number float64
	Unit   string
	Ident  string
	number bool
}

// Num makes numeric value.
func Num(n float64, unit string) Value {
	return Value{Raw: formatNumber(n) + unit, Number: n, Unit: unit, number: true}
}

// Word makes identifier value.
func Word(s string) Value {
	return Value{Raw: s, Ident: s}
}

// IsNumber reports whether value has numeric part ("0" included).
func (v Value) IsNumber() bool {
	return v.number
}

// Points converts length to points. Relative units (em, %) are resolved
// against base which is expected to be in points. Unitless numbers are
// points.
func (v Value) Points(base float64) (float64, bool) {
	if !v.number {
		return 0, false
	}
	switch v.Unit {
	case "", "pt":
		return v.Number, true
	case "px":
		return v.Number * 0.75, true
	case "in":
		return v.Number * 72, true
	case "cm":
		return v.Number * 72 / 2.54, true
	case "mm":
		return v.Number * 72 / 25.4, true
	case "pc":
		return v.Number * 12, true
	case "em", "rem":
		return v.Number * base, true
	case "%":
		return v.Number * base / 100, true
	}
	return 0, false
}

// Rule holds declarations of one named rule. Name is class name for
// ".name" and "p.name" selectors, element name for bare element selectors.
type Rule struct {
	Name  string
	Decls map[string]Value
}

// Sheet is a sequence of rules in source order. Skipped lists constructs
// which were ignored while reading.
type Sheet struct {
	Rules   []Rule
	Skipped []string
}

// Merged returns declarations of all rules with given name, later rules
// win.
func (s *Sheet) Merged(name string) map[string]Value {
	var out map[string]Value
	for _, r := range s.Rules {
		if r.Name != name {
			continue
		}
		if out == nil {
			out = make(map[string]Value, len(r.Decls))
		}
		maps.Copy(out, r.Decls)
	}
	return out
}

// Names returns distinct rule names in order of first appearance.
func (s *Sheet) Names() []string {
	var names []string
	for _, r := range s.Rules {
		if !slices.Contains(names, r.Name) {
			names = append(names, r.Name)
		}
	}
	return names
}

// WriteTo writes every rule as class rule. Declarations are sorted by name.
func (s *Sheet) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for i, r := range s.Rules {
		var sb strings.Builder
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, ".%s {\n", r.Name)
		for _, name := range slices.Sorted(maps.Keys(r.Decls)) {
			fmt.Fprintf(&sb, "  %s: %s;\n", name, r.Decls[name].Raw)
		}
		sb.WriteString("}\n")
		n, err := io.WriteString(w, sb.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Sheet) String() string {
	var sb strings.Builder
	s.WriteTo(&sb) //nolint:errcheck
	return sb.String()
}

// Quote returns s as double quoted CSS string.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
