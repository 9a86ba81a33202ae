package style

import (
	"slices"

	"go.uber.org/zap"

	"shed/buffer"
)

// Resolver reapplies stylesheets to buffers. It remembers style names it
// could not resolve during the last pass.
type Resolver struct {
	log        *zap.Logger
	unresolved []string
}

// NewResolver creates resolver.
func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log.Named("style")}
}

// Unresolved returns sorted names of styles referenced by the buffer but
// missing from the stylesheet during the last Reapply call.
func (r *Resolver) Unresolved() []string {
	return slices.Clone(r.unresolved)
}

// Reapply re-derives attributes of every style tagged range from sheet and
// returns new buffer along with flag telling if anything changed. Source
// buffer is not modified.
//
// Attributes of tagged ranges are replaced, not merged. Paragraph alignment
// at attachment positions is kept as is, it belongs to the attachment
// instance. Untagged ranges and ranges tagged with styles missing from sheet
// are left untouched.
func (r *Resolver) Reapply(b *buffer.Buffer, sheet *Stylesheet) (*buffer.Buffer, bool) {
	r.unresolved = r.unresolved[:0]
	if sheet == nil {
		return b.Clone(), false
	}

	var (
		out      = b.Clone()
		resolved = make(map[string]buffer.Attributes)
		missing  = make(map[string]bool)
	)
	for name, rng := range buffer.Enumerate(b, buffer.Range{Start: 0, End: b.Len()}, func(a buffer.Attributes) string { return a.StyleName }) {
		if name == "" {
			continue
		}
		attrs, ok := resolved[name]
		if !ok {
			if missing[name] {
				continue
			}
			if attrs, ok = Resolve(name, sheet); !ok {
				missing[name] = true
				r.unresolved = append(r.unresolved, name)
				r.log.Debug("Skipping range with unresolvable style", zap.String("style", name), zap.Stringer("range", rng))
				continue
			}
			resolved[name] = attrs
		}

		// text positions, attachments are skipped by SetAttributes
		if err := out.SetAttributes(rng, attrs); err != nil {
			r.log.Warn("Unable to reapply style", zap.String("style", name), zap.Stringer("range", rng), zap.Error(err))
			continue
		}
		for off := rng.Start; off < rng.End; off++ {
			if !b.IsAttachment(off) {
				continue
			}
			cur, _ := b.AttributesAt(off)
			p := attrs.Paragraph
			p.Alignment = cur.Paragraph.Alignment
			if err := out.SetParagraphStyle(buffer.Range{Start: off, End: off + 1}, p); err != nil {
				r.log.Warn("Unable to reapply paragraph style", zap.Int("offset", off), zap.Error(err))
			}
		}
	}
	slices.Sort(r.unresolved)

	changed := !out.Equal(b)
	if changed {
		r.log.Debug("Stylesheet reapplied", zap.String("sheet", sheet.Name), zap.Int("resolved", len(resolved)), zap.Int("unresolved", len(missing)))
	}
	return out, changed
}
