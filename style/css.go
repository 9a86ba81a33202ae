package style

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"shed/common"
	"shed/css"
)

// Base font size in points used to resolve relative units.
const baseFontSize = 12

// Vendor property used to express style inheritance in CSS.
const basedOnProperty = "-shed-based-on"

// ParseCSS builds stylesheet from CSS. Every simple rule defines (or extends)
// a style named after its class, or element when there is no class. Rules
// for the same name are merged in source order.
func ParseCSS(data []byte, name string, log *zap.Logger) (*Stylesheet, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("style")

	parsed := css.Read(data, log)
	if len(parsed.Skipped) > 0 {
		log.Debug("Parts of stylesheet CSS ignored", zap.String("sheet", name), zap.Strings("skipped", parsed.Skipped))
	}

	sheet := NewStylesheet(name)
	for _, sname := range parsed.Names() {
		st := &Style{Name: sname}
		for prop, val := range parsed.Merged(sname) {
			if err := applyProperty(st, prop, val); err != nil {
				log.Warn("Ignoring stylesheet property", zap.String("style", sname), zap.String("property", prop), zap.Error(err))
			}
		}
		sheet.Add(st)
	}
	if err := sheet.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stylesheet %q: %w", name, err)
	}
	return sheet, nil
}

func applyProperty(st *Style, prop string, val css.Value) error {
	switch prop {
	case basedOnProperty:
		st.BasedOn = val.Raw
	case "font-family":
		family, _, _ := strings.Cut(val.Raw, ",")
		st.Font = Ptr(strings.Trim(strings.TrimSpace(family), `"'`))
	case "font-size":
		v, ok := val.Points(baseFontSize)
		if !ok {
			return fmt.Errorf("unsupported size %q", val.Raw)
		}
		st.Size = Ptr(v)
	case "font-weight":
		switch val.Ident {
		case "bold", "bolder":
			st.Bold = Ptr(true)
		case "normal", "lighter":
			st.Bold = Ptr(false)
		default:
			w, err := strconv.Atoi(val.Raw)
			if err != nil {
				return fmt.Errorf("unsupported weight %q", val.Raw)
			}
			st.Bold = Ptr(w >= 600)
		}
	case "font-style":
		switch val.Ident {
		case "italic", "oblique":
			st.Italic = Ptr(true)
		case "normal":
			st.Italic = Ptr(false)
		default:
			return fmt.Errorf("unsupported font style %q", val.Raw)
		}
	case "text-decoration", "text-decoration-line":
		kw := strings.Fields(strings.ToLower(val.Raw))
		st.Underline = Ptr(slices.Contains(kw, "underline"))
		st.Strikethrough = Ptr(slices.Contains(kw, "line-through"))
	case "color":
		st.Color = Ptr(val.Raw)
	case "text-align":
		a, err := common.ParseAlignment(val.Ident)
		if err != nil {
			return err
		}
		st.Alignment = Ptr(a)
	case "line-height":
		switch {
		case !val.IsNumber():
			return fmt.Errorf("unsupported line height %q", val.Raw)
		case val.Unit == "":
			st.LineSpacing = Ptr(val.Number)
		case val.Unit == "%":
			st.LineSpacing = Ptr(val.Number / 100)
		default:
			return fmt.Errorf("only relative line height is supported, got %q", val.Raw)
		}
	case "margin-top":
		return setLength(&st.SpaceBefore, val)
	case "margin-bottom":
		return setLength(&st.SpaceAfter, val)
	case "margin-left":
		return setLength(&st.HeadIndent, val)
	case "margin-right":
		return setLength(&st.TailIndent, val)
	case "text-indent":
		return setLength(&st.FirstLineIndent, val)
	default:
		return fmt.Errorf("unsupported property")
	}
	return nil
}

func setLength(dst **float64, val css.Value) error {
	v, ok := val.Points(baseFontSize)
	if !ok {
		return fmt.Errorf("unsupported length %q", val.Raw)
	}
	*dst = Ptr(v)
	return nil
}

// WriteCSS renders stylesheet as CSS with one class rule per style.
func WriteCSS(sheet *Stylesheet) *css.Sheet {
	out := &css.Sheet{}
	for _, name := range sheet.Names() {
		st := sheet.Styles[name]
		props := make(map[string]css.Value)
		add := func(prop, raw string) {
			props[prop] = css.Value{Raw: raw}
		}
		if st.BasedOn != "" {
			add(basedOnProperty, st.BasedOn)
		}
		if st.Font != nil {
			add("font-family", css.Quote(*st.Font))
		}
		if st.Size != nil {
			add("font-size", formatPoints(*st.Size))
		}
		if st.Bold != nil {
			add("font-weight", map[bool]string{true: "bold", false: "normal"}[*st.Bold])
		}
		if st.Italic != nil {
			add("font-style", map[bool]string{true: "italic", false: "normal"}[*st.Italic])
		}
		if st.Underline != nil || st.Strikethrough != nil {
			var kw []string
			if st.Underline != nil && *st.Underline {
				kw = append(kw, "underline")
			}
			if st.Strikethrough != nil && *st.Strikethrough {
				kw = append(kw, "line-through")
			}
			if len(kw) == 0 {
				kw = append(kw, "none")
			}
			add("text-decoration", strings.Join(kw, " "))
		}
		if st.Color != nil {
			add("color", *st.Color)
		}
		if st.Alignment != nil {
			add("text-align", cssAlignment(*st.Alignment))
		}
		if st.LineSpacing != nil {
			add("line-height", strconv.FormatFloat(*st.LineSpacing, 'f', -1, 64))
		}
		for prop, v := range map[string]*float64{
			"margin-top":    st.SpaceBefore,
			"margin-bottom": st.SpaceAfter,
			"margin-left":   st.HeadIndent,
			"margin-right":  st.TailIndent,
			"text-indent":   st.FirstLineIndent,
		} {
			if v != nil {
				add(prop, formatPoints(*v))
			}
		}
		out.Rules = append(out.Rules, css.Rule{Name: name, Decls: props})
	}
	return out
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "pt"
}

func cssAlignment(a common.Alignment) string {
	switch a {
	case common.AlignmentNatural:
		return "start"
	case common.AlignmentJustified:
		return "justify"
	default:
		return a.String()
	}
}
