// Package css reads and writes the subset of CSS used for stylesheets:
// class and element rules with plain declarations. At-rules, custom
// properties and complex selectors are skipped.
package css

import (
	"bytes"
	"errors"
	"io"
	"maps"
	"strconv"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Read parses data into a sheet. It never fails, problems are logged and
// recorded in Sheet.Skipped.
func Read(data []byte, log *zap.Logger) *Sheet {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("css")

	sheet := &Sheet{}
	skip := func(what string) {
		sheet.Skipped = append(sheet.Skipped, what)
		log.Debug("Skipping CSS", zap.String("what", what))
	}

	p := css.NewParser(parse.NewInput(bytes.NewReader(data)), false)
	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			if err := p.Err(); err != nil && !errors.Is(err, io.EOF) {
				skip("error: " + err.Error())
			}
			return sheet
		case css.BeginAtRuleGrammar:
			skip(string(data))
			skipBlock(p)
		case css.AtRuleGrammar:
			skip(string(data))
		case css.BeginRulesetGrammar:
			sels := selectors(data, p.Values())
			decls := readDecls(p)
			for _, sel := range sels {
				name, ok := ruleName(sel)
				if !ok {
					skip(sel)
					continue
				}
				sheet.Rules = append(sheet.Rules, Rule{Name: name, Decls: maps.Clone(decls)})
			}
		}
	}
}

func selectors(data []byte, values []css.Token) []string {
	var sb strings.Builder
	sb.Write(data)
	for _, v := range values {
		sb.Write(v.Data)
	}
	var out []string
	for s := range strings.SplitSeq(sb.String(), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ruleName accepts "name", ".name" and "element.name".
func ruleName(sel string) (string, bool) {
	if sel == "" || strings.ContainsAny(sel, " \t\n+~>[:#*") || strings.Count(sel, ".") > 1 {
		return "", false
	}
	if _, class, found := strings.Cut(sel, "."); found {
		return class, class != ""
	}
	return sel, true
}

func readDecls(p *css.Parser) map[string]Value {
	decls := make(map[string]Value)
	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar, css.EndRulesetGrammar:
			return decls
		case css.DeclarationGrammar:
			if vals := p.Values(); len(vals) > 0 {
				decls[strings.ToLower(string(data))] = value(vals)
			}
		}
	}
}

func value(tokens []css.Token) Value {
	var sb strings.Builder
	var significant []css.Token
	for _, t := range tokens {
		if t.TokenType == css.WhitespaceToken {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			continue
		}
		sb.Write(t.Data)
		significant = append(significant, t)
	}
	v := Value{Raw: strings.TrimSpace(sb.String())}
	if len(significant) != 1 {
		return v
	}

	t := significant[0]
	text := string(t.Data)
	switch t.TokenType {
	case css.NumberToken:
		v.Number, v.number = parseNumber(text)
	case css.PercentageToken:
		v.Number, v.number = parseNumber(strings.TrimSuffix(text, "%"))
		v.Unit = "%"
	case css.DimensionToken:
		i := strings.IndexFunc(text, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-' && r != '+'
		})
		if i > 0 {
			v.Number, v.number = parseNumber(text[:i])
			v.Unit = strings.ToLower(text[i:])
		}
	case css.IdentToken:
		v.Ident = strings.ToLower(text)
	case css.StringToken:
		v.Ident = unquote(text)
	case css.HashToken:
		v.Ident = text
	}
	return v
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\\`, `\`).Replace(s)
}

// skipBlock consumes tokens up to the end of at-rule block.
func skipBlock(p *css.Parser) {
	for depth := 1; depth > 0; {
		switch gt, _, _ := p.Next(); gt {
		case css.ErrorGrammar:
			return
		case css.BeginAtRuleGrammar, css.BeginRulesetGrammar:
			depth++
		case css.EndAtRuleGrammar, css.EndRulesetGrammar:
			depth--
		}
	}
}
