package search

import (
	"iter"
	"strings"
	"unicode"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Splitter finds sentence boundaries for snippets. Nil splitter treats the
// whole input as a single sentence.
type Splitter struct {
	*sentences.DefaultSentenceTokenizer
}

// NewSplitter returns tokenizer for the language or nil when there is no
// suitable model.
func NewSplitter(lang language.Tag, log *zap.Logger) *Splitter {
	if log == nil {
		log = zap.NewNop()
	}
	base, confidence := lang.Base()
	if confidence == language.No {
		log.Warn("Unable to determine language base", zap.Stringer("tag", lang), zap.Stringer("base", base))
		return nil
	}
	en, _ := language.English.Base()
	if base != en {
		log.Warn("Unable to find suitable sentence tokenizer model, turning off sentence splitting",
			zap.String("language", display.English.Languages().Name(lang)))
		return nil
	}
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		log.Warn("Unable to load sentences tokenizer data", zap.Stringer("tag", lang), zap.Error(err))
		return nil
	}
	return &Splitter{tok}
}

// Spans iterates over byte ranges of sentences in text. Spaces between
// sentences belong to the preceding one, so spans cover text without gaps.
func (s *Splitter) Spans(in string) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		if s == nil || in == "" {
			if in != "" {
				yield(0, len(in))
			}
			return
		}
		start, pos := 0, 0
		for _, sentence := range s.Tokenize(in) {
			// tokenizer may hand leading spaces to the next sentence, find
			// where trimmed sentence ends in the original text
			body := strings.TrimSpace(sentence.Text)
			if body == "" {
				continue
			}
			idx := strings.Index(in[pos:], body)
			if idx < 0 {
				continue
			}
			end := pos + idx + len(body)
			for end < len(in) {
				r := rune(in[end])
				if r >= 0x80 || !unicode.IsSpace(r) {
					break
				}
				end++
			}
			if start < end {
				if !yield(start, end) {
					return
				}
			}
			start, pos = end, end
		}
		if start < len(in) {
			yield(start, len(in))
		}
	}
}
