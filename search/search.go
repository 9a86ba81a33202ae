// Package search finds text across documents and replaces selected matches
// one document at a time.
package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"shed/buffer"
	"shed/session"
)

// ErrEmptyPattern is returned by Compile for patterns matching nothing useful.
var ErrEmptyPattern = errors.New("empty search pattern")

// DefaultRadius is number of characters kept around match in snippets.
const DefaultRadius = 40

const ellipsis = "…"

// Options controls how pattern is interpreted.
type Options struct {
	CaseSensitive bool
	WholeWord     bool
	Regex         bool
}

// Pattern is compiled search pattern.
type Pattern struct {
	re        *regexp.Regexp
	wholeWord bool
}

// Compile prepares pattern. Literal patterns are normalized to NFC, the same
// form typed text has.
func Compile(pattern string, opts Options) (*Pattern, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	expr := norm.NFC.String(pattern)
	if !opts.Regex {
		expr = regexp.QuoteMeta(expr)
	}
	if !opts.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	return &Pattern{re: re, wholeWord: opts.WholeWord}, nil
}

// Find returns ranges matching pattern in buffer. Empty matches and matches
// covering attachment placeholders are dropped.
func (p *Pattern) Find(b *buffer.Buffer) []buffer.Range {
	text := b.String()
	var (
		out     []buffer.Range
		bytePos int
		runePos int
	)
	for _, loc := range p.re.FindAllStringIndex(text, -1) {
		if loc[0] == loc[1] {
			continue
		}
		if p.wholeWord && !wordBounded(text, loc[0], loc[1]) {
			continue
		}
		runePos += utf8.RuneCountInString(text[bytePos:loc[0]])
		start := runePos
		runePos += utf8.RuneCountInString(text[loc[0]:loc[1]])
		bytePos = loc[1]

		r := buffer.Range{Start: start, End: runePos}
		if strings.ContainsRune(text[loc[0]:loc[1]], buffer.Placeholder) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func wordBounded(text string, start, end int) bool {
	if r, _ := utf8.DecodeLastRuneInString(text[:start]); start > 0 && isWordRune(r) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(text[end:]); end < len(text) && isWordRune(r) {
		return false
	}
	return true
}

// Opener gives access to live document sessions, *session.Manager
// implements it.
type Opener interface {
	Open(ctx context.Context, docID string) (*session.Session, error)
}

// Match is a single occurrence of pattern.
type Match struct {
	Range   buffer.Range
	Text    string
	Snippet string
}

// DocumentMatches groups matches found in current version of a document.
type DocumentMatches struct {
	DocumentID string
	Title      string
	VersionID  string
	Matches    []Match
}

// Searcher runs searches with snippets built by sentence splitter.
type Searcher struct {
	log      *zap.Logger
	splitter *Splitter
	radius   int
}

// NewSearcher creates searcher. Nil splitter gives snippets clipped by radius
// only, non positive radius means DefaultRadius.
func NewSearcher(splitter *Splitter, radius int, log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Searcher{log: log.Named("search"), splitter: splitter, radius: radius}
}

// Search looks for pattern in current versions of documents. Documents
// without matches are omitted, the rest is ordered by title in natural
// order. Documents which cannot be opened are skipped and reported in the
// returned error together with whatever was found elsewhere.
func (s *Searcher) Search(ctx context.Context, opener Opener, docIDs []string, pattern string, opts Options) ([]DocumentMatches, error) {
	p, err := Compile(pattern, opts)
	if err != nil {
		return nil, err
	}

	var (
		found []DocumentMatches
		errs  error
	)
	for _, id := range docIDs {
		if err := ctx.Err(); err != nil {
			return found, multierr.Append(errs, err)
		}
		sess, err := opener.Open(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("document %s: %w", id, err))
			continue
		}
		dm := s.find(sess, p)
		if len(dm.Matches) == 0 {
			continue
		}
		s.log.Debug("Matches found", zap.String("document", id), zap.Int("count", len(dm.Matches)))
		found = append(found, dm)
	}

	slices.SortStableFunc(found, func(a, b DocumentMatches) int {
		switch {
		case natural.Less(a.Title, b.Title):
			return -1
		case natural.Less(b.Title, a.Title):
			return 1
		}
		return strings.Compare(a.DocumentID, b.DocumentID)
	})
	return found, errs
}

func (s *Searcher) find(sess *session.Session, p *Pattern) DocumentMatches {
	doc := sess.Document()
	dm := DocumentMatches{DocumentID: doc.ID, Title: doc.Title}
	v := sess.Current()
	if v == nil {
		return dm
	}
	dm.VersionID = v.ID()
	b := v.Content()
	for _, r := range p.Find(b) {
		dm.Matches = append(dm.Matches, Match{
			Range:   r,
			Text:    b.Text(r),
			Snippet: s.snippet(b, r),
		})
	}
	return dm
}

// snippet returns sentence containing r clipped to radius characters on both
// sides of the match. Placeholders and line breaks are not shown.
func (s *Searcher) snippet(b *buffer.Buffer, r buffer.Range) string {
	para := b.ParagraphRange(r)
	runes := []rune(b.Text(para))
	text := string(runes)
	ms := len(string(runes[:r.Start-para.Start]))
	me := ms + len(string(runes[r.Start-para.Start:r.End-para.Start]))

	lo, hi := 0, len(text)
	for start, end := range s.splitter.Spans(text) {
		if start <= ms && ms < end {
			lo = start
		}
		if start < me && me <= end {
			hi = end
			break
		}
	}

	before, after := []rune(text[lo:ms]), []rune(text[me:hi])
	var sb strings.Builder
	if len(before) > s.radius {
		sb.WriteString(ellipsis)
		before = before[len(before)-s.radius:]
	}
	sb.WriteString(string(before))
	sb.WriteString(text[ms:me])
	clipped := len(after) > s.radius
	if clipped {
		after = after[:s.radius]
	}
	sb.WriteString(string(after))
	if clipped {
		sb.WriteString(ellipsis)
	}
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r == buffer.Placeholder:
			return -1
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		}
		return r
	}, sb.String()))
}
