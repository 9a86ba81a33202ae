package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/buffer"
)

// ErrStaleMatch is returned when selected match no longer corresponds to
// document content.
var ErrStaleMatch = errors.New("match is out of date")

// Failure describes document which could not be replaced.
type Failure struct {
	DocumentID string
	Title      string
	Err        error
}

// Result summarizes batch replacement.
type Result struct {
	Succeeded    int
	Replacements int
	Failed       []Failure
}

// ReplaceSelected replaces selected matches document by document. Every
// document gets one undoable step which is saved before the next document is
// touched. A document which fails is left as it was and processing continues,
// returned error combines all failures.
func (s *Searcher) ReplaceSelected(ctx context.Context, opener Opener, selection []DocumentMatches, replacement string) (Result, error) {
	var (
		res  Result
		errs error
	)
	for _, dm := range selection {
		if len(dm.Matches) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		n, err := s.replaceDocument(ctx, opener, dm, replacement)
		if err != nil {
			s.log.Warn("Replacement failed", zap.String("document", dm.DocumentID), zap.String("title", dm.Title), zap.Error(err))
			res.Failed = append(res.Failed, Failure{DocumentID: dm.DocumentID, Title: dm.Title, Err: err})
			errs = multierr.Append(errs, fmt.Errorf("document %q: %w", dm.Title, err))
			continue
		}
		res.Succeeded++
		res.Replacements += n
	}
	s.log.Debug("Replacement done",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("replacements", res.Replacements),
		zap.Int("failed", len(res.Failed)))
	return res, errs
}

func (s *Searcher) replaceDocument(ctx context.Context, opener Opener, dm DocumentMatches, replacement string) (int, error) {
	sess, err := opener.Open(ctx, dm.DocumentID)
	if err != nil {
		return 0, err
	}
	v := sess.Current()
	if v == nil || v.ID() != dm.VersionID {
		return 0, fmt.Errorf("%w: current version changed", ErrStaleMatch)
	}
	if err := v.CheckEditable(); err != nil {
		return 0, err
	}
	b := v.Content()
	ranges := make([]buffer.Range, 0, len(dm.Matches))
	for _, m := range dm.Matches {
		if m.Range.End > b.Len() || b.Text(m.Range) != m.Text {
			return 0, fmt.Errorf("%w: %s no longer reads %q", ErrStaleMatch, m.Range, m.Text)
		}
		ranges = append(ranges, m.Range)
	}
	return sess.ReplaceRanges(ctx, ranges, replacement)
}
