package session

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/attach"
	"shed/version"
)

// AddVersion duplicates current version and makes the copy current.
// Attachments of the copy get new identities, comment and footnote records
// are duplicated for them.
func (s *Session) AddVersion() (*version.Version, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	cur := s.doc.Current()
	if !cur.Reconciled() {
		return nil, ErrNotLoaded
	}
	v := s.doc.AddVersion()

	src := s.records[cur.ID()]
	recs := make(map[string]attach.Record, len(src))
	var ids []string
	for _, a := range v.Content().Attachments() {
		ids = append(ids, a.ID())
	}
	for _, id := range ids {
		newID := attach.NewID()
		if err := v.Content().Rekey(id, newID); err != nil {
			return nil, err
		}
		if rec, ok := src[id]; ok {
			rec.AttachmentID = newID
			rec.VersionID = v.ID()
			recs[newID] = rec
		}
	}
	s.records[v.ID()] = recs

	if err := s.saveMeta(); err != nil {
		return v, err
	}
	var err error
	for _, rec := range attach.Track(v.Content(), slices.Collect(maps.Values(recs))) {
		if e := s.st.SaveRecord(s.ctx, rec); e != nil {
			err = multierr.Append(err, e)
		}
		recs[rec.AttachmentID] = rec
	}
	if err != nil {
		return v, fmt.Errorf("%w: records of version %d: %w", ErrPersist, v.Number(), err)
	}
	return v, s.persist(v)
}

// DeleteVersion deletes current version with its records and history. The
// only version of a document cannot be deleted.
func (s *Session) DeleteVersion() (*version.Version, error) {
	if s.closed {
		return nil, ErrClosed
	}
	s.engine.Flush()
	if s.typing {
		s.typing = false
		if err := s.commit(s.doc.Current()); err != nil {
			s.log.Warn("Unable to save typing before version deletion", zap.Error(err))
		}
	}
	v, err := s.doc.DeleteVersion()
	if err != nil {
		return nil, err
	}
	s.engine.Forget(v.ID())
	delete(s.records, v.ID())
	for id, rec := range s.trash {
		if rec.VersionID == v.ID() {
			delete(s.trash, id)
		}
	}
	s.log.Info("Version deleted", zap.Int("number", v.Number()))

	if err := s.st.DeleteVersion(s.ctx, v.ID()); err != nil {
		return v, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return v, s.saveMeta()
}

// ChangeVersion moves to neighbouring version, clamping at both ends.
func (s *Session) ChangeVersion(by int) (version.Position, error) {
	return s.navigate(func() (version.Position, error) {
		return s.doc.ChangeVersion(by), nil
	})
}

// SelectLatest makes the last version current.
func (s *Session) SelectLatest() (version.Position, error) {
	return s.navigate(func() (version.Position, error) {
		return s.doc.SelectLatest(), nil
	})
}

// Select makes version with given identity current.
func (s *Session) Select(id string) (version.Position, error) {
	return s.navigate(func() (version.Position, error) {
		return s.doc.Select(id)
	})
}

func (s *Session) navigate(fn func() (version.Position, error)) (version.Position, error) {
	if s.closed {
		return version.Position{}, ErrClosed
	}
	if err := s.Flush(); err != nil {
		s.log.Warn("Unable to save typing before changing version", zap.Error(err))
	}
	prev := s.doc.Current()
	pos, err := fn()
	if err != nil {
		return pos, err
	}
	if s.doc.Current() == prev {
		return pos, nil
	}
	if !s.doc.Current().Reconciled() {
		s.log.Warn("Current version is not loaded", zap.Int("number", s.doc.Current().Number()), zap.Error(s.activateErr))
	}
	return pos, s.saveMeta()
}

// Lock prevents edits of the current version. Undo and redo steps targeting
// a locked version are refused whichever version is current.
func (s *Session) Lock(reason string) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.Flush(); err != nil {
		return err
	}
	s.doc.Current().Lock(reason)
	return s.saveMeta()
}

// Unlock allows edits of the current version again.
func (s *Session) Unlock() error {
	if s.closed {
		return ErrClosed
	}
	s.doc.Current().Unlock()
	return s.saveMeta()
}

// SetComment sets comment of the current version.
func (s *Session) SetComment(comment string) error {
	if s.closed {
		return ErrClosed
	}
	s.doc.Current().SetComment(comment)
	return s.saveMeta()
}
