// Package session ties together content, history, versions, attachment
// records and persistence of one open document.
//
// A session is single threaded: every method must be called from the
// document's editing context. Only content saves (when asynchronous) and the
// read-only record prefetch run on other goroutines.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/attach"
	"shed/buffer"
	"shed/codec"
	"shed/events"
	"shed/history"
	"shed/store"
	"shed/style"
	"shed/version"
)

var (
	// ErrPersist wraps every failure to write into the store. In-memory
	// content stays authoritative and unsaved.
	ErrPersist = errors.New("unable to persist")
	// ErrClosed is returned by operations on closed session.
	ErrClosed = errors.New("session is closed")
	// ErrNotLoaded is returned when content of the current version could not
	// be loaded and editing it would overwrite stored content.
	ErrNotLoaded = errors.New("version content is not loaded")
)

// Options control session behavior.
type Options struct {
	// UndoLimit bounds number of undo steps, zero means unbounded.
	UndoLimit int
	// Coalesce merges consecutive typing into single undo step.
	Coalesce bool
	// AsyncSave writes content on a background goroutine. Synchronous
	// sessions report persist failures from the edit call itself.
	AsyncSave bool
	// Prefetch loads attachment records of other versions in background.
	Prefetch bool
}

// DefaultOptions returns options used when none are configured.
func DefaultOptions() Options {
	return Options{UndoLimit: 100, Coalesce: true, AsyncSave: true, Prefetch: true}
}

// Session is an open document.
type Session struct {
	log  *zap.Logger
	st   store.Store
	hub  *events.Hub
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	doc      *version.Document
	engine   *history.Engine
	resolver *style.Resolver
	sheet    *style.Stylesheet
	saver    *saver
	prefetch *prefetcher

	// records of loaded versions as last written to the store, keyed by
	// version and attachment identities
	records map[string]map[string]attach.Record
	// records deleted together with their markers, kept so undo can bring
	// them back
	trash map[string]attach.Record

	typing      bool
	restoreErr  error
	activateErr error
	unsubscribe func()
	closed      bool
}

var _ events.StyleObserver = (*Session)(nil)

// Open loads document metadata and makes its current version ready for
// editing. Document without versions gets an empty first version. When hub
// is not nil session subscribes to stylesheet events of document's project.
func Open(ctx context.Context, st store.Store, hub *events.Hub, docID string, opts Options, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	meta, err := st.LoadDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		log:      log.Named("session").With(zap.String("document", docID)),
		st:       st,
		hub:      hub,
		opts:     opts,
		ctx:      sctx,
		cancel:   cancel,
		resolver: style.NewResolver(log),
		records:  make(map[string]map[string]attach.Record),
		trash:    make(map[string]attach.Record),
	}
	s.engine = history.NewEngine(log,
		history.WithLimit(opts.UndoLimit),
		history.WithCoalescing(opts.Coalesce),
		history.WithRestoreHandler(s.restored),
	)
	s.saver = newSaver(sctx, st, s.log)

	if s.sheet, err = st.LoadStylesheet(ctx, meta.ProjectID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.shutdown()
			return nil, err
		}
		s.log.Debug("Project has no stylesheet", zap.String("project", meta.ProjectID))
	}

	s.doc = version.New(meta.ID, meta.ProjectID, meta.Title, log)
	versions := make([]*version.Version, 0, len(meta.Versions))
	for _, m := range meta.Versions {
		versions = append(versions, version.Restore(m, nil))
	}
	s.doc.Load(versions, meta.CurrentVersion)
	s.doc.SetActivator(s.activate)

	if s.doc.Len() == 0 {
		if err := s.writeFirst(); err != nil {
			s.shutdown()
			return nil, err
		}
	} else {
		s.doc.Activate()
		if !s.doc.Current().Reconciled() {
			s.shutdown()
			return nil, fmt.Errorf("unable to open document %s: %w", docID, s.activateErr)
		}
	}

	if hub != nil {
		s.unsubscribe = hub.SubscribeStyles(meta.ProjectID, s)
	}
	if opts.Prefetch {
		s.prefetch = startPrefetch(sctx, st, s.otherVersions(), s.log)
	}
	s.log.Debug("Session opened", zap.Int("versions", s.doc.Len()), zap.Int("current", s.doc.Current().Number()))
	return s, nil
}

func (s *Session) writeFirst() error {
	v, err := s.doc.WriteFirst(buffer.Empty())
	if err != nil {
		return err
	}
	s.records[v.ID()] = make(map[string]attach.Record)
	if err := s.saveMeta(); err != nil {
		return err
	}
	return s.persist(v)
}

// Document returns the document being edited.
func (s *Session) Document() *version.Document {
	return s.doc
}

// Current returns current version.
func (s *Session) Current() *version.Version {
	return s.doc.Current()
}

// Content returns live content of the current version. Callers must not
// modify it, edits go through session methods.
func (s *Session) Content() *buffer.Buffer {
	return s.doc.Current().Content()
}

// Stylesheet returns project stylesheet known to the session, may be nil.
func (s *Session) Stylesheet() *style.Stylesheet {
	return s.sheet
}

// Records returns backing records of the current version ordered by
// position.
func (s *Session) Records() []attach.Record {
	recs := slices.Collect(maps.Values(s.records[s.doc.Current().ID()]))
	slices.SortFunc(recs, func(a, b attach.Record) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.AttachmentID, b.AttachmentID))
	})
	return recs
}

// State returns state of the undo engine.
func (s *Session) State() history.State {
	return s.engine.State()
}

// Save flushes pending typing and writes content of the current version,
// waiting for the write to finish.
func (s *Session) Save(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	s.engine.Flush()
	s.typing = false

	v := s.doc.Current()
	if err := s.syncRecords(v); err != nil {
		return err
	}
	data, err := codec.Marshal(v.Content())
	if err != nil {
		return err
	}
	s.saver.submit(v.ID(), data)
	return s.saver.wait(ctx)
}

// saveVersion writes content of v and waits for that write alone.
func (s *Session) saveVersion(ctx context.Context, v *version.Version) error {
	if err := s.syncRecords(v); err != nil {
		return err
	}
	data, err := codec.Marshal(v.Content())
	if err != nil {
		return err
	}
	return s.saver.waitFor(ctx, v.ID(), s.saver.submit(v.ID(), data))
}

// Close flushes and saves pending changes, waits for background work and
// releases subscriptions. Closing twice is harmless.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.typing {
		err = multierr.Append(err, s.Flush())
	}
	s.closed = true
	return multierr.Append(err, s.shutdown())
}

func (s *Session) shutdown() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	err := s.saver.close()
	s.cancel()
	if s.prefetch != nil {
		s.prefetch.wait()
	}
	s.log.Debug("Session closed")
	return err
}

// activate loads and reconciles content of a version the first time it
// becomes current.
func (s *Session) activate(v *version.Version) (err error) {
	defer func() { s.activateErr = err }()

	data, err := s.st.LoadContent(s.ctx, v.ID())
	if err != nil {
		return err
	}
	b, err := codec.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("version %d: %w", v.Number(), err)
	}
	recs, ok := s.prefetch.take(v.ID())
	if !ok {
		if recs, err = s.st.Records(s.ctx, v.ID()); err != nil {
			return err
		}
	}

	res := attach.Reconcile(b, recs, s.log)
	inserted, err := attach.Reinsert(b, res.Orphans)
	if err != nil {
		return err
	}
	renumbered, err := attach.Renumber(b)
	if err != nil {
		return err
	}

	v.SetContent(b)
	index := make(map[string]attach.Record, len(recs))
	for _, rec := range recs {
		index[rec.AttachmentID] = rec
	}
	s.records[v.ID()] = index

	if inserted > 0 || renumbered {
		s.log.Info("Version reconciled", zap.Int("number", v.Number()), zap.Int("reinserted", inserted), zap.Bool("renumbered", renumbered))
		if v.Locked() {
			return nil
		}
		if err := s.commit(v); err != nil {
			s.log.Warn("Unable to save reconciled content", zap.Int("number", v.Number()), zap.Error(err))
		}
	}
	return nil
}

func (s *Session) otherVersions() []string {
	var ids []string
	cur := s.doc.Current()
	for _, v := range s.doc.Versions() {
		if v != cur && !v.Reconciled() {
			ids = append(ids, v.ID())
		}
	}
	return ids
}

// commit brings backing records in line with markers of v and saves its
// content.
func (s *Session) commit(v *version.Version) error {
	return multierr.Append(s.syncRecords(v), s.persist(v))
}

func (s *Session) persist(v *version.Version) error {
	data, err := codec.Marshal(v.Content())
	if err != nil {
		return err
	}
	s.saver.submit(v.ID(), data)
	if s.opts.AsyncSave {
		return nil
	}
	return s.saver.wait(s.ctx)
}

// syncRecords deletes records whose markers are gone, restores records of
// markers brought back by undo and refreshes last known positions.
func (s *Session) syncRecords(v *version.Version) error {
	recs := s.recordsOf(v)
	present := make(map[string]int)
	for off, a := range v.Content().Attachments() {
		if a.Kind().HasBackingRecord() {
			present[a.ID()] = off
		}
	}

	var err error
	for _, id := range slices.Sorted(maps.Keys(recs)) {
		if _, ok := present[id]; ok {
			continue
		}
		if e := s.st.DeleteRecord(s.ctx, id); e != nil && !errors.Is(e, store.ErrNotFound) {
			err = multierr.Append(err, e)
			continue
		}
		s.trash[id] = recs[id]
		delete(recs, id)
		s.log.Debug("Record deleted with its marker", zap.String("id", id))
	}
	for _, id := range slices.Sorted(maps.Keys(present)) {
		rec, known := recs[id]
		switch {
		case known && rec.Position == present[id]:
			continue
		case !known:
			// markers without record stay inert unless their record was
			// deleted by this session
			if rec, known = s.trash[id]; !known || rec.VersionID != v.ID() {
				continue
			}
			delete(s.trash, id)
			s.log.Debug("Record restored with its marker", zap.String("id", id))
		}
		rec.Position = present[id]
		if e := s.st.SaveRecord(s.ctx, rec); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		recs[id] = rec
	}
	if err != nil {
		return fmt.Errorf("%w: records of version %d: %w", ErrPersist, v.Number(), err)
	}
	return nil
}

func (s *Session) recordsOf(v *version.Version) map[string]attach.Record {
	recs := s.records[v.ID()]
	if recs == nil {
		recs = make(map[string]attach.Record)
		s.records[v.ID()] = recs
	}
	return recs
}

func (s *Session) saveMeta() error {
	d := store.Document{ID: s.doc.ID, ProjectID: s.doc.ProjectID, Title: s.doc.Title}
	if cur := s.doc.Current(); cur != nil {
		d.CurrentVersion = cur.ID()
	}
	for _, v := range s.doc.Versions() {
		d.Versions = append(d.Versions, v.Meta())
	}
	if err := s.st.SaveDocument(s.ctx, d); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// restored is called by the engine after undo or redo, engine is still
// applying so nothing here may record commands.
func (s *Session) restored(cmd history.Command, undo bool) {
	v, ok := cmd.Target().(*version.Version)
	if !ok {
		return
	}
	s.restoreErr = s.commit(v)
	if s.hub != nil {
		s.hub.PublishRestored(events.ContentRestored{DocumentID: s.doc.ID, VersionID: v.ID(), Undo: undo})
	}
}

// StylesheetChanged reapplies new project stylesheet to the current version.
func (s *Session) StylesheetChanged(ev events.StylesheetChanged) error {
	return s.restyle(ev.Sheet)
}

// StyleModified reapplies updated stylesheet to the current version.
func (s *Session) StyleModified(ev events.StyleModified) error {
	s.log.Debug("Style modified", zap.String("style", ev.StyleName))
	return s.restyle(ev.Sheet)
}

// restyle rewrites attributes of tagged ranges in place. Reapplication is
// not recorded in history.
func (s *Session) restyle(sheet *style.Stylesheet) error {
	if s.closed {
		return nil
	}
	if sheet != nil {
		sheet = sheet.Clone()
	}
	s.sheet = sheet

	v := s.doc.Current()
	if v == nil || !v.Reconciled() || v.Locked() {
		return nil
	}
	if s.typing {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	out, changed := s.resolver.Reapply(v.Content(), sheet)
	if names := s.resolver.Unresolved(); len(names) > 0 {
		s.log.Warn("Styles missing from stylesheet", zap.Strings("styles", names))
	}
	if !changed {
		return nil
	}
	v.SetContent(out)
	s.log.Debug("Stylesheet reapplied", zap.Int("number", v.Number()))
	return s.persist(v)
}

type prefetcher struct {
	mu      sync.Mutex
	records map[string][]attach.Record
	done    chan struct{}
}

// startPrefetch reads records of given versions in background. It never
// touches content, results are only handed to activation.
func startPrefetch(ctx context.Context, st store.Store, ids []string, log *zap.Logger) *prefetcher {
	p := &prefetcher{records: make(map[string][]attach.Record), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			recs, err := st.Records(ctx, id)
			if err != nil {
				log.Debug("Prefetch failed", zap.String("version", id), zap.Error(err))
				continue
			}
			p.mu.Lock()
			p.records[id] = recs
			p.mu.Unlock()
		}
	}()
	return p
}

// take returns prefetched records of a version once.
func (p *prefetcher) take(id string) ([]attach.Record, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	recs, ok := p.records[id]
	delete(p.records, id)
	return recs, ok
}

func (p *prefetcher) wait() {
	<-p.done
}
