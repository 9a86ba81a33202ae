package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/events"
	"shed/store"
	"shed/style"
)

// Manager opens documents once and keeps their sessions, so every caller
// editing a document shares the same content and undo history.
type Manager struct {
	log  *zap.Logger
	st   store.Store
	hub  *events.Hub
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates manager. When hub is nil a private one is created.
func NewManager(st store.Store, hub *events.Hub, opts Options, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if hub == nil {
		hub = events.NewHub(log)
	}
	return &Manager{
		log:      log,
		st:       st,
		hub:      hub,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Store returns underlying store.
func (m *Manager) Store() store.Store {
	return m.st
}

// Hub returns event hub sessions subscribe to.
func (m *Manager) Hub() *events.Hub {
	return m.hub
}

// Open returns session of a document opening it when necessary.
func (m *Manager) Open(ctx context.Context, docID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[docID]; ok {
		return s, nil
	}
	s, err := Open(ctx, m.st, m.hub, docID, m.opts, m.log)
	if err != nil {
		return nil, err
	}
	m.sessions[docID] = s
	return s, nil
}

// Opened returns identities of open documents.
func (m *Manager) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.sessions))
}

// CloseDocument closes session of a document if it is open.
func (m *Manager) CloseDocument(docID string) error {
	m.mu.Lock()
	s, ok := m.sessions[docID]
	delete(m.sessions, docID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// Close closes every open session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var err error
	for _, id := range slices.Sorted(maps.Keys(sessions)) {
		if e := sessions[id].Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("document %s: %w", id, e))
		}
	}
	return err
}

// SetStylesheet stores new project stylesheet and notifies open documents
// of the project.
func (m *Manager) SetStylesheet(ctx context.Context, projectID string, sheet *style.Stylesheet) error {
	if err := sheet.Validate(); err != nil {
		return err
	}
	if err := m.st.SaveStylesheet(ctx, projectID, sheet); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	m.log.Debug("Stylesheet replaced", zap.String("project", projectID), zap.String("name", sheet.Name))
	return m.hub.PublishStylesheetChanged(events.StylesheetChanged{ProjectID: projectID, Sheet: sheet})
}

// UpdateStyle adds or replaces single style of project stylesheet and
// notifies open documents of the project.
func (m *Manager) UpdateStyle(ctx context.Context, projectID string, st *style.Style) error {
	sheet, err := m.st.LoadStylesheet(ctx, projectID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sheet = style.NewStylesheet(projectID)
	case err != nil:
		return err
	}
	sheet.Add(st)
	if err := sheet.Validate(); err != nil {
		return err
	}
	if err := m.st.SaveStylesheet(ctx, projectID, sheet); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	m.log.Debug("Style updated", zap.String("project", projectID), zap.String("style", st.Name))
	return m.hub.PublishStyleModified(events.StyleModified{ProjectID: projectID, StyleName: st.Name, Sheet: sheet})
}
