// Package events delivers stylesheet and restore notifications to explicit
// subscribers. Delivery is synchronous on the publisher's goroutine in
// subscription order.
package events

import (
	"cmp"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/style"
)

// StylesheetChanged is published when project stylesheet was replaced.
type StylesheetChanged struct {
	ProjectID string
	Sheet     *style.Stylesheet
}

// StyleModified is published when single style of project stylesheet was
// edited. Sheet is the whole updated stylesheet.
type StyleModified struct {
	ProjectID string
	StyleName string
	Sheet     *style.Stylesheet
}

// ContentRestored is published after undo or redo replaced content of a
// version.
type ContentRestored struct {
	DocumentID string
	VersionID  string
	Undo       bool
}

// StyleObserver receives stylesheet events of projects it subscribed to.
type StyleObserver interface {
	StylesheetChanged(ev StylesheetChanged) error
	StyleModified(ev StyleModified) error
}

// RestoreObserver receives restore notifications of every document.
type RestoreObserver func(ev ContentRestored)

type styleSub struct {
	seq int
	obs StyleObserver
}

type restoreSub struct {
	seq int
	obs RestoreObserver
}

// Hub keeps subscriptions. Zero value is not usable, use NewHub.
type Hub struct {
	log *zap.Logger

	mu       sync.Mutex
	seq      int
	styles   map[string]map[int]StyleObserver
	restores map[int]RestoreObserver
}

// NewHub creates hub without subscribers.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log.Named("events"),
		styles:   make(map[string]map[int]StyleObserver),
		restores: make(map[int]RestoreObserver),
	}
}

// SubscribeStyles registers observer for stylesheet events of a project.
// Returned function cancels subscription, it may be called more than once.
func (h *Hub) SubscribeStyles(projectID string, obs StyleObserver) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	id := h.seq
	if h.styles[projectID] == nil {
		h.styles[projectID] = make(map[int]StyleObserver)
	}
	h.styles[projectID][id] = obs
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.styles[projectID], id)
		if len(h.styles[projectID]) == 0 {
			delete(h.styles, projectID)
		}
	}
}

// SubscribeRestores registers restore observer.
func (h *Hub) SubscribeRestores(obs RestoreObserver) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	id := h.seq
	h.restores[id] = obs
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.restores, id)
	}
}

// StyleSubscribers returns number of style observers of a project.
func (h *Hub) StyleSubscribers(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.styles[projectID])
}

func (h *Hub) styleObservers(projectID string) []styleSub {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := make([]styleSub, 0, len(h.styles[projectID]))
	for seq, obs := range h.styles[projectID] {
		subs = append(subs, styleSub{seq: seq, obs: obs})
	}
	slices.SortFunc(subs, func(a, b styleSub) int { return cmp.Compare(a.seq, b.seq) })
	return subs
}

// PublishStylesheetChanged delivers event to every observer of the project.
// All observers are called even if some fail, errors are combined.
func (h *Hub) PublishStylesheetChanged(ev StylesheetChanged) error {
	var err error
	for _, sub := range h.styleObservers(ev.ProjectID) {
		if e := sub.obs.StylesheetChanged(ev); e != nil {
			h.log.Warn("Stylesheet observer failed", zap.String("project", ev.ProjectID), zap.Error(e))
			err = multierr.Append(err, e)
		}
	}
	return err
}

// PublishStyleModified delivers event to every observer of the project.
func (h *Hub) PublishStyleModified(ev StyleModified) error {
	var err error
	for _, sub := range h.styleObservers(ev.ProjectID) {
		if e := sub.obs.StyleModified(ev); e != nil {
			h.log.Warn("Style observer failed", zap.String("project", ev.ProjectID), zap.String("style", ev.StyleName), zap.Error(e))
			err = multierr.Append(err, e)
		}
	}
	return err
}

// PublishRestored delivers restore notification.
func (h *Hub) PublishRestored(ev ContentRestored) {
	h.mu.Lock()
	subs := make([]restoreSub, 0, len(h.restores))
	for seq, obs := range h.restores {
		subs = append(subs, restoreSub{seq: seq, obs: obs})
	}
	h.mu.Unlock()

	slices.SortFunc(subs, func(a, b restoreSub) int { return cmp.Compare(a.seq, b.seq) })
	for _, sub := range subs {
		sub.obs(ev)
	}
}
