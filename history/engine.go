package history

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrReentrant is returned when an edit is attempted while the engine is
// applying undo or redo, typically from a content change notification
// triggered by the restore itself.
var ErrReentrant = errors.New("edit attempted while applying undo or redo")

// State of the engine.
type State int

const (
	StateIdle State = iota
	// StateRecording means typing command is accumulating keystrokes.
	StateRecording
	StateApplyingUndo
	StateApplyingRedo
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateApplyingUndo:
		return "applying undo"
	case StateApplyingRedo:
		return "applying redo"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Applying reports whether engine is restoring content.
func (s State) Applying() bool {
	return s == StateApplyingUndo || s == StateApplyingRedo
}

// RestoreFunc is called after undo or redo changed content, engine is still
// in the applying state so edits attempted from it are rejected.
type RestoreFunc func(cmd Command, undo bool)

// Engine keeps bounded undo and redo stacks for a single document. It is not
// safe for concurrent use, all calls must come from the document's editing
// context.
type Engine struct {
	log       *zap.Logger
	limit     int
	coalesce  bool
	onRestore RestoreFunc

	undo    []Command
	redo    []Command
	pending *DiffCommand
	state   State
}

// Option configures Engine.
type Option func(*Engine)

// WithLimit bounds number of undo steps, oldest are discarded first. Zero
// or negative limit means unbounded.
func WithLimit(n int) Option {
	return func(e *Engine) { e.limit = n }
}

// WithCoalescing controls whether consecutive adjacent keystrokes are
// merged into single undo step.
func WithCoalescing(on bool) Option {
	return func(e *Engine) { e.coalesce = on }
}

// WithRestoreHandler sets function called after every undo and redo.
func WithRestoreHandler(fn RestoreFunc) Option {
	return func(e *Engine) { e.onRestore = fn }
}

// NewEngine creates engine in idle state.
func NewEngine(log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		log:      log.Named("history"),
		limit:    100,
		coalesce: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns current engine state.
func (e *Engine) State() State {
	return e.state
}

// Execute flushes pending typing, applies command and records it. Redo
// stack is cleared. Commands failing to apply are not recorded.
func (e *Engine) Execute(cmd Command) error {
	if e.state.Applying() {
		return ErrReentrant
	}
	e.Flush()
	if err := cmd.Redo(); err != nil {
		return fmt.Errorf("unable to apply %s: %w", summary(cmd), err)
	}
	e.push(cmd)
	e.redo = nil
	e.log.Debug("Command executed", zap.String("command", summary(cmd)), zap.String("target", cmd.Target().ID()))
	return nil
}

// Type inserts text into target at offset. Insertions continuing the
// previous one are merged into single undo step until Flush.
func (e *Engine) Type(target Target, at int, text string) error {
	if e.state.Applying() {
		return ErrReentrant
	}
	if text == "" {
		return nil
	}
	if e.pending != nil && e.coalesce && e.pending.adjacent(target, at) {
		if err := target.Content().InsertText(at, text, e.pending.attrs); err != nil {
			return err
		}
		e.pending.extend(text)
		return nil
	}

	e.Flush()
	cmd := NewInsert(target, at, text)
	if err := cmd.Redo(); err != nil {
		return fmt.Errorf("unable to insert text: %w", err)
	}
	e.redo = nil
	if !e.coalesce {
		e.push(cmd)
		return nil
	}
	e.pending = cmd
	e.state = StateRecording
	return nil
}

// Flush closes pending typing command turning it into an undo step.
func (e *Engine) Flush() {
	if e.pending == nil {
		return
	}
	e.push(e.pending)
	e.log.Debug("Typing flushed", zap.Int("position", e.pending.position), zap.Int("length", e.pending.insertedLen()))
	e.pending = nil
	if e.state == StateRecording {
		e.state = StateIdle
	}
}

func (e *Engine) push(cmd Command) {
	e.undo = append(e.undo, cmd)
	if e.limit > 0 && len(e.undo) > e.limit {
		excess := len(e.undo) - e.limit
		clear(e.undo[:excess])
		e.undo = e.undo[excess:]
	}
}

// CanUndo returns true if there is something to undo.
func (e *Engine) CanUndo() bool {
	return e.pending != nil || len(e.undo) > 0
}

// CanRedo returns true if there is something to redo.
func (e *Engine) CanRedo() bool {
	return len(e.redo) > 0
}

// UndoCount returns number of available undo steps.
func (e *Engine) UndoCount() int {
	n := len(e.undo)
	if e.pending != nil {
		n++
	}
	return n
}

// RedoCount returns number of available redo steps.
func (e *Engine) RedoCount() int {
	return len(e.redo)
}

// Undo reverts the most recent command. Nothing happens when there is
// nothing to undo. A command which cannot be reverted is dropped from
// history and error is returned, content is left unchanged.
func (e *Engine) Undo() error {
	if e.state.Applying() {
		return ErrReentrant
	}
	e.Flush()
	if len(e.undo) == 0 {
		return nil
	}
	cmd := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	return e.apply(cmd, true)
}

// Redo re-applies the most recently undone command.
func (e *Engine) Redo() error {
	if e.state.Applying() {
		return ErrReentrant
	}
	e.Flush()
	if len(e.redo) == 0 {
		return nil
	}
	cmd := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]
	return e.apply(cmd, false)
}

func (e *Engine) apply(cmd Command, undo bool) error {
	e.state = StateApplyingRedo
	if undo {
		e.state = StateApplyingUndo
	}
	defer func() { e.state = StateIdle }()

	if sc, ok := cmd.(*SnapshotCommand); ok && !sc.matches(undo) {
		e.log.Warn("Content diverged from recorded snapshot, forcing", zap.String("command", summary(cmd)), zap.String("target", cmd.Target().ID()))
	}

	var err error
	if undo {
		err = cmd.Undo()
	} else {
		err = cmd.Redo()
	}
	if err != nil {
		e.log.Warn("Dropping command which cannot be applied", zap.String("command", summary(cmd)), zap.Bool("undo", undo), zap.Error(err))
		op := "redo"
		if undo {
			op = "undo"
		}
		return fmt.Errorf("unable to %s %s: %w", op, summary(cmd), err)
	}

	if undo {
		e.redo = append(e.redo, cmd)
	} else {
		e.push(cmd)
	}
	if e.onRestore != nil {
		e.onRestore(cmd, undo)
	}
	return nil
}

// Rollback reverts cmd if it is the most recent recorded command and drops
// it from history. Redo stack is left as is and no restore notification is
// sent. It is used when a recorded edit could not be persisted.
func (e *Engine) Rollback(cmd Command) error {
	if e.state.Applying() {
		return ErrReentrant
	}
	e.Flush()
	if len(e.undo) == 0 || e.undo[len(e.undo)-1] != cmd {
		return fmt.Errorf("unable to roll back %s: not the most recent command", summary(cmd))
	}
	e.undo = e.undo[:len(e.undo)-1]
	if err := cmd.Undo(); err != nil {
		return fmt.Errorf("unable to roll back %s: %w", summary(cmd), err)
	}
	e.log.Debug("Command rolled back", zap.String("command", summary(cmd)), zap.String("target", cmd.Target().ID()))
	return nil
}

// Forget drops every command targeting given id, used when the target (a
// version) is deleted.
func (e *Engine) Forget(targetID string) {
	if e.pending != nil && e.pending.target.ID() == targetID {
		e.pending = nil
		if e.state == StateRecording {
			e.state = StateIdle
		}
	}
	keep := func(s []Command) []Command {
		out := s[:0]
		for _, c := range s {
			if c.Target().ID() != targetID {
				out = append(out, c)
			}
		}
		clear(s[len(out):])
		return out
	}
	e.undo = keep(e.undo)
	e.redo = keep(e.redo)
}

// Clear drops all history.
func (e *Engine) Clear() {
	e.pending = nil
	e.undo, e.redo = nil, nil
	if e.state == StateRecording {
		e.state = StateIdle
	}
}

// NextTarget returns target of the command Undo (or Redo when undo is
// false) would apply next.
func (e *Engine) NextTarget(undo bool) (Target, bool) {
	switch {
	case undo && e.pending != nil:
		return e.pending.Target(), true
	case undo && len(e.undo) > 0:
		return e.undo[len(e.undo)-1].Target(), true
	case !undo && len(e.redo) > 0:
		return e.redo[len(e.redo)-1].Target(), true
	}
	return nil, false
}

// Peek returns description of commands undo and redo would apply next.
func (e *Engine) Peek() (undo, redo string) {
	switch {
	case e.pending != nil:
		undo = e.pending.Description()
	case len(e.undo) > 0:
		undo = e.undo[len(e.undo)-1].Description()
	}
	if len(e.redo) > 0 {
		redo = e.redo[len(e.redo)-1].Description()
	}
	return undo, redo
}
