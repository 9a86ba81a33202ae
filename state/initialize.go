package state

import (
	"time"

	"shed/config"
	"shed/session"
)

// newLocalEnv creates a new LocalEnv instance with default values
func newLocalEnv() *LocalEnv {
	return &LocalEnv{start: time.Now()}
}

// SessionOptions converts editor configuration to session options.
func SessionOptions(conf *config.EditorConfig) session.Options {
	return session.Options{
		UndoLimit: conf.UndoLimit,
		Coalesce:  conf.CoalesceTyping,
		AsyncSave: conf.AsyncSave,
		Prefetch:  conf.Prefetch,
	}
}
