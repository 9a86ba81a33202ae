// Package state defines shared program state.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/config"
	"shed/events"
	"shed/search"
	"shed/session"
	"shed/store"
)

type envKey struct{}

// LocalEnv keeps everything program needs in a single place.
type LocalEnv struct {
	Cfg *config.Config
	Rpt *config.Report
	Log *zap.Logger

	// set by OpenManager
	Store   store.Store
	Hub     *events.Hub
	Manager *session.Manager

	start         time.Time
	restoreStdLog func()
}

func EnvFromContext(ctx context.Context) *LocalEnv {
	if env, ok := ctx.Value(envKey{}).(*LocalEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func ContextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, newLocalEnv())
}

func (e *LocalEnv) Uptime() time.Duration {
	return time.Since(e.start)
}

func (e *LocalEnv) RedirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log)
}

func (e *LocalEnv) RestoreStdLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}

// OpenManager opens document store configured by Cfg and session manager on
// top of it. Calling it again returns the same manager.
func (e *LocalEnv) OpenManager() (*session.Manager, error) {
	if e.Manager != nil {
		return e.Manager, nil
	}
	if e.Cfg == nil {
		return nil, errors.New("configuration is not loaded")
	}
	st, err := store.OpenSQLite(e.Cfg.Store.Path, e.Log)
	if err != nil {
		return nil, fmt.Errorf("unable to open document store: %w", err)
	}
	e.Store = st
	e.Hub = events.NewHub(e.Log)
	e.Manager = session.NewManager(st, e.Hub, SessionOptions(&e.Cfg.Editor), e.Log)
	return e.Manager, nil
}

// Searcher returns searcher set up according to Cfg.
func (e *LocalEnv) Searcher() *search.Searcher {
	return search.NewSearcher(search.NewSplitter(e.Cfg.Search.Tag(), e.Log), e.Cfg.Search.SnippetRadius, e.Log)
}

// Close closes open sessions and the store.
func (e *LocalEnv) Close() (err error) {
	if e.Manager != nil {
		if er := e.Manager.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close documents: %w", er))
		}
		e.Manager = nil
	}
	if e.Store != nil {
		if er := e.Store.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close document store: %w", er))
		}
		e.Store = nil
	}
	return err
}
