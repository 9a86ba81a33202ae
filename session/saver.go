package session

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/store"
)

type saveJob struct {
	gen       uint64
	versionID string
	content   []byte
}

type saveFailure struct {
	gen uint64
	err error
}

// saver writes serialized version content on a background goroutine. Only
// the newest pending content of each version is kept, and content carrying an
// older generation than what was already written is never stored. Failures
// are kept per version until reported, a later successful write of the
// version clears its failure.
type saver struct {
	log *zap.Logger
	st  store.Store
	ctx context.Context

	mu      sync.Mutex
	gen     uint64
	pending map[string]saveJob
	written map[string]uint64
	failed  map[string]saveFailure

	wake  chan struct{}
	flush chan chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newSaver(ctx context.Context, st store.Store, log *zap.Logger) *saver {
	s := &saver{
		log:     log.Named("saver"),
		st:      st,
		ctx:     ctx,
		pending: make(map[string]saveJob),
		written: make(map[string]uint64),
		failed:  make(map[string]saveFailure),
		wake:    make(chan struct{}, 1),
		flush:   make(chan chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// submit queues content replacing anything still pending for the version.
// Returns generation assigned to the content.
func (s *saver) submit(versionID string, content []byte) uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if old, ok := s.pending[versionID]; ok {
		s.log.Debug("Superseded pending save", zap.String("version", versionID), zap.Uint64("generation", old.gen))
	}
	s.pending[versionID] = saveJob{gen: gen, versionID: versionID, content: content}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return gen
}

// wait blocks until everything submitted so far is written and returns
// failures of all versions not reported yet.
func (s *saver) wait(ctx context.Context) error {
	if err := s.sync(ctx); err != nil {
		return err
	}
	return s.takeErr()
}

// waitFor blocks until everything submitted so far is written and reports
// only whether content of versionID submitted as gen (or newer) failed.
// Failures of other versions stay queued for the next wait.
func (s *saver) waitFor(ctx context.Context, versionID string, gen uint64) error {
	if err := s.sync(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failed[versionID]
	if !ok || f.gen < gen {
		return nil
	}
	delete(s.failed, versionID)
	return f.err
}

func (s *saver) sync(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.flush <- reply:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close writes what is pending and stops the goroutine.
func (s *saver) close() error {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
	return s.takeErr()
}

func (s *saver) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.drain()
		case reply := <-s.flush:
			s.drain()
			close(reply)
		case <-s.quit:
			s.drain()
			return
		}
	}
}

func (s *saver) drain() {
	for {
		job, ok := s.next()
		if !ok {
			return
		}
		if err := s.write(job); err != nil {
			s.log.Error("Unable to save content", zap.String("version", job.versionID), zap.Uint64("generation", job.gen), zap.Error(err))
			s.mu.Lock()
			s.failed[job.versionID] = saveFailure{gen: job.gen, err: err}
			s.mu.Unlock()
		}
	}
}

// next removes and returns the oldest pending job.
func (s *saver) next() (saveJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return saveJob{}, false
	}
	jobs := slices.SortedFunc(maps.Values(s.pending), func(a, b saveJob) int { return cmp.Compare(a.gen, b.gen) })
	delete(s.pending, jobs[0].versionID)
	return jobs[0], true
}

func (s *saver) write(job saveJob) error {
	s.mu.Lock()
	stale := job.gen <= s.written[job.versionID]
	s.mu.Unlock()
	if stale {
		s.log.Debug("Dropping stale save", zap.String("version", job.versionID), zap.Uint64("generation", job.gen))
		return nil
	}

	if err := s.st.SaveContent(s.ctx, job.versionID, job.content); err != nil {
		return fmt.Errorf("%w: version %s: %w", ErrPersist, job.versionID, err)
	}

	s.mu.Lock()
	s.written[job.versionID] = max(s.written[job.versionID], job.gen)
	if f, ok := s.failed[job.versionID]; ok && f.gen < job.gen {
		delete(s.failed, job.versionID)
	}
	s.mu.Unlock()
	s.log.Debug("Content saved", zap.String("version", job.versionID), zap.Uint64("generation", job.gen), zap.Int("bytes", len(job.content)))
	return nil
}

func (s *saver) takeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, id := range slices.Sorted(maps.Keys(s.failed)) {
		err = multierr.Append(err, s.failed[id].err)
	}
	clear(s.failed)
	return err
}
