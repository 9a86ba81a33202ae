package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"shed/store"
)

type blockingStore struct {
	store.Store

	entered chan string
	release chan struct{}
	failOn  string

	mu     sync.Mutex
	writes []string
}

func (b *blockingStore) SaveContent(_ context.Context, _ string, data []byte) error {
	b.entered <- string(data)
	<-b.release
	if string(data) == b.failOn {
		return errors.New("write failed")
	}
	b.mu.Lock()
	b.writes = append(b.writes, string(data))
	b.mu.Unlock()
	return nil
}

func TestSaver_SupersededContentIsSkipped(t *testing.T) {
	ctx := context.Background()
	bs := &blockingStore{entered: make(chan string, 10), release: make(chan struct{})}
	sv := newSaver(ctx, bs, zaptest.NewLogger(t))

	sv.submit("v", []byte("A"))
	<-bs.entered
	sv.submit("v", []byte("B"))
	sv.submit("v", []byte("C"))
	sv.submit("w", []byte("X"))
	close(bs.release)

	if err := sv.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sv.close(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"A", "C", "X"}; !slices.Equal(bs.writes, want) {
		t.Errorf("writes = %v, want %v", bs.writes, want)
	}
}

func TestSaver_ReportsErrorsOnce(t *testing.T) {
	ctx := context.Background()
	bs := &blockingStore{entered: make(chan string, 10), release: make(chan struct{}), failOn: "bad"}
	close(bs.release)
	sv := newSaver(ctx, bs, zaptest.NewLogger(t))
	defer sv.close()

	sv.submit("v", []byte("bad"))
	if err := sv.wait(ctx); !errors.Is(err, ErrPersist) {
		t.Fatalf("wait = %v, want ErrPersist", err)
	}
	sv.submit("v", []byte("good"))
	if err := sv.wait(ctx); err != nil {
		t.Errorf("error reported twice: %v", err)
	}
	if !slices.Equal(bs.writes, []string{"good"}) {
		t.Errorf("writes = %v", bs.writes)
	}
}

func TestSaver_WaitHonorsContext(t *testing.T) {
	bs := &blockingStore{entered: make(chan string, 10), release: make(chan struct{})}
	sv := newSaver(context.Background(), bs, zaptest.NewLogger(t))

	sv.submit("v", []byte("A"))
	<-bs.entered
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sv.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("wait = %v", err)
	}
	close(bs.release)
	if err := sv.close(); err != nil {
		t.Fatal(err)
	}
}

func TestSaver_WaitForReportsOwnVersion(t *testing.T) {
	ctx := context.Background()
	bs := &blockingStore{entered: make(chan string, 10), release: make(chan struct{}), failOn: "bad"}
	close(bs.release)
	sv := newSaver(ctx, bs, zaptest.NewLogger(t))
	defer sv.close()

	sv.submit("w", []byte("bad"))
	if err := sv.waitFor(ctx, "v", sv.submit("v", []byte("good"))); err != nil {
		t.Fatalf("waitFor = %v, failure of another version reported", err)
	}
	if err := sv.waitFor(ctx, "v", sv.submit("v", []byte("bad"))); !errors.Is(err, ErrPersist) {
		t.Fatalf("waitFor = %v, want ErrPersist", err)
	}
	if err := sv.wait(ctx); !errors.Is(err, ErrPersist) {
		t.Fatalf("wait = %v, want failure of w", err)
	}
	if err := sv.wait(ctx); err != nil {
		t.Errorf("error reported twice: %v", err)
	}
}
