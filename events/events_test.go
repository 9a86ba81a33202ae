package events

import (
	"errors"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"shed/style"
)

type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r *recorder) StylesheetChanged(ev StylesheetChanged) error {
	*r.log = append(*r.log, r.name+":sheet:"+ev.ProjectID)
	return r.err
}

func (r *recorder) StyleModified(ev StyleModified) error {
	*r.log = append(*r.log, r.name+":style:"+ev.StyleName)
	return r.err
}

func TestStyleSubscriptionsArePerProject(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	var got []string
	h.SubscribeStyles("p1", &recorder{name: "a", log: &got})
	cancelB := h.SubscribeStyles("p1", &recorder{name: "b", log: &got})
	h.SubscribeStyles("p2", &recorder{name: "c", log: &got})

	sheet := style.NewStylesheet("s")
	if err := h.PublishStylesheetChanged(StylesheetChanged{ProjectID: "p1", Sheet: sheet}); err != nil {
		t.Fatal(err)
	}
	if err := h.PublishStyleModified(StyleModified{ProjectID: "p2", StyleName: "Body", Sheet: sheet}); err != nil {
		t.Fatal(err)
	}
	cancelB()
	cancelB()
	_ = h.PublishStylesheetChanged(StylesheetChanged{ProjectID: "p1", Sheet: sheet})

	want := []string{"a:sheet:p1", "b:sheet:p1", "c:style:Body", "a:sheet:p1"}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d = %q, want %q", i, got[i], want[i])
		}
	}
	if n := h.StyleSubscribers("p1"); n != 1 {
		t.Errorf("StyleSubscribers(p1) = %d, want 1", n)
	}
}

func TestObserverErrorsAreCombined(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	var got []string
	errA, errB := errors.New("a failed"), errors.New("b failed")
	h.SubscribeStyles("p", &recorder{name: "a", log: &got, err: errA})
	h.SubscribeStyles("p", &recorder{name: "b", log: &got, err: errB})
	h.SubscribeStyles("p", &recorder{name: "c", log: &got})

	err := h.PublishStyleModified(StyleModified{ProjectID: "p", StyleName: "Body"})
	if len(got) != 3 {
		t.Errorf("not every observer called: %v", got)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) || len(multierr.Errors(err)) != 2 {
		t.Errorf("err = %v", err)
	}
}

func TestRestoreObservers(t *testing.T) {
	h := NewHub(nil)
	var got []ContentRestored
	cancel := h.SubscribeRestores(func(ev ContentRestored) { got = append(got, ev) })
	h.PublishRestored(ContentRestored{DocumentID: "d", VersionID: "v", Undo: true})
	cancel()
	h.PublishRestored(ContentRestored{DocumentID: "d", VersionID: "v"})
	if len(got) != 1 || !got[0].Undo {
		t.Errorf("got %+v", got)
	}
}
