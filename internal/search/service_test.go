package search

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"microblog_bot/internal/model"
	"microblog_bot/internal/store"
)

type failingTermStore struct {
	*store.MemoryStore
	err error
}

func (f *failingTermStore) AddSearchTerm(ctx context.Context, term model.SearchTerm) error {
	return f.err
}

func newTestService() (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore(10)
	return NewService(NewIndex(DefaultMaxNeighbours), st), st
}

func TestService_Watch(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	r, err := svc.Watch(ctx, "  Go Lang ", "Alice")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if r.Status != Subscribed {
		t.Errorf("Watch() status = %v, want %v", r.Status, Subscribed)
	}

	terms, _ := st.ListSearchTerms(ctx, "alice")
	if len(terms) != 1 || terms[0].Term != "go lang" {
		t.Errorf("persisted terms = %+v, want one row for %q", terms, "go lang")
	}

	r, err = svc.Watch(ctx, "go lang", "alice")
	if err != nil {
		t.Fatalf("second Watch() error = %v", err)
	}
	if r.Status != AlreadySubscribed {
		t.Errorf("second Watch() status = %v, want %v", r.Status, AlreadySubscribed)
	}

	r, _ = svc.Watch(ctx, "go lang", "bob")
	if !reflect.DeepEqual(r.Neighbours, []string{"alice"}) {
		t.Errorf("Watch() neighbours = %v, want [alice]", r.Neighbours)
	}
}

func TestService_WatchEmpty(t *testing.T) {
	svc, st := newTestService()
	_, err := svc.Watch(context.Background(), "   ", "alice")
	if !errors.Is(err, ErrEmptyPhrase) {
		t.Errorf("Watch() error = %v, want %v", err, ErrEmptyPhrase)
	}
	if terms, _ := st.ListAllSearchTerms(context.Background()); len(terms) != 0 {
		t.Errorf("persisted terms = %v, want none", terms)
	}
}

func TestService_WatchPersistFailureLeavesIndexUntouched(t *testing.T) {
	idx := NewIndex(DefaultMaxNeighbours)
	svc := NewService(idx, &failingTermStore{MemoryStore: store.NewMemoryStore(10), err: errors.New("disk full")})

	if _, err := svc.Watch(context.Background(), "go", "alice"); err == nil {
		t.Fatal("Watch() error = nil, want error")
	}
	if got := idx.Match("go"); len(got) != 0 {
		t.Errorf("Match() = %v, want none", got)
	}
}

func TestService_WatchResyncsIndex(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	// row exists but the index was never told about it
	if err := st.AddSearchTerm(ctx, model.SearchTerm{Term: "go", Username: "alice"}); err != nil {
		t.Fatalf("AddSearchTerm() error = %v", err)
	}

	r, err := svc.Watch(ctx, "go", "alice")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if r.Status != AlreadySubscribed {
		t.Errorf("Watch() status = %v, want %v", r.Status, AlreadySubscribed)
	}
	if got := svc.Index().Watchers("go"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Watchers() = %v, want [alice]", got)
	}
}

func TestService_Unwatch(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	if _, err := svc.Watch(ctx, "go", "alice"); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := svc.Unwatch(ctx, "GO", "alice"); err != nil {
		t.Fatalf("Unwatch() error = %v", err)
	}
	if err := svc.Unwatch(ctx, "go", "alice"); err != nil {
		t.Errorf("Unwatch() of missing watch error = %v, want nil", err)
	}

	if got := svc.Index().Match("go"); len(got) != 0 {
		t.Errorf("Match() = %v, want none", got)
	}
	if terms, _ := st.ListSearchTerms(ctx, "alice"); len(terms) != 0 {
		t.Errorf("persisted terms = %v, want none", terms)
	}
}

func TestService_ListAndReload(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	for _, phrase := range []string{"go", "rust lang"} {
		if _, err := svc.Watch(ctx, phrase, "alice"); err != nil {
			t.Fatalf("Watch(%q) error = %v", phrase, err)
		}
	}

	got, err := svc.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"go", "rust lang"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	fresh := NewService(NewIndex(DefaultMaxNeighbours), st)
	if err := fresh.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if m := fresh.Index().Match("I like rust, the lang"); len(m) != 1 {
		t.Errorf("Match() after Reload = %v, want one bucket", m)
	}
}

func TestService_ConcurrentWatchUnwatchKeepsIndexInSync(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := svc.Watch(ctx, "golang", "alice"); err != nil {
					t.Errorf("Watch() error = %v", err)
				}
				return
			}
			if err := svc.Unwatch(ctx, "golang", "alice"); err != nil {
				t.Errorf("Unwatch() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	rows, err := st.ListSearchTerms(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSearchTerms() error = %v", err)
	}
	indexed := len(svc.Index().Watchers("golang")) == 1
	if indexed != (len(rows) == 1) {
		t.Errorf("index has alice = %v, persisted rows = %d", indexed, len(rows))
	}
}
