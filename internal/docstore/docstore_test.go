package docstore

import (
	"context"
	"testing"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndFind(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "students", "972 52-299-1474", testDoc{Name: "Dana", Count: 1}); err != nil {
		t.Fatal(err)
	}

	var got testDoc
	found, err := s.Find(ctx, "students", "972 52-299-1474", &got)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("document not found")
	}
	if got.Name != "Dana" || got.Count != 1 {
		t.Errorf("got %+v, want {Dana 1}", got)
	}
}

func TestFindAbsent(t *testing.T) {
	s := testStore(t)

	var got testDoc
	found, err := s.Find(context.Background(), "students", "missing", &got)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("absent document reported found")
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "c", "k", testDoc{Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "c", "k", testDoc{Count: 2}); err != nil {
		t.Fatal(err)
	}

	var got testDoc
	if _, err := s.Find(ctx, "c", "k", &got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 2 {
		t.Errorf("count = %d, want 2", got.Count)
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "students", "k", testDoc{Name: "Dana"}); err != nil {
		t.Fatal(err)
	}

	var got testDoc
	found, err := s.Find(ctx, "history", "k", &got)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("document leaked across collections")
	}
}

func TestKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := s.Upsert(ctx, "students", k, testDoc{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Upsert(ctx, "history", "c", testDoc{}); err != nil {
		t.Fatal(err)
	}

	keys, err := s.Keys(ctx, "students")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("got %d keys, want 2", len(keys))
	}
}
