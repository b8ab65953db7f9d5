package thread

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/campusmail/store"
	"github.com/rbaliyan/campusmail/store/memory"
)

type countingLookup struct {
	Lookup
	calls int
}

func (c *countingLookup) Get(ctx context.Context, id string) (*store.Message, error) {
	c.calls++
	return c.Lookup.Get(ctx, id)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sender := store.Identity{ID: "s", Name: "S", Role: "teacher"}
	receiver := store.Identity{ID: "r", Name: "R", Role: "parent"}
	create := func(replyTo, threadID string) *store.Message {
		t.Helper()
		m, err := s.Create(ctx, &store.Message{
			Subject: "x", Content: "y", Sender: sender, Receiver: receiver,
			ReplyToID: replyTo, ThreadID: threadID,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return m
	}

	lookup := &countingLookup{Lookup: s}
	r := NewResolver(lookup)

	t.Run("root has no thread", func(t *testing.T) {
		id, err := r.Resolve(ctx, "")
		if err != nil || id != "" {
			t.Fatalf("expected empty thread, got %q, %v", id, err)
		}
	})

	t.Run("chain resolves to root", func(t *testing.T) {
		root := create("", "")
		tA, err := r.Resolve(ctx, root.ID)
		if err != nil {
			t.Fatalf("resolve A: %v", err)
		}
		a := create(root.ID, tA)
		_ = create("", "") // unrelated message in between

		lookup.calls = 0
		tB, err := r.Resolve(ctx, a.ID)
		if err != nil {
			t.Fatalf("resolve B: %v", err)
		}
		if tA != root.ID || tB != root.ID {
			t.Errorf("thread ids = %q, %q; want %q", tA, tB, root.ID)
		}
		if lookup.calls != 1 {
			t.Errorf("expected a single parent lookup, got %d", lookup.calls)
		}
	})

	t.Run("deleted parent", func(t *testing.T) {
		parent := create("", "")
		if err := s.Delete(ctx, parent.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := r.Resolve(ctx, parent.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
