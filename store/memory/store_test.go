package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/campusmail/store"
)

var (
	alice = store.Identity{ID: "alice", Name: "Alice Admin", Role: "admin"}
	bob   = store.Identity{ID: "bob", Name: "Bob Teacher", Role: "teacher"}
)

func newConnected(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func sent(subject string) *store.Message {
	return &store.Message{
		Subject:  subject,
		Content:  "body of " + subject,
		Sender:   alice,
		Receiver: bob,
	}
}

func TestConnectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Get(ctx, "x"); !errors.Is(err, store.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	t.Run("assigns id and defaults", func(t *testing.T) {
		m, err := s.Create(ctx, sent("Hi"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if m.ID == "" {
			t.Error("expected id to be assigned")
		}
		if m.Priority != store.PriorityNormal {
			t.Errorf("priority = %s, want NORMAL", m.Priority)
		}
		if m.Category != store.CategoryGeneral {
			t.Errorf("category = %s, want GENERAL", m.Category)
		}
		if m.CreatedAt.IsZero() || !m.CreatedAt.Equal(m.UpdatedAt) {
			t.Errorf("timestamps not initialized: %v %v", m.CreatedAt, m.UpdatedAt)
		}
	})

	t.Run("read message gets read time", func(t *testing.T) {
		msg := sent("Already seen")
		msg.IsRead = true
		m, err := s.Create(ctx, msg)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if m.ReadAt == nil || !m.ReadAt.Equal(m.CreatedAt) {
			t.Errorf("read_at = %v, want %v", m.ReadAt, m.CreatedAt)
		}
	})

	t.Run("unread message drops read time", func(t *testing.T) {
		msg := sent("Not seen")
		ts := time.Now()
		msg.ReadAt = &ts
		m, err := s.Create(ctx, msg)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if m.ReadAt != nil {
			t.Errorf("read_at = %v, want nil", m.ReadAt)
		}
	})

	t.Run("names missing fields", func(t *testing.T) {
		msg := sent("")
		msg.Receiver = store.Identity{ID: "bob"}
		_, err := s.Create(ctx, msg)
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		var ve *store.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *ValidationError, got %T", err)
		}
		for _, f := range []string{"subject", "receiver.name", "receiver.role"} {
			if !ve.Has(f) {
				t.Errorf("expected %q in %v", f, ve.Fields)
			}
		}
		if ve.Has("content") {
			t.Errorf("content was set but reported missing: %v", ve.Fields)
		}
	})

	t.Run("draft needs only sender", func(t *testing.T) {
		m, err := s.Create(ctx, &store.Message{Sender: alice, IsDraft: true})
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
		if !m.IsDraft {
			t.Error("expected draft")
		}

		_, err = s.Create(ctx, &store.Message{IsDraft: true, Sender: store.Identity{ID: "alice"}})
		if got := store.MissingFields(err); len(got) != 2 {
			t.Errorf("expected sender.name and sender.role missing, got %v", got)
		}
	})

	t.Run("rejects unknown enums", func(t *testing.T) {
		msg := sent("x")
		msg.Priority = "CRITICAL"
		if _, err := s.Create(ctx, msg); !errors.Is(err, store.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("returned message is a copy", func(t *testing.T) {
		m, _ := s.Create(ctx, sent("copy"))
		m.Subject = "changed"
		got, _ := s.Get(ctx, m.ID)
		if got.Subject != "copy" {
			t.Errorf("stored message was mutated through returned pointer")
		}
	})
}

func TestSetFlag(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	m, _ := s.Create(ctx, sent("flags"))

	read, err := s.SetFlag(ctx, m.ID, store.FlagRead)
	if err != nil {
		t.Fatalf("set read: %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Fatalf("expected read with readAt, got %+v", read)
	}

	again, _ := s.SetFlag(ctx, m.ID, store.FlagRead)
	if !again.ReadAt.Equal(*read.ReadAt) || !again.UpdatedAt.Equal(read.UpdatedAt) {
		t.Error("second read toggle changed state")
	}

	starred, _ := s.SetFlag(ctx, m.ID, store.FlagStarred)
	if !starred.IsRead || !starred.IsStarred || starred.IsArchived {
		t.Errorf("star changed other flags: %+v", starred)
	}

	unread, _ := s.SetFlag(ctx, m.ID, store.FlagUnread)
	if unread.IsRead || unread.ReadAt != nil {
		t.Errorf("unread must clear readAt: %+v", unread)
	}
	if !unread.IsStarred {
		t.Error("unread cleared starred")
	}

	if _, err := s.SetFlag(ctx, "missing", store.FlagRead); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.SetFlag(ctx, m.ID, store.Flag("pinned")); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSendAndUpdateDraft(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	d, _ := s.Create(ctx, &store.Message{Sender: alice, IsDraft: true})

	if _, err := s.Send(ctx, d.ID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("incomplete draft sent: %v", err)
	}

	subject, content := "Exam Schedule", "See attached"
	receiver := bob
	updated, err := s.UpdateDraft(ctx, d.ID, store.DraftUpdate{Subject: &subject, Content: &content, Receiver: &receiver})
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if updated.Subject != subject || updated.Receiver != bob {
		t.Fatalf("update not applied: %+v", updated)
	}

	sentMsg, err := s.Send(ctx, d.ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sentMsg.IsDraft {
		t.Fatal("message still a draft after send")
	}

	if _, err := s.Send(ctx, d.ID); !errors.Is(err, store.ErrNotADraft) {
		t.Errorf("resend: expected ErrNotADraft, got %v", err)
	}
	if _, err := s.UpdateDraft(ctx, d.ID, store.DraftUpdate{Subject: &subject}); !errors.Is(err, store.ErrNotADraft) {
		t.Errorf("update after send: expected ErrNotADraft, got %v", err)
	}
	if _, err := s.UpdateDraft(ctx, "missing", store.DraftUpdate{Subject: &subject}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	m, _ := s.Create(ctx, sent("gone"))
	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	for _, subj := range []string{"Fee Due", "Exam Schedule", "Fee Receipt"} {
		if _, err := s.Create(ctx, sent(subj)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		page, err := s.List(ctx, store.Query{ViewerID: "bob", Folder: store.FolderReceived, Page: 1, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Total != 3 || len(page.Items) != 3 {
			t.Fatalf("expected 3 messages, got total=%d items=%d", page.Total, len(page.Items))
		}
		if page.Items[0].Subject != "Fee Receipt" || page.Items[2].Subject != "Fee Due" {
			t.Errorf("unexpected order: %s, %s, %s", page.Items[0].Subject, page.Items[1].Subject, page.Items[2].Subject)
		}
	})

	t.Run("search ignores case", func(t *testing.T) {
		page, err := s.List(ctx, store.Query{
			ViewerID: "bob",
			Folder:   store.FolderReceived,
			Filters:  store.QueryFilters{Search: "fee"},
			Page:     1,
			Limit:    10,
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Total != 2 {
			t.Fatalf("expected 2 matches, got %d", page.Total)
		}
		for _, m := range page.Items {
			if m.Subject != "Fee Due" && m.Subject != "Fee Receipt" {
				t.Errorf("unexpected match %q", m.Subject)
			}
		}
	})

	t.Run("out of range page keeps total", func(t *testing.T) {
		page, err := s.List(ctx, store.Query{ViewerID: "bob", Folder: store.FolderReceived, Page: 5, Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Total != 3 || len(page.Items) != 0 {
			t.Errorf("expected empty page with total 3, got total=%d items=%d", page.Total, len(page.Items))
		}
	})

	t.Run("huge page keeps total", func(t *testing.T) {
		page, err := s.List(ctx, store.Query{ViewerID: "bob", Folder: store.FolderReceived, Page: 1<<62 + 1, Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Total != 3 || len(page.Items) != 0 {
			t.Errorf("expected empty page with total 3, got total=%d items=%d", page.Total, len(page.Items))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		page, _ := s.List(ctx, store.Query{ViewerID: "bob", Folder: store.FolderReceived, Page: 2, Limit: 2})
		if len(page.Items) != 1 || page.Items[0].Subject != "Fee Due" {
			t.Errorf("unexpected second page: %+v", page.Items)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		tests := []store.Query{
			{ViewerID: "bob", Folder: "inbox", Page: 1, Limit: 1},
			{ViewerID: "bob", Folder: store.FolderSent, Page: 0, Limit: 1},
			{ViewerID: "bob", Folder: store.FolderSent, Page: 1, Limit: 0},
			{ViewerID: "", Folder: store.FolderSent, Page: 1, Limit: 1},
			{ViewerID: "bob", Folder: store.FolderSent, Page: 1, Limit: 1, Filters: store.QueryFilters{Category: "SPORTS"}},
		}
		for i, q := range tests {
			if _, err := s.List(ctx, q); !errors.Is(err, store.ErrInvalidArgument) {
				t.Errorf("case %d: expected ErrInvalidArgument, got %v", i, err)
			}
		}
	})
}

func TestCountsMatchList(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	m1, _ := s.Create(ctx, sent("one"))
	m2, _ := s.Create(ctx, sent("two"))
	_, _ = s.Create(ctx, &store.Message{Sender: alice, IsDraft: true})
	_, _ = s.SetFlag(ctx, m1.ID, store.FlagRead)
	_, _ = s.SetFlag(ctx, m2.ID, store.FlagStarred)
	_, _ = s.SetFlag(ctx, m2.ID, store.FlagArchived)

	for _, viewer := range []string{"alice", "bob", "carol"} {
		counts, err := s.Counts(ctx, viewer)
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		for _, f := range store.Folders() {
			page, err := s.List(ctx, store.Query{ViewerID: viewer, Folder: f, Page: 1, Limit: store.UnlimitedLimit})
			if err != nil {
				t.Fatalf("list %s: %v", f, err)
			}
			if counts.Folder(f) != page.Total {
				t.Errorf("%s/%s: count %d != list total %d", viewer, f, counts.Folder(f), page.Total)
			}
		}
	}

	bobCounts, _ := s.Counts(ctx, "bob")
	if bobCounts.Unread != 1 {
		t.Errorf("bob unread = %d, want 1", bobCounts.Unread)
	}
	aliceCounts, _ := s.Counts(ctx, "alice")
	if aliceCounts.Drafts != 1 || aliceCounts.Sent != 2 || aliceCounts.Starred != 1 || aliceCounts.Archived != 1 {
		t.Errorf("unexpected alice counts: %+v", aliceCounts)
	}
}

func TestConcurrentFlagsDoNotClobber(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	const n = 50
	ids := make([]string, n)
	for i := range ids {
		m, err := s.Create(ctx, sent(fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids[i] = m.ID
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3*n)
	for _, id := range ids {
		for _, f := range []store.Flag{store.FlagStarred, store.FlagArchived, store.FlagRead} {
			wg.Add(1)
			go func(id string, f store.Flag) {
				defer wg.Done()
				if _, err := s.SetFlag(ctx, id, f); err != nil {
					errCh <- err
				}
			}(id, f)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("set flag: %v", err)
	}

	for _, id := range ids {
		m, _ := s.Get(ctx, id)
		if !m.IsStarred || !m.IsArchived || !m.IsRead || m.ReadAt == nil {
			t.Errorf("lost update on %s: %+v", id, m)
		}
	}
}
