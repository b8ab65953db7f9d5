package campusmail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/campusmail/store"
	"github.com/rbaliyan/campusmail/store/memory"
	"github.com/redis/go-redis/v9"
)

var (
	teacher = store.Identity{ID: "t-1", Name: "Dr. Rao", Role: "TEACHER"}
	parent  = store.Identity{ID: "p-1", Name: "A. Menon", Role: "PARENT"}
	student = store.Identity{ID: "s-1", Name: "Kiran", Role: "STUDENT"}
)

// directory resolves the test identities by ID.
var directory = IdentityProviderFunc(func(_ context.Context, userID string) (store.Identity, error) {
	for _, who := range []store.Identity{teacher, parent, student} {
		if who.ID == userID {
			return who, nil
		}
	}
	return store.Identity{}, fmt.Errorf("%w: %s", ErrIdentityNotFound, userID)
})

func setupTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	svc, err := NewService(append([]Option{WithStore(memory.New())}, opts...)...)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

// mustSend sends a message from mb to receiver and fails the test on error.
func mustSend(t *testing.T, mb Mailbox, receiver store.Identity, subject, content string) *store.Message {
	t.Helper()
	msg, err := mb.Compose(context.Background(), Draft{
		Subject:  subject,
		Content:  content,
		Receiver: receiver,
	})
	if err != nil {
		t.Fatalf("send %q: %v", subject, err)
	}
	return msg
}

func mustCounts(t *testing.T, mb Mailbox) *store.Counts {
	t.Helper()
	c, err := mb.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	return c
}

func mustList(t *testing.T, mb Mailbox, folder store.Folder, filters store.QueryFilters) *store.Page {
	t.Helper()
	page, err := mb.List(context.Background(), ListRequest{Folder: folder, Filters: filters, Limit: store.UnlimitedLimit})
	if err != nil {
		t.Fatalf("list %s: %v", folder, err)
	}
	return page
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.IsConnected() {
			t.Error("new service should not be connected")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	t.Run("connect and close", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx := context.Background()

		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected connected")
		}
		if svc.Events() == nil {
			t.Error("expected events after connect")
		}

		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if svc.IsConnected() {
			t.Error("expected disconnected after close")
		}
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should be a no-op, got %v", err)
		}
	})

	t.Run("operations require connection", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		mb := svc.Client(teacher)

		if _, err := mb.Get(context.Background(), "x"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := mb.Compose(context.Background(), Draft{IsDraft: true}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("reconnect keeps memory data", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx := context.Background()
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		msg := mustSend(t, svc.Client(teacher), parent, "Hi", "Test")
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("reconnect: %v", err)
		}
		defer svc.Close(ctx)
		if _, err := svc.Client(parent).Get(ctx, msg.ID); err != nil {
			t.Errorf("get after reconnect: %v", err)
		}
	})
}

func TestClient(t *testing.T) {
	svc := setupTestService(t, WithIdentityProvider(directory))
	ctx := context.Background()

	t.Run("invalid user id", func(t *testing.T) {
		for _, id := range []string{"", "a b", "a:b", "a/b", "a*"} {
			mb := svc.Client(store.Identity{ID: id, Name: "X", Role: "STAFF"})
			if _, err := mb.Counts(ctx); !errors.Is(err, ErrInvalidUserID) {
				t.Errorf("id %q: expected ErrInvalidUserID, got %v", id, err)
			}
		}
	})

	t.Run("client for known user", func(t *testing.T) {
		mb, err := svc.ClientFor(ctx, parent.ID)
		if err != nil {
			t.Fatalf("client for: %v", err)
		}
		if mb.Identity() != parent {
			t.Errorf("expected %+v, got %+v", parent, mb.Identity())
		}
		if mb.UserID() != parent.ID {
			t.Errorf("expected user id %s, got %s", parent.ID, mb.UserID())
		}
	})

	t.Run("client for unknown user", func(t *testing.T) {
		if _, err := svc.ClientFor(ctx, "nobody"); !errors.Is(err, ErrIdentityNotFound) {
			t.Errorf("expected ErrIdentityNotFound, got %v", err)
		}
		if _, err := svc.ClientFor(ctx, "bad id"); !errors.Is(err, ErrInvalidUserID) {
			t.Errorf("expected ErrInvalidUserID, got %v", err)
		}
	})

	t.Run("client for without provider", func(t *testing.T) {
		bare := setupTestService(t)
		if _, err := bare.ClientFor(ctx, parent.ID); !errors.Is(err, ErrIdentityProviderRequired) {
			t.Errorf("expected ErrIdentityProviderRequired, got %v", err)
		}
	})
}

func TestSendAndRead(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	sender := svc.Client(teacher)
	receiver := svc.Client(parent)

	msg := mustSend(t, sender, parent, "Hi", "Test")
	if msg.IsDraft {
		t.Error("sent message should not be a draft")
	}
	if msg.Priority != store.PriorityNormal || msg.Category != store.CategoryGeneral {
		t.Errorf("expected default priority and category, got %s/%s", msg.Priority, msg.Category)
	}
	if msg.Sender != teacher {
		t.Errorf("sender should be the client identity, got %+v", msg.Sender)
	}

	received := mustList(t, receiver, store.FolderReceived, store.QueryFilters{})
	if received.Total != 1 || received.Items[0].ID != msg.ID {
		t.Fatalf("expected message in receiver's received folder, got %+v", received)
	}
	sent := mustList(t, sender, store.FolderSent, store.QueryFilters{})
	if sent.Total != 1 || sent.Items[0].ID != msg.ID {
		t.Fatalf("expected message in sender's sent folder, got %+v", sent)
	}

	before := mustCounts(t, receiver).Unread
	read, err := receiver.SetRead(ctx, msg.ID, true)
	if err != nil {
		t.Fatalf("set read: %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Errorf("expected read with timestamp, got read=%v readAt=%v", read.IsRead, read.ReadAt)
	}
	if after := mustCounts(t, receiver).Unread; after != before-1 {
		t.Errorf("expected unread to drop from %d to %d, got %d", before, before-1, after)
	}

	unread, err := receiver.SetRead(ctx, msg.ID, false)
	if err != nil {
		t.Fatalf("set unread: %v", err)
	}
	if unread.IsRead || unread.ReadAt != nil {
		t.Errorf("expected unread with no timestamp, got read=%v readAt=%v", unread.IsRead, unread.ReadAt)
	}
}

func TestReplyThreading(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	a := svc.Client(teacher)
	b := svc.Client(parent)

	m1 := mustSend(t, a, parent, "Hi", "Test")
	if m1.ThreadID != "" {
		t.Errorf("root message should have no thread id, got %q", m1.ThreadID)
	}

	// Unrelated traffic must not affect thread resolution.
	mustSend(t, a, student, "Other", "Unrelated")

	draft, err := b.ReplyTo(ctx, m1.ID)
	if err != nil {
		t.Fatalf("reply to: %v", err)
	}
	if draft.Subject != "RE: Hi" {
		t.Errorf("expected reply subject %q, got %q", "RE: Hi", draft.Subject)
	}
	if draft.Receiver != teacher {
		t.Errorf("reply should address the original sender, got %+v", draft.Receiver)
	}
	if !strings.Contains(draft.Content, "Dr. Rao wrote:") || !strings.Contains(draft.Content, "> Test") {
		t.Errorf("expected quoted content, got %q", draft.Content)
	}

	draft.IsDraft = false
	m2, err := b.Compose(ctx, *draft)
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}
	if m2.ReplyToID != m1.ID {
		t.Errorf("expected reply_to %s, got %s", m1.ID, m2.ReplyToID)
	}
	if m2.ThreadID != m1.ID {
		t.Errorf("expected thread %s, got %s", m1.ID, m2.ThreadID)
	}

	m3, err := a.Compose(ctx, Draft{Subject: "RE: Hi", Content: "Thanks", Receiver: parent, ReplyToID: m2.ID})
	if err != nil {
		t.Fatalf("reply to reply: %v", err)
	}
	if m3.ThreadID != m1.ID {
		t.Errorf("thread should stay rooted at %s, got %s", m1.ID, m3.ThreadID)
	}

	thread := mustList(t, a, store.FolderSent, store.QueryFilters{ThreadID: m1.ID})
	if thread.Total != 1 || thread.Items[0].ID != m3.ID {
		t.Errorf("expected only m3 in sender's sent thread listing, got %d", thread.Total)
	}

	t.Run("missing parent", func(t *testing.T) {
		_, err := a.Compose(ctx, Draft{Subject: "RE", Content: "x", Receiver: parent, ReplyToID: "does-not-exist"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("deleted parent", func(t *testing.T) {
		gone := mustSend(t, a, parent, "Gone", "soon")
		if err := a.Delete(ctx, gone.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		_, err := b.Compose(ctx, Draft{Subject: "RE: Gone", Content: "x", Receiver: teacher, ReplyToID: gone.ID})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("parent deleted after reply", func(t *testing.T) {
		root := mustSend(t, a, parent, "Trip", "Forms due Friday")
		reply, err := b.Compose(ctx, Draft{Subject: "RE: Trip", Content: "Signed", Receiver: teacher, ReplyToID: root.ID})
		if err != nil {
			t.Fatalf("reply: %v", err)
		}
		if err := a.Delete(ctx, root.ID); err != nil {
			t.Fatalf("delete root: %v", err)
		}

		got, err := b.Get(ctx, reply.ID)
		if err != nil {
			t.Fatalf("get reply: %v", err)
		}
		if got.ThreadID != root.ID || got.ReplyToID != root.ID {
			t.Errorf("reply lost its thread: thread=%s reply_to=%s", got.ThreadID, got.ReplyToID)
		}
		listed := mustList(t, b, store.FolderSent, store.QueryFilters{ThreadID: root.ID})
		if listed.Total != 1 || listed.Items[0].ID != reply.ID {
			t.Errorf("expected the reply in the thread listing, got %d", listed.Total)
		}
	})

	t.Run("parent not visible to replier", func(t *testing.T) {
		outsider := svc.Client(student)
		_, err := outsider.Compose(ctx, Draft{Subject: "RE", Content: "x", Receiver: teacher, ReplyToID: m1.ID})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("draft parent", func(t *testing.T) {
		d, err := a.Compose(ctx, Draft{Subject: "draft", IsDraft: true})
		if err != nil {
			t.Fatalf("compose draft: %v", err)
		}
		_, err = a.Compose(ctx, Draft{Subject: "RE", Content: "x", Receiver: parent, ReplyToID: d.ID})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := a.ReplyTo(ctx, d.ID); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument from ReplyTo, got %v", err)
		}
	})
}

func TestDraftLifecycle(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	sender := svc.Client(teacher)
	receiver := svc.Client(parent)

	draft, err := sender.Compose(ctx, Draft{Receiver: parent, IsDraft: true})
	if err != nil {
		t.Fatalf("compose draft: %v", err)
	}
	if !draft.IsDraft {
		t.Fatal("expected a draft")
	}

	if got := mustList(t, sender, store.FolderDrafts, store.QueryFilters{}); got.Total != 1 {
		t.Errorf("expected 1 draft, got %d", got.Total)
	}
	if got := mustList(t, receiver, store.FolderReceived, store.QueryFilters{}); got.Total != 0 {
		t.Errorf("draft must not reach the receiver, got %d", got.Total)
	}
	if _, err := receiver.Get(ctx, draft.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("receiver should not see the draft, got %v", err)
	}

	t.Run("incomplete draft cannot be sent", func(t *testing.T) {
		_, err := sender.SendDraft(ctx, draft.ID)
		ve, ok := IsValidationError(err)
		if !ok {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if !ve.Has(store.FieldNameSubject) || !ve.Has(store.FieldNameContent) {
			t.Errorf("expected subject and content named, got %v", ve.Fields)
		}
		if !errors.Is(err, store.ErrValidation) {
			t.Error("validation error should wrap store.ErrValidation")
		}
	})

	subject, content := "Fee Due", "Term fees are due Friday."
	updated, err := sender.UpdateDraft(ctx, draft.ID, store.DraftUpdate{Subject: &subject, Content: &content})
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if updated.Subject != subject || updated.Content != content {
		t.Errorf("update not applied: %+v", updated)
	}

	sent, err := sender.SendDraft(ctx, draft.ID)
	if err != nil {
		t.Fatalf("send draft: %v", err)
	}
	if sent.IsDraft || sent.ID != draft.ID {
		t.Errorf("expected draft %s sent in place, got %+v", draft.ID, sent)
	}

	c := mustCounts(t, sender)
	if c.Drafts != 0 || c.Sent != 1 {
		t.Errorf("expected drafts=0 sent=1, got drafts=%d sent=%d", c.Drafts, c.Sent)
	}
	if got := mustCounts(t, receiver).Received; got != 1 {
		t.Errorf("expected receiver to have 1 message, got %d", got)
	}

	if _, err := sender.SendDraft(ctx, draft.ID); !errors.Is(err, ErrNotADraft) {
		t.Errorf("expected ErrNotADraft on resend, got %v", err)
	}
	if _, err := sender.UpdateDraft(ctx, draft.ID, store.DraftUpdate{Subject: &subject}); !errors.Is(err, ErrNotADraft) {
		t.Errorf("expected ErrNotADraft on edit after send, got %v", err)
	}
}

func TestUpdateDraft(t *testing.T) {
	svc := setupTestService(t, WithIdentityProvider(directory))
	ctx := context.Background()
	mb := svc.Client(teacher)

	draft, err := mb.Compose(ctx, Draft{Subject: "Plan", IsDraft: true})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	t.Run("empty update returns current draft", func(t *testing.T) {
		got, err := mb.UpdateDraft(ctx, draft.ID, store.DraftUpdate{})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Subject != "Plan" {
			t.Errorf("expected unchanged draft, got %q", got.Subject)
		}
	})

	t.Run("receiver completed from provider", func(t *testing.T) {
		got, err := mb.UpdateDraft(ctx, draft.ID, store.DraftUpdate{Receiver: &store.Identity{ID: student.ID}})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Receiver != student {
			t.Errorf("expected %+v, got %+v", student, got.Receiver)
		}
	})

	t.Run("unknown receiver", func(t *testing.T) {
		_, err := mb.UpdateDraft(ctx, draft.ID, store.DraftUpdate{Receiver: &store.Identity{ID: "ghost"}})
		ve, ok := IsValidationError(err)
		if !ok || !ve.Has(store.FieldNameReceiverID) {
			t.Errorf("expected receiver.id validation error, got %v", err)
		}
	})

	t.Run("invalid priority", func(t *testing.T) {
		p := store.Priority("CRITICAL")
		if _, err := mb.UpdateDraft(ctx, draft.ID, store.DraftUpdate{Priority: &p}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("subject over limit", func(t *testing.T) {
		long := strings.Repeat("x", DefaultMaxSubjectLength+1)
		_, err := mb.UpdateDraft(ctx, draft.ID, store.DraftUpdate{Subject: &long})
		ve, ok := IsValidationError(err)
		if !ok || !ve.Has(store.FieldNameSubject) {
			t.Errorf("expected subject validation error, got %v", err)
		}
	})
}

func TestSearch(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	sender := svc.Client(teacher)
	receiver := svc.Client(parent)

	for _, subject := range []string{"Fee Due", "Exam", "Late Fee"} {
		mustSend(t, sender, parent, subject, "details")
	}

	page, err := receiver.List(ctx, ListRequest{Folder: store.FolderReceived, Filters: store.QueryFilters{Search: "fee"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 matches, got %d", page.Total)
	}
	got := map[string]bool{}
	for _, m := range page.Items {
		got[m.Subject] = true
	}
	if !got["Fee Due"] || !got["Late Fee"] {
		t.Errorf("expected Fee Due and Late Fee, got %v", got)
	}
}

func TestComposeValidation(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	mb := svc.Client(teacher)

	t.Run("missing subject", func(t *testing.T) {
		_, err := mb.Compose(ctx, Draft{Content: "x", Receiver: parent})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		ve, _ := IsValidationError(err)
		if !ve.Has(store.FieldNameSubject) {
			t.Errorf("expected subject named, got %v", ve.Fields)
		}
		if got := mustCounts(t, mb).Sent; got != 0 {
			t.Errorf("nothing should be stored, got sent=%d", got)
		}
	})

	t.Run("receiver without provider", func(t *testing.T) {
		_, err := mb.Compose(ctx, Draft{Subject: "Hi", Content: "x", Receiver: store.Identity{ID: parent.ID}})
		ve, ok := IsValidationError(err)
		if !ok {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if !ve.Has(store.FieldNameReceiverName) || !ve.Has(store.FieldNameReceiverRole) {
			t.Errorf("expected receiver name and role named, got %v", ve.Fields)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := mb.Compose(ctx, Draft{Subject: "Hi", Content: "x", Receiver: parent, Category: "SPORTS"})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("blocked attachment type", func(t *testing.T) {
		_, err := mb.Compose(ctx, Draft{
			Subject:     "Hi",
			Content:     "x",
			Receiver:    parent,
			Attachments: []store.Attachment{{ID: "a1", Name: "run.exe", ContentType: "application/x-msdownload"}},
		})
		ve, ok := IsValidationError(err)
		if !ok || !ve.Has("attachments[0].content_type") {
			t.Errorf("expected content type validation error, got %v", err)
		}
	})

	t.Run("drafts skip required fields", func(t *testing.T) {
		d, err := mb.Compose(ctx, Draft{IsDraft: true})
		if err != nil {
			t.Fatalf("empty draft should be accepted: %v", err)
		}
		if !d.IsDraft {
			t.Error("expected draft")
		}
	})
}

func TestComposeWithIdentityProvider(t *testing.T) {
	svc := setupTestService(t, WithIdentityProvider(directory))
	ctx := context.Background()
	mb := svc.Client(teacher)

	msg, err := mb.Compose(ctx, Draft{Subject: "Hi", Content: "x", Receiver: store.Identity{ID: parent.ID}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if msg.Receiver != parent {
		t.Errorf("expected receiver %+v, got %+v", parent, msg.Receiver)
	}

	_, err = mb.Compose(ctx, Draft{Subject: "Hi", Content: "x", Receiver: store.Identity{ID: "ghost"}})
	ve, ok := IsValidationError(err)
	if !ok || !ve.Has(store.FieldNameReceiverID) {
		t.Errorf("expected receiver.id validation error, got %v", err)
	}
}

func TestCountListConsistency(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	users := []store.Identity{teacher, parent, student}
	clients := make([]Mailbox, len(users))
	for i, u := range users {
		clients[i] = svc.Client(u)
	}

	var ids []string
	for i := range 9 {
		from, to := i%3, (i+1)%3
		msg := mustSend(t, clients[from], users[to], fmt.Sprintf("msg %d", i), "body")
		ids = append(ids, msg.ID)
		switch i % 4 {
		case 0:
			if _, err := clients[to].SetRead(ctx, msg.ID, true); err != nil {
				t.Fatalf("read: %v", err)
			}
		case 1:
			if _, err := clients[from].SetStarred(ctx, msg.ID, true); err != nil {
				t.Fatalf("star: %v", err)
			}
		case 2:
			if _, err := clients[to].SetArchived(ctx, msg.ID, true); err != nil {
				t.Fatalf("archive: %v", err)
			}
		}
	}
	if _, err := clients[0].Compose(ctx, Draft{Subject: "draft", IsDraft: true}); err != nil {
		t.Fatalf("draft: %v", err)
	}

	for i, mb := range clients {
		counts := mustCounts(t, mb)
		for _, folder := range store.Folders() {
			page := mustList(t, mb, folder, store.QueryFilters{})
			if page.Total != counts.Folder(folder) {
				t.Errorf("%s/%s: list total %d, count %d", users[i].ID, folder, page.Total, counts.Folder(folder))
			}
			if int64(len(page.Items)) != page.Total {
				t.Errorf("%s/%s: unlimited page returned %d of %d", users[i].ID, folder, len(page.Items), page.Total)
			}
		}
		unread := mustList(t, mb, store.FolderReceived, store.QueryFilters{UnreadOnly: true})
		if unread.Total != counts.Unread {
			t.Errorf("%s: unread list %d, count %d", users[i].ID, unread.Total, counts.Unread)
		}
	}
}

func TestFlagIdempotence(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	receiver := svc.Client(parent)
	msg := mustSend(t, svc.Client(teacher), parent, "Hi", "Test")

	first, err := receiver.SetStarred(ctx, msg.ID, true)
	if err != nil {
		t.Fatalf("star: %v", err)
	}
	second, err := receiver.SetStarred(ctx, msg.ID, true)
	if err != nil {
		t.Fatalf("star again: %v", err)
	}
	if !second.IsStarred || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("second star changed state: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}

	read1, err := receiver.SetRead(ctx, msg.ID, true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	read2, err := receiver.SetRead(ctx, msg.ID, true)
	if err != nil {
		t.Fatalf("read again: %v", err)
	}
	if !read1.ReadAt.Equal(*read2.ReadAt) {
		t.Errorf("read timestamp moved: %v -> %v", read1.ReadAt, read2.ReadAt)
	}
	if !read2.IsStarred || read2.IsArchived {
		t.Errorf("read must not touch other flags: %+v", read2)
	}
}

func TestPolicy(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	sender := svc.Client(teacher)
	receiver := svc.Client(parent)
	outsider := svc.Client(student)

	msg := mustSend(t, sender, parent, "Hi", "Test")

	t.Run("only receiver marks read", func(t *testing.T) {
		if _, err := sender.SetRead(ctx, msg.ID, true); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
		if _, err := receiver.SetRead(ctx, msg.ID, true); err != nil {
			t.Errorf("receiver read: %v", err)
		}
	})

	t.Run("permission checked before any flag is written", func(t *testing.T) {
		_, err := sender.UpdateFlags(ctx, msg.ID, Flags{}.WithRead(false).WithStarred(true))
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		got, err := sender.Get(ctx, msg.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.IsStarred {
			t.Error("star must not be applied when read is refused")
		}
	})

	t.Run("outsider sees nothing", func(t *testing.T) {
		if _, err := outsider.Get(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := outsider.SetStarred(ctx, msg.ID, true); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := outsider.Delete(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := outsider.ReplyTo(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("sent messages are immutable", func(t *testing.T) {
		subject := "changed"
		if _, err := receiver.UpdateDraft(ctx, msg.ID, store.DraftUpdate{Subject: &subject}); !errors.Is(err, ErrForbidden) {
			t.Errorf("receiver edit: expected ErrForbidden, got %v", err)
		}
		if _, err := sender.UpdateDraft(ctx, msg.ID, store.DraftUpdate{Subject: &subject}); !errors.Is(err, ErrNotADraft) {
			t.Errorf("sender edit: expected ErrNotADraft, got %v", err)
		}
		if _, err := receiver.SendDraft(ctx, msg.ID); !errors.Is(err, ErrForbidden) {
			t.Errorf("receiver send: expected ErrForbidden, got %v", err)
		}
	})

	t.Run("either participant stars", func(t *testing.T) {
		if _, err := sender.SetStarred(ctx, msg.ID, true); err != nil {
			t.Errorf("sender star: %v", err)
		}
		if _, err := receiver.SetStarred(ctx, msg.ID, false); err != nil {
			t.Errorf("receiver unstar: %v", err)
		}
	})

	t.Run("archive is shared", func(t *testing.T) {
		shared := mustSend(t, sender, parent, "Shared", "x")
		if _, err := sender.SetArchived(ctx, shared.ID, true); err != nil {
			t.Fatalf("archive: %v", err)
		}
		for _, m := range mustList(t, receiver, store.FolderReceived, store.QueryFilters{}).Items {
			if m.ID == shared.ID {
				t.Error("archived message should leave the receiver's received folder")
			}
		}
		archived := mustList(t, receiver, store.FolderArchived, store.QueryFilters{})
		if archived.Total != 1 || archived.Items[0].ID != shared.ID {
			t.Errorf("expected message in receiver's archive, got %d", archived.Total)
		}
	})

	t.Run("receiver deletes sent message for both", func(t *testing.T) {
		gone := mustSend(t, sender, parent, "Gone", "x")
		if err := receiver.Delete(ctx, gone.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := sender.Get(ctx, gone.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for sender, got %v", err)
		}
		if err := receiver.Delete(ctx, gone.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		if _, err := sender.Get(ctx, ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestList(t *testing.T) {
	svc := setupTestService(t, WithDefaultPageLimit(2))
	ctx := context.Background()
	sender := svc.Client(teacher)
	receiver := svc.Client(parent)

	for i := range 5 {
		mustSend(t, sender, parent, fmt.Sprintf("msg %d", i), "body")
	}

	t.Run("default limit and newest first", func(t *testing.T) {
		page, err := receiver.List(ctx, ListRequest{Folder: store.FolderReceived})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Total != 5 || len(page.Items) != 2 || page.Limit != 2 || page.Page != 1 {
			t.Fatalf("unexpected page: total=%d items=%d limit=%d page=%d", page.Total, len(page.Items), page.Limit, page.Page)
		}
		if page.Items[0].Subject != "msg 4" {
			t.Errorf("expected newest first, got %q", page.Items[0].Subject)
		}
	})

	t.Run("last page", func(t *testing.T) {
		page, err := receiver.List(ctx, ListRequest{Folder: store.FolderReceived, Page: 3})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Items) != 1 || page.Items[0].Subject != "msg 0" {
			t.Errorf("expected oldest message alone on page 3, got %d items", len(page.Items))
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		cases := []ListRequest{
			{Folder: "trash"},
			{Folder: store.FolderReceived, Page: -1},
			{Folder: store.FolderReceived, Limit: -5},
			{Folder: store.FolderReceived, Filters: store.QueryFilters{Category: "SPORTS"}},
			{Folder: store.FolderReceived, Filters: store.QueryFilters{Priority: "MEH"}},
		}
		for _, req := range cases {
			if _, err := receiver.List(ctx, req); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("%+v: expected ErrInvalidArgument, got %v", req, err)
			}
		}
	})
}

type mapSource map[string]string

func (s mapSource) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	body, ok := s[uri]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestOpenAttachment(t *testing.T) {
	ctx := context.Background()
	attachments := []store.Attachment{
		{ID: "a1", Name: "fees.pdf", ContentType: "application/pdf", Size: 12, URI: "mem://fees"},
		{ID: "a2", Name: "pending.pdf", ContentType: "application/pdf"},
	}

	t.Run("source not configured", func(t *testing.T) {
		svc := setupTestService(t)
		mb := svc.Client(teacher)
		if _, err := mb.OpenAttachment(ctx, "x", "a1"); !errors.Is(err, ErrAttachmentSourceNotConfigured) {
			t.Errorf("expected ErrAttachmentSourceNotConfigured, got %v", err)
		}
	})

	svc := setupTestService(t, WithAttachmentSource(mapSource{"mem://fees": "fee schedule"}))
	sender := svc.Client(teacher)
	msg, err := sender.Compose(ctx, Draft{Subject: "Fees", Content: "attached", Receiver: parent, Attachments: attachments})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	t.Run("receiver reads content", func(t *testing.T) {
		rc, err := svc.Client(parent).OpenAttachment(ctx, msg.ID, "a1")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer rc.Close()
		body, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(body) != "fee schedule" {
			t.Errorf("expected %q, got %q", "fee schedule", body)
		}
	})

	t.Run("unknown attachment", func(t *testing.T) {
		if _, err := sender.OpenAttachment(ctx, msg.ID, "zz"); !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("expected ErrAttachmentNotFound, got %v", err)
		}
		if _, err := sender.OpenAttachment(ctx, msg.ID, "a2"); !errors.Is(err, ErrAttachmentNotFound) {
			t.Errorf("attachment without uri: expected ErrAttachmentNotFound, got %v", err)
		}
	})

	t.Run("outsider", func(t *testing.T) {
		if _, err := svc.Client(student).OpenAttachment(ctx, msg.ID, "a1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

type hookPlugin struct {
	beforeErr   error
	afterErr    error
	beforeCalls atomic.Int32
	afterCalls  atomic.Int32
}

func (p *hookPlugin) Name() string                { return "hook" }
func (p *hookPlugin) Init(context.Context) error  { return nil }
func (p *hookPlugin) Close(context.Context) error { return nil }

func (p *hookPlugin) BeforeSend(_ context.Context, msg *store.Message) error {
	p.beforeCalls.Add(1)
	msg.Subject = "tampered"
	return p.beforeErr
}
func (p *hookPlugin) AfterSend(context.Context, *store.Message) error {
	p.afterCalls.Add(1)
	return p.afterErr
}

func TestSendHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("before send vetoes", func(t *testing.T) {
		hook := &hookPlugin{beforeErr: errors.New("blocked")}
		svc := setupTestService(t, WithPlugin(hook))
		mb := svc.Client(teacher)

		_, err := mb.Compose(ctx, Draft{Subject: "Hi", Content: "x", Receiver: parent})
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Op != "BeforeSend" {
			t.Fatalf("expected BeforeSend PluginError, got %v", err)
		}
		if IsRetryableError(err) {
			t.Error("vetoed send should not be retryable")
		}
		if got := mustCounts(t, mb).Sent; got != 0 {
			t.Errorf("vetoed message must not be stored, got sent=%d", got)
		}
		if hook.afterCalls.Load() != 0 {
			t.Error("AfterSend should not run after a veto")
		}
	})

	t.Run("hooks cannot mutate and after send error keeps message", func(t *testing.T) {
		hook := &hookPlugin{afterErr: errors.New("audit down")}
		svc := setupTestService(t, WithPlugin(hook))
		mb := svc.Client(teacher)

		msg, err := mb.Compose(ctx, Draft{Subject: "Hi", Content: "x", Receiver: parent})
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Op != "AfterSend" {
			t.Fatalf("expected AfterSend PluginError, got %v", err)
		}
		if msg == nil || msg.Subject != "Hi" {
			t.Fatalf("expected sent message returned untouched, got %+v", msg)
		}
		if hook.beforeCalls.Load() != 1 || hook.afterCalls.Load() != 1 {
			t.Errorf("expected one call each, got before=%d after=%d", hook.beforeCalls.Load(), hook.afterCalls.Load())
		}
	})

	t.Run("drafts skip hooks", func(t *testing.T) {
		hook := &hookPlugin{beforeErr: errors.New("blocked")}
		svc := setupTestService(t, WithPlugin(hook))
		if _, err := svc.Client(teacher).Compose(ctx, Draft{Subject: "Hi", IsDraft: true}); err != nil {
			t.Fatalf("save draft: %v", err)
		}
		if hook.beforeCalls.Load() != 0 {
			t.Error("saving a draft should not run send hooks")
		}
	})
}

func TestBulkOperations(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	sender := svc.Client(teacher)
	receiver := svc.Client(parent)

	a := mustSend(t, sender, parent, "A", "x")
	b := mustSend(t, sender, parent, "B", "x")

	result, err := receiver.BulkUpdateFlags(ctx, []string{a.ID, "missing", b.ID}, Flags{}.WithRead(true).WithStarred(true))
	var bulkErr *BulkOperationError
	if !errors.As(err, &bulkErr) {
		t.Fatalf("expected BulkOperationError, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("bulk error should unwrap to the item error")
	}
	if result.SuccessCount() != 2 || result.FailureCount() != 1 {
		t.Errorf("expected 2 ok 1 failed, got %d/%d", result.SuccessCount(), result.FailureCount())
	}
	if ids := result.FailedIDs(); len(ids) != 1 || ids[0] != "missing" {
		t.Errorf("expected failed id 'missing', got %v", ids)
	}
	if m := result.Results[0].Message; m == nil || !m.IsRead || !m.IsStarred {
		t.Errorf("expected first result read and starred, got %+v", m)
	}

	result, err = receiver.BulkDelete(ctx, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if result.SuccessCount() != 2 {
		t.Errorf("expected 2 deletes, got %d", result.SuccessCount())
	}
	if got := mustCounts(t, sender).Sent; got != 0 {
		t.Errorf("expected sender's sent folder empty, got %d", got)
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hi", "RE: Hi"},
		{"RE: Hi", "RE: Hi"},
		{"re: hi", "re: hi"},
		{"Re:Hi", "Re:Hi"},
		{"  Hi  ", "RE: Hi"},
		{"Regarding fees", "RE: Regarding fees"},
		{"", "RE: "},
	}
	for _, tt := range tests {
		if got := ReplySubject(tt.in); got != tt.want {
			t.Errorf("ReplySubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteContent(t *testing.T) {
	msg := &store.Message{
		Content:   "line one\nline two",
		Sender:    teacher,
		CreatedAt: time.Date(2024, 3, 8, 9, 30, 0, 0, time.UTC),
	}
	want := "\n\nOn Fri, 8 Mar 2024 at 09:30, Dr. Rao wrote:\n> line one\n> line two\n"
	if got := QuoteContent(msg); got != want {
		t.Errorf("QuoteContent = %q, want %q", got, want)
	}
}

func TestRedisEventTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := setupTestService(t, WithRedisClient(client))
	ctx := context.Background()

	msg := mustSend(t, svc.Client(teacher), parent, "Hi", "Test")
	if _, err := svc.Client(parent).SetRead(ctx, msg.ID, true); err != nil {
		t.Fatalf("set read: %v", err)
	}
}
