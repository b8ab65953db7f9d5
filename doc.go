// Package campusmail provides the threaded internal messaging engine of a
// campus administration system: staff, teachers, students and parents
// exchange messages that move from draft to sent, carry independent
// read/starred/archived flags, and group into reply threads.
//
// Storage is pluggable (store/memory, store/postgres, store/mongo). Folders
// are not stored; each one is a predicate over a message's participants and
// flags, so listings and counts always agree.
//
// # Basic Usage
//
//	svc, err := campusmail.NewService(
//	    campusmail.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	teacher := svc.Client(store.Identity{ID: "t-17", Name: "Dr. Rao", Role: "TEACHER"})
//	msg, err := teacher.Compose(ctx, campusmail.Draft{
//	    Subject:  "Fee Due",
//	    Content:  "Term fees are due Friday.",
//	    Receiver: store.Identity{ID: "p-4", Name: "A. Menon", Role: "PARENT"},
//	    Category: store.CategoryFees,
//	})
//
//	parent := svc.Client(store.Identity{ID: "p-4", Name: "A. Menon", Role: "PARENT"})
//	page, _ := parent.List(ctx, campusmail.ListRequest{Folder: store.FolderReceived})
//	parent.SetRead(ctx, msg.ID, true)
//
// # Policy
//
// Only the receiver may mark a message read or unread. Either participant
// may star or archive it; the archived flag is shared by both. Only the
// sender may edit, send or delete a draft. Sent messages are immutable
// except for flags, and either participant may delete one. Messages the
// viewer does not participate in are reported as ErrNotFound.
//
// # Events
//
// MessageSent, MessageRead, MessageFlagged and MessageDeleted are published
// through github.com/rbaliyan/event/v3 after successful operations. Pass
// WithRedisClient or WithEventTransport to deliver them; the default
// transport drops them.
//
//	svc.Events().MessageSent.Subscribe(ctx, handler)
package campusmail
