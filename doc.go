// Package dmbox is the messaging core of a direct-messaging backend.
//
// A user sends a message to one or more registered users. The message and
// one delivery per recipient are stored atomically. Each recipient tracks
// its own received and deleted state; the sender can delete the message for
// everyone.
//
// # Basic Usage
//
//	st := memory.New()
//
//	svc, err := dmbox.NewService(dmbox.WithStore(st))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// userID must come from a verified source, such as a JWT subject.
//	mb := svc.Client(userID)
//
//	text := "hello"
//	id, err := mb.Send(ctx, dmbox.SendRequest{RecipientIDs: []string{bobID}, Text: &text})
//
//	views, err := mb.List(ctx)   // sent + received, newest first; marks received
//	err = mb.Delete(ctx, []string{id})
//
// # Storage Backends
//
//   - PostgreSQL (store/postgres), schema managed by golang-migrate
//   - MongoDB (store/mongo), requires a replica set for transactions
//   - In-memory (store/memory), for tests and local runs
//
// # Events
//
// Each service owns an event bus from github.com/rbaliyan/event/v3.
// Events are dropped unless WithEventTransport or WithRedisClient is set:
//
//	svc, err := dmbox.NewService(
//	    dmbox.WithStore(st),
//	    dmbox.WithRedisClient(redisClient),
//	)
//
// Available events, via Service.Events():
//   - MessageSent: a message was stored
//   - MessagesReceived: a List call marked deliveries received
//   - MessageDeleted: a message was deleted, permanently or for one recipient
package dmbox
