// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/dmbox/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
// A single lock guards all maps so multi-row writes are atomic.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*store.User
	usernames  map[string]string // username -> user ID
	messages   map[string]*store.Message
	deliveries map[string][]*store.Delivery // message ID -> deliveries in recipient order
	connected  int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		users:      make(map[string]*store.User),
		usernames:  make(map[string]string),
		messages:   make(map[string]*store.Message),
		deliveries: make(map[string][]*store.Delivery),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected. Data is kept.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Ping reports whether the store is connected.
func (s *Store) Ping(_ context.Context) error {
	return s.checkConnected()
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// =============================================================================
// User Operations
// =============================================================================

func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[username]; taken {
		return nil, store.ErrDuplicateEntry
	}

	now := time.Now().UTC()
	u := &store.User{
		ID:           store.NewID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.usernames[username] = u.ID

	clone := *u
	return &clone, nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *Store) FindUserByUsername(_ context.Context, username string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

func (s *Store) FindUsersByIDs(_ context.Context, ids []string) ([]store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]store.User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := s.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (s *Store) UpdatePassword(_ context.Context, id, passwordHash string, at time.Time) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = at.UTC()

	clone := *u
	return &clone, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}

	for msgID, msg := range s.messages {
		if msg.SenderID == id {
			delete(s.messages, msgID)
			delete(s.deliveries, msgID)
			continue
		}
		kept := s.deliveries[msgID][:0]
		for _, d := range s.deliveries[msgID] {
			if d.RecipientID != id {
				kept = append(kept, d)
			}
		}
		s.deliveries[msgID] = kept
	}

	delete(s.usernames, u.Username)
	delete(s.users, id)
	return nil
}

// =============================================================================
// Message Operations
// =============================================================================

func (s *Store) CreateMessage(_ context.Context, senderID string, text *string, sentAt time.Time, recipientIDs []string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if len(recipientIDs) == 0 {
		return nil, store.ErrEmptyRecipients
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirror the foreign keys of the SQL schema.
	if _, ok := s.users[senderID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, rid := range recipientIDs {
		if _, ok := s.users[rid]; !ok {
			return nil, store.ErrNotFound
		}
	}

	sentAt = sentAt.UTC()
	msg := &store.Message{
		ID:       store.NewID(),
		SenderID: senderID,
		Text:     store.CloneText(text),
		SentAt:   sentAt,
	}

	ds := make([]*store.Delivery, 0, len(recipientIDs))
	for i, rid := range recipientIDs {
		ds = append(ds, &store.Delivery{
			ID:          store.NewID(),
			MessageID:   msg.ID,
			RecipientID: rid,
			CreatedAt:   sentAt,
			Seq:         i,
		})
	}

	s.messages[msg.ID] = msg
	s.deliveries[msg.ID] = ds

	return cloneMessage(msg), nil
}

func (s *Store) FindSent(_ context.Context, senderID string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Message
	for _, msg := range s.messages {
		if msg.SenderID == senderID {
			out = append(out, *cloneMessage(msg))
		}
	}
	return out, nil
}

func (s *Store) FindReceived(_ context.Context, recipientID string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Message
	for msgID, ds := range s.deliveries {
		for _, d := range ds {
			if d.RecipientID == recipientID && d.DeletedAt == nil {
				out = append(out, *cloneMessage(s.messages[msgID]))
				break
			}
		}
	}
	return out, nil
}

func (s *Store) FindMessages(_ context.Context, ids []string) ([]store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Message
	for _, id := range store.FilterValidIDs(ids) {
		if msg, ok := s.messages[id]; ok {
			out = append(out, *cloneMessage(msg))
		}
	}
	return out, nil
}

func (s *Store) FindDeliveries(_ context.Context, messageIDs []string) ([]store.Delivery, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Delivery
	for _, id := range store.FilterValidIDs(messageIDs) {
		for _, d := range s.deliveries[id] {
			out = append(out, cloneDelivery(d))
		}
	}
	store.SortDeliveries(out)
	return out, nil
}

func (s *Store) MarkReceived(_ context.Context, recipientID string, at time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	var n int64
	for _, ds := range s.deliveries {
		for _, d := range ds {
			if d.RecipientID == recipientID && d.ReceivedAt == nil && d.DeletedAt == nil {
				t := at
				d.ReceivedAt = &t
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages, id)
	delete(s.deliveries, id)
	return nil
}

func (s *Store) SoftDeleteDelivery(_ context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.deliveries[messageID] {
		if d.RecipientID == recipientID && d.DeletedAt == nil {
			t := at.UTC()
			d.DeletedAt = &t
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// Helpers
// =============================================================================

func cloneMessage(m *store.Message) *store.Message {
	c := *m
	c.Text = store.CloneText(m.Text)
	return &c
}

func cloneDelivery(d *store.Delivery) store.Delivery {
	c := *d
	if d.ReceivedAt != nil {
		t := *d.ReceivedAt
		c.ReceivedAt = &t
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return c
}
