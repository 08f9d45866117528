package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu        sync.RWMutex
	users     map[string]User
	passwords map[string]string
	messages  []Message
	now       func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]User),
		passwords: make(map[string]string),
		now:       time.Now,
	}
}

// PutUser inserts or replaces a user. An empty ID is assigned a new one.
func (m *Memory) PutUser(u User) User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
	return u
}

// CreateUser implements Store.
func (m *Memory) CreateUser(_ context.Context, u User, passwordHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmailLocked(u.Email); ok {
		return User{}, ErrEmailTaken
	}
	u.ID = uuid.NewString()
	m.users[u.ID] = u
	m.passwords[u.ID] = passwordHash
	return u, nil
}

// UserByEmail implements Store.
func (m *Memory) UserByEmail(_ context.Context, email string) (User, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byEmailLocked(email)
	if !ok {
		return User{}, "", ErrNotFound
	}
	return u, m.passwords[u.ID], nil
}

func (m *Memory) byEmailLocked(email string) (User, bool) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return User{}, false
}

// UpdateProfilePic implements Store.
func (m *Memory) UpdateProfilePic(_ context.Context, id, pic string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.ProfilePic = pic
	m.users[id] = u
	return u, nil
}

// UserExists implements Store.
func (m *Memory) UserExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[id]
	return ok, nil
}

// GetUser implements Store.
func (m *Memory) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// ListUsersExcept implements Store.
func (m *Memory) ListUsersExcept(_ context.Context, id string) ([]User, error) {
	m.mu.RLock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		if u.ID != id {
			out = append(out, u)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListUsers implements Store.
func (m *Memory) ListUsers(_ context.Context, ids []string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// SaveMessage implements Store.
func (m *Memory) SaveMessage(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.users[msg.SenderID]
	if !ok {
		return Message{}, ErrNotFound
	}

	now := m.now().UTC()
	msg.ID = uuid.NewString()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	msg.Sender = nil
	m.messages = append(m.messages, msg)

	msg.Sender = senderOf(sender)
	return msg, nil
}

// Conversation implements Store.
func (m *Memory) Conversation(_ context.Context, a, b string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for _, msg := range m.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			if u, ok := m.users[msg.SenderID]; ok {
				msg.Sender = senderOf(u)
			}
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ChatPartners implements Store.
func (m *Memory) ChatPartners(ctx context.Context, userID string) ([]User, error) {
	m.mu.RLock()
	var mine []Message
	for _, msg := range m.messages {
		if msg.SenderID == userID || msg.ReceiverID == userID {
			mine = append(mine, msg)
		}
	}
	m.mu.RUnlock()

	return m.ListUsers(ctx, partnerIDs(userID, mine))
}

// Close implements Store; there is nothing to release.
func (m *Memory) Close(context.Context) error { return nil }
