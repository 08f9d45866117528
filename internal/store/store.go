// Package store is the durable side of chatify: user profiles and message
// records, reached through request/response calls.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a user or record does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by CreateUser when the email is already in use.
var ErrEmailTaken = errors.New("email already registered")

// User is a chat participant. The password hash never leaves the store.
type User struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Sender holds the display attributes resolved for a message's author.
type Sender struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Message is a persisted chat message.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	Sender     *Sender   `json:"sender,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store is the persistence contract used by the REST write path.
type Store interface {
	// CreateUser adds an account with a bcrypt password hash and assigns its
	// id. Emails are unique.
	CreateUser(ctx context.Context, u User, passwordHash string) (User, error)
	// UserByEmail returns the account registered under email and its
	// password hash.
	UserByEmail(ctx context.Context, email string) (User, string, error)
	// UpdateProfilePic replaces the user's picture and returns the result.
	UpdateProfilePic(ctx context.Context, id, pic string) (User, error)
	UserExists(ctx context.Context, id string) (bool, error)
	GetUser(ctx context.Context, id string) (User, error)
	// ListUsersExcept returns every user but id.
	ListUsersExcept(ctx context.Context, id string) ([]User, error)
	ListUsers(ctx context.Context, ids []string) ([]User, error)
	// SaveMessage persists m, assigning its id and timestamps, and returns
	// the stored record with Sender populated.
	SaveMessage(ctx context.Context, m Message) (Message, error)
	// Conversation returns the messages exchanged between a and b, oldest
	// first, with Sender populated.
	Conversation(ctx context.Context, a, b string) ([]Message, error)
	// ChatPartners returns the distinct users that userID has exchanged
	// messages with.
	ChatPartners(ctx context.Context, userID string) ([]User, error)
	Close(ctx context.Context) error
}

func senderOf(u User) *Sender {
	return &Sender{ID: u.ID, FullName: u.FullName, Email: u.Email, ProfilePic: u.ProfilePic}
}

// partnerIDs returns the distinct counterpart ids of userID across msgs in
// first-seen order.
func partnerIDs(userID string, msgs []Message) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range msgs {
		other := m.SenderID
		if other == userID {
			other = m.ReceiverID
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids
}
