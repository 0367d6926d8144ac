package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Channel carries the contact's reachable endpoints.
type Channel struct {
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Contact is the profile attached to a conversation record. Name, document
// and e-mail are set on first creation or through lead-capture tools; they
// are never rewritten by the pipeline itself.
type Contact struct {
	Name     string  `json:"name"`
	Document string  `json:"document,omitempty"`
	Project  string  `json:"project,omitempty"`
	Protocol string  `json:"protocol,omitempty"`
	Channel  Channel `json:"channel"`
}

// Identity is the composite key of a conversation. Two different
// project/protocol pairs for the same phone are distinct conversations.
type Identity struct {
	Phone    string
	Project  string
	Protocol string
}

// IdentityOf derives the ledger key from a contact payload.
func IdentityOf(c Contact) Identity {
	return Identity{
		Phone:    c.Channel.Phone,
		Project:  c.Project,
		Protocol: c.Protocol,
	}
}

// Record is the durable per-identity conversation state. Messages are eino
// schema messages so tool-call ids and metadata survive a JSON round trip.
type Record struct {
	Contact    Contact           `json:"contact"`
	Messages   []*schema.Message `json:"messages"`
	Processing bool              `json:"processing"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Ledger is the durable message store with the single-in-flight-turn
// contract. Implementations must make AppendAndLock and Finalize atomic with
// respect to the processing flag.
type Ledger interface {
	// GetOrCreate returns the record for the identity, creating it when
	// absent. A created record is seeded with the first human message and
	// processing=true, so creation doubles as taking the turn lock. A lost
	// concurrent-create race degrades to a lookup of the winner's record.
	GetOrCreate(ctx context.Context, id Identity, contact Contact, first *schema.Message) (*Record, bool, error)

	// Get returns the record or an errx not-found error.
	Get(ctx context.Context, id Identity) (*Record, error)

	// AppendAndLock appends msgs and sets processing=true atomically. It
	// fails with errx.ErrBusy when a turn is already in flight; the record
	// is left untouched in that case.
	AppendAndLock(ctx context.Context, id Identity, msgs ...*schema.Message) (*Record, error)

	// Finalize overwrites the message list with the turn's full history and
	// clears the processing flag. It must be called exactly once per
	// accepted turn, including on pipeline failure, or the conversation
	// deadlocks.
	Finalize(ctx context.Context, id Identity, msgs []*schema.Message) error
}
