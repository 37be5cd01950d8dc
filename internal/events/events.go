// Package events describes user lifecycle notifications and the publisher
// interface the services emit them through.
package events

import (
	"context"
	"time"

	"github.com/rs/xid"
)

type Kind string

const (
	UserRegistered Kind = "user.registered"
	UserUpdated    Kind = "user.updated"
	UserDeleted    Kind = "user.deleted"
)

// Event is one lifecycle notification. It never carries credentials.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	UserID     int64     `json:"userId"`
	Username   string    `json:"username,omitempty"`
	ActorID    int64     `json:"actorId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New stamps an event with a fresh xid and the current UTC time.
func New(kind Kind, userID int64, username string, actorID int64) Event {
	return Event{
		ID:         xid.New().String(),
		Kind:       kind,
		UserID:     userID,
		Username:   username,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events to whatever is listening. Implementations must
// be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
