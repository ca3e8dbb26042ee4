package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	BrokerMessagePending    = "pending"
	BrokerMessageInFlight   = "in_flight"
	BrokerMessageDone       = "done"
	BrokerMessageDeadLetter = "dead_letter"
)

// BrokerMessage is one durable message on a topic. Workers claim pending
// messages, mark them done on success, and bump attempts on failure until the
// attempt limit moves them to the dead letter status.
type BrokerMessage struct {
	bun.BaseModel `bun:"table:broker_messages,alias:bm"`

	ID        int        `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Topic     string     `bun:",nullzero" json:"topic"`
	Payload   string     `bun:",nullzero" json:"payload"`
	Status    string     `bun:",nullzero" json:"status"`
	Attempts  int        `json:"attempts"`
	ClaimedBy *string    `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// BrokerCounter is a decrement-per-item completion gate shared by
// independently dispatched workers.
type BrokerCounter struct {
	bun.BaseModel `bun:"table:broker_counters,alias:bc"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	Key       string    `bun:",nullzero" json:"key"`
	Remaining int       `json:"remaining"`
	UpdatedAt time.Time `json:"updated_at"`
}
