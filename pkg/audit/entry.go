// Package audit records who changed a character and how. Entries are
// written after the ledger commits; sinks range from a JSON line writer to
// the SQL store's character_logs table and an in-memory hash chain.
package audit

import (
	"context"
	"time"
)

// Action names the kind of change an entry records.
type Action string

const (
	ActionPurchaseHeader Action = "purchase_header"
	ActionPurchaseSkill  Action = "purchase_skill"
	ActionGrant          Action = "grant"
	ActionGrantIssued    Action = "grant_issued"
	ActionOverride       Action = "override"
	ActionOrigin         Action = "origin"
	ActionAward          Action = "award"
	ActionTransfer       Action = "transfer"
	ActionCreate         Action = "create"
	ActionActivate       Action = "activate"
	ActionStatus         Action = "status"
)

// Entry is one line of a character's history.
type Entry struct {
	ID          string            `json:"id"`
	CharacterID string            `json:"character_id"`
	ActorID     string            `json:"actor_id"`
	Action      Action            `json:"action"`
	Message     string            `json:"message"`
	Target      string            `json:"target,omitempty"`
	Cost        int               `json:"cost"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Logger records audit entries.
type Logger interface {
	Record(ctx context.Context, e Entry) error
}

// Querier reads back a character's entries, oldest first.
type Querier interface {
	Entries(ctx context.Context, characterID string) ([]Entry, error)
}
