// Package store persists players, characters and grants. Update runs a
// function against one character under an exclusive per-character lock and
// inside a transaction, so concurrent purchases for the same character
// serialize and a failed function changes nothing.
package store

import (
	"context"
	"errors"

	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: concurrent modification")
	ErrExists   = errors.New("store: already exists")
)

// Reader is the read side of a store.
type Reader interface {
	Character(ctx context.Context, id string) (*ledger.Character, error)
	Player(ctx context.Context, id string) (*ledger.Player, error)
	Grants(ctx context.Context, characterID string) ([]*grants.Grant, error)
	CharactersOfPlayer(ctx context.Context, playerID string) ([]*ledger.Character, error)
}

// Tx is a transaction opened by Update. Values it returns are copies; a
// change is kept only when saved and the transaction commits.
type Tx interface {
	Reader
	// SaveCharacter fails with ErrConflict when the character changed since
	// it was read. On success c.Version is advanced.
	SaveCharacter(ctx context.Context, c *ledger.Character) error
	SavePlayer(ctx context.Context, p *ledger.Player) error
	SaveGrant(ctx context.Context, g *grants.Grant) error
}

// Store is implemented by Memory and SQL.
type Store interface {
	// Update locks characterID, runs fn in a transaction and commits when fn
	// returns nil. Lock timeouts and serialization failures are ErrConflict.
	Update(ctx context.Context, characterID string, fn func(Tx) error) error
	View(ctx context.Context, fn func(Reader) error) error
	CreatePlayer(ctx context.Context, p *ledger.Player) error
	CreateCharacter(ctx context.Context, c *ledger.Character) error
	Close() error
}
