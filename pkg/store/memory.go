package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/lock"
)

// Memory keeps everything in maps. Transactions stage copies and apply them
// at commit.
type Memory struct {
	mu         sync.RWMutex
	players    map[string]*ledger.Player
	characters map[string]*ledger.Character
	grants     map[string][]*grants.Grant
	locks      lock.Locker
	now        func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory uses locks for per-character exclusion, or an in-process
// keyed mutex when locks is nil.
func NewMemory(locks lock.Locker) *Memory {
	if locks == nil {
		locks = lock.NewLocal()
	}
	return &Memory{
		players:    make(map[string]*ledger.Player),
		characters: make(map[string]*ledger.Character),
		grants:     make(map[string][]*grants.Grant),
		locks:      locks,
		now:        time.Now,
	}
}

func (m *Memory) CreatePlayer(_ context.Context, p *ledger.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[p.ID]; ok {
		return fmt.Errorf("%w: player %s", ErrExists, p.ID)
	}
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now().UTC()
	}
	m.players[p.ID] = &cp
	return nil
}

func (m *Memory) CreateCharacter(_ context.Context, c *ledger.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[c.PlayerID]; !ok {
		return fmt.Errorf("%w: player %s", ErrNotFound, c.PlayerID)
	}
	if _, ok := m.characters[c.ID]; ok {
		return fmt.Errorf("%w: character %s", ErrExists, c.ID)
	}
	now := m.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.characters[c.ID] = c.Clone()
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(Reader) error) error {
	return fn(memReader{m: m})
}

func (m *Memory) Update(ctx context.Context, characterID string, fn func(Tx) error) error {
	release, err := m.locks.Acquire(ctx, lock.CharacterKey(characterID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	defer release()

	tx := &memTx{
		memReader: memReader{m: m},
		chars:     make(map[string]*ledger.Character),
		base:      make(map[string]int64),
		players:   make(map[string]*ledger.Player),
		grants:    make(map[string]*grants.Grant),
		held:      make(map[string]bool),
	}
	defer tx.releaseAll()

	if _, err := tx.Character(ctx, characterID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range tx.chars {
		cur, ok := m.characters[id]
		if !ok {
			return fmt.Errorf("%w: character %s", ErrNotFound, id)
		}
		if cur.Version != tx.base[id] {
			return fmt.Errorf("%w: character %s at version %d, saved from %d", ErrConflict, id, cur.Version, tx.base[id])
		}
	}
	for id, c := range tx.chars {
		m.characters[id] = c
	}
	for id, p := range tx.players {
		m.players[id] = p
	}
	for _, g := range tx.grants {
		list := m.grants[g.CharacterID]
		replaced := false
		for i, cur := range list {
			if cur.ID == g.ID {
				list[i] = g
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, g)
		}
		m.grants[g.CharacterID] = list
	}
	return nil
}

func (m *Memory) Close() error { return nil }

type memReader struct {
	m *Memory
}

func (r memReader) Character(_ context.Context, id string) (*ledger.Character, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.characters[id]
	if !ok {
		return nil, fmt.Errorf("%w: character %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

func (r memReader) Player(_ context.Context, id string) (*ledger.Player, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	p, ok := r.m.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r memReader) Grants(_ context.Context, characterID string) ([]*grants.Grant, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	list := r.m.grants[characterID]
	out := make([]*grants.Grant, 0, len(list))
	for _, g := range list {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (r memReader) CharactersOfPlayer(_ context.Context, playerID string) ([]*ledger.Character, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*ledger.Character
	for _, c := range r.m.characters {
		if c.PlayerID == playerID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memTx struct {
	memReader
	chars    map[string]*ledger.Character
	base     map[string]int64
	players  map[string]*ledger.Player
	grants   map[string]*grants.Grant
	held     map[string]bool
	releases []lock.Release
}

func (t *memTx) Character(ctx context.Context, id string) (*ledger.Character, error) {
	if c, ok := t.chars[id]; ok {
		return c.Clone(), nil
	}
	return t.memReader.Character(ctx, id)
}

// Player locks the player's pool for the rest of the transaction.
func (t *memTx) Player(ctx context.Context, id string) (*ledger.Player, error) {
	if p, ok := t.players[id]; ok {
		cp := *p
		return &cp, nil
	}
	key := lock.PlayerKey(id)
	if !t.held[key] {
		release, err := t.m.locks.Acquire(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		t.held[key] = true
		t.releases = append(t.releases, release)
	}
	return t.memReader.Player(ctx, id)
}

func (t *memTx) Grants(ctx context.Context, characterID string) ([]*grants.Grant, error) {
	out, err := t.memReader.Grants(ctx, characterID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(out))
	for i, g := range out {
		seen[g.ID] = true
		if s, ok := t.grants[g.ID]; ok {
			cp := *s
			out[i] = &cp
		}
	}
	for id, g := range t.grants {
		if !seen[id] && g.CharacterID == characterID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) CharactersOfPlayer(ctx context.Context, playerID string) ([]*ledger.Character, error) {
	out, err := t.memReader.CharactersOfPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	for i, c := range out {
		if s, ok := t.chars[c.ID]; ok {
			out[i] = s.Clone()
		}
	}
	return out, nil
}

func (t *memTx) SaveCharacter(_ context.Context, c *ledger.Character) error {
	if prev, ok := t.chars[c.ID]; ok {
		if prev.Version != c.Version {
			return fmt.Errorf("%w: character %s saved from stale version %d", ErrConflict, c.ID, c.Version)
		}
	} else {
		t.base[c.ID] = c.Version
	}
	c.Version++
	c.UpdatedAt = t.m.now().UTC()
	t.chars[c.ID] = c.Clone()
	return nil
}

func (t *memTx) SavePlayer(_ context.Context, p *ledger.Player) error {
	cp := *p
	t.players[p.ID] = &cp
	return nil
}

func (t *memTx) SaveGrant(_ context.Context, g *grants.Grant) error {
	cp := *g
	t.grants[g.ID] = &cp
	return nil
}

func (t *memTx) releaseAll() {
	for i := len(t.releases) - 1; i >= 0; i-- {
		t.releases[i]()
	}
}
