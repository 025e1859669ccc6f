package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
)

var (
	ErrChainBroken  = errors.New("audit: hash chain is broken")
	ErrNotQueryable = errors.New("audit: logger does not support queries")
)

const genesis = "genesis"

// Link is an entry with its position in the chain.
type Link struct {
	Sequence     uint64 `json:"sequence"`
	Entry        Entry  `json:"entry"`
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// Chain is an append-only in-memory log. Each link hashes the canonical
// JSON of its entry together with the previous link's hash.
type Chain struct {
	mu       sync.RWMutex
	links    []Link
	byChar   map[string][]int
	head     string
	sequence uint64
}

func NewChain() *Chain {
	return &Chain{byChar: make(map[string][]int), head: genesis}
}

func (c *Chain) Record(ctx context.Context, e Entry) error {
	e = Fill(ctx, e)

	c.mu.Lock()
	defer c.mu.Unlock()

	link := Link{Sequence: c.sequence + 1, Entry: e, PreviousHash: c.head}
	h, err := linkHash(link)
	if err != nil {
		return err
	}
	link.EntryHash = h

	c.sequence++
	c.head = h
	c.links = append(c.links, link)
	c.byChar[e.CharacterID] = append(c.byChar[e.CharacterID], len(c.links)-1)
	return nil
}

func (c *Chain) Entries(_ context.Context, characterID string) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.byChar[characterID]
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.links[i].Entry)
	}
	return out, nil
}

// Head is the hash of the latest link, or "genesis" when empty.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Links returns a copy of the chain.
func (c *Chain) Links() []Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Link(nil), c.links...)
}

// Verify recomputes every link hash.
func (c *Chain) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return VerifyLinks(c.links)
}

// VerifyLinks checks a sequence of links starting at genesis.
func VerifyLinks(links []Link) error {
	prev := genesis
	for i, l := range links {
		if l.PreviousHash != prev {
			return fmt.Errorf("%w: link %d has previous_hash %s but expected %s", ErrChainBroken, i, l.PreviousHash, prev)
		}
		h, err := linkHash(l)
		if err != nil {
			return fmt.Errorf("%w: link %d: %w", ErrChainBroken, i, err)
		}
		if h != l.EntryHash {
			return fmt.Errorf("%w: link %d hash mismatch (computed %s, stored %s)", ErrChainBroken, i, h, l.EntryHash)
		}
		prev = l.EntryHash
	}
	return nil
}

func linkHash(l Link) (string, error) {
	hashable := struct {
		Sequence     uint64 `json:"sequence"`
		Entry        Entry  `json:"entry"`
		PreviousHash string `json:"previous_hash"`
	}{l.Sequence, l.Entry, l.PreviousHash}

	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal link for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize link: %w", err)
	}
	return computeHash(canonical), nil
}

func computeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
