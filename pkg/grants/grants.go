// Package grants resolves the skills and headers a character may take for
// free, either from explicit grant records or from the origins it holds.
package grants

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

// UnlimitedPicks is the default pick count of a grant record.
const UnlimitedPicks = 10000

var (
	ErrExhausted   = errors.New("grants: no picks remaining")
	ErrNotFound    = errors.New("grants: grant not found")
	ErrInvalid     = errors.New("grants: invalid grant")
	ErrAlreadyHeld = errors.New("grants: target already held")
)

// Kind is the kind of target a grant yields.
type Kind string

const (
	SkillGrant  Kind = "SkillGrant"
	HeaderGrant Kind = "HeaderGrant"
)

// Source says where an available grant comes from.
type Source string

const (
	SourceRecord Source = "grant"
	SourceOrigin Source = "origin"
)

// Grant is a staff-issued record letting a character take a skill or header
// without cost or prerequisite checks, PicksRemaining times.
type Grant struct {
	ID             string           `json:"id"`
	CharacterID    string           `json:"character_id"`
	Kind           Kind             `json:"kind"`
	TargetID       int64            `json:"correlated_id"`
	HeaderID       catalog.HeaderID `json:"header_id,omitempty"` // header a granted skill is taken under
	Reason         string           `json:"reason"`
	Free           bool             `json:"free"`
	PicksRemaining int              `json:"picks_remaining"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// New returns a free grant with the default pick count.
func New(characterID string, kind Kind, target int64, reason string) *Grant {
	return &Grant{
		ID:             uuid.NewString(),
		CharacterID:    characterID,
		Kind:           kind,
		TargetID:       target,
		Reason:         reason,
		Free:           true,
		PicksRemaining: UnlimitedPicks,
		CreatedAt:      time.Now().UTC(),
	}
}

// Target returns the grant's target as a rule target.
func (g *Grant) Target() rules.TargetRef {
	if g.Kind == HeaderGrant {
		return rules.HeaderTarget(catalog.HeaderID(g.TargetID))
	}
	return rules.SkillTarget(catalog.SkillID(g.TargetID))
}

// Validate checks the grant against the catalog.
func (g *Grant) Validate(cat *catalog.Catalog) error {
	if g.CharacterID == "" {
		return fmt.Errorf("%w: missing character", ErrInvalid)
	}
	if g.PicksRemaining < 0 {
		return fmt.Errorf("%w: negative picks", ErrInvalid)
	}
	switch g.Kind {
	case HeaderGrant:
		if _, ok := cat.Header(catalog.HeaderID(g.TargetID)); !ok {
			return fmt.Errorf("%w: unknown header %d", ErrInvalid, g.TargetID)
		}
	case SkillGrant:
		if _, ok := cat.Skill(catalog.SkillID(g.TargetID)); !ok {
			return fmt.Errorf("%w: unknown skill %d", ErrInvalid, g.TargetID)
		}
		if g.HeaderID != 0 && !cat.InHeader(catalog.SkillID(g.TargetID), g.HeaderID) {
			return fmt.Errorf("%w: skill %d is not offered under header %d", ErrInvalid, g.TargetID, g.HeaderID)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalid, g.Kind)
	}
	return nil
}

// Exercise uses one pick.
func (g *Grant) Exercise() error {
	if g.PicksRemaining <= 0 {
		return fmt.Errorf("%w: %s", ErrExhausted, g.ID)
	}
	g.PicksRemaining--
	return nil
}

// Available is one grant a character can currently exercise.
type Available struct {
	ID             string           `json:"id"`
	Kind           Kind             `json:"kind"`
	Target         rules.TargetRef  `json:"target"`
	HeaderID       catalog.HeaderID `json:"header_id,omitempty"`
	Reason         string           `json:"reason"`
	Free           bool             `json:"free"`
	PicksRemaining int              `json:"picks_remaining"`
	Source         Source           `json:"source"`
}

// Resolver enumerates available grants.
type Resolver struct {
	cat *catalog.Catalog
}

func NewResolver(cat *catalog.Catalog) *Resolver {
	return &Resolver{cat: cat}
}

// OriginGrantID is the synthetic id of a grant that comes with an origin.
func OriginGrantID(origin catalog.OriginID, ref catalog.GrantRef) string {
	return fmt.Sprintf("origin:%d:%s:%d", origin, ref.Kind, ref.TargetID)
}

// IsOriginGrantID reports whether id names an origin grant.
func IsOriginGrantID(id string) bool {
	return strings.HasPrefix(id, "origin:")
}

// GrantsFor lists grant records with picks left, followed by origin grants
// whose target the character does not hold yet. Header grant records for
// headers already held are omitted.
func (r *Resolver) GrantsFor(c *ledger.Character, records []*Grant) []Available {
	out := make([]Available, 0, len(records))
	for _, g := range records {
		if g.CharacterID != c.ID || g.PicksRemaining <= 0 {
			continue
		}
		if g.Kind == HeaderGrant && c.OwnsHeader(catalog.HeaderID(g.TargetID)) {
			continue
		}
		out = append(out, Available{
			ID:             g.ID,
			Kind:           g.Kind,
			Target:         g.Target(),
			HeaderID:       g.HeaderID,
			Reason:         g.Reason,
			Free:           g.Free,
			PicksRemaining: g.PicksRemaining,
			Source:         SourceRecord,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	for _, oid := range c.OriginIDs() {
		origin, ok := r.cat.Origin(oid)
		if !ok {
			continue
		}
		for _, ref := range origin.Grants {
			a := Available{
				ID:             OriginGrantID(oid, ref),
				HeaderID:       ref.HeaderID,
				Reason:         origin.Name,
				Free:           true,
				PicksRemaining: 1,
				Source:         SourceOrigin,
			}
			switch ref.Kind {
			case catalog.GrantHeader:
				if c.OwnsHeader(catalog.HeaderID(ref.TargetID)) {
					continue
				}
				a.Kind = HeaderGrant
				a.Target = rules.HeaderTarget(catalog.HeaderID(ref.TargetID))
			case catalog.GrantSkill:
				if c.OwnsSkill(catalog.SkillID(ref.TargetID)) {
					continue
				}
				a.Kind = SkillGrant
				a.Target = rules.SkillTarget(catalog.SkillID(ref.TargetID))
			default:
				continue
			}
			out = append(out, a)
		}
	}
	return out
}

// Find returns the available grant with id.
func (r *Resolver) Find(c *ledger.Character, records []*Grant, id string) (Available, error) {
	for _, a := range r.GrantsFor(c, records) {
		if a.ID == id {
			return a, nil
		}
	}
	for _, g := range records {
		if g.ID == id && g.CharacterID == c.ID {
			if g.PicksRemaining <= 0 {
				return Available{}, fmt.Errorf("%w: %s", ErrExhausted, id)
			}
			return Available{}, fmt.Errorf("%w: %s", ErrAlreadyHeld, id)
		}
	}
	return Available{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Apply adds an available grant's target to the character at no cost.
// header is used for skill grants that do not name one.
func Apply(c *ledger.Character, a Available, header catalog.HeaderID) error {
	switch a.Kind {
	case HeaderGrant:
		c.GrantHeader(a.Target.HeaderID())
	case SkillGrant:
		h := a.HeaderID
		if h == 0 {
			h = header
		}
		if h == 0 {
			return fmt.Errorf("%w: skill grant %s needs a header", ErrInvalid, a.ID)
		}
		c.GrantSkill(a.Target.SkillID(), h)
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalid, a.Kind)
	}
	return nil
}
