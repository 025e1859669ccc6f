package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

// CreatePlayer registers a player. Staff may register anyone; a player may
// register only their own id.
func (s *Service) CreatePlayer(ctx context.Context, p *ledger.Player) error {
	a, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if !a.Can(auth.PermManage) && a.PlayerID != p.ID {
		return fmt.Errorf("%w: %s may not register player %s", ErrForbidden, a.ID, p.ID)
	}
	if p.CPAvailable < 0 {
		return ErrInvalidAmount
	}
	return s.store.CreatePlayer(ctx, p)
}

// CreateCharacter makes an alive character with no points for playerID.
func (s *Service) CreateCharacter(ctx context.Context, playerID, name string) (*Result, error) {
	a, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !a.CanManage(playerID) {
		return nil, fmt.Errorf("%w: %s may not create characters for %s", ErrForbidden, a.ID, playerID)
	}
	c := ledger.New(uuid.NewString(), playerID, catalog.NormalizeName(name))
	if err := s.store.CreateCharacter(ctx, c); err != nil {
		return nil, translate(err)
	}

	entry := audit.Fill(ctx, audit.Entry{
		CharacterID: c.ID,
		ActorID:     a.ID,
		Action:      audit.ActionCreate,
		Message:     "Created character " + c.Name,
	})
	return &Result{Character: c, Entry: entry, AuditError: s.record(ctx, entry)}, nil
}

// Character returns a character the actor may see.
func (s *Service) Character(ctx context.Context, characterID string) (*ledger.Character, error) {
	var out *ledger.Character
	err := s.view(ctx, characterID, func(_ store.Reader, _ auth.Actor, c *ledger.Character) error {
		out = c
		return nil
	})
	return out, err
}

// SetActive makes the character its player's active one and clears the
// flag on the player's other characters.
func (s *Service) SetActive(ctx context.Context, characterID string) (*Result, error) {
	return s.mutate(ctx, "activate", characterID, func(ctx context.Context, tx store.Tx, a auth.Actor, c *ledger.Character, _ *Result) (audit.Entry, error) {
		if err := requireManage(a, c); err != nil {
			return audit.Entry{}, err
		}
		siblings, err := tx.CharactersOfPlayer(ctx, c.PlayerID)
		if err != nil {
			return audit.Entry{}, err
		}
		wasActive := make(map[string]bool, len(siblings))
		for _, sib := range siblings {
			wasActive[sib.ID] = sib.Active
		}
		if err := ledger.Activate(c, siblings); err != nil {
			return audit.Entry{}, err
		}
		for _, sib := range siblings {
			if sib.ID != c.ID && wasActive[sib.ID] && !sib.Active {
				if err := tx.SaveCharacter(ctx, sib); err != nil {
					return audit.Entry{}, err
				}
			}
		}
		return audit.Entry{Action: audit.ActionActivate, Message: c.Name + " is now active"}, nil
	})
}

// AssignOrigin gives the character an origin. A character holds one origin
// per category.
func (s *Service) AssignOrigin(ctx context.Context, characterID string, origin catalog.OriginID) (*Result, error) {
	return s.mutate(ctx, "assign_origin", characterID, func(ctx context.Context, _ store.Tx, a auth.Actor, c *ledger.Character, _ *Result) (audit.Entry, error) {
		if err := requireManage(a, c); err != nil {
			return audit.Entry{}, err
		}
		o, ok := s.cat.Origin(origin)
		if !ok {
			return audit.Entry{}, fmt.Errorf("%w: origin %d", ErrUnknownTarget, origin)
		}
		if err := c.AddOrigin(o); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{
			Action:  audit.ActionOrigin,
			Message: fmt.Sprintf("Took %s %s", o.Category, o.Name),
			Target:  "origin:" + strconv.FormatInt(int64(o.ID), 10),
		}, nil
	})
}

// AwardPoints adds to the character's available points. Staff only.
func (s *Service) AwardPoints(ctx context.Context, characterID string, amount int, reason string) (*Result, error) {
	return s.mutate(ctx, "award_points", characterID, func(ctx context.Context, _ store.Tx, a auth.Actor, c *ledger.Character, _ *Result) (audit.Entry, error) {
		if err := requirePermission(a, auth.PermAward); err != nil {
			return audit.Entry{}, err
		}
		if err := c.Award(amount); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{
			Action:   audit.ActionAward,
			Message:  fmt.Sprintf("Awarded %d CP", amount),
			Metadata: map[string]string{"reason": reason, "amount": strconv.Itoa(amount)},
		}, nil
	})
}

// TransferPoints moves points from the owning player's pool into the
// character.
func (s *Service) TransferPoints(ctx context.Context, characterID string, amount int) (*Result, error) {
	return s.mutate(ctx, "transfer_points", characterID, func(ctx context.Context, tx store.Tx, a auth.Actor, c *ledger.Character, _ *Result) (audit.Entry, error) {
		if err := requireManage(a, c); err != nil {
			return audit.Entry{}, err
		}
		p, err := tx.Player(ctx, c.PlayerID)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := c.Transfer(p, amount); err != nil {
			return audit.Entry{}, err
		}
		if err := tx.SavePlayer(ctx, p); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{
			Action:   audit.ActionTransfer,
			Message:  fmt.Sprintf("Transferred %d CP from %s", amount, p.Name),
			Metadata: map[string]string{"amount": strconv.Itoa(amount), "player_id": p.ID},
		}, nil
	})
}

// SetStatus records a death or retirement. Staff only.
func (s *Service) SetStatus(ctx context.Context, characterID string, status ledger.Status) (*Result, error) {
	return s.mutate(ctx, "set_status", characterID, func(ctx context.Context, _ store.Tx, a auth.Actor, c *ledger.Character, _ *Result) (audit.Entry, error) {
		if err := requirePermission(a, auth.PermManage); err != nil {
			return audit.Entry{}, err
		}
		if err := c.SetStatus(status); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{Action: audit.ActionStatus, Message: fmt.Sprintf("%s is now %s", c.Name, status)}, nil
	})
}

// Log returns the character's audit entries when the audit sink can be
// queried.
func (s *Service) Log(ctx context.Context, characterID string) ([]audit.Entry, error) {
	if err := s.view(ctx, characterID, func(store.Reader, auth.Actor, *ledger.Character) error { return nil }); err != nil {
		return nil, err
	}
	q, ok := s.audit.(audit.Querier)
	if !ok {
		return nil, audit.ErrNotQueryable
	}
	return q.Entries(ctx, characterID)
}
