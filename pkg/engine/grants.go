package engine

import (
	"context"
	"fmt"

	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

// Grants lists the grants a character can exercise now.
func (s *Service) Grants(ctx context.Context, characterID string) ([]grants.Available, error) {
	var out []grants.Available
	err := s.view(ctx, characterID, func(r store.Reader, _ auth.Actor, c *ledger.Character) error {
		records, err := r.Grants(ctx, characterID)
		if err != nil {
			return err
		}
		out = s.grants.GrantsFor(c, records)
		return nil
	})
	return out, err
}

// IssueGrant stores a staff grant for a character.
func (s *Service) IssueGrant(ctx context.Context, g *grants.Grant) (*Result, error) {
	if err := g.Validate(s.cat); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "issue_grant", g.CharacterID, func(ctx context.Context, tx store.Tx, a auth.Actor, _ *ledger.Character, res *Result) (audit.Entry, error) {
		if err := requirePermission(a, auth.PermGrant); err != nil {
			return audit.Entry{}, err
		}
		g.CreatedBy = a.ID
		if err := tx.SaveGrant(ctx, g); err != nil {
			return audit.Entry{}, err
		}
		res.Grant = g
		return audit.Entry{
			Action:  audit.ActionGrantIssued,
			Message: fmt.Sprintf("Granted %s %d (%d picks): %s", g.Kind, g.TargetID, g.PicksRemaining, g.Reason),
			Target:  g.Target().String(),
			Metadata: map[string]string{
				"grant_id": g.ID,
			},
		}, nil
	})
}

// ExerciseGrant takes a grant's target for free, skipping prerequisite
// checks, and uses one of its picks. Origin grants are addressed by their
// synthetic id. header picks the header for skill grants that leave it
// open.
func (s *Service) ExerciseGrant(ctx context.Context, characterID, grantID string, header catalog.HeaderID) (*Result, error) {
	return s.mutate(ctx, "exercise_grant", characterID, func(ctx context.Context, tx store.Tx, a auth.Actor, c *ledger.Character, res *Result) (audit.Entry, error) {
		if err := requireManage(a, c); err != nil {
			return audit.Entry{}, err
		}
		records, err := tx.Grants(ctx, characterID)
		if err != nil {
			return audit.Entry{}, err
		}
		avail, err := s.grants.Find(c, records, grantID)
		if err != nil {
			return audit.Entry{}, err
		}

		if avail.Kind == grants.SkillGrant {
			h := avail.HeaderID
			if h == 0 {
				h = header
			}
			if !s.cat.InHeader(avail.Target.SkillID(), h) {
				return audit.Entry{}, fmt.Errorf("%w: skill %d is not offered under header %d", ErrUnknownTarget, avail.Target.SkillID(), h)
			}
		}
		if err := grants.Apply(c, avail, header); err != nil {
			return audit.Entry{}, err
		}

		if avail.Source == grants.SourceRecord {
			for _, g := range records {
				if g.ID != avail.ID {
					continue
				}
				if err := g.Exercise(); err != nil {
					return audit.Entry{}, err
				}
				if err := tx.SaveGrant(ctx, g); err != nil {
					return audit.Entry{}, err
				}
				res.Grant = g
			}
		}

		return audit.Entry{
			Action:  audit.ActionGrant,
			Message: fmt.Sprintf("Took %s from grant (%s)", s.targetName(avail), avail.Reason),
			Target:  avail.Target.String(),
			Metadata: map[string]string{
				"grant_id": avail.ID,
				"source":   string(avail.Source),
			},
		}, nil
	})
}

func (s *Service) targetName(a grants.Available) string {
	if a.Target.IsHeader() {
		if h, ok := s.cat.Header(a.Target.HeaderID()); ok {
			return "header " + h.Name
		}
	} else if sk, ok := s.cat.Skill(a.Target.SkillID()); ok {
		return "skill " + sk.Name
	}
	return a.Target.String()
}
