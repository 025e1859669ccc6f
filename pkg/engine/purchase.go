package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/eligibility"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

// CanAcquire evaluates target for a character without changing anything.
// header is the header a skill would be bought under.
func (s *Service) CanAcquire(ctx context.Context, characterID string, target rules.TargetRef, header catalog.HeaderID) (eligibility.Decision, error) {
	var d eligibility.Decision
	err := s.view(ctx, characterID, func(_ store.Reader, _ auth.Actor, c *ledger.Character) error {
		var err error
		d, err = s.eval.Evaluate(c, target, header)
		return err
	})
	if err != nil {
		return eligibility.Decision{}, err
	}
	s.obs.RecordDecision(ctx, string(target.Kind), d.Allowed)
	return d, nil
}

// Options lists what the character could take next.
func (s *Service) Options(ctx context.Context, characterID string) (eligibility.Options, error) {
	var opts eligibility.Options
	err := s.view(ctx, characterID, func(r store.Reader, _ auth.Actor, c *ledger.Character) error {
		records, err := r.Grants(ctx, characterID)
		if err != nil {
			return err
		}
		opts = s.eval.Options(c, s.grants.GrantsFor(c, records))
		return nil
	})
	return opts, err
}

// PurchaseHeader opens a header once its prerequisites hold. Headers are
// free.
func (s *Service) PurchaseHeader(ctx context.Context, characterID string, header catalog.HeaderID) (*Result, error) {
	return s.mutate(ctx, "purchase_header", characterID, func(ctx context.Context, _ store.Tx, a auth.Actor, c *ledger.Character, res *Result) (audit.Entry, error) {
		if err := requireManage(a, c); err != nil {
			return audit.Entry{}, err
		}
		d, err := s.eval.CanAcquire(c, header)
		if err != nil {
			return audit.Entry{}, err
		}
		s.obs.RecordDecision(ctx, string(rules.KindHeader), d.Allowed)
		res.Decision = &d
		if c.OwnsHeader(header) {
			return audit.Entry{}, fmt.Errorf("%w: header %d", ledger.ErrAlreadyOwned, header)
		}
		if !d.Allowed {
			return audit.Entry{}, denyPrerequisites(d)
		}
		if err := c.AddHeader(header); err != nil {
			return audit.Entry{}, err
		}
		s.obs.RecordPurchase(ctx, string(rules.KindHeader))

		h, _ := s.cat.Header(header)
		return audit.Entry{
			Action:  audit.ActionPurchaseHeader,
			Message: "Purchased header " + h.Name,
			Target:  d.Target.String(),
		}, nil
	})
}

// PurchaseSkill buys one unit of skill under header and debits its cost.
// The check and the debit run under the character's lock, so two
// concurrent purchases never both spend the same points.
func (s *Service) PurchaseSkill(ctx context.Context, characterID string, skill catalog.SkillID, header catalog.HeaderID) (*Result, error) {
	return s.mutate(ctx, "purchase_skill", characterID, func(ctx context.Context, _ store.Tx, a auth.Actor, c *ledger.Character, res *Result) (audit.Entry, error) {
		if err := requireManage(a, c); err != nil {
			return audit.Entry{}, err
		}
		d, err := s.eval.CanAcquireSkill(c, skill, header)
		if err != nil {
			return audit.Entry{}, err
		}
		s.obs.RecordDecision(ctx, string(rules.KindSkill), d.Allowed)
		res.Decision = &d
		if !d.Allowed {
			return audit.Entry{}, denyPrerequisites(d)
		}

		offer, _ := s.cat.Offering(header, skill)
		if err := c.ApplyPurchase(offer); err != nil {
			if errors.Is(err, ledger.ErrInsufficientPoints) {
				return audit.Entry{}, denyPoints(d, err)
			}
			return audit.Entry{}, err
		}
		s.obs.RecordPurchase(ctx, string(rules.KindSkill))

		sk, _ := s.cat.Skill(skill)
		h, _ := s.cat.Header(header)
		return audit.Entry{
			Action:   audit.ActionPurchaseSkill,
			Message:  fmt.Sprintf("Purchased %s (%s) for %d CP", sk.Name, h.Name, offer.Cost),
			Target:   d.Target.String(),
			Cost:     offer.Cost,
			Metadata: map[string]string{"header": rules.HeaderTarget(header).String()},
		}, nil
	})
}

// Override adds a header or skill with no prerequisite check and no cost.
// It needs the override permission and is audited separately from
// purchases.
func (s *Service) Override(ctx context.Context, characterID string, target rules.TargetRef, header catalog.HeaderID, reason string) (*Result, error) {
	return s.mutate(ctx, "override", characterID, func(ctx context.Context, _ store.Tx, a auth.Actor, c *ledger.Character, _ *Result) (audit.Entry, error) {
		if err := requirePermission(a, auth.PermOverride); err != nil {
			return audit.Entry{}, err
		}
		var msg string
		switch target.Kind {
		case rules.KindHeader:
			h, ok := s.cat.Header(target.HeaderID())
			if !ok {
				return audit.Entry{}, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
			}
			c.GrantHeader(h.ID)
			msg = "Override: added header " + h.Name
		case rules.KindSkill:
			sk, ok := s.cat.Skill(target.SkillID())
			if !ok || !s.cat.InHeader(sk.ID, header) {
				return audit.Entry{}, fmt.Errorf("%w: %s under header %d", ErrUnknownTarget, target, header)
			}
			c.GrantSkill(sk.ID, header)
			msg = "Override: added skill " + sk.Name
		default:
			return audit.Entry{}, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
		}
		return audit.Entry{
			Action:   audit.ActionOverride,
			Message:  msg,
			Target:   target.String(),
			Metadata: map[string]string{"reason": reason},
		}, nil
	})
}
