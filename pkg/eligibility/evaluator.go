// Package eligibility decides whether a character may acquire a header or a
// skill. Evaluation is pure: it reads the catalog, the rule source and the
// character passed in, and never performs I/O.
package eligibility

import (
	"errors"
	"fmt"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

// ErrUnknownTarget is returned for headers or skills the catalog does not
// hold, and for skills not offered under the given header.
var ErrUnknownTarget = errors.New("eligibility: unknown target")

// Decision is the outcome of one eligibility check.
type Decision struct {
	Target     rules.TargetRef  `json:"target"`
	HeaderID   catalog.HeaderID `json:"header_id,omitempty"`
	Allowed    bool             `json:"allowed"`
	Unmet      []rules.Unmet    `json:"unmet,omitempty"`
	Cost       int              `json:"cost"`
	Remaining  int              `json:"remaining"`
	Affordable bool             `json:"affordable"`
}

// Err returns nil for an allowed decision, otherwise an *rules.UnmetError.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &rules.UnmetError{Target: d.Target, Unmet: d.Unmet}
}

// Evaluator applies prerequisites to characters.
type Evaluator struct {
	cat  *catalog.Catalog
	src  rules.Source
	expr rules.ExpressionEvaluator
}

// New builds an evaluator. expr may be nil when no rule uses expressions.
func New(cat *catalog.Catalog, src rules.Source, expr rules.ExpressionEvaluator) *Evaluator {
	return &Evaluator{cat: cat, src: src, expr: expr}
}

func (e *Evaluator) Catalog() *catalog.Catalog { return e.cat }

// CanAcquire decides whether c may open header. Headers cost nothing.
func (e *Evaluator) CanAcquire(c *ledger.Character, header catalog.HeaderID) (Decision, error) {
	if _, ok := e.cat.Header(header); !ok {
		return Decision{}, fmt.Errorf("%w: header %d", ErrUnknownTarget, header)
	}
	target := rules.HeaderTarget(header)
	d := Decision{
		Target:     target,
		HeaderID:   header,
		Remaining:  c.Remaining(),
		Affordable: true,
	}
	d.Unmet = e.describe(rules.EvaluateAll(e.src.AppliesTo(target), c.View(e.cat), e.expr))
	d.Allowed = len(d.Unmet) == 0
	return d, nil
}

// CanAcquireSkill decides whether c may buy skill under header. The rules
// attached to the skill are evaluated the same way header rules are. Cost
// is reported separately: an unaffordable skill can still be allowed.
func (e *Evaluator) CanAcquireSkill(c *ledger.Character, skill catalog.SkillID, header catalog.HeaderID) (Decision, error) {
	if _, ok := e.cat.Skill(skill); !ok {
		return Decision{}, fmt.Errorf("%w: skill %d", ErrUnknownTarget, skill)
	}
	if _, ok := e.cat.Header(header); !ok {
		return Decision{}, fmt.Errorf("%w: header %d", ErrUnknownTarget, header)
	}
	cost, ok := e.cat.Cost(header, skill)
	if !ok {
		return Decision{}, fmt.Errorf("%w: skill %d is not offered under header %d", ErrUnknownTarget, skill, header)
	}
	target := rules.SkillTarget(skill)
	d := Decision{
		Target:     target,
		HeaderID:   header,
		Cost:       cost,
		Remaining:  c.Remaining(),
		Affordable: c.Remaining() >= cost,
	}
	d.Unmet = e.describe(rules.EvaluateAll(e.src.AppliesTo(target), c.View(e.cat), e.expr))
	d.Allowed = len(d.Unmet) == 0
	return d, nil
}

// Evaluate dispatches on the target's tag. header is only used for skills.
func (e *Evaluator) Evaluate(c *ledger.Character, target rules.TargetRef, header catalog.HeaderID) (Decision, error) {
	switch target.Kind {
	case rules.KindHeader:
		return e.CanAcquire(c, target.HeaderID())
	case rules.KindSkill:
		return e.CanAcquireSkill(c, target.SkillID(), header)
	}
	return Decision{}, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
}

// describe rewrites id-based messages with catalog names.
func (e *Evaluator) describe(unmet []rules.Unmet) []rules.Unmet {
	for i := range unmet {
		u := &unmet[i]
		name, ok := e.refName(u)
		if !ok {
			continue
		}
		switch u.Kind {
		case rules.CondOrigin, rules.CondHeader, rules.CondSkill:
			u.Message = fmt.Sprintf("requires %s", name)
		case rules.CondDifferentSkills:
			u.Message = fmt.Sprintf("requires %d different skills in %s (has %d)", u.Required, name, u.Actual)
		case rules.CondPurchases:
			if u.RefKind == rules.RefSkill {
				u.Message = fmt.Sprintf("requires %d purchases of %s (has %d)", u.Required, name, u.Actual)
			} else {
				u.Message = fmt.Sprintf("requires %d purchases in %s (has %d)", u.Required, name, u.Actual)
			}
		case rules.CondPoints:
			u.Message = fmt.Sprintf("requires %d points spent in %s (has %d)", u.Required, name, u.Actual)
		}
	}
	return unmet
}

func (e *Evaluator) refName(u *rules.Unmet) (string, bool) {
	switch u.RefKind {
	case rules.RefOrigin:
		if o, ok := e.cat.Origin(catalog.OriginID(u.Ref)); ok {
			return o.Name, true
		}
	case rules.RefHeader:
		if h, ok := e.cat.Header(catalog.HeaderID(u.Ref)); ok {
			return h.Name, true
		}
	case rules.RefSkill:
		if s, ok := e.cat.Skill(catalog.SkillID(u.Ref)); ok {
			return s.Name, true
		}
	}
	return "", false
}

// HeaderOption is one header as offered to a character.
type HeaderOption struct {
	Header   catalog.Header `json:"header"`
	Owned    bool           `json:"owned"`
	Decision Decision       `json:"decision"`
}

// SkillOption is one skill under an owned header.
type SkillOption struct {
	Skill    catalog.Skill    `json:"skill"`
	HeaderID catalog.HeaderID `json:"header_id"`
	Cost     int              `json:"cost"`
	Count    int              `json:"count"`
	Decision Decision         `json:"decision"`
}

// Options is everything a character could take next.
type Options struct {
	CharacterID string             `json:"character_id"`
	Remaining   int                `json:"remaining"`
	Headers     []HeaderOption     `json:"headers"`
	Skills      []SkillOption      `json:"skills"`
	Grants      []grants.Available `json:"grants"`
}

// Options lists every header in catalog order with its decision, every
// skill under the character's headers, and the grants it can exercise.
func (e *Evaluator) Options(c *ledger.Character, available []grants.Available) Options {
	opts := Options{
		CharacterID: c.ID,
		Remaining:   c.Remaining(),
		Grants:      available,
	}
	for _, h := range e.cat.Headers() {
		owned := c.OwnsHeader(h.ID)
		if h.Hidden && !owned {
			continue
		}
		d, err := e.CanAcquire(c, h.ID)
		if err != nil {
			continue
		}
		opts.Headers = append(opts.Headers, HeaderOption{Header: h, Owned: owned, Decision: d})
		if !owned {
			continue
		}
		for _, s := range e.cat.SkillsOf(h.ID) {
			sd, err := e.CanAcquireSkill(c, s.ID, h.ID)
			if err != nil {
				continue
			}
			opts.Skills = append(opts.Skills, SkillOption{
				Skill:    s,
				HeaderID: h.ID,
				Cost:     sd.Cost,
				Count:    c.PurchaseCount(s.ID),
				Decision: sd,
			})
		}
	}
	return opts
}
