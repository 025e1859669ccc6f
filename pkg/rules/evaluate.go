package rules

import (
	"fmt"
)

// Values of Unmet.RefKind.
const (
	RefOrigin = "origin"
	RefHeader = "header"
	RefSkill  = "skill"
)

// Evaluate checks a single prerequisite and returns every unmet condition.
// An empty result means the rule holds. expr may be nil when no rule
// carries an expression.
func Evaluate(p Prerequisite, s State, expr ExpressionEvaluator) []Unmet {
	var unmet []Unmet
	fail := func(u Unmet) {
		u.RuleID = p.ID
		unmet = append(unmet, u)
	}

	if p.Origin != nil && !s.OwnsOrigin(*p.Origin) {
		fail(Unmet{Kind: CondOrigin, Ref: int64(*p.Origin), RefKind: RefOrigin,
			Message: fmt.Sprintf("requires origin %d", *p.Origin)})
	}

	if p.Header != nil && !s.OwnsHeader(*p.Header) {
		fail(Unmet{Kind: CondHeader, Ref: int64(*p.Header), RefKind: RefHeader,
			Message: fmt.Sprintf("requires header %d", *p.Header)})
	}

	if p.Skill != nil && s.PurchaseCount(*p.Skill) < 1 {
		fail(Unmet{Kind: CondSkill, Ref: int64(*p.Skill), RefKind: RefSkill, Required: 1,
			Message: fmt.Sprintf("requires skill %d", *p.Skill)})
	}

	if p.NumberOfDifferentSkills != nil {
		have := s.DistinctSkills(p.Header)
		if have < *p.NumberOfDifferentSkills {
			u := Unmet{Kind: CondDifferentSkills, Required: *p.NumberOfDifferentSkills, Actual: have}
			if p.Header != nil {
				u.Ref, u.RefKind = int64(*p.Header), RefHeader
				u.Message = fmt.Sprintf("requires %d different skills in header %d, has %d", u.Required, *p.Header, have)
			} else {
				u.Message = fmt.Sprintf("requires %d different skills, has %d", u.Required, have)
			}
			fail(u)
		}
	}

	if p.NumberOfPurchases != nil {
		var have int
		u := Unmet{Kind: CondPurchases, Required: *p.NumberOfPurchases}
		switch {
		case p.Skill != nil:
			have = s.PurchaseCount(*p.Skill)
			u.Ref, u.RefKind = int64(*p.Skill), RefSkill
			u.Message = fmt.Sprintf("requires %d purchases of skill %d, has %d", u.Required, *p.Skill, have)
		case p.Header != nil:
			have = s.Purchases(p.Header)
			u.Ref, u.RefKind = int64(*p.Header), RefHeader
			u.Message = fmt.Sprintf("requires %d purchases in header %d, has %d", u.Required, *p.Header, have)
		default:
			have = s.Purchases(nil)
			u.Message = fmt.Sprintf("requires %d purchases, has %d", u.Required, have)
		}
		if have < *p.NumberOfPurchases {
			u.Actual = have
			fail(u)
		}
	}

	if p.Points != nil {
		have := s.PointsSpent(p.Header)
		if have < *p.Points {
			u := Unmet{Kind: CondPoints, Required: *p.Points, Actual: have}
			if p.Header != nil {
				u.Ref, u.RefKind = int64(*p.Header), RefHeader
				u.Message = fmt.Sprintf("requires %d points spent in header %d, has %d", u.Required, *p.Header, have)
			} else {
				u.Message = fmt.Sprintf("requires %d points spent, has %d", u.Required, have)
			}
			fail(u)
		}
	}

	if p.Expression != "" {
		if expr == nil {
			fail(Unmet{Kind: CondExpression, Message: "expression rules are not enabled"})
		} else if ok, err := expr.Evaluate(p.Expression, s.Facts()); err != nil {
			fail(Unmet{Kind: CondExpression, Message: err.Error()})
		} else if !ok {
			msg := p.Description
			if msg == "" {
				msg = fmt.Sprintf("requires %s", p.Expression)
			}
			fail(Unmet{Kind: CondExpression, Message: msg})
		}
	}

	return unmet
}

// EvaluateAll conjoins the rules and returns every unmet condition across
// them. No rules, or only empty rules, means eligible.
func EvaluateAll(rules []Prerequisite, s State, expr ExpressionEvaluator) []Unmet {
	var unmet []Unmet
	for _, p := range rules {
		unmet = append(unmet, Evaluate(p, s, expr)...)
	}
	return unmet
}

// Satisfied stops at the first failing rule.
func Satisfied(rules []Prerequisite, s State, expr ExpressionEvaluator) bool {
	for _, p := range rules {
		if len(Evaluate(p, s, expr)) > 0 {
			return false
		}
	}
	return true
}
