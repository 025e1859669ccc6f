// Package rules models prerequisites attached to headers and skills and
// evaluates them against a read-only view of a character.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
)

var (
	ErrInvalidTarget = errors.New("rules: invalid target")
	ErrInvalidRule   = errors.New("rules: invalid prerequisite")
)

// TargetKind tags what a prerequisite gates.
type TargetKind string

const (
	KindHeader TargetKind = "header"
	KindSkill  TargetKind = "skill"
)

// ParseTargetKind accepts "header" or "skill" in any case.
func ParseTargetKind(s string) (TargetKind, error) {
	switch TargetKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindHeader:
		return KindHeader, nil
	case KindSkill:
		return KindSkill, nil
	}
	return "", fmt.Errorf("%w: kind %q", ErrInvalidTarget, s)
}

// TargetRef names a header or a skill.
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   int64      `json:"id"`
}

func HeaderTarget(id catalog.HeaderID) TargetRef {
	return TargetRef{Kind: KindHeader, ID: int64(id)}
}

func SkillTarget(id catalog.SkillID) TargetRef {
	return TargetRef{Kind: KindSkill, ID: int64(id)}
}

func (t TargetRef) IsHeader() bool { return t.Kind == KindHeader }
func (t TargetRef) IsSkill() bool  { return t.Kind == KindSkill }

func (t TargetRef) HeaderID() catalog.HeaderID { return catalog.HeaderID(t.ID) }
func (t TargetRef) SkillID() catalog.SkillID   { return catalog.SkillID(t.ID) }

func (t TargetRef) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// Validate checks the tag.
func (t TargetRef) Validate() error {
	if t.Kind != KindHeader && t.Kind != KindSkill {
		return fmt.Errorf("%w: kind %q", ErrInvalidTarget, t.Kind)
	}
	return nil
}

// Prerequisite is one rule attached to a target. Every set field is a
// requirement; unset fields impose nothing. A target is eligible only when
// all of its prerequisites hold.
type Prerequisite struct {
	ID                      string            `json:"id"`
	Target                  TargetRef         `json:"target"`
	Description             string            `json:"description,omitempty"`
	Origin                  *catalog.OriginID `json:"origin,omitempty"`
	Header                  *catalog.HeaderID `json:"header,omitempty"`
	Skill                   *catalog.SkillID  `json:"skill,omitempty"`
	NumberOfDifferentSkills *int              `json:"number_of_different_skills,omitempty"`
	NumberOfPurchases       *int              `json:"number_of_purchases,omitempty"`
	Points                  *int              `json:"points,omitempty"`
	Expression              string            `json:"expression,omitempty"` // CEL over the character's facts
}

// IsEmpty reports whether the rule constrains nothing.
func (p Prerequisite) IsEmpty() bool {
	return p.Origin == nil && p.Header == nil && p.Skill == nil &&
		p.NumberOfDifferentSkills == nil && p.NumberOfPurchases == nil &&
		p.Points == nil && p.Expression == ""
}

// Validate rejects structurally invalid rules.
func (p Prerequisite) Validate() error {
	if err := p.Target.Validate(); err != nil {
		return err
	}
	for name, v := range map[string]*int{
		"number_of_different_skills": p.NumberOfDifferentSkills,
		"number_of_purchases":        p.NumberOfPurchases,
		"points":                     p.Points,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s is negative in %s", ErrInvalidRule, name, p.ID)
		}
	}
	return nil
}

// ConditionKind identifies which field of a prerequisite failed.
type ConditionKind string

const (
	CondOrigin          ConditionKind = "origin"
	CondHeader          ConditionKind = "header"
	CondSkill           ConditionKind = "skill"
	CondDifferentSkills ConditionKind = "different_skills"
	CondPurchases       ConditionKind = "purchases"
	CondPoints          ConditionKind = "points"
	CondExpression      ConditionKind = "expression"
)

// Unmet describes one failed condition.
type Unmet struct {
	RuleID   string        `json:"rule_id"`
	Kind     ConditionKind `json:"kind"`
	Ref      int64         `json:"ref,omitempty"`
	RefKind  string        `json:"ref_kind,omitempty"` // origin, header or skill
	Required int           `json:"required,omitempty"`
	Actual   int           `json:"actual,omitempty"`
	Message  string        `json:"message"`
}

// UnmetError carries the failed conditions of a denied target.
type UnmetError struct {
	Target TargetRef
	Unmet  []Unmet
}

func (e *UnmetError) Error() string {
	msgs := make([]string, 0, len(e.Unmet))
	for _, u := range e.Unmet {
		msgs = append(msgs, u.Message)
	}
	return fmt.Sprintf("prerequisites not met for %s: %s", e.Target, strings.Join(msgs, "; "))
}

// State is the read view of a character that rules are evaluated against.
// A nil scope means the whole character.
type State interface {
	OwnsOrigin(catalog.OriginID) bool
	OwnsHeader(catalog.HeaderID) bool
	PurchaseCount(catalog.SkillID) int
	DistinctSkills(scope *catalog.HeaderID) int
	Purchases(scope *catalog.HeaderID) int
	PointsSpent(scope *catalog.HeaderID) int
	Facts() map[string]any
}

// Source yields the prerequisites attached to a target.
type Source interface {
	AppliesTo(target TargetRef) []Prerequisite
}

// ExpressionEvaluator evaluates a boolean expression against facts.
type ExpressionEvaluator interface {
	Evaluate(expression string, facts map[string]any) (bool, error)
}
