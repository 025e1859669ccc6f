// Package catalog holds the static game data characters are built from:
// origins, headers, skills and the cost of each skill under each header.
// A Catalog is immutable once built and safe for concurrent readers.
package catalog

import (
	"fmt"
	"strings"
)

// OriginID identifies an origin (background or race).
type OriginID int64

// HeaderID identifies a header (skill category).
type HeaderID int64

// SkillID identifies a skill.
type SkillID int64

// OriginCategory distinguishes backgrounds from races.
type OriginCategory string

const (
	CategoryBackground OriginCategory = "BACKGROUND"
	CategoryRace       OriginCategory = "RACE"
)

// IsValid reports whether c is a known origin category.
func (c OriginCategory) IsValid() bool {
	return c == CategoryBackground || c == CategoryRace
}

// ParseOriginCategory accepts either category in any case.
func ParseOriginCategory(s string) (OriginCategory, error) {
	c := OriginCategory(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("catalog: unknown origin category %q", s)
	}
	return c, nil
}

// GrantKind is the kind of thing an origin hands out for free.
type GrantKind string

const (
	GrantSkill  GrantKind = "skill"
	GrantHeader GrantKind = "header"
)

// GrantRef is a free skill or header that comes with an origin.
// HeaderID is the header a granted skill is recorded under.
type GrantRef struct {
	Kind     GrantKind `json:"kind"`
	TargetID int64     `json:"target_id"`
	HeaderID HeaderID  `json:"header_id,omitempty"`
}

// Origin is a background or race a character may hold, one per category.
type Origin struct {
	ID          OriginID       `json:"id"`
	Category    OriginCategory `json:"category"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Grants      []GrantRef     `json:"grants,omitempty"`
}

// Header is a skill category. Hidden headers are listed after visible ones.
type Header struct {
	ID          HeaderID `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Hidden      bool     `json:"hidden"`
	Description string   `json:"description,omitempty"`
}

// Skill is a purchasable ability.
type Skill struct {
	ID          SkillID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
}

// HeaderSkill offers a skill under a header at a cost.
type HeaderSkill struct {
	HeaderID     HeaderID `json:"header_id"`
	SkillID      SkillID  `json:"skill_id"`
	Cost         int      `json:"cost"`
	MaxPurchases int      `json:"max_purchases,omitempty"` // 0 = unlimited
}
