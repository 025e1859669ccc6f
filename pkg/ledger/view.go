package ledger

import (
	"strconv"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

var _ rules.State = View{}

// View adapts a character to the rule evaluator. Header membership for
// distinct-skill counts comes from the catalog.
type View struct {
	c   *Character
	cat *catalog.Catalog
}

func (c *Character) View(cat *catalog.Catalog) View {
	return View{c: c, cat: cat}
}

func (v View) OwnsOrigin(id catalog.OriginID) bool  { return v.c.OwnsOrigin(id) }
func (v View) OwnsHeader(id catalog.HeaderID) bool  { return v.c.OwnsHeader(id) }
func (v View) PurchaseCount(id catalog.SkillID) int { return v.c.PurchaseCount(id) }

func (v View) PointsSpent(scope *catalog.HeaderID) int {
	return v.c.TotalPointsSpent(scope)
}

// DistinctSkills counts skills held that are offered under scope, or every
// held skill when scope is nil.
func (v View) DistinctSkills(scope *catalog.HeaderID) int {
	n := 0
	for id, s := range v.c.Skills {
		if s.Count() == 0 {
			continue
		}
		if scope == nil || v.cat.InHeader(id, *scope) {
			n++
		}
	}
	return n
}

// DistinctSkillsIn is DistinctSkills scoped to one header.
func (v View) DistinctSkillsIn(h catalog.HeaderID) int {
	return v.DistinctSkills(&h)
}

// Purchases sums units held under scope, or all units when scope is nil.
func (v View) Purchases(scope *catalog.HeaderID) int {
	n := 0
	for _, s := range v.c.Skills {
		if scope == nil {
			n += s.Count()
		} else {
			n += s.CountUnder(*scope)
		}
	}
	return n
}

// Facts is the map exposed to expression rules as "character".
func (v View) Facts() map[string]any {
	origins := make([]int64, 0, len(v.c.Origins))
	for _, id := range v.c.OriginIDs() {
		origins = append(origins, int64(id))
	}
	headers := make([]int64, 0, len(v.c.Headers))
	for _, id := range v.c.HeaderIDs() {
		headers = append(headers, int64(id))
	}
	skills := make(map[string]any, len(v.c.Skills))
	for id, s := range v.c.Skills {
		if n := s.Count(); n > 0 {
			skills[strconv.FormatInt(int64(id), 10)] = int64(n)
		}
	}
	return map[string]any{
		"id":             v.c.ID,
		"status":         string(v.c.Status),
		"npc":            v.c.NPC,
		"origins":        origins,
		"headers":        headers,
		"skills":         skills,
		"cp_spent":       int64(v.c.CPSpent),
		"cp_available":   int64(v.c.CPAvailable),
		"cp_transferred": int64(v.c.CPTransferred),
		"cp_remaining":   int64(v.c.Remaining()),
	}
}
