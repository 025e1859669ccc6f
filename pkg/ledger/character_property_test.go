package ledger

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
)

// TestSpentNeverExceedsAvailable drives random purchase sequences.
// Property: after every call, cp_spent <= cp_available, and a rejected
// purchase changes nothing.
func TestSpentNeverExceedsAvailable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cp_spent stays within cp_available", prop.ForAll(
		func(available int, costs []int) bool {
			c := New("c", "p", "n")
			c.CPAvailable = available
			for i, cost := range costs {
				before := c.CPSpent
				err := c.ApplyPurchase(catalog.HeaderSkill{HeaderID: 1, SkillID: catalog.SkillID(i % 4), Cost: cost})
				if err != nil && c.CPSpent != before {
					return false
				}
				if err == nil && c.CPSpent != before+cost {
					return false
				}
				if c.CPSpent > c.CPAvailable {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
		gen.SliceOf(gen.IntRange(0, 12)),
	))

	properties.Property("purchase succeeds iff remaining covers cost", prop.ForAll(
		func(available, spent, cost int) bool {
			c := New("c", "p", "n")
			c.CPAvailable = available + spent
			c.CPSpent = spent
			err := c.ApplyPurchase(catalog.HeaderSkill{HeaderID: 1, SkillID: 1, Cost: cost})
			return (err == nil) == (available >= cost)
		},
		gen.IntRange(0, 30),
		gen.IntRange(0, 30),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}
