package eligibility

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

// propCatalog has headers 1..4 and skills 10..17, two skills per header.
func propCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	b := catalog.NewBuilder()
	for h := 1; h <= 4; h++ {
		b.AddHeader(catalog.Header{ID: catalog.HeaderID(h), Name: string(rune('A' + h))})
	}
	for s := 10; s < 18; s++ {
		b.AddSkill(catalog.Skill{ID: catalog.SkillID(s), Name: string(rune('a' + s))})
		b.Offer(catalog.HeaderID(1+(s-10)/2), catalog.SkillID(s), 1+s%3)
	}
	b.AddOrigin(catalog.Origin{ID: 1, Category: catalog.CategoryRace, Name: "Elf"})
	b.AddOrigin(catalog.Origin{ID: 2, Category: catalog.CategoryRace, Name: "Human"})
	cat, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

// buildCharacter turns generated numbers into a character: an origin, a
// set of headers, and purchases.
func buildCharacter(cat *catalog.Catalog, origin int, headerMask int, buys []int) *ledger.Character {
	c := ledger.New("c", "p", "n")
	c.CPAvailable = 1000
	if o, ok := cat.Origin(catalog.OriginID(origin)); ok {
		_ = c.AddOrigin(o)
	}
	for h := 1; h <= 4; h++ {
		if headerMask&(1<<h) != 0 {
			_ = c.AddHeader(catalog.HeaderID(h))
		}
	}
	for _, b := range buys {
		s := catalog.SkillID(10 + b%8)
		h := catalog.HeaderID(1 + (int(s)-10)/2)
		offer, _ := cat.Offering(h, s)
		_ = c.ApplyPurchase(offer)
	}
	return c
}

func TestEligibilityProperties(t *testing.T) {
	cat := propCatalog(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genOrigin := gen.IntRange(0, 2)
	genMask := gen.IntRange(0, 31)
	genBuys := gen.SliceOf(gen.IntRange(0, 7))

	properties.Property("headers without rules are always allowed", prop.ForAll(
		func(origin, mask int, buys []int) bool {
			c := buildCharacter(cat, origin, mask, buys)
			e := New(cat, rules.NewSet(), nil)
			for _, h := range cat.Headers() {
				d, err := e.CanAcquire(c, h.ID)
				if err != nil || !d.Allowed {
					return false
				}
			}
			return true
		},
		genOrigin, genMask, genBuys,
	))

	properties.Property("origin rule holds iff the origin is owned", prop.ForAll(
		func(origin, mask int, buys []int, required int) bool {
			c := buildCharacter(cat, origin, mask, buys)
			set := rules.NewSet()
			o := catalog.OriginID(required)
			_ = set.Add(rules.Prerequisite{ID: "o", Target: rules.HeaderTarget(3), Origin: &o})
			d, err := New(cat, set, nil).CanAcquire(c, 3)
			return err == nil && d.Allowed == c.OwnsOrigin(o)
		},
		genOrigin, genMask, genBuys, gen.IntRange(1, 2),
	))

	properties.Property("distinct-skill rule implies the count", prop.ForAll(
		func(origin, mask int, buys []int, n int, scope int) bool {
			c := buildCharacter(cat, origin, mask, buys)
			set := rules.NewSet()
			h := catalog.HeaderID(scope)
			_ = set.Add(rules.Prerequisite{ID: "d", Target: rules.HeaderTarget(4), NumberOfDifferentSkills: &n, Header: &h})
			d, err := New(cat, set, nil).CanAcquire(c, 4)
			if err != nil {
				return false
			}
			if d.Allowed {
				return c.View(cat).DistinctSkillsIn(h) >= n
			}
			return true
		},
		genOrigin, genMask, genBuys, gen.IntRange(0, 3), gen.IntRange(1, 4),
	))

	properties.Property("evaluation is idempotent", prop.ForAll(
		func(origin, mask int, buys []int, points, purchases int) bool {
			c := buildCharacter(cat, origin, mask, buys)
			set := rules.NewSet()
			h := catalog.HeaderID(1)
			_ = set.Add(rules.Prerequisite{ID: "p", Target: rules.HeaderTarget(2), Points: &points})
			_ = set.Add(rules.Prerequisite{ID: "q", Target: rules.HeaderTarget(2), Header: &h, NumberOfPurchases: &purchases})
			e := New(cat, set, nil)
			before := c.Clone()
			d1, err1 := e.CanAcquire(c, 2)
			d2, err2 := e.CanAcquire(c, 2)
			return err1 == nil && err2 == nil && reflect.DeepEqual(d1, d2) && reflect.DeepEqual(before, c)
		},
		genOrigin, genMask, genBuys, gen.IntRange(0, 20), gen.IntRange(0, 5),
	))

	properties.Property("rules are conjunctive", prop.ForAll(
		func(origin, mask int, buys []int, points, distinct int) bool {
			c := buildCharacter(cat, origin, mask, buys)
			h := catalog.HeaderID(2)
			a := rules.Prerequisite{ID: "a", Target: rules.HeaderTarget(1), Points: &points}
			b := rules.Prerequisite{ID: "b", Target: rules.HeaderTarget(1), Header: &h, NumberOfDifferentSkills: &distinct}

			both := rules.NewSet()
			_ = both.Add(a)
			_ = both.Add(b)
			onlyA, onlyB := rules.NewSet(), rules.NewSet()
			_ = onlyA.Add(a)
			_ = onlyB.Add(b)

			dBoth, _ := New(cat, both, nil).CanAcquire(c, 1)
			dA, _ := New(cat, onlyA, nil).CanAcquire(c, 1)
			dB, _ := New(cat, onlyB, nil).CanAcquire(c, 1)
			return dBoth.Allowed == (dA.Allowed && dB.Allowed)
		},
		genOrigin, genMask, genBuys, gen.IntRange(0, 15), gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
