package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrDuplicateID    = errors.New("catalog: duplicate id")
	ErrDuplicateName  = errors.New("catalog: duplicate name")
	ErrDanglingRef    = errors.New("catalog: reference to unknown entry")
	ErrInvalidOffer   = errors.New("catalog: invalid offering")
	ErrInvalidOrigin  = errors.New("catalog: invalid origin")
	ErrInvalidElement = errors.New("catalog: invalid element")
)

type offerKey struct {
	header HeaderID
	skill  SkillID
}

// Catalog is the read-only view over origins, headers, skills and costs.
type Catalog struct {
	origins map[OriginID]Origin
	headers map[HeaderID]Header
	skills  map[SkillID]Skill
	offers  map[offerKey]HeaderSkill

	orderedHeaders []Header
	skillsOf       map[HeaderID][]Skill
	headersOf      map[SkillID][]HeaderID

	originByName map[string]OriginID
	headerByName map[string]HeaderID
	skillByName  map[string]SkillID
}

var folder = cases.Fold()

// NameKey normalizes a display name for lookups: NFC, trimmed, case folded.
func NameKey(name string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(name)))
}

// NormalizeName returns the NFC form of a display name with surrounding
// whitespace removed.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Cost returns the point cost of buying skill under header. The second
// return is false when the skill is not offered under that header.
func (c *Catalog) Cost(header HeaderID, skill SkillID) (int, bool) {
	o, ok := c.offers[offerKey{header, skill}]
	if !ok {
		return 0, false
	}
	return o.Cost, true
}

// Offering returns the full header/skill row.
func (c *Catalog) Offering(header HeaderID, skill SkillID) (HeaderSkill, bool) {
	o, ok := c.offers[offerKey{header, skill}]
	return o, ok
}

// InHeader reports whether skill is offered under header.
func (c *Catalog) InHeader(skill SkillID, header HeaderID) bool {
	_, ok := c.offers[offerKey{header, skill}]
	return ok
}

// Headers returns every header ordered by hidden flag, category, then name.
func (c *Catalog) Headers() []Header {
	out := make([]Header, len(c.orderedHeaders))
	copy(out, c.orderedHeaders)
	return out
}

// SkillsOf returns the skills offered under header, ordered by name.
func (c *Catalog) SkillsOf(header HeaderID) []Skill {
	src := c.skillsOf[header]
	out := make([]Skill, len(src))
	copy(out, src)
	return out
}

// HeadersOf returns the headers a skill is offered under.
func (c *Catalog) HeadersOf(skill SkillID) []HeaderID {
	src := c.headersOf[skill]
	out := make([]HeaderID, len(src))
	copy(out, src)
	return out
}

func (c *Catalog) Origin(id OriginID) (Origin, bool) {
	o, ok := c.origins[id]
	return o, ok
}

func (c *Catalog) Header(id HeaderID) (Header, bool) {
	h, ok := c.headers[id]
	return h, ok
}

func (c *Catalog) Skill(id SkillID) (Skill, bool) {
	s, ok := c.skills[id]
	return s, ok
}

// Origins returns all origins ordered by category then name.
func (c *Catalog) Origins() []Origin {
	out := make([]Origin, 0, len(c.origins))
	for _, o := range c.origins {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return NameKey(out[i].Name) < NameKey(out[j].Name)
	})
	return out
}

func (c *Catalog) OriginByName(name string) (Origin, bool) {
	id, ok := c.originByName[NameKey(name)]
	if !ok {
		return Origin{}, false
	}
	return c.origins[id], true
}

func (c *Catalog) HeaderByName(name string) (Header, bool) {
	id, ok := c.headerByName[NameKey(name)]
	if !ok {
		return Header{}, false
	}
	return c.headers[id], true
}

func (c *Catalog) SkillByName(name string) (Skill, bool) {
	id, ok := c.skillByName[NameKey(name)]
	if !ok {
		return Skill{}, false
	}
	return c.skills[id], true
}

// SkillHash returns a copy of the cost table keyed by header then skill.
func (c *Catalog) SkillHash() map[HeaderID]map[SkillID]int {
	out := make(map[HeaderID]map[SkillID]int, len(c.skillsOf))
	for k, o := range c.offers {
		m, ok := out[k.header]
		if !ok {
			m = make(map[SkillID]int)
			out[k.header] = m
		}
		m[k.skill] = o.Cost
	}
	return out
}

// Counts returns the number of origins, headers, skills and offerings.
func (c *Catalog) Counts() (origins, headers, skills, offers int) {
	return len(c.origins), len(c.headers), len(c.skills), len(c.offers)
}

// Builder accumulates catalog entries and validates them on Build.
// A Builder is not safe for concurrent use.
type Builder struct {
	origins []Origin
	headers []Header
	skills  []Skill
	offers  []HeaderSkill
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) AddOrigin(o Origin) *Builder {
	b.origins = append(b.origins, o)
	return b
}

func (b *Builder) AddHeader(h Header) *Builder {
	b.headers = append(b.headers, h)
	return b
}

func (b *Builder) AddSkill(s Skill) *Builder {
	b.skills = append(b.skills, s)
	return b
}

// Offer lists skill under header at cost.
func (b *Builder) Offer(header HeaderID, skill SkillID, cost int) *Builder {
	b.offers = append(b.offers, HeaderSkill{HeaderID: header, SkillID: skill, Cost: cost})
	return b
}

// OfferRow lists a fully specified header/skill row.
func (b *Builder) OfferRow(row HeaderSkill) *Builder {
	b.offers = append(b.offers, row)
	return b
}

// Build validates the accumulated entries and returns an immutable Catalog.
func (b *Builder) Build() (*Catalog, error) {
	c := &Catalog{
		origins:      make(map[OriginID]Origin, len(b.origins)),
		headers:      make(map[HeaderID]Header, len(b.headers)),
		skills:       make(map[SkillID]Skill, len(b.skills)),
		offers:       make(map[offerKey]HeaderSkill, len(b.offers)),
		skillsOf:     make(map[HeaderID][]Skill),
		headersOf:    make(map[SkillID][]HeaderID),
		originByName: make(map[string]OriginID, len(b.origins)),
		headerByName: make(map[string]HeaderID, len(b.headers)),
		skillByName:  make(map[string]SkillID, len(b.skills)),
	}

	for _, h := range b.headers {
		h.Name = NormalizeName(h.Name)
		h.Category = NormalizeName(h.Category)
		if h.Name == "" {
			return nil, fmt.Errorf("%w: header %d has no name", ErrInvalidElement, h.ID)
		}
		if _, dup := c.headers[h.ID]; dup {
			return nil, fmt.Errorf("%w: header %d", ErrDuplicateID, h.ID)
		}
		key := NameKey(h.Name)
		if _, dup := c.headerByName[key]; dup {
			return nil, fmt.Errorf("%w: header %q", ErrDuplicateName, h.Name)
		}
		c.headers[h.ID] = h
		c.headerByName[key] = h.ID
	}

	for _, s := range b.skills {
		s.Name = NormalizeName(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("%w: skill %d has no name", ErrInvalidElement, s.ID)
		}
		if _, dup := c.skills[s.ID]; dup {
			return nil, fmt.Errorf("%w: skill %d", ErrDuplicateID, s.ID)
		}
		key := NameKey(s.Name)
		if _, dup := c.skillByName[key]; dup {
			return nil, fmt.Errorf("%w: skill %q", ErrDuplicateName, s.Name)
		}
		c.skills[s.ID] = s
		c.skillByName[key] = s.ID
	}

	for _, o := range b.offers {
		if _, ok := c.headers[o.HeaderID]; !ok {
			return nil, fmt.Errorf("%w: offering names header %d", ErrDanglingRef, o.HeaderID)
		}
		if _, ok := c.skills[o.SkillID]; !ok {
			return nil, fmt.Errorf("%w: offering names skill %d", ErrDanglingRef, o.SkillID)
		}
		if o.Cost < 0 || o.MaxPurchases < 0 {
			return nil, fmt.Errorf("%w: header %d skill %d", ErrInvalidOffer, o.HeaderID, o.SkillID)
		}
		k := offerKey{o.HeaderID, o.SkillID}
		if _, dup := c.offers[k]; dup {
			return nil, fmt.Errorf("%w: header %d skill %d offered twice", ErrDuplicateID, o.HeaderID, o.SkillID)
		}
		c.offers[k] = o
		c.skillsOf[o.HeaderID] = append(c.skillsOf[o.HeaderID], c.skills[o.SkillID])
		c.headersOf[o.SkillID] = append(c.headersOf[o.SkillID], o.HeaderID)
	}

	for _, o := range b.origins {
		o.Name = NormalizeName(o.Name)
		if !o.Category.IsValid() || o.Name == "" {
			return nil, fmt.Errorf("%w: %d %q", ErrInvalidOrigin, o.ID, o.Name)
		}
		if _, dup := c.origins[o.ID]; dup {
			return nil, fmt.Errorf("%w: origin %d", ErrDuplicateID, o.ID)
		}
		key := NameKey(o.Name)
		if _, dup := c.originByName[key]; dup {
			return nil, fmt.Errorf("%w: origin %q", ErrDuplicateName, o.Name)
		}
		for _, g := range o.Grants {
			if err := c.checkGrant(g); err != nil {
				return nil, fmt.Errorf("origin %q: %w", o.Name, err)
			}
		}
		c.origins[o.ID] = o
		c.originByName[key] = o.ID
	}

	c.orderedHeaders = make([]Header, 0, len(c.headers))
	for _, h := range c.headers {
		c.orderedHeaders = append(c.orderedHeaders, h)
	}
	sort.Slice(c.orderedHeaders, func(i, j int) bool {
		a, b := c.orderedHeaders[i], c.orderedHeaders[j]
		if a.Hidden != b.Hidden {
			return !a.Hidden
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	for h, list := range c.skillsOf {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Name != list[j].Name {
				return list[i].Name < list[j].Name
			}
			return list[i].ID < list[j].ID
		})
		c.skillsOf[h] = list
	}
	for s, list := range c.headersOf {
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		c.headersOf[s] = list
	}

	return c, nil
}

func (c *Catalog) checkGrant(g GrantRef) error {
	switch g.Kind {
	case GrantHeader:
		if _, ok := c.headers[HeaderID(g.TargetID)]; !ok {
			return fmt.Errorf("%w: granted header %d", ErrDanglingRef, g.TargetID)
		}
	case GrantSkill:
		if _, ok := c.skills[SkillID(g.TargetID)]; !ok {
			return fmt.Errorf("%w: granted skill %d", ErrDanglingRef, g.TargetID)
		}
		if !c.InHeader(SkillID(g.TargetID), g.HeaderID) {
			return fmt.Errorf("%w: granted skill %d not offered under header %d", ErrDanglingRef, g.TargetID, g.HeaderID)
		}
	default:
		return fmt.Errorf("%w: grant kind %q", ErrInvalidElement, g.Kind)
	}
	return nil
}
