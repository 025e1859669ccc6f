// Package rulebook loads a game's catalog and prerequisites from a YAML
// document. Documents reference entries by name; names are normalized to
// NFC and matched case-insensitively.
package rulebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

// SupportedVersions is the range of document versions this build reads.
const SupportedVersions = ">= 1.0.0, < 2.0.0"

var (
	ErrSchema      = errors.New("rulebook: document does not match schema")
	ErrVersion     = errors.New("rulebook: unsupported document version")
	ErrUnknownName = errors.New("rulebook: unknown name")
)

type Document struct {
	Version       string            `yaml:"version"`
	Name          string            `yaml:"name,omitempty"`
	Origins       []OriginDoc       `yaml:"origins,omitempty"`
	Headers       []HeaderDoc       `yaml:"headers"`
	Skills        []SkillDoc        `yaml:"skills"`
	Prerequisites []PrerequisiteDoc `yaml:"prerequisites,omitempty"`
}

type OriginDoc struct {
	ID          int64      `yaml:"id"`
	Name        string     `yaml:"name"`
	Category    string     `yaml:"category"`
	Description string     `yaml:"description,omitempty"`
	Grants      []GrantDoc `yaml:"grants,omitempty"`
}

// GrantDoc is a free header or skill that comes with an origin. Header
// names the header a granted skill is recorded under.
type GrantDoc struct {
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"`
	Header string `yaml:"header,omitempty"`
}

type HeaderDoc struct {
	ID          int64      `yaml:"id"`
	Name        string     `yaml:"name"`
	Category    string     `yaml:"category,omitempty"`
	Hidden      bool       `yaml:"hidden,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Skills      []OfferDoc `yaml:"skills,omitempty"`
}

type OfferDoc struct {
	Skill        string `yaml:"skill"`
	Cost         int    `yaml:"cost"`
	MaxPurchases int    `yaml:"max_purchases,omitempty"`
}

type SkillDoc struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

type TargetDoc struct {
	Header string `yaml:"header,omitempty"`
	Skill  string `yaml:"skill,omitempty"`
}

type PrerequisiteDoc struct {
	ID                      string    `yaml:"id"`
	Target                  TargetDoc `yaml:"target"`
	Description             string    `yaml:"description,omitempty"`
	Origin                  string    `yaml:"origin,omitempty"`
	Header                  string    `yaml:"header,omitempty"`
	Skill                   string    `yaml:"skill,omitempty"`
	NumberOfDifferentSkills *int      `yaml:"number_of_different_skills,omitempty"`
	NumberOfPurchases       *int      `yaml:"number_of_purchases,omitempty"`
	Points                  *int      `yaml:"points,omitempty"`
	Expression              string    `yaml:"expression,omitempty"`
}

// Rulebook is a built document, ready to back an evaluator.
type Rulebook struct {
	Name        string
	Version     *semver.Version
	Catalog     *catalog.Catalog
	Rules       *rules.Set
	Expressions *rules.ExpressionEngine
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("rulebook schema load failed: %w", err)
	}
	return c.Compile(schemaURL)
})

// Parse decodes and schema-checks a YAML document.
func Parse(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rulebook: %w", err)
	}
	// Round trip through JSON so the validator sees JSON types.
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rulebook: %w", err)
	}
	var instance any
	if err := json.Unmarshal(js, &instance); err != nil {
		return nil, fmt.Errorf("parse rulebook: %w", err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rulebook: %w", err)
	}
	return &doc, nil
}

// LoadFile reads, parses and builds the document at path.
func LoadFile(path string) (*Rulebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rulebook %q: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load rulebook %q: %w", path, err)
	}
	rb, err := doc.Build()
	if err != nil {
		return nil, fmt.Errorf("load rulebook %q: %w", path, err)
	}
	return rb, nil
}

// CheckVersion parses v and checks it against SupportedVersions.
func CheckVersion(v string) (*semver.Version, error) {
	version, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrVersion, v, err)
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(version) {
		return nil, fmt.Errorf("%w: %s not in %s", ErrVersion, version, SupportedVersions)
	}
	return version, nil
}

// Build resolves names and produces the catalog and rule set.
func (d *Document) Build() (*Rulebook, error) {
	version, err := CheckVersion(d.Version)
	if err != nil {
		return nil, err
	}

	headerIDs := make(map[string]catalog.HeaderID, len(d.Headers))
	for _, h := range d.Headers {
		headerIDs[catalog.NameKey(h.Name)] = catalog.HeaderID(h.ID)
	}
	skillIDs := make(map[string]catalog.SkillID, len(d.Skills))
	for _, s := range d.Skills {
		skillIDs[catalog.NameKey(s.Name)] = catalog.SkillID(s.ID)
	}

	b := catalog.NewBuilder()
	for _, s := range d.Skills {
		b.AddSkill(catalog.Skill{ID: catalog.SkillID(s.ID), Name: s.Name, Description: s.Description})
	}
	for _, h := range d.Headers {
		b.AddHeader(catalog.Header{
			ID:          catalog.HeaderID(h.ID),
			Name:        h.Name,
			Category:    h.Category,
			Hidden:      h.Hidden,
			Description: h.Description,
		})
		for _, o := range h.Skills {
			sid, ok := skillIDs[catalog.NameKey(o.Skill)]
			if !ok {
				return nil, fmt.Errorf("%w: skill %q in header %q", ErrUnknownName, o.Skill, h.Name)
			}
			b.OfferRow(catalog.HeaderSkill{
				HeaderID:     catalog.HeaderID(h.ID),
				SkillID:      sid,
				Cost:         o.Cost,
				MaxPurchases: o.MaxPurchases,
			})
		}
	}
	for _, o := range d.Origins {
		category, err := catalog.ParseOriginCategory(o.Category)
		if err != nil {
			return nil, err
		}
		origin := catalog.Origin{
			ID:          catalog.OriginID(o.ID),
			Category:    category,
			Name:        o.Name,
			Description: o.Description,
		}
		for _, g := range o.Grants {
			ref, err := grantRef(g, headerIDs, skillIDs)
			if err != nil {
				return nil, fmt.Errorf("origin %q: %w", o.Name, err)
			}
			origin.Grants = append(origin.Grants, ref)
		}
		b.AddOrigin(origin)
	}

	cat, err := b.Build()
	if err != nil {
		return nil, err
	}

	expr, err := rules.NewExpressionEngine()
	if err != nil {
		return nil, err
	}
	set := rules.NewSet()
	for _, p := range d.Prerequisites {
		rule, err := resolve(cat, p)
		if err != nil {
			return nil, fmt.Errorf("prerequisite %q: %w", p.ID, err)
		}
		if rule.Expression != "" {
			if err := expr.Compile(rule.Expression); err != nil {
				return nil, fmt.Errorf("prerequisite %q: %w", p.ID, err)
			}
		}
		if err := set.Add(rule); err != nil {
			return nil, err
		}
	}

	return &Rulebook{
		Name:        catalog.NormalizeName(d.Name),
		Version:     version,
		Catalog:     cat,
		Rules:       set,
		Expressions: expr,
	}, nil
}

func grantRef(g GrantDoc, headers map[string]catalog.HeaderID, skills map[string]catalog.SkillID) (catalog.GrantRef, error) {
	switch catalog.GrantKind(g.Kind) {
	case catalog.GrantHeader:
		h, ok := headers[catalog.NameKey(g.Target)]
		if !ok {
			return catalog.GrantRef{}, fmt.Errorf("%w: header %q", ErrUnknownName, g.Target)
		}
		return catalog.GrantRef{Kind: catalog.GrantHeader, TargetID: int64(h)}, nil
	case catalog.GrantSkill:
		s, ok := skills[catalog.NameKey(g.Target)]
		if !ok {
			return catalog.GrantRef{}, fmt.Errorf("%w: skill %q", ErrUnknownName, g.Target)
		}
		ref := catalog.GrantRef{Kind: catalog.GrantSkill, TargetID: int64(s)}
		if g.Header != "" {
			h, ok := headers[catalog.NameKey(g.Header)]
			if !ok {
				return catalog.GrantRef{}, fmt.Errorf("%w: header %q", ErrUnknownName, g.Header)
			}
			ref.HeaderID = h
		}
		return ref, nil
	}
	return catalog.GrantRef{}, fmt.Errorf("%w: grant kind %q", catalog.ErrInvalidOrigin, g.Kind)
}

func resolve(cat *catalog.Catalog, p PrerequisiteDoc) (rules.Prerequisite, error) {
	rule := rules.Prerequisite{
		ID:                      p.ID,
		Description:             p.Description,
		NumberOfDifferentSkills: p.NumberOfDifferentSkills,
		NumberOfPurchases:       p.NumberOfPurchases,
		Points:                  p.Points,
		Expression:              strings.TrimSpace(p.Expression),
	}

	switch {
	case p.Target.Header != "" && p.Target.Skill == "":
		h, ok := cat.HeaderByName(p.Target.Header)
		if !ok {
			return rule, fmt.Errorf("%w: header %q", ErrUnknownName, p.Target.Header)
		}
		rule.Target = rules.HeaderTarget(h.ID)
	case p.Target.Skill != "" && p.Target.Header == "":
		s, ok := cat.SkillByName(p.Target.Skill)
		if !ok {
			return rule, fmt.Errorf("%w: skill %q", ErrUnknownName, p.Target.Skill)
		}
		rule.Target = rules.SkillTarget(s.ID)
	default:
		return rule, fmt.Errorf("%w: target must name exactly one header or skill", rules.ErrInvalidTarget)
	}

	if p.Origin != "" {
		o, ok := cat.OriginByName(p.Origin)
		if !ok {
			return rule, fmt.Errorf("%w: origin %q", ErrUnknownName, p.Origin)
		}
		rule.Origin = &o.ID
	}
	if p.Header != "" {
		h, ok := cat.HeaderByName(p.Header)
		if !ok {
			return rule, fmt.Errorf("%w: header %q", ErrUnknownName, p.Header)
		}
		rule.Header = &h.ID
	}
	if p.Skill != "" {
		s, ok := cat.SkillByName(p.Skill)
		if !ok {
			return rule, fmt.Errorf("%w: skill %q", ErrUnknownName, p.Skill)
		}
		rule.Skill = &s.ID
	}
	return rule, rule.Validate()
}
