package rulebook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/eligibility"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

func TestLoadFile(t *testing.T) {
	rb, err := LoadFile(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Tales of Valor", rb.Name)
	assert.Equal(t, "1.2.0", rb.Version.String())
	origins, headers, skills, offers := rb.Catalog.Counts()
	assert.Equal(t, []int{3, 4, 4, 5}, []int{origins, headers, skills, offers})
	assert.Equal(t, 4, rb.Rules.Len())

	cost, ok := rb.Catalog.Cost(3, 13)
	assert.True(t, ok)
	assert.Equal(t, 1, cost)

	parry, ok := rb.Catalog.Offering(1, 11)
	require.True(t, ok)
	assert.Equal(t, 3, parry.MaxPurchases)

	soldier, ok := rb.Catalog.OriginByName("soldier")
	require.True(t, ok)
	require.Len(t, soldier.Grants, 1)
	assert.Equal(t, catalog.GrantRef{Kind: catalog.GrantSkill, TargetID: 11, HeaderID: 1}, soldier.Grants[0])

	ward := rb.Rules.AppliesTo(rules.SkillTarget(13))
	require.Len(t, ward, 1, "targets resolve case-insensitively")
	require.NotNil(t, ward[0].Skill)
	assert.Equal(t, catalog.SkillID(12), *ward[0].Skill)
}

func TestRulebookDrivesEvaluator(t *testing.T) {
	rb, err := LoadFile(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	e := eligibility.New(rb.Catalog, rb.Rules, rb.Expressions)

	c := ledger.New("c", "p", "Aldric")
	c.CPAvailable = 30
	human, _ := rb.Catalog.OriginByName("Human")
	require.NoError(t, c.AddOrigin(human))

	d, err := e.CanAcquire(c, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "requires Elf", d.Unmet[0].Message)

	d, err = e.CanAcquire(c, 4)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Len(t, d.Unmet, 2, "points and expression both fail")
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing skills":   "version: \"1.0.0\"\nheaders: []\n",
		"unknown field":    "version: \"1.0.0\"\nheaders: []\nskills: []\ncolour: red\n",
		"negative cost":    "version: \"1.0.0\"\nheaders:\n  - {id: 1, name: A, skills: [{skill: s, cost: -1}]}\nskills: [{id: 1, name: s}]\n",
		"bad category":     "version: \"1.0.0\"\nheaders: []\nskills: []\norigins: [{id: 1, name: X, category: ELF}]\n",
		"two-sided target": "version: \"1.0.0\"\nheaders: []\nskills: []\nprerequisites: [{id: x, target: {header: a, skill: b}}]\n",
		"string cost":      "version: \"1.0.0\"\nheaders:\n  - {id: 1, name: A, skills: [{skill: s, cost: \"2\"}]}\nskills: [{id: 1, name: s}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}

	_, err := Parse([]byte("version: [unclosed"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchema)
}

func TestVersionConstraint(t *testing.T) {
	for _, v := range []string{"1.0.0", "1.9.3", "1.2"} {
		_, err := CheckVersion(v)
		assert.NoError(t, err, v)
	}
	for _, v := range []string{"0.9.0", "2.0.0", "banana"} {
		_, err := CheckVersion(v)
		assert.ErrorIs(t, err, ErrVersion, v)
	}

	doc, err := Parse([]byte("version: \"2.1.0\"\nheaders: []\nskills: []\n"))
	require.NoError(t, err)
	_, err = doc.Build()
	assert.ErrorIs(t, err, ErrVersion)
}

func TestBuildResolvesNames(t *testing.T) {
	base := "version: \"1.0.0\"\nheaders:\n  - {id: 1, name: Warrior, skills: [{skill: Slay, cost: 3}]}\nskills: [{id: 10, name: Slay}]\n"

	doc, err := Parse([]byte(base + "prerequisites: [{id: x, target: {header: Warrior}, skill: Parry}]\n"))
	require.NoError(t, err)
	_, err = doc.Build()
	assert.ErrorIs(t, err, ErrUnknownName)

	doc, err = Parse([]byte("version: \"1.0.0\"\nheaders:\n  - {id: 1, name: Warrior, skills: [{skill: Parry, cost: 3}]}\nskills: [{id: 10, name: Slay}]\n"))
	require.NoError(t, err)
	_, err = doc.Build()
	assert.ErrorIs(t, err, ErrUnknownName)

	doc, err = Parse([]byte(base + "prerequisites: [{id: x, target: {header: Warrior}, expression: \"character.\"}]\n"))
	require.NoError(t, err)
	_, err = doc.Build()
	assert.Error(t, err, "expressions are compiled at load")

	// Names are NFC-normalized: a decomposed "é" matches the composed one.
	doc, err = Parse([]byte("version: \"1.0.0\"\nheaders:\n  - {id: 1, name: \"E\u0301pe\u0301e\"}\nskills: []\nprerequisites: [{id: x, target: {header: \"Épée\"}, points: 1}]\n"))
	require.NoError(t, err)
	rb, err := doc.Build()
	require.NoError(t, err)
	assert.Len(t, rb.Rules.AppliesTo(rules.HeaderTarget(1)), 1)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0.0\"\n"), 0o600))
	_, err = LoadFile(path)
	assert.ErrorIs(t, err, ErrSchema)
}
