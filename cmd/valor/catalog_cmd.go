package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/eligibility"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rulebook"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
)

func defaultCatalogPath() string {
	if p := os.Getenv("VALOR_CATALOG_PATH"); p != "" {
		return p
	}
	return "catalog.yaml"
}

func runCatalogCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "validate" {
		_, _ = fmt.Fprintln(stderr, "Usage: valor catalog validate [--file catalog.yaml] [--json]")
		return 2
	}

	cmd := flag.NewFlagSet("catalog validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		path       string
		jsonOutput bool
	)
	cmd.StringVar(&path, "file", defaultCatalogPath(), "Path to the rulebook YAML")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}

	rb, err := rulebook.LoadFile(path)
	if err != nil {
		if jsonOutput {
			writeJSONOut(stdout, map[string]any{"file": path, "valid": false, "error": err.Error()})
		} else {
			fmt.Fprintf(stderr, "%sInvalid rulebook:%s %v\n", ColorRed, ColorReset, err)
		}
		return 1
	}

	origins, headers, skills, offers := rb.Catalog.Counts()
	if jsonOutput {
		writeJSONOut(stdout, map[string]any{
			"file":          path,
			"valid":         true,
			"name":          rb.Name,
			"version":       rb.Version.String(),
			"origins":       origins,
			"headers":       headers,
			"skills":        skills,
			"offers":        offers,
			"prerequisites": rb.Rules.Len(),
		})
		return 0
	}
	fmt.Fprintf(stdout, "%sRulebook valid:%s %s %s\n", ColorGreen, ColorReset, rb.Name, rb.Version)
	fmt.Fprintf(stdout, "   Origins:       %d\n", origins)
	fmt.Fprintf(stdout, "   Headers:       %d\n", headers)
	fmt.Fprintf(stdout, "   Skills:        %d (%d offers)\n", skills, offers)
	fmt.Fprintf(stdout, "   Prerequisites: %d\n", rb.Rules.Len())
	return 0
}

// runCheckCmd evaluates one acquisition for a character read from a JSON
// file, without a database. Exit status is 0 when allowed, 1 when denied.
func runCheckCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		path, charPath string
		kind, target   string
		header         string
		jsonOutput     bool
	)
	cmd.StringVar(&path, "file", defaultCatalogPath(), "Path to the rulebook YAML")
	cmd.StringVar(&charPath, "character", "", "Character JSON file (REQUIRED)")
	cmd.StringVar(&kind, "kind", "header", "header or skill")
	cmd.StringVar(&target, "target", "", "Header or skill, by id or name (REQUIRED)")
	cmd.StringVar(&header, "header", "", "Header to buy a skill under, by id or name")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the decision as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if charPath == "" || target == "" {
		fmt.Fprintln(stderr, "Error: --character and --target are required")
		cmd.Usage()
		return 2
	}

	rb, err := rulebook.LoadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	c, err := readCharacter(charPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	k, err := rules.ParseTargetKind(kind)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ref, ok := lookupTarget(rb.Catalog, k, target)
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown %s %q\n", k, target)
		return 2
	}
	var hid catalog.HeaderID
	if header != "" {
		h, ok := lookupTarget(rb.Catalog, rules.KindHeader, header)
		if !ok {
			fmt.Fprintf(stderr, "Error: unknown header %q\n", header)
			return 2
		}
		hid = h.HeaderID()
	}

	d, err := eligibility.New(rb.Catalog, rb.Rules, rb.Expressions).Evaluate(c, ref, hid)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		writeJSONOut(stdout, d)
	} else if d.Allowed {
		fmt.Fprintf(stdout, "%sALLOWED%s %s (cost %d, remaining %d, affordable %t)\n",
			ColorGreen, ColorReset, target, d.Cost, d.Remaining, d.Affordable)
	} else {
		fmt.Fprintf(stdout, "%sDENIED%s %s\n", ColorRed, ColorReset, target)
		for _, u := range d.Unmet {
			fmt.Fprintf(stdout, "   - %s\n", u.Message)
		}
	}
	if !d.Allowed {
		return 1
	}
	return 0
}

func readCharacter(path string) (*ledger.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character: %w", err)
	}
	c := ledger.New("", "", "")
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse character %s: %w", path, err)
	}
	return c, nil
}

func lookupTarget(cat *catalog.Catalog, kind rules.TargetKind, value string) (rules.TargetRef, bool) {
	id, err := strconv.ParseInt(value, 10, 64)
	if kind == rules.KindHeader {
		if err == nil {
			_, ok := cat.Header(catalog.HeaderID(id))
			return rules.HeaderTarget(catalog.HeaderID(id)), ok
		}
		h, ok := cat.HeaderByName(value)
		return rules.HeaderTarget(h.ID), ok
	}
	if err == nil {
		_, ok := cat.Skill(catalog.SkillID(id))
		return rules.SkillTarget(catalog.SkillID(id)), ok
	}
	s, ok := cat.SkillByName(value)
	return rules.SkillTarget(s.ID), ok
}

func writeJSONOut(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}
