package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/config"
)

// runExportCmd writes a character's log pack to a file, reading entries
// straight from the configured database.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		characterID string
		outPath     string
	)
	cmd.StringVar(&characterID, "character", "", "Character ID (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output path for the zip pack (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if characterID == "" || outPath == "" {
		fmt.Fprintln(stderr, "Error: --character and --out are required")
		cmd.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening store: %v\n", err)
		return 1
	}
	defer st.Close()

	data, checksum, err := audit.NewExporter(st).Pack(ctx, characterID)
	if err != nil {
		fmt.Fprintf(stderr, "Error building pack: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		fmt.Fprintf(stderr, "Error writing pack: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%sPack written:%s %s (%d bytes)\n", ColorGreen, ColorReset, outPath, len(data))
	fmt.Fprintf(stdout, "   Checksum: %s\n", checksum)
	return 0
}
