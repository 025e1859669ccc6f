package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/config"
)

// runTokenCmd signs a bearer token with VALOR_TOKEN_SECRET.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		actorID, playerID, roles string
	)
	cmd.StringVar(&actorID, "actor", "", "Actor (user) ID (REQUIRED)")
	cmd.StringVar(&playerID, "player", "", "Player ID the actor plays as")
	cmd.StringVar(&roles, "role", auth.RolePlayer, "Comma separated roles: player, staff, admin")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if actorID == "" {
		fmt.Fprintln(stderr, "Error: --actor is required")
		cmd.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	issuer, err := auth.NewTokenIssuer([]byte(cfg.TokenSecret), tokenAudience)
	if err != nil {
		fmt.Fprintf(stderr, "Error: VALOR_TOKEN_SECRET: %v\n", err)
		return 2
	}

	actor := auth.Actor{ID: actorID, PlayerID: playerID}
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			actor.Roles = append(actor.Roles, r)
		}
	}
	token, err := issuer.Issue(actor, cfg.TokenTTL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
