package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/ransomeye/rebuild-sub001/pkg/config"
	"github.com/ransomeye/rebuild-sub001/pkg/registry"
)

// runRegistryCmd dispatches `registry list` and `registry activate`,
// operating on the registry database directly rather than through a
// running server.
func runRegistryCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: ransomeye registry <list|activate> [flags]")
		return 2
	}

	cfg := config.Load()
	db, err := sql.Open("postgres", cfg.RegistryDSN)
	if err != nil {
		fmt.Fprintf(stderr, "connect to registry database: %v\n", err)
		return 1
	}
	defer db.Close()
	reg := registry.NewPostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "list":
		return runRegistryList(ctx, reg, args[1:], stdout, stderr)
	case "activate":
		return runRegistryActivate(ctx, reg, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown registry subcommand: %s\n", args[0])
		return 2
	}
}

func runRegistryList(ctx context.Context, reg *registry.Postgres, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("registry list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	status := fs.String("status", "", "filter by status (active|inactive|deprecated); omit for all")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	artifacts, err := reg.List(ctx, registry.Status(*status))
	if err != nil {
		fmt.Fprintf(stderr, "list artifacts: %v\n", err)
		return 1
	}
	if len(artifacts) == 0 {
		fmt.Fprintln(stdout, "no artifacts found")
		return 0
	}

	fmt.Fprintf(stdout, "%-36s %-24s %-10s %-12s %s\n", "ID", "NAME", "VERSION", "STATUS", "UPLOADED_BY")
	for _, a := range artifacts {
		fmt.Fprintf(stdout, "%-36s %-24s %-10s %-12s %s\n", a.ID, a.Name, a.Version, a.Status, a.Uploader)
	}
	return 0
}

func runRegistryActivate(ctx context.Context, reg *registry.Postgres, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("registry activate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "artifact ID to activate (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(stderr, "registry activate requires -id")
		return 2
	}

	if err := reg.Activate(ctx, *id); err != nil {
		fmt.Fprintf(stderr, "activate artifact: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%sartifact %s activated%s\n", ColorGreen, *id, ColorReset)
	return 0
}
