package main

import (
	"fmt"
	"os"

	"github.com/mrlokans/kivra-sync/internal/cli"
	"github.com/mrlokans/kivra-sync/internal/config"
	"github.com/mrlokans/kivra-sync/internal/entrypoint"
)

// Version information - set at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	// No arguments or "serve": run the web interface
	if len(os.Args) < 2 || os.Args[1] == "serve" {
		cfg := config.NewConfig()
		entrypoint.Run(cfg, Version)
		return
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "sync":
		cmd := cli.NewSyncCommand()
		if err := cmd.ParseFlags(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := cmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "version", "--version":
		fmt.Printf("kivra-sync %s (%s)\n", Version, Commit)

	case "help", "--help", "-h":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`kivra-sync - fetch receipts and letters from Kivra

Usage:
  %s [serve]          Start the web interface (default)
  %s sync [options] <ssn>   Run a sync from the command line
  %s version          Print version information
  %s help             Show this help

Run '%s sync -h' for sync options.
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}
