package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"threatfeed/internal/app"
)

func main() {
	fs := flag.NewFlagSet("threatfeed", flag.ExitOnError)
	var configFile, descriptorsFile string
	fs.StringVar(&configFile, "config", "", "path to configuration file")
	fs.StringVar(&descriptorsFile, "descriptors", "", "path to source descriptors file")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: threatfeed <run|serve|stats> [-config FILE] [-descriptors FILE]")
		os.Exit(1)
	}

	subcommand := os.Args[1]
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(1)
	}

	if configFile == "" {
		if v := os.Getenv("THREATFEED_CONFIG_FILE"); v != "" {
			configFile = v
		} else {
			configFile = "./config.yaml"
		}
	}

	application, err := app.New(configFile, descriptorsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize threatfeed: %v\n", err)
		os.Exit(1)
	}

	switch subcommand {
	case "run":
		stats := application.RunCycle()
		printStats(stats)

	case "serve":
		if err := application.Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "threatfeed exited with error: %v\n", err)
			os.Exit(1)
		}

	case "stats":
		printStats(application.LastStats())

	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q: expected run, serve, or stats\n", subcommand)
		os.Exit(1)
	}
}

func printStats(stats interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode stats: %v\n", err)
		os.Exit(1)
	}
}
