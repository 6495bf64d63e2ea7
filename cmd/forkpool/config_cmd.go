package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/forkpool/internal/config"
	"gopkg.in/yaml.v3"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "hash":
		return runConfigHash(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func loadConfigFromFlags(name string, args []string) (*config.Config, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return nil, false
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return nil, false
	}
	return cfg, true
}

func runConfigCheck(args []string) int {
	cfg, ok := loadConfigFromFlags("config check", args)
	if !ok {
		return 1
	}
	source := cfg.Path
	if source == "" {
		source = "<defaults>"
	}
	fmt.Printf("Configuration valid: %s\n", source)
	fmt.Printf("workers: %d, threshold: %d, journal: %t, api: %t\n",
		cfg.Parallel.Workers, cfg.Parallel.Threshold, cfg.Journal.Enabled, cfg.API.Enabled)
	return 0
}

func runConfigHash(args []string) int {
	cfg, ok := loadConfigFromFlags("config hash", args)
	if !ok {
		return 1
	}
	if cfg.Path == "" {
		fmt.Fprintln(os.Stderr, "No configuration file found")
		return 1
	}
	fmt.Printf("%s  %s\n", cfg.Hash, cfg.Path)
	return 0
}

func runConfigShow(args []string) int {
	cfg, ok := loadConfigFromFlags("config show", args)
	if !ok {
		return 1
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}
