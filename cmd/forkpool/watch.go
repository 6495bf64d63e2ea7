package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/forkpool/internal/config"
	"github.com/mattjoyce/forkpool/internal/tui/watch"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Status API URL (default: from api.listen)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	url := *apiURL
	if url == "" {
		cfg, err := config.LoadOrDefault(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		url = "http://" + cfg.API.Listen
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(url, "/")), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printWatchHelp() {
	fmt.Println("Usage: forkpool watch [--config PATH] [--api-url URL]")
	fmt.Println()
	fmt.Println("Live view of a running pool: workers, queue depth and results.")
	fmt.Println("The run being watched needs api.enabled in its config.")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
}
