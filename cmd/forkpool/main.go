package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/forkpool/internal/pool"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// Pool workers re-execute this binary; they never reach the CLI.
	if spec, ok, err := pool.WorkerFromEnv(); ok {
		os.Exit(runWorkerProcess(spec, err))
	}
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runRun(args)
	case "inspect":
		if hasHelpFlag(args) {
			printInspectHelp()
			return 0
		}
		return runInspect(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: forkpool version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("forkpool %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`forkpool - run test suites across a pool of worker processes

Usage:
  forkpool <command> [flags]

Commands:
  run               Run the built-in suites, in parallel when worthwhile
  inspect [run_id]  Show a journaled run (default: latest)
  watch             Live view of a running pool (needs api.enabled)
  config check      Validate configuration
  config hash       Print the BLAKE3 hash of the configuration file
  config show       Print the effective configuration
  version           Show version information
  help              Show this help message

Use 'forkpool <command> --help' for command flags.
`)
}

func printRunHelp() {
	fmt.Println("Usage: forkpool run [--config PATH] [--workers N] [--threshold N] [--plain] [--in-process] [--with-failures]")
	fmt.Println("Run the built-in suites. Work is spread over worker processes when there")
	fmt.Println("are at least two workers and more methods than the threshold.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Every result passed or was skipped")
	fmt.Println("  1  A failure, an error or a setup problem")
}

func printInspectHelp() {
	fmt.Println("Usage: forkpool inspect [--config PATH] [--json] [--list] [run_id|latest]")
	fmt.Println("Show a run recorded in the journal.")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: forkpool config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: check, hash, show")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
