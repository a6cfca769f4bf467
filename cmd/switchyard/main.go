package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "session":
		return runSessionNoun(args)

	// --- VERBS ---
	case "sweep":
		if hasHelpFlag(args) {
			printSweepHelp()
			return 0
		}
		return runSweep(args)
	case "dispatch":
		if hasHelpFlag(args) {
			printDispatchHelp()
			return 0
		}
		return runDispatch(args)
	case "ship":
		if hasHelpFlag(args) {
			printShipHelp()
			return 0
		}
		return runShip(args)
	case "doctor":
		return runConfigCheck(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "start":
		return runStart(args)
	case "version":
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
		fmt.Fprintln(os.Stderr, "Usage: switchyard version [--json]")
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

	fmt.Printf("switchyard %s\n", info.Version)
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
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = t
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
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
	fmt.Print(`switchyard - routes tickets to AI personas and supervises their agents

Usage:
  switchyard <command> [flags]
  switchyard <noun> <action> [flags]

System Commands:
  system start      Run the scheduler, API and webhooks in the foreground
  system status     Show pause state, lock holder and database readiness
  system pause      Stop all dispatching until resumed
  system resume     Clear the pause flag

Config Commands:
  config check      Validate configuration against the host and personas
  config lock       Record integrity hashes for the current config

Work Commands:
  sweep             Run one scheduler sweep now
  dispatch <ticket> Route one trigger to a ticket and wait for the agents
  ship <ticket-key> Merge a ticket's worktree branch back to main

Sessions:
  session inspect <dir|ticket-key>  Report what happened in a session

Other:
  doctor            Alias for config check
  watch             Live terminal dashboard over the event stream
  version           Show version information
  help              Show this help message

Most commands accept --config PATH; otherwise $SWITCHYARD_CONFIG,
~/.config/switchyard, /etc/switchyard and ./config.yaml are tried in order.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "pause":
		if hasHelpFlag(actionArgs) {
			printSystemPauseHelp()
			return 0
		}
		return runSystemPause(actionArgs)
	case "resume":
		if hasHelpFlag(actionArgs) {
			printSystemResumeHelp()
			return 0
		}
		return runSystemResume(actionArgs)
	case "watch":
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

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
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runSessionNoun(args []string) int {
	if len(args) < 1 {
		printSessionNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSessionNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "inspect":
		if hasHelpFlag(args[1:]) {
			printSessionInspectHelp()
			return 0
		}
		return runSessionInspect(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown session action: %s\n", args[0])
		return 1
	}
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

// loadConfig resolves --config (or discovery) and loads it.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// interspersed moves leading positional arguments behind the flags so
// "dispatch WEB-1 --persona p-cal" parses like "dispatch --persona p-cal WEB-1".
func interspersed(args []string) []string {
	var positional, flags []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(a) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(name string) bool {
	switch strings.TrimLeft(name, "-") {
	case "json", "broadcast", "strict", "wait":
		return true
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard system <action>")
	fmt.Fprintln(w, "Actions: start, status, pause, resume")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printSessionNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchyard session <action>")
	fmt.Fprintln(w, "Actions: inspect")
}

func printSystemStartHelp() {
	fmt.Println("Usage: switchyard system start [--config PATH]")
	fmt.Println("Run the scheduler, HTTP API and webhook listener in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: switchyard system status [--config PATH] [--json]")
	fmt.Println("Show config, database readiness, pause state and PID lock holder.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemPauseHelp() {
	fmt.Println("Usage: switchyard system pause [--config PATH] [--reason TEXT] [--for DURATION]")
	fmt.Println("Stop all dispatching. With --for the pause lifts itself after DURATION.")
}

func printSystemResumeHelp() {
	fmt.Println("Usage: switchyard system resume [--config PATH]")
	fmt.Println("Clear the pause flag.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: switchyard config check [--config PATH] [--format human|json] [--json]")
	fmt.Println("Validate configuration, tools, project repositories, personas and integrity.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: switchyard config lock [--config PATH]")
	fmt.Println("Write BLAKE3 hashes of the config next to it. Strict integrity refuses to start when they differ.")
}

func printSessionInspectHelp() {
	fmt.Println("Usage: switchyard session inspect <dir|ticket-key> [--config PATH] [--json]")
	fmt.Println("A ticket key reports that ticket's most recent session.")
}

func printSweepHelp() {
	fmt.Println("Usage: switchyard sweep [--config PATH] [--json]")
	fmt.Println("Run one scheduler sweep in this process. Refuses while a server holds the lock.")
}

func printDispatchHelp() {
	fmt.Println("Usage: switchyard dispatch <ticket-id|key> [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --persona ID       Dispatch to this persona")
	fmt.Println("  --mention NAME     Dispatch to the persona with this name")
	fmt.Println("  --role ROLE        Dispatch to a persona with this role")
	fmt.Println("  --broadcast        Dispatch to every role the phase needs")
	fmt.Println("  --kind KIND        auto, mention or urgent (cooldown window)")
	fmt.Println("  --message TEXT     Text quoted in the brief")
	fmt.Println("  --json             Output the outcome as JSON")
}

func printShipHelp() {
	fmt.Println("Usage: switchyard ship <ticket-key> [--config PATH]")
	fmt.Println("Commit leftovers in the ticket's worktree, merge its branch and remove the worktree.")
}

func printWatchHelp() {
	fmt.Println("Usage: switchyard watch [flags]")
	fmt.Println()
	fmt.Println("Live dashboard of sweeps, in-flight dispatches and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    API URL (default: http://127.0.0.1:8411)")
	fmt.Println("  --api-key KEY    Bearer token with the read scope (or SWITCHYARD_API_KEY)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate dispatches")
}
