// Command secureyeoman runs the gateway server and drives it over HTTP.
package main

import (
	"fmt"
	"io"
	"os"
)

var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is swapped out in tests.
var startServer = runServer

// Run dispatches to the subcommands. Exit code 0 is success, 1 an
// operational failure, 2 a usage error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "start", "server", "serve":
		return startServer(stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "model":
		return runModel(args[2:], stdout, stderr)
	case "memory":
		return runMemory(args[2:], stdout, stderr)
	case "role":
		return runRole(args[2:], stdout, stderr)
	case "execute":
		return runExecute(args[2:], stdout, stderr)
	case "security":
		return runSecurity(args[2:], stdout, stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "secureyeoman %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI colors for the usage banner.
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sSecureYeoman %s%s\n", colorBold+colorBlue, version, colorReset)
	fmt.Fprintf(w, "%sSecurity-hardened autonomous agent gateway.%s\n", colorGray, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  secureyeoman <command> [args] [--url URL] [--json]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "start", "Run the gateway server")
	printCommand(w, "status", "Show server health and subsystem status")
	printCommand(w, "init", "Initialize data dir and generate secrets")

	printSection(w, "MODELS")
	printCommand(w, "model", "info | list | switch | default get|set|clear")

	printSection(w, "MEMORY")
	printCommand(w, "memory", "search | memories | stats | consolidate | reindex")

	printSection(w, "ACCESS CONTROL")
	printCommand(w, "role", "list | create | delete | assign | revoke | assignments")
	printCommand(w, "security", "setup | teardown | update | status")

	printSection(w, "TASKS")
	printCommand(w, "execute", "run | sessions | history | approve | reject")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", colorGreen, name, colorReset, desc)
}
