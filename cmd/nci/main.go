package main

import (
	"fmt"
	"os"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"publish": true, "search": true, "list-indexes": true, "fetch": true,
	"delete": true, "key": true, "serve": true, "mcp": true,
	"help": true, "h": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help" || arg == "h"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _ __   ___(_)
  | '_ \ / __| |
  | | | | (__| |
  |_| |_|\___|_|

  Nostr content index

  Usage: nci <command> [options]
         nci --help

  MCP server mode requires piped input (or: nci mcp).`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need neither config nor cache
	if isHelpOrVersion() {
		app := newCLIApp(&runtime{stdout: os.Stdout, stderr: os.Stderr})
		if err := app.Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'nci --help' for usage.\n")
		os.Exit(1)
	}

	rt, err := openRuntime()
	if err != nil {
		fail("%v", err)
	}

	if isCLIMode() {
		err = newCLIApp(rt).Run(os.Args)
	} else {
		// MCP server mode (piped stdin)
		err = runMCP(rt, nil)
	}
	rt.Close()
	if err != nil {
		fail("%v", err)
	}
}
