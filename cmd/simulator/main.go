package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	serverURL := "http://localhost:8080"
	if envURL := os.Getenv("API_URL"); envURL != "" {
		serverURL = envURL
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "match":
		matchCmd(serverURL, args)
	case "disqualify":
		disqualifyCmd(serverURL, args)
	case "timeout":
		timeoutCmd(serverURL, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Arena Simulator - Development tool for driving full 1v1 matches

USAGE:
  simulator <command> [options]

COMMANDS:
  match       Run a full match: two players join, one submits the winning solution
  disqualify  Run a match where one player loses by focus strikes
  timeout     Run a match where both players idle with partial progress
  help        Show this help message

ENVIRONMENT:
  API_URL   Backend API URL (default: http://localhost:8080)

EXAMPLES:
  # Full match in a fresh room
  simulator match

  # Join a specific room so you can spectate from a browser tab
  simulator match --room=DEMO1

  # Watch the anti-cheat path end a match
  simulator disqualify`)
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func matchCmd(serverURL string, args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	room := fs.String("room", "", "Room ID to use (default: random)")
	fs.Parse(args)

	d := newDriver(serverURL, newLogger())
	if err := d.runMatch(*room); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
}

func disqualifyCmd(serverURL string, args []string) {
	fs := flag.NewFlagSet("disqualify", flag.ExitOnError)
	room := fs.String("room", "", "Room ID to use (default: random)")
	fs.Parse(args)

	d := newDriver(serverURL, newLogger())
	if err := d.runDisqualification(*room); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
}

func timeoutCmd(serverURL string, args []string) {
	fs := flag.NewFlagSet("timeout", flag.ExitOnError)
	room := fs.String("room", "", "Room ID to use (default: random)")
	fs.Parse(args)

	d := newDriver(serverURL, newLogger())
	if err := d.runTimeout(*room); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
}
