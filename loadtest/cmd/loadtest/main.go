// Package main is the entry point for the ChatKOOL load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: open N bound, idle connections and hold them
//   - chat:     pairs of users match, exchange messages and end the chat
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test: opens N bound, idle connections")
	fmt.Println("  chat        Chat lifecycle test: connect, match, exchange messages, end")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// identity returns the load test identity for client i. Identities stay
// within the server's 20 character limit.
func identity(prefix string, i int) string {
	return fmt.Sprintf("lt-%s-%d", prefix, i)
}
