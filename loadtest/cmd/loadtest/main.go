// Package main is the entry point for the pairing server load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: idle connection saturation
//   - pair:     everyone asks for a partner at once
//   - churn:    continuous pairing, chatting, skipping and dropping
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
	case "pair":
		runPair(os.Args[2:])
	case "churn":
		runChurn(os.Args[2:])
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
	fmt.Println("  saturate    Open N idle connections and hold them")
	fmt.Println("  pair        Connect 2N clients, pair them all, verify symmetry and initiators")
	fmt.Println("  churn       Keep clients pairing, chatting, skipping and reconnecting")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
