package main

import (
	"fmt"
	"log"
	"os"

	"github.com/angel122382/rpcdevtools/cmd/rpcdevtools-cli/commands"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "events":
		err = commands.EventsCommand(args, os.Stdout)
	case "stats":
		err = commands.StatsCommand(args, os.Stdout)
	case "methods":
		err = commands.MethodsCommand(args, os.Stdout)
	case "live":
		err = commands.LiveCommand(args, os.Stdout)
	case "clear":
		err = commands.ClearCommand(args, os.Stdout)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func printUsage() {
	fmt.Println("rpcdevtools CLI - inspect observed RPC traffic")
	fmt.Println()
	fmt.Println("Archive:")
	fmt.Println("  rpcdevtools-cli events [--db path] [--limit N]   List recently archived calls (default: 10)")
	fmt.Println("  rpcdevtools-cli stats [--db path]                Show archive totals")
	fmt.Println("  rpcdevtools-cli methods [--db path]              Show per-method call counts and durations")
	fmt.Println()
	fmt.Println("Running proxy:")
	fmt.Println("  rpcdevtools-cli live [--panel addr]              Show live history stats")
	fmt.Println("  rpcdevtools-cli clear [--panel addr]             Drop the live history")
}
