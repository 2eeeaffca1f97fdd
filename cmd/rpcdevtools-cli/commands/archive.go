// Package commands implements the rpcdevtools-cli subcommands.
package commands

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/angel122382/rpcdevtools/internal/archive"
	"github.com/angel122382/rpcdevtools/internal/reltime"
)

const defaultDBPath = ".rpcdevtools/archive.db"

// now is replaced in tests.
var now = time.Now

func openArchive(path string) (*archive.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no archive at %s (enable archive in rpcdevtools.yaml): %w", path, err)
	}
	return archive.Open(path)
}

func closeArchive(db *archive.DB) {
	if err := db.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	}
}

// EventsCommand lists recently archived calls, newest first.
func EventsCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "Path to the archive database")
	limit := fs.Int("limit", 10, "Number of calls to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openArchive(*dbPath)
	if err != nil {
		return err
	}
	defer closeArchive(db)

	calls, err := db.RecentCalls(*limit)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		fmt.Fprintln(out, "No archived calls")
		return nil
	}

	fmt.Fprintf(out, "Recent Calls (showing %d)\n", len(calls))
	fmt.Fprintln(out, "==========================")
	t := now()
	for _, c := range calls {
		rpcType := c.RPCType
		if rpcType == "" {
			rpcType = "-"
		}
		fmt.Fprintf(out, "%-16s | %-8s | %-7s | %8.1fms | %s\n",
			reltime.Format(c.RespondedAt, t), rpcType, c.Status, c.DurationMs, c.Method)
		if c.Status == "error" && len(c.Cause) > 0 {
			fmt.Fprintf(out, "    cause: %s\n", truncate(string(c.Cause), 120))
		}
	}
	return nil
}

// StatsCommand prints totals over the whole archive.
func StatsCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "Path to the archive database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openArchive(*dbPath)
	if err != nil {
		return err
	}
	defer closeArchive(db)

	s, err := db.Summary()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Archive Statistics")
	fmt.Fprintln(out, "==================")
	fmt.Fprintf(out, "Total Calls:     %d\n", s.TotalCalls)
	fmt.Fprintf(out, "Errors:          %d\n", s.Errors)
	fmt.Fprintf(out, "Captures:        %d\n", s.Captures)
	fmt.Fprintf(out, "Methods:         %d\n", s.Methods)
	fmt.Fprintf(out, "Avg Duration:    %.1fms\n", s.AvgDurationMs)
	if first, err := time.Parse(time.RFC3339Nano, s.FirstSeen); err == nil {
		fmt.Fprintf(out, "First Call:      %s\n", reltime.Format(first, now()))
	}
	if last, err := time.Parse(time.RFC3339Nano, s.LastSeen); err == nil {
		fmt.Fprintf(out, "Last Call:       %s\n", reltime.Format(last, now()))
	}
	return nil
}

// MethodsCommand prints per-method aggregates, busiest first.
func MethodsCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("methods", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "Path to the archive database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openArchive(*dbPath)
	if err != nil {
		return err
	}
	defer closeArchive(db)

	stats, err := db.MethodStats()
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Fprintln(out, "No archived calls")
		return nil
	}

	fmt.Fprintf(out, "%-32s %-8s %7s %7s %10s %10s\n", "METHOD", "TYPE", "CALLS", "ERRORS", "AVG", "MAX")
	for _, s := range stats {
		rpcType := s.RPCType
		if rpcType == "" {
			rpcType = "-"
		}
		fmt.Fprintf(out, "%-32s %-8s %7d %7d %8.1fms %8.1fms\n",
			truncate(s.Method, 32), rpcType, s.Calls, s.Errors, s.AvgDurationMs, s.MaxDurationMs)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
