package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mediatrack/metacache/metrics"
	"github.com/mediatrack/metacache/provider"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <redis-url> <hours>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s redis://localhost:6379 24\n", os.Args[0])
		os.Exit(1)
	}

	hours, err := strconv.Atoi(os.Args[2])
	if err != nil || hours <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid hours %q: must be a positive integer\n", os.Args[2])
		os.Exit(1)
	}

	opts, err := redis.ParseURL(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing Redis URL: %v\n", err)
		os.Exit(1)
	}

	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to Redis: %v\n", err)
		os.Exit(1)
	}

	reader := metrics.NewReader(client)
	summaries, err := reader.GetAPIMetrics(ctx, provider.Labels(), hours)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading API metrics: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API cache metrics, last %dh\n\n", hours)
	fmt.Printf("%-12s %8s %10s %8s %8s %8s %10s %9s\n",
		"PROVIDER", "HITS", "COALESCED", "CALLS", "ERRORS", "HIT%", "AVG MS", "CALLS/M")
	for _, s := range summaries {
		fmt.Printf("%-12s %8d %10d %8d %8d %7.1f%% %10.1f %9.2f\n",
			s.Provider, s.Hits, s.Coalesced, s.Calls, s.Errors,
			s.HitRate*100, s.AvgLatencyMs, s.CallsPerMinute)
	}
}
