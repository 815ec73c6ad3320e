package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/strangr/pairchat/loadtest/client"
	"github.com/strangr/pairchat/loadtest/stats"
)

// runSaturate opens a number of idle connections, holds them, and reports
// how many the server dropped. Idle connections are registered participants
// that never ask for a partner.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL (empty to disable)")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := startScraper(ctx, collector, *metricsURL, 2*time.Second)

	fmt.Println("\n--- Ramp-up phase ---")
	clients, interrupted := connectAll(ctx, rampConfig{
		url:         *url,
		total:       *connections,
		rampUp:      *rampUp,
		concurrency: *concurrency,
	}, collector)

	dropped := 0
	if !interrupted {
		fmt.Println("\n--- Hold phase ---")
		fmt.Printf("Holding %d connections for %s...\n", len(clients), *hold)
		dropped = holdConnections(ctx, clients, *hold)
	}

	closeAll(clients)
	if scraper != nil {
		scraper.Stop()
	}

	if dropped > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", dropped)
	}
	collector.Report()
}

// holdConnections waits for hold or ctx and returns how many connections
// closed in the meantime.
func holdConnections(ctx context.Context, clients []*client.Client, hold time.Duration) int {
	holdTimer := time.NewTimer(hold)
	defer holdTimer.Stop()
	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	countDropped := func() int {
		n := 0
		for _, c := range clients {
			select {
			case <-c.Done():
				n++
			default:
			}
		}
		return n
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold phase.")
			return countDropped()
		case <-holdTimer.C:
			fmt.Println("\nHold period complete.")
			return countDropped()
		case <-statusTicker.C:
			d := countDropped()
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", len(clients)-d, len(clients), d)
		}
	}
}
