package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/strangr/pairchat/loadtest/client"
	"github.com/strangr/pairchat/loadtest/stats"
)

// runPair connects an even number of clients, has all of them ask for a
// partner at once, and checks that every client ends up in a symmetric
// pairing with exactly one initiator.
func runPair(args []string) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 500, "Number of pairs to form")
	chatType := fs.String("chat-type", "", "Chat type to request (empty = server default)")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	pairTimeout := fs.Duration("pair-timeout", 30*time.Second, "Timeout waiting for partner-found")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL (empty to disable)")
	fs.Parse(args)

	total := *pairs * 2
	fmt.Printf("Pair test: %d pairs (%d clients) to %s (ramp=%s, pair-timeout=%s, chat-type=%q)\n",
		*pairs, total, *url, *rampUp, *pairTimeout, *chatType)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := startScraper(ctx, collector, *metricsURL, 2*time.Second)

	fmt.Println("\n--- Phase 1: Connect all clients ---")
	clients, interrupted := connectAll(ctx, rampConfig{
		url:         *url,
		total:       total,
		rampUp:      *rampUp,
		concurrency: *concurrency,
	}, collector)
	if interrupted {
		closeAll(clients)
		if scraper != nil {
			scraper.Stop()
		}
		collector.Report()
		return
	}

	fmt.Println("\n--- Phase 2: find-partner from every client ---")

	var mu sync.Mutex
	found := make(map[string]client.PartnerFound, len(clients))
	var wg sync.WaitGroup

	start := time.Now()
	for _, c := range clients {
		c := c
		got := make(chan struct{})
		var once sync.Once

		c.On(client.TypePartnerFound, func(raw json.RawMessage) {
			var msg client.PartnerFound
			if err := json.Unmarshal(raw, &msg); err != nil {
				collector.AddError()
				return
			}
			collector.AddLatency(stats.SeriesPairing, time.Since(start))
			collector.Inc("partner-found")

			mu.Lock()
			found[c.SessionID()] = msg
			mu.Unlock()
			once.Do(func() { close(got) })
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			timer := time.NewTimer(*pairTimeout)
			defer timer.Stop()
			select {
			case <-got:
			case <-timer.C:
				collector.Inc("pair-timeout")
				collector.AddError()
			case <-ctx.Done():
			}
		}()

		if err := c.FindPartner(*chatType); err != nil {
			collector.AddError()
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("\n--- Phase 3: Verify pairings ---")
	mu.Lock()
	symmetric, initiators := verifyPairings(found)
	mu.Unlock()

	fmt.Printf("Clients paired:      %d / %d\n", len(found), len(clients))
	fmt.Printf("Symmetric pairs:     %d\n", symmetric)
	fmt.Printf("Exactly-one-initiator pairs: %d\n", initiators)
	fmt.Printf("Pairing duration:    %s\n", elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		fmt.Printf("Pairing throughput:  %.1f pairs/s\n", float64(symmetric)/elapsed.Seconds())
	}

	closeAll(clients)
	if scraper != nil {
		scraper.Stop()
	}
	collector.Report()
}

// verifyPairings counts pairs where both sides name each other, and among
// them the ones with exactly one initiator.
func verifyPairings(found map[string]client.PartnerFound) (symmetric, oneInitiator int) {
	for id, a := range found {
		b, ok := found[a.PartnerID]
		if !ok || b.PartnerID != id || id > a.PartnerID {
			continue
		}
		symmetric++
		if a.Initiator != b.Initiator {
			oneInitiator++
		}
	}
	return symmetric, oneInitiator
}
