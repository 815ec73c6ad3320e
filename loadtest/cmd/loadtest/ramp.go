package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/strangr/pairchat/loadtest/client"
	"github.com/strangr/pairchat/loadtest/stats"
)

// rampConfig controls how connections are opened.
type rampConfig struct {
	url         string
	total       int
	rampUp      time.Duration
	concurrency int
}

// connectAll opens cfg.total connections spread over cfg.rampUp, waiting for
// each session-created before counting it. It returns the connected clients
// and whether ctx was cancelled before all were launched.
func connectAll(ctx context.Context, cfg rampConfig, collector *stats.Collector) ([]*client.Client, bool) {
	var mu sync.Mutex
	clients := make([]*client.Client, 0, cfg.total)
	interrupted := false

	interval := cfg.rampUp / time.Duration(cfg.total)
	if interval <= 0 {
		interval = time.Millisecond
	}

	// Semaphore to bound concurrent connection attempts.
	sem := make(chan struct{}, cfg.concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				current := collector.ConnectionCount()
				rate := float64(current-lastCount) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					current, cfg.total, collector.ErrorCount(), rate)
				lastCount = current
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

launch:
	for launched := 0; launched < cfg.total; {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
			break launch
		case <-rampTicker.C:
			launched++
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				c, err := client.New(connCtx, cfg.url)
				if err != nil {
					collector.AddError()
					return
				}
				if err := c.WaitForSession(connCtx); err != nil {
					collector.AddError()
					c.Close()
					return
				}

				collector.AddConnect(c.GetMetrics().ConnectLatency)

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		len(clients), cfg.total, time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	return clients, interrupted
}

// closeAll closes every client.
func closeAll(clients []*client.Client) {
	fmt.Println("\n--- Cleanup ---")
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	fmt.Println("All connections closed.")
}

// startScraper attaches a metrics scraper to collector when metricsURL is
// set.
func startScraper(ctx context.Context, collector *stats.Collector, metricsURL string, interval time.Duration) *stats.Scraper {
	if metricsURL == "" {
		return nil
	}
	scraper := stats.NewScraper(metricsURL, interval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	return scraper
}
