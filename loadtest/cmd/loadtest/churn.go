package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/strangr/pairchat/loadtest/client"
	"github.com/strangr/pairchat/loadtest/stats"
)

// chatPayload is the opaque body the churn clients relay to each other.
type chatPayload struct {
	Sent int64  `json:"sent"` // unix nanoseconds
	Text string `json:"text"`
}

// runChurn keeps a population of clients pairing, chatting, skipping
// partners and dropping connections for a fixed duration. It measures
// relay latency and how long a participant whose partner left waits for
// the next one.
func runChurn(args []string) {
	fs := flag.NewFlagSet("churn", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 200, "Number of concurrent clients")
	duration := fs.Duration("duration", 60*time.Second, "How long to churn")
	think := fs.Duration("think", 3*time.Second, "Mean pause between client actions")
	nextRate := fs.Float64("next-rate", 0.2, "Probability an action is next-partner")
	dropRate := fs.Float64("drop-rate", 0.05, "Probability an action is an abrupt disconnect followed by a reconnect")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL (empty to disable)")
	fs.Parse(args)

	fmt.Printf("Churn test: %d clients to %s for %s (think=%s next=%.2f drop=%.2f)\n",
		*users, *url, *duration, *think, *nextRate, *dropRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := startScraper(ctx, collector, *metricsURL, 2*time.Second)

	fmt.Println("\n--- Phase 1: Connect ---")
	clients, interrupted := connectAll(ctx, rampConfig{
		url:         *url,
		total:       *users,
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

	fmt.Println("\n--- Phase 2: Churn ---")
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var mu sync.Mutex
	live := make([]*client.Client, 0, len(clients))
	var wg sync.WaitGroup

	sim := &churner{
		collector: collector,
		think:     *think,
		nextRate:  *nextRate,
		dropRate:  *dropRate,
		reconnect: func() (*client.Client, error) {
			connCtx, connCancel := context.WithTimeout(runCtx, 10*time.Second)
			defer connCancel()
			c, err := client.New(connCtx, *url)
			if err != nil {
				return nil, err
			}
			if err := c.WaitForSession(connCtx); err != nil {
				c.Close()
				return nil, err
			}
			collector.AddConnect(c.GetMetrics().ConnectLatency)
			return c, nil
		},
		track: func(c *client.Client) {
			mu.Lock()
			live = append(live, c)
			mu.Unlock()
		},
	}

	for _, c := range clients {
		c := c
		sim.track(c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.run(runCtx, c)
		}()
	}

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
wait:
	for {
		select {
		case <-runCtx.Done():
			break wait
		case <-progress.C:
			fmt.Printf("  [churn] found: %d  left: %d  relayed: %d  next: %d  drops: %d  errors: %d\n",
				collector.Count("partner-found"), collector.Count("partner-disconnected"),
				collector.Count("chat-received"), collector.Count("next-sent"),
				collector.Count("drops"), collector.ErrorCount())
		}
	}
	wg.Wait()

	mu.Lock()
	closeAll(live)
	mu.Unlock()
	if scraper != nil {
		scraper.Stop()
	}
	collector.Report()
}

// churner drives one client through random pairing actions.
type churner struct {
	collector *stats.Collector
	think     time.Duration
	nextRate  float64
	dropRate  float64
	reconnect func() (*client.Client, error)
	track     func(*client.Client)
}

func (s *churner) run(ctx context.Context, c *client.Client) {
	for {
		s.watch(c)
		if err := c.FindPartner(""); err != nil {
			s.collector.AddError()
			return
		}

		for {
			pause := time.Duration(rand.ExpFloat64() * float64(s.think))
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				s.collector.AddError()
				return
			case <-time.After(pause):
			}

			roll := rand.Float64()
			switch {
			case roll < s.dropRate:
				s.collector.Inc("drops")
				c.Close()
				next, err := s.reconnect()
				if err != nil {
					s.collector.AddError()
					return
				}
				s.track(next)
				c = next
			case roll < s.dropRate+s.nextRate:
				if err := c.NextPartner(); err != nil {
					s.collector.AddError()
					return
				}
				s.collector.Inc("next-sent")
				continue
			default:
				if c.Partner() == "" {
					continue
				}
				if err := c.Signal(client.TypeChatMessage, chatPayload{
					Sent: time.Now().UnixNano(),
					Text: "hello",
				}); err != nil {
					s.collector.AddError()
					return
				}
				s.collector.Inc("chat-sent")
				continue
			}
			break
		}
	}
}

// watch registers the handlers that turn server events into measurements.
func (s *churner) watch(c *client.Client) {
	var mu sync.Mutex
	var leftAt time.Time

	c.On(client.TypePartnerFound, func(json.RawMessage) {
		s.collector.Inc("partner-found")
		mu.Lock()
		if !leftAt.IsZero() {
			s.collector.AddLatency(stats.SeriesRePair, time.Since(leftAt))
			leftAt = time.Time{}
		}
		mu.Unlock()
	})
	c.On(client.TypePartnerDisconnected, func(json.RawMessage) {
		s.collector.Inc("partner-disconnected")
		mu.Lock()
		leftAt = time.Now()
		mu.Unlock()
	})
	c.On(client.TypeChatMessage, func(raw json.RawMessage) {
		var msg struct {
			Payload chatPayload `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Payload.Sent == 0 {
			s.collector.AddError()
			return
		}
		s.collector.Inc("chat-received")
		s.collector.AddLatency(stats.SeriesRelay, time.Since(time.Unix(0, msg.Payload.Sent)))
	})
	c.On(client.TypeRateLimited, func(json.RawMessage) {
		s.collector.Inc("rate-limited")
	})
	c.On(client.TypeError, func(json.RawMessage) {
		s.collector.Inc("server-error")
	})
}
