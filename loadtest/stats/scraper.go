package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Server-side series the scraper follows. Labelled series are summed.
const (
	metricConnections  = "pairchat_connections_total"
	metricParticipants = "pairchat_participants"
	metricActivePairs  = "pairchat_active_pairs"
	metricWaiting      = "pairchat_match_queue_size"
	metricPairings     = "pairchat_pairings_total"
	metricDepartures   = "pairchat_departures_total"
	metricRelayed      = "pairchat_relayed_total"
	metricSweepRemoved = "pairchat_sweep_removals_total"
	metricMatchSum     = "pairchat_match_duration_seconds_sum"
	metricMatchCount   = "pairchat_match_duration_seconds_count"
)

var reportRows = []struct {
	label  string
	metric string
}{
	{"Connections", metricConnections},
	{"Participants", metricParticipants},
	{"Active Pairs", metricActivePairs},
	{"Waiting", metricWaiting},
	{"Pairings", metricPairings},
	{"Departures", metricDepartures},
	{"Relayed", metricRelayed},
	{"Sweep Removals", metricSweepRemoved},
}

var tracked = map[string]bool{
	metricConnections:  true,
	metricParticipants: true,
	metricActivePairs:  true,
	metricWaiting:      true,
	metricPairings:     true,
	metricDepartures:   true,
	metricRelayed:      true,
	metricSweepRemoved: true,
	metricMatchSum:     true,
	metricMatchCount:   true,
}

// snapshot is one scrape: tracked metric name -> value.
type snapshot struct {
	at     time.Time
	values map[string]float64
}

// Scraper polls the server's Prometheus endpoint during a run so the report
// can show how the pairing state evolved.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu    sync.Mutex
	snaps []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start scrapes once immediately, then every interval until ctx ends or Stop
// is called. A final scrape is taken on the way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrape()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrape()
				return
			case <-ticker.C:
				s.scrape()
			}
		}
	}()
}

// Stop ends the background loop and waits for it.
func (s *Scraper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scraper) scrape() {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return // server not up yet
	}
	defer resp.Body.Close()

	values, err := parseExposition(resp.Body)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.snaps = append(s.snaps, snapshot{at: time.Now(), values: values})
	s.mu.Unlock()
}

// parseExposition reads Prometheus text format and sums the tracked series
// across their label sets.
func parseExposition(r io.Reader) (map[string]float64, error) {
	values := make(map[string]float64, len(tracked))
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		name, v, ok := parseMetricLine(line)
		if ok && tracked[name] {
			values[name] += v
		}
	}
	return values, sc.Err()
}

// parseMetricLine splits `name{labels} value [timestamp]` into the bare
// metric name and its value.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	rest := line
	if open := strings.IndexByte(line, '{'); open >= 0 {
		end := strings.LastIndexByte(line, '}')
		if end < open {
			return "", 0, false
		}
		name = line[:open]
		rest = line[end+1:]
	} else {
		sp := strings.IndexAny(line, " \t")
		if sp < 0 {
			return "", 0, false
		}
		name, rest = line[:sp], line[sp:]
	}

	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report prints first, last, delta and peak for every tracked series, plus
// the mean waiting time observed between the first and last scrape.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snaps...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.at.Sub(first.at).Round(time.Second))

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, row := range reportRows {
		a, b := first.values[row.metric], last.values[row.metric]
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			row.label, a, b, b-a, peak(snaps, row.metric))
	}

	fmt.Println()
	n := last.values[metricMatchCount] - first.values[metricMatchCount]
	if n > 0 {
		avg := (last.values[metricMatchSum] - first.values[metricMatchSum]) / n
		fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", "Waiting Time", avg, n)
	} else {
		fmt.Printf("  %-16s avg: N/A  (no observations)\n", "Waiting Time")
	}
}

func peak(snaps []snapshot, metric string) float64 {
	p := math.Inf(-1)
	for _, s := range snaps {
		p = math.Max(p, s.values[metric])
	}
	return p
}
