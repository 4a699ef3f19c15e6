package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"encoding/json"

	"github.com/google/uuid"

	"github.com/pairline/relay/loadtest/client"
	"github.com/pairline/relay/loadtest/stats"
)

// runMatch measures matchmaking throughput: every simulated user connects,
// sends join_queue, and waits for match_found. The relay pairs the queue in
// FIFO order, so an even client count should converge to zero waiters.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 500, "Number of user pairs to match")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "Timeout waiting for match_found")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:9090/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	totalClients := *pairs * 2

	fmt.Printf("Match test: %d pairs (%d clients) to %s (ramp=%s, match-timeout=%s, concurrency=%d)\n",
		*pairs, totalClients, *url, *rampUp, *matchTimeout, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var mu sync.Mutex
	clients := make([]*client.Client, 0, totalClients)

	// -----------------------------------------------------------------------
	// Phase 1 — connect everyone
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect all users ---")

	interrupted := connectClients(ctx, *url, totalClients, *rampUp, *concurrency, collector, &mu, &clients)

	mu.Lock()
	connectedCount := len(clients)
	mu.Unlock()
	fmt.Printf("\nPhase 1 complete: %d/%d connections (%d errors)\n",
		connectedCount, totalClients, collector.ErrorCount())

	if interrupted {
		fmt.Println("Interrupted — skipping matching phase.")
		cleanup(clients, &mu)
		scraper.Stop()
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2 — everyone joins the queue
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 2: Start matching ---")

	var matchedCount atomic.Int64
	var initiatorCount atomic.Int64

	var matchWg sync.WaitGroup

	mu.Lock()
	activeClients := make([]*client.Client, len(clients))
	copy(activeClients, clients)
	mu.Unlock()

	fmt.Printf("Sending join_queue from %d clients...\n", len(activeClients))

	matchStart := time.Now()

	for _, c := range activeClients {
		c := c
		matchWg.Add(1)

		matchDone := make(chan struct{})
		c.On(client.TypeMatchFound, func(raw json.RawMessage) {
			collector.AddMsgLatency(time.Since(matchStart))
			matchedCount.Add(1)

			var msg struct {
				IsInitiator bool `json:"isInitiator"`
			}
			if err := json.Unmarshal(raw, &msg); err == nil && msg.IsInitiator {
				initiatorCount.Add(1)
			}
			close(matchDone)
		})

		go func() {
			defer matchWg.Done()

			timeoutTimer := time.NewTimer(*matchTimeout)
			defer timeoutTimer.Stop()

			select {
			case <-matchDone:
			case <-timeoutTimer.C:
				collector.AddError()
			case <-ctx.Done():
			}
		}()

		if err := c.Send(map[string]interface{}{
			"type":        client.TypeJoinQueue,
			"displayName": c.UserID(),
		}); err != nil {
			collector.AddError()
		}
	}

	// -----------------------------------------------------------------------
	// Phase 3 — wait for pairings with progress reporting
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 3: Waiting for matches ---")

	matchProgressStop := make(chan struct{})
	var matchProgressWg sync.WaitGroup
	matchProgressWg.Add(1)
	go func() {
		defer matchProgressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastMatched := int64(0)
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentMatched := matchedCount.Load()
				currentErrors := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				matchRate := float64(currentMatched-lastMatched) / dt
				fmt.Printf("  [match] pairs: %d/%d  matched: %d  errors: %d  rate: %.1f match/s\n",
					currentMatched/2, *pairs, currentMatched, currentErrors, matchRate)
				lastMatched = currentMatched
				lastTime = now
			case <-matchProgressStop:
				return
			}
		}
	}()

	allDone := make(chan struct{})
	go func() {
		matchWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-ctx.Done():
		fmt.Println("\nInterrupted during matching phase.")
	}

	close(matchProgressStop)
	matchProgressWg.Wait()

	matchElapsed := time.Since(matchStart)

	// -----------------------------------------------------------------------
	// Final report
	// -----------------------------------------------------------------------
	finalMatched := matchedCount.Load()
	finalInitiators := initiatorCount.Load()
	successfulPairs := finalMatched / 2

	fmt.Printf("\n--- Match Results ---\n")
	fmt.Printf("Successful pairs:  %d / %d\n", successfulPairs, *pairs)
	fmt.Printf("Clients matched:   %d / %d\n", finalMatched, len(activeClients))
	fmt.Printf("Initiators:        %d (expect one per pair)\n", finalInitiators)
	fmt.Printf("Match duration:    %s\n", matchElapsed.Round(time.Millisecond))
	if matchElapsed.Seconds() > 0 {
		fmt.Printf("Match throughput:  %.1f pairs/s\n", float64(successfulPairs)/matchElapsed.Seconds())
	}

	cleanup(clients, &mu)
	scraper.Stop()
	collector.Report()
}

// connectClients ramps up totalClients connections, bounded by concurrency,
// and appends the successes to clients. Returns true if interrupted.
func connectClients(
	ctx context.Context,
	url string,
	totalClients int,
	rampUp time.Duration,
	concurrency int,
	collector *stats.Collector,
	mu *sync.Mutex,
	clients *[]*client.Client,
) bool {
	interval := rampUp / time.Duration(totalClients)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentConns := collector.ConnectionCount()
				currentErrs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentConns-lastCount) / dt
				fmt.Printf("  [connect] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					currentConns, totalClients, currentErrs, rate)
				lastCount = currentConns
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampTicker := time.NewTicker(interval)
	interrupted := false

	launched := 0
	for launched < totalClients {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			interrupted = true
			launched = totalClients
		case <-rampTicker.C:
			launched++
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				c, err := client.New(connCtx, url, "load-"+uuid.New().String())
				if err != nil {
					collector.AddError()
					return
				}

				collector.AddConnect(c.GetMetrics().ConnectLatency)

				mu.Lock()
				*clients = append(*clients, c)
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	return interrupted
}

// cleanup closes all client connections.
func cleanup(clients []*client.Client, mu *sync.Mutex) {
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	total := len(clients)
	fmt.Printf("Closing %d connections...\n", total)
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")
}
