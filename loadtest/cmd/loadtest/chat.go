package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pairline/relay/loadtest/client"
	"github.com/pairline/relay/loadtest/stats"
)

// chatResult tracks the outcome of one client's full session lifecycle.
type chatResult struct {
	matched      bool
	msgSent      int64
	msgRecv      int64
	endedCleanly bool
	matchLatency time.Duration
}

// runChat exercises the full session lifecycle: every client joins the queue,
// waits for match_found, exchanges chat messages for the configured duration,
// then sends end_call and waits for call_ended. The relay pairs queued users
// itself, so each client runs its lifecycle independently rather than being
// coupled to a pre-chosen partner.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 100, "Number of user pairs for full session lifecycle")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long each client chats after matching")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per client")
	msgSize := fs.Int("msg-size", 128, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "Timeout waiting for match_found")
	metricsURL := fs.String("metrics-url", "http://localhost:9090/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	totalClients := *pairs * 2

	fmt.Printf("Chat test: %d pairs (%d clients) to %s (ramp=%s, chat=%s, interval=%s, msg-size=%d, concurrency=%d)\n",
		*pairs, totalClients, *url, *rampUp, *chatDuration, *msgInterval, *msgSize, *concurrency)

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
		fmt.Println("Interrupted — skipping chat phases.")
		cleanup(clients, &mu)
		scraper.Stop()
		collector.Report()
		return
	}

	// The queue pairs in FIFO order, so an odd client count leaves one waiter
	// behind forever. Drop any extra.
	mu.Lock()
	if len(clients)%2 != 0 {
		extra := clients[len(clients)-1]
		clients = clients[:len(clients)-1]
		extra.Close()
	}
	activeClients := make([]*client.Client, len(clients))
	copy(activeClients, clients)
	mu.Unlock()

	if len(activeClients) == 0 {
		fmt.Println("No clients connected — nothing to run.")
		cleanup(clients, &mu)
		scraper.Stop()
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2 — match, chat, end (per client)
	// -----------------------------------------------------------------------
	fmt.Printf("\n--- Phase 2: Running %d session lifecycles ---\n", len(activeClients))

	var totalMsgSent atomic.Int64
	var totalMsgRecv atomic.Int64
	var activeSessions atomic.Int64
	var completedClients atomic.Int64
	var errorCount atomic.Int64

	results := make([]chatResult, len(activeClients))

	msgPayload := strings.Repeat("abcdefgh", (*msgSize/8)+1)
	msgPayload = msgPayload[:*msgSize]

	chatProgressStop := make(chan struct{})
	var chatProgressWg sync.WaitGroup
	chatProgressWg.Add(1)
	go func() {
		defer chatProgressWg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [chat] in-session: %d  completed: %d/%d  sent: %d  recv: %d  errors: %d\n",
					activeSessions.Load(), completedClients.Load(), len(activeClients),
					totalMsgSent.Load(), totalMsgRecv.Load(), errorCount.Load())
			case <-chatProgressStop:
				return
			}
		}
	}()

	chatStart := time.Now()

	var lifecycleWg sync.WaitGroup
	for i, c := range activeClients {
		i, c := i, c
		lifecycleWg.Add(1)
		go func() {
			defer lifecycleWg.Done()

			// Stagger queue joins slightly so the matcher sees a steady
			// arrival stream rather than one burst.
			stagger := time.Duration(i) * 10 * time.Millisecond
			select {
			case <-time.After(stagger):
			case <-ctx.Done():
				return
			}

			runLifecycle(ctx, c, *chatDuration, *msgInterval, *matchTimeout,
				msgPayload, collector, &results[i],
				&totalMsgSent, &totalMsgRecv, &activeSessions, &completedClients, &errorCount)
		}()
	}

	allDone := make(chan struct{})
	go func() {
		lifecycleWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-ctx.Done():
		fmt.Println("\nInterrupted — waiting for sessions to wind down...")
		<-allDone
	}

	close(chatProgressStop)
	chatProgressWg.Wait()

	chatElapsed := time.Since(chatStart)

	// -----------------------------------------------------------------------
	// Final report
	// -----------------------------------------------------------------------
	var matched, endedCleanly int
	var totalSent, totalRecv int64
	var totalMatchLatency time.Duration

	for _, r := range results {
		if r.matched {
			matched++
			totalMatchLatency += r.matchLatency
		}
		if r.endedCleanly {
			endedCleanly++
		}
		totalSent += r.msgSent
		totalRecv += r.msgRecv
	}

	fmt.Printf("\n--- Chat Results ---\n")
	fmt.Printf("Clients matched:   %d / %d\n", matched, len(activeClients))
	fmt.Printf("Clean endings:     %d / %d\n", endedCleanly, len(activeClients))
	fmt.Printf("Total msg sent:    %d\n", totalSent)
	fmt.Printf("Total msg recv:    %d\n", totalRecv)
	fmt.Printf("Chat duration:     %s\n", chatElapsed.Round(time.Millisecond))
	if matched > 0 {
		avgMatch := totalMatchLatency / time.Duration(matched)
		fmt.Printf("Avg match latency: %s\n", avgMatch.Round(time.Millisecond))
	}
	if chatElapsed.Seconds() > 0 && totalSent > 0 {
		fmt.Printf("Msg throughput:    %.1f msg/s\n", float64(totalSent)/chatElapsed.Seconds())
	}

	cleanup(clients, &mu)
	scraper.Stop()
	collector.Report()
}

// runLifecycle drives one client through join_queue -> match_found ->
// chat_message stream -> end_call -> call_ended. It returns when the session
// ends, a phase times out, or the context is cancelled.
func runLifecycle(
	ctx context.Context,
	c *client.Client,
	chatDuration, msgInterval, matchTimeout time.Duration,
	msgPayload string,
	collector *stats.Collector,
	result *chatResult,
	totalMsgSent, totalMsgRecv, activeSessions, completedClients, errorCount *atomic.Int64,
) {
	defer completedClients.Add(1)

	matchFound := make(chan string, 1)
	msgRecv := make(chan struct{}, 100)
	ended := make(chan struct{}, 1)

	c.On(client.TypeMatchFound, func(raw json.RawMessage) {
		var msg struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil && msg.SessionID != "" {
			select {
			case matchFound <- msg.SessionID:
			default:
			}
		}
	})

	c.On(client.TypeChatMessage, func(raw json.RawMessage) {
		totalMsgRecv.Add(1)
		select {
		case msgRecv <- struct{}{}:
		default:
		}
	})

	// Either side ending (or disconnecting) finishes the lifecycle.
	endHandler := func(json.RawMessage) {
		select {
		case ended <- struct{}{}:
		default:
		}
	}
	c.On(client.TypeCallEnded, endHandler)
	c.On(client.TypePartnerGone, endHandler)

	// --- Matching ---

	matchStart := time.Now()

	if err := c.Send(map[string]interface{}{
		"type":        client.TypeJoinQueue,
		"displayName": c.UserID(),
	}); err != nil {
		errorCount.Add(1)
		collector.AddError()
		return
	}

	matchCtx, matchCancel := context.WithTimeout(ctx, matchTimeout)
	defer matchCancel()

	var sessionID string
	select {
	case sessionID = <-matchFound:
	case <-matchCtx.Done():
		errorCount.Add(1)
		collector.AddError()
		return
	}

	result.matched = true
	result.matchLatency = time.Since(matchStart)

	// --- Chat ---

	activeSessions.Add(1)
	defer activeSessions.Add(-1)

	chatCtx, chatCancel := context.WithTimeout(ctx, chatDuration)
	defer chatCancel()

	// Approximate round-trip latency: time from this client's last send to
	// its next receive. With both sides on the same interval this stays a
	// rough but stable signal.
	var lastSend atomic.Int64

	var chatWg sync.WaitGroup
	chatWg.Add(2)

	go func() {
		defer chatWg.Done()
		ticker := time.NewTicker(msgInterval)
		defer ticker.Stop()

		for {
			select {
			case <-chatCtx.Done():
				return
			case <-ticker.C:
				lastSend.Store(time.Now().UnixNano())
				if err := c.Send(map[string]string{
					"type":      client.TypeChatMessage,
					"sessionId": sessionID,
					"content":   msgPayload,
				}); err != nil {
					errorCount.Add(1)
					collector.AddError()
					return
				}
				totalMsgSent.Add(1)
				result.msgSent++
			}
		}
	}()

	go func() {
		defer chatWg.Done()
		for {
			select {
			case <-chatCtx.Done():
				return
			case <-msgRecv:
				result.msgRecv++
				if ts := lastSend.Load(); ts > 0 {
					collector.AddMsgLatency(time.Since(time.Unix(0, ts)))
				}
			}
		}
	}()

	chatWg.Wait()

	// --- End ---

	// The partner may have ended first; that already counts as a clean end.
	select {
	case <-ended:
		result.endedCleanly = true
		return
	default:
	}

	if err := c.Send(map[string]string{
		"type":      client.TypeEndCall,
		"sessionId": sessionID,
	}); err != nil {
		errorCount.Add(1)
		collector.AddError()
		return
	}

	endCtx, endCancel := context.WithTimeout(ctx, 5*time.Second)
	defer endCancel()

	select {
	case <-ended:
		result.endedCleanly = true
	case <-endCtx.Done():
		errorCount.Add(1)
		collector.AddError()
	}
}
