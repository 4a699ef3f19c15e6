// Package main implements a standalone end-to-end integration test for the
// relay server. It validates the full user journey against a running stack:
// health checks, WebSocket connect, matchmaking, chat relay, end call, rate
// limiting, and report submission.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-metrics http://localhost:9090/metrics] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pairline/relay/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP base URL for the health endpoint")
	metricsURL := flag.String("metrics", "http://localhost:9090/metrics", "Prometheus metrics endpoint URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Relay E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var results []scenarioResult

	results = append(results, scenario1HealthCheck(ctx, *apiBase, *metricsURL))
	results = append(results, scenario2Connect(ctx, *wsURL))

	// Scenarios 3-5 share a matched pair; run them as a group.
	s3, s4, s5 := scenario345MatchChatEnd(ctx, *wsURL)
	results = append(results, s3, s4, s5)

	// Optional scenarios (non-fatal).
	results = append(results, scenario6RateLimiting(ctx, *wsURL))
	results = append(results, scenario7ReportFlow(ctx, *wsURL))

	// -----------------------------------------------------------------------
	// Summary
	// -----------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: Health Check
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase, metricsURL string) scenarioResult {
	name := "Scenario 1: Health Check"

	// 1a. /health — expect JSON with status "ok".
	body, err := httpGetBody(ctx, apiBase+"/health")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	var healthResp struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := json.Unmarshal(body, &healthResp); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health JSON parse: %v", err)}
	}
	if healthResp.Status != "ok" {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health status %q", healthResp.Status)}
	}

	// 1b. metrics endpoint — expect Prometheus text with relay_connections.
	metricsBody, err := httpGetBody(ctx, metricsURL)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("metrics: %v", err)}
	}
	if !strings.Contains(string(metricsBody), "relay_connections") {
		return scenarioResult{name, resultFail, "metrics: missing relay_connections"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("connections=%d", healthResp.Connections)}
}

// ---------------------------------------------------------------------------
// Scenario 2: Connect
// ---------------------------------------------------------------------------

func scenario2Connect(ctx context.Context, wsURL string) scenarioResult {
	name := "Scenario 2: Connect"

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	countA := make(chan int, 1)

	clientA, err := client.New(connCtx, wsURL, "e2e-connect-a")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("client A connect: %v", err)}
	}
	defer clientA.Close()

	clientA.On(client.TypeActiveUsersCount, func(raw json.RawMessage) {
		var msg struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil {
			select {
			case countA <- msg.Count:
			default:
			}
		}
	})

	// A second connection changes the live count, which the server broadcasts
	// to everyone including client A.
	clientB, err := client.New(connCtx, wsURL, "e2e-connect-b")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("client B connect: %v", err)}
	}
	defer clientB.Close()

	select {
	case n := <-countA:
		return scenarioResult{name, resultPass, fmt.Sprintf("active_users_count=%d", n)}
	case <-connCtx.Done():
		return scenarioResult{name, resultFail, "timeout waiting for active_users_count broadcast"}
	}
}

// ---------------------------------------------------------------------------
// Scenarios 3, 4, 5: Matching Flow, Chat Relay, End Call
// ---------------------------------------------------------------------------

// matchInfo is what each side learns from its match_found event.
type matchInfo struct {
	SessionID   string `json:"sessionId"`
	PartnerID   string `json:"partnerId"`
	IsInitiator bool   `json:"isInitiator"`
}

func scenario345MatchChatEnd(ctx context.Context, wsURL string) (scenarioResult, scenarioResult, scenarioResult) {
	s3Name := "Scenario 3: Matching Flow"
	s4Name := "Scenario 4: Chat Relay"
	s5Name := "Scenario 5: End Call"

	failAll := func(reason string) (scenarioResult, scenarioResult, scenarioResult) {
		return scenarioResult{s3Name, resultFail, reason},
			scenarioResult{s4Name, resultFail, "skipped: matching failed"},
			scenarioResult{s5Name, resultFail, "skipped: matching failed"}
	}

	// --- Connect two clients ---
	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	clientA, clientB, matchA, matchB, err := connectAndMatch(connCtx, wsURL, "e2e-match-a", "e2e-match-b")
	if err != nil {
		return failAll(err.Error())
	}
	defer clientA.Close()
	defer clientB.Close()

	// --- Scenario 3: validate the pairing ---
	if matchA.SessionID == "" || matchA.SessionID != matchB.SessionID {
		return failAll(fmt.Sprintf("session mismatch: %q vs %q", matchA.SessionID, matchB.SessionID))
	}
	if matchA.PartnerID != clientB.UserID() || matchB.PartnerID != clientA.UserID() {
		return failAll(fmt.Sprintf("partner mismatch: A->%q B->%q", matchA.PartnerID, matchB.PartnerID))
	}
	if matchA.IsInitiator == matchB.IsInitiator {
		return failAll("expected exactly one initiator")
	}

	s3Result := scenarioResult{s3Name, resultPass,
		fmt.Sprintf("session=%s, initiator=%s", truncateID(matchA.SessionID), initiatorOf(clientA, clientB, matchA))}

	// --- Scenario 4: chat relay in both directions ---
	msgToB := make(chan string, 1) // content B received
	msgToA := make(chan string, 1) // content A received

	clientB.On(client.TypeChatMessage, func(raw json.RawMessage) {
		var msg struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil {
			select {
			case msgToB <- msg.Content:
			default:
			}
		}
	})

	clientA.On(client.TypeChatMessage, func(raw json.RawMessage) {
		var msg struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil {
			select {
			case msgToA <- msg.Content:
			default:
			}
		}
	})

	chatCtx, chatCancel := context.WithTimeout(ctx, 10*time.Second)
	defer chatCancel()

	failChat := func(reason string) (scenarioResult, scenarioResult, scenarioResult) {
		return s3Result,
			scenarioResult{s4Name, resultFail, reason},
			scenarioResult{s5Name, resultFail, "skipped: chat failed"}
	}

	textA := "Hello from A"
	if err := clientA.Send(map[string]string{
		"type":      client.TypeChatMessage,
		"sessionId": matchA.SessionID,
		"content":   textA,
	}); err != nil {
		return failChat(fmt.Sprintf("client A send: %v", err))
	}

	select {
	case got := <-msgToB:
		if got != textA {
			return failChat(fmt.Sprintf("content mismatch: expected %q, got %q", textA, got))
		}
	case <-chatCtx.Done():
		return failChat("timeout: client B did not receive message from A")
	}

	textB := "Hello from B"
	if err := clientB.Send(map[string]string{
		"type":      client.TypeChatMessage,
		"sessionId": matchB.SessionID,
		"content":   textB,
	}); err != nil {
		return failChat(fmt.Sprintf("client B send: %v", err))
	}

	select {
	case got := <-msgToA:
		if got != textB {
			return failChat(fmt.Sprintf("content mismatch: expected %q, got %q", textB, got))
		}
	case <-chatCtx.Done():
		return failChat("timeout: client A did not receive message from B")
	}

	s4Result := scenarioResult{s4Name, resultPass, "2 messages relayed"}

	// --- Scenario 5: end call ---
	endedA := make(chan struct{}, 1)
	endedB := make(chan struct{}, 1)

	clientA.On(client.TypeCallEnded, func(_ json.RawMessage) {
		select {
		case endedA <- struct{}{}:
		default:
		}
	})
	clientB.On(client.TypeCallEnded, func(_ json.RawMessage) {
		select {
		case endedB <- struct{}{}:
		default:
		}
	})

	endCtx, endCancel := context.WithTimeout(ctx, 10*time.Second)
	defer endCancel()

	if err := clientA.Send(map[string]string{
		"type":      client.TypeEndCall,
		"sessionId": matchA.SessionID,
	}); err != nil {
		return s3Result, s4Result,
			scenarioResult{s5Name, resultFail, fmt.Sprintf("client A end_call: %v", err)}
	}

	// Both sides must be told the session ended.
	select {
	case <-endedA:
	case <-endCtx.Done():
		return s3Result, s4Result,
			scenarioResult{s5Name, resultFail, "timeout: client A did not receive call_ended"}
	}
	select {
	case <-endedB:
	case <-endCtx.Done():
		return s3Result, s4Result,
			scenarioResult{s5Name, resultFail, "timeout: client B did not receive call_ended"}
	}

	clientA.Close()
	clientB.Close()

	s5Result := scenarioResult{s5Name, resultPass, "both notified"}
	return s3Result, s4Result, s5Result
}

// initiatorOf names which client received isInitiator=true.
func initiatorOf(a, b *client.Client, matchA matchInfo) string {
	if matchA.IsInitiator {
		return a.UserID()
	}
	return b.UserID()
}

// ---------------------------------------------------------------------------
// Scenario 6: Rate Limiting (optional, non-fatal)
// ---------------------------------------------------------------------------

func scenario6RateLimiting(ctx context.Context, wsURL string) scenarioResult {
	name := "Scenario 6: Rate Limiting"

	scenarioCtx, scenarioCancel := context.WithTimeout(ctx, 30*time.Second)
	defer scenarioCancel()

	clientA, clientB, matchA, _, err := connectAndMatch(scenarioCtx, wsURL, "e2e-rl-a", "e2e-rl-b")
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("setup failed: %v", err)}
	}
	defer clientA.Close()
	defer clientB.Close()

	rateLimited := make(chan struct{}, 1)
	clientA.On(client.TypeRateLimited, func(_ json.RawMessage) {
		select {
		case rateLimited <- struct{}{}:
		default:
		}
	})

	// Send 15 messages rapidly from client A (limit is 10 per 10s window, and
	// the limiter is only active when Redis is configured).
	sentCount := 0
	for i := 0; i < 15; i++ {
		err := clientA.Send(map[string]string{
			"type":      client.TypeChatMessage,
			"sessionId": matchA.SessionID,
			"content":   fmt.Sprintf("rapid message %d", i+1),
		})
		if err != nil {
			break
		}
		sentCount++
	}

	rlCtx, rlCancel := context.WithTimeout(scenarioCtx, 5*time.Second)
	defer rlCancel()

	select {
	case <-rateLimited:
		return scenarioResult{name, resultInfo, fmt.Sprintf("rate_limited received after %d messages", sentCount)}
	case <-rlCtx.Done():
		return scenarioResult{name, resultInfo, fmt.Sprintf("no rate_limited after %d messages (limiter may be disabled)", sentCount)}
	}
}

// ---------------------------------------------------------------------------
// Scenario 7: Report Flow (optional, non-fatal)
// ---------------------------------------------------------------------------

func scenario7ReportFlow(ctx context.Context, wsURL string) scenarioResult {
	name := "Scenario 7: Report Flow"

	scenarioCtx, scenarioCancel := context.WithTimeout(ctx, 30*time.Second)
	defer scenarioCancel()

	clientA, clientB, matchA, _, err := connectAndMatch(scenarioCtx, wsURL, "e2e-report-a", "e2e-report-b")
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("setup failed: %v", err)}
	}
	defer clientA.Close()
	defer clientB.Close()

	ack := make(chan bool, 1) // carries the persisted flag
	clientA.On(client.TypeReportSubmitted, func(raw json.RawMessage) {
		var msg struct {
			ReportID  string `json:"reportId"`
			Persisted bool   `json:"persisted"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil && msg.ReportID != "" {
			select {
			case ack <- msg.Persisted:
			default:
			}
		}
	})

	if err := clientA.Send(map[string]string{
		"type":           client.TypeReportUser,
		"sessionId":      matchA.SessionID,
		"reportedUserId": clientB.UserID(),
		"reason":         "harassment",
		"description":    "e2e test report",
	}); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("send failed: %v", err)}
	}

	ackCtx, ackCancel := context.WithTimeout(scenarioCtx, 5*time.Second)
	defer ackCancel()

	select {
	case persisted := <-ack:
		return scenarioResult{name, resultInfo, fmt.Sprintf("report_submitted, persisted=%v", persisted)}
	case <-ackCtx.Done():
		return scenarioResult{name, resultInfo, "no report_submitted ack received"}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// connectAndMatch creates two clients, queues them both, and waits until each
// has received match_found. Caller is responsible for closing the clients.
func connectAndMatch(ctx context.Context, wsURL, userA, userB string) (clientA, clientB *client.Client, matchA, matchB matchInfo, err error) {
	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	failCleanup := func(e error) (*client.Client, *client.Client, matchInfo, matchInfo, error) {
		if clientA != nil {
			clientA.Close()
		}
		if clientB != nil {
			clientB.Close()
		}
		return nil, nil, matchInfo{}, matchInfo{}, e
	}

	clientA, err = client.New(connCtx, wsURL, userA)
	if err != nil {
		return failCleanup(fmt.Errorf("client A connect: %w", err))
	}

	clientB, err = client.New(connCtx, wsURL, userB)
	if err != nil {
		return failCleanup(fmt.Errorf("client B connect: %w", err))
	}

	matchFoundA := make(chan matchInfo, 1)
	matchFoundB := make(chan matchInfo, 1)

	clientA.On(client.TypeMatchFound, func(raw json.RawMessage) {
		var m matchInfo
		if err := json.Unmarshal(raw, &m); err == nil && m.SessionID != "" {
			select {
			case matchFoundA <- m:
			default:
			}
		}
	})

	clientB.On(client.TypeMatchFound, func(raw json.RawMessage) {
		var m matchInfo
		if err := json.Unmarshal(raw, &m); err == nil && m.SessionID != "" {
			select {
			case matchFoundB <- m:
			default:
			}
		}
	})

	if err := clientA.Send(map[string]interface{}{
		"type":        client.TypeJoinQueue,
		"displayName": userA,
	}); err != nil {
		return failCleanup(fmt.Errorf("client A join_queue: %w", err))
	}
	if err := clientB.Send(map[string]interface{}{
		"type":        client.TypeJoinQueue,
		"displayName": userB,
	}); err != nil {
		return failCleanup(fmt.Errorf("client B join_queue: %w", err))
	}

	matchCtx, matchCancel := context.WithTimeout(ctx, 30*time.Second)
	defer matchCancel()

	select {
	case matchA = <-matchFoundA:
	case <-matchCtx.Done():
		return failCleanup(fmt.Errorf("timeout waiting for match_found on client A"))
	}

	select {
	case matchB = <-matchFoundB:
	case <-matchCtx.Done():
		return failCleanup(fmt.Errorf("timeout waiting for match_found on client B"))
	}

	return clientA, clientB, matchA, matchB, nil
}

// httpGetBody performs an HTTP GET and returns the response body.
func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// truncateID returns the first 8 characters of an ID for display purposes.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
