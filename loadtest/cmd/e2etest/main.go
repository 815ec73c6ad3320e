// Package main implements a standalone end-to-end check of the pairing
// server. It validates the user journey against a running stack: health and
// ICE endpoints, the session handshake, pairing with a single initiator,
// payload relay, next-partner with deferred re-pairing, disconnect handling
// and input validation.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-timeout 60s]
//
// The server should be otherwise idle. Exit code 0 if every scenario passes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/strangr/pairchat/loadtest/client"
)

type scenarioResult struct {
	name   string
	ok     bool
	detail string
}

func pass(name, detail string) scenarioResult { return scenarioResult{name, true, detail} }

func fail(name string, format string, args ...interface{}) scenarioResult {
	return scenarioResult{name, false, fmt.Sprintf(format, args...)}
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== pairchat E2E check ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results := []scenarioResult{
		scenarioHTTP(ctx, *apiBase),
		scenarioHandshake(ctx, *wsURL),
	}
	results = append(results, scenarioPairing(ctx, *wsURL)...)
	results = append(results, scenarioValidation(ctx, *wsURL))

	fmt.Println()
	failed := 0
	for _, r := range results {
		tag := "PASS"
		if !r.ok {
			tag = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %s", tag, r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()
	}
	fmt.Printf("\n=== Results: %d/%d passed ===\n", len(results)-failed, len(results))

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// inbox buffers server messages by type so scenarios can wait for them.
type inbox struct {
	c  *client.Client
	ch map[string]chan json.RawMessage
}

var watchedTypes = []string{
	client.TypePartnerFound,
	client.TypePartnerDisconnected,
	client.TypeOffer,
	client.TypeAnswer,
	client.TypeICECandidate,
	client.TypeChatMessage,
	client.TypeRateLimited,
	client.TypeError,
}

func dial(ctx context.Context, wsURL string) (*inbox, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, wsURL)
	if err != nil {
		return nil, err
	}
	in := &inbox{c: c, ch: make(map[string]chan json.RawMessage)}
	for _, t := range watchedTypes {
		ch := make(chan json.RawMessage, 16)
		in.ch[t] = ch
		c.On(t, func(raw json.RawMessage) {
			select {
			case ch <- raw:
			default:
			}
		})
	}
	if err := c.WaitForSession(connCtx); err != nil {
		c.Close()
		return nil, err
	}
	return in, nil
}

func (in *inbox) wait(ctx context.Context, msgType string, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case raw := <-in.ch[msgType]:
		return raw, nil
	case <-timer.C:
		return nil, fmt.Errorf("no %s within %s", msgType, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// quiet reports whether no msgType arrives within d.
func (in *inbox) quiet(msgType string, d time.Duration) bool {
	select {
	case <-in.ch[msgType]:
		return false
	case <-time.After(d):
		return true
	}
}

func (in *inbox) partnerFound(ctx context.Context, timeout time.Duration) (client.PartnerFound, error) {
	raw, err := in.wait(ctx, client.TypePartnerFound, timeout)
	if err != nil {
		return client.PartnerFound{}, err
	}
	var msg client.PartnerFound
	err = json.Unmarshal(raw, &msg)
	return msg, err
}

func (in *inbox) errorCode(ctx context.Context) (string, error) {
	raw, err := in.wait(ctx, client.TypeError, 3*time.Second)
	if err != nil {
		return "", err
	}
	var msg struct {
		Code string `json:"code"`
	}
	err = json.Unmarshal(raw, &msg)
	return msg.Code, err
}

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

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenarioHTTP(ctx context.Context, apiBase string) scenarioResult {
	name := "HTTP endpoints"

	body, err := httpGetBody(ctx, apiBase+"/health")
	if err != nil {
		return fail(name, "/health: %v", err)
	}
	var health struct {
		Status  string `json:"status"`
		Pairing *struct {
			Pairs int `json:"pairs"`
		} `json:"pairing"`
	}
	if err := json.Unmarshal(body, &health); err != nil || health.Status != "ok" || health.Pairing == nil {
		return fail(name, "/health: unexpected body %s", body)
	}

	metricsBody, err := httpGetBody(ctx, apiBase+"/metrics")
	if err != nil {
		return fail(name, "/metrics: %v", err)
	}
	if !strings.Contains(string(metricsBody), "pairchat_connections_total") {
		return fail(name, "/metrics: missing pairchat_connections_total")
	}

	iceBody, err := httpGetBody(ctx, apiBase+"/ice-servers")
	if err != nil {
		return fail(name, "/ice-servers: %v", err)
	}
	var ice struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.Unmarshal(iceBody, &ice); err != nil || len(ice.ICEServers) == 0 {
		return fail(name, "/ice-servers: unexpected body %s", iceBody)
	}

	return pass(name, fmt.Sprintf("ice_servers=%d", len(ice.ICEServers)))
}

func scenarioHandshake(ctx context.Context, wsURL string) scenarioResult {
	name := "Connect and session-created"

	a, err := dial(ctx, wsURL)
	if err != nil {
		return fail(name, "client A: %v", err)
	}
	defer a.c.Close()
	b, err := dial(ctx, wsURL)
	if err != nil {
		return fail(name, "client B: %v", err)
	}
	defer b.c.Close()

	if a.c.SessionID() == b.c.SessionID() {
		return fail(name, "duplicate session id %s", a.c.SessionID())
	}
	return pass(name, fmt.Sprintf("a=%s b=%s", truncateID(a.c.SessionID()), truncateID(b.c.SessionID())))
}

// scenarioPairing walks A and B through pairing and relay, then A skips
// to C, C drops, and A ends up with B again.
func scenarioPairing(ctx context.Context, wsURL string) []scenarioResult {
	const (
		namePair  = "Pairing with a single initiator"
		nameRelay = "Payload relay"
		nameNext  = "next-partner notifies and re-pairs"
		nameDrop  = "Disconnect notifies and re-pairs after grace"
	)
	skipped := func(reason string) []scenarioResult {
		return []scenarioResult{
			fail(namePair, "%s", reason),
			fail(nameRelay, "skipped"),
			fail(nameNext, "skipped"),
			fail(nameDrop, "skipped"),
		}
	}

	a, err := dial(ctx, wsURL)
	if err != nil {
		return skipped(fmt.Sprintf("client A: %v", err))
	}
	defer a.c.Close()
	b, err := dial(ctx, wsURL)
	if err != nil {
		return skipped(fmt.Sprintf("client B: %v", err))
	}
	defer b.c.Close()

	_ = a.c.FindPartner("")
	if !a.quiet(client.TypePartnerFound, 300*time.Millisecond) {
		return skipped("A was paired while alone; is the server idle?")
	}
	_ = b.c.FindPartner("")

	fa, err := a.partnerFound(ctx, 5*time.Second)
	if err != nil {
		return skipped(fmt.Sprintf("A: %v", err))
	}
	fb, err := b.partnerFound(ctx, 5*time.Second)
	if err != nil {
		return skipped(fmt.Sprintf("B: %v", err))
	}

	var results []scenarioResult
	switch {
	case fa.PartnerID != b.c.SessionID() || fb.PartnerID != a.c.SessionID():
		results = append(results, fail(namePair, "asymmetric: A->%s B->%s", truncateID(fa.PartnerID), truncateID(fb.PartnerID)))
	case fa.Initiator == fb.Initiator:
		results = append(results, fail(namePair, "initiator flags equal (%v)", fa.Initiator))
	case fa.Tag != fb.Tag:
		results = append(results, fail(namePair, "tags differ: %q vs %q", fa.Tag, fb.Tag))
	default:
		results = append(results, pass(namePair, fmt.Sprintf("initiator=B:%v tag=%s", fb.Initiator, fb.Tag)))
	}

	// Relay: the initiator offers, the other side answers, both chat.
	offerer, answerer := a, b
	if fb.Initiator {
		offerer, answerer = b, a
	}
	results = append(results, checkRelay(ctx, nameRelay, offerer, answerer))

	// A skips B.
	_ = a.c.NextPartner()
	if _, err := b.wait(ctx, client.TypePartnerDisconnected, 3*time.Second); err != nil {
		results = append(results, fail(nameNext, "B: %v", err))
		return append(results, fail(nameDrop, "skipped"))
	}
	c, err := dial(ctx, wsURL)
	if err != nil {
		results = append(results, fail(nameNext, "client C: %v", err))
		return append(results, fail(nameDrop, "skipped"))
	}
	defer c.c.Close()
	_ = c.c.FindPartner("")

	fc, err := c.partnerFound(ctx, 5*time.Second)
	if err != nil {
		results = append(results, fail(nameNext, "C: %v", err))
		return append(results, fail(nameDrop, "skipped"))
	}
	if fc.PartnerID != a.c.SessionID() {
		results = append(results, fail(nameNext, "C paired with %s, want A", truncateID(fc.PartnerID)))
	} else {
		results = append(results, pass(nameNext, "A waited first and got C"))
	}
	_, _ = a.partnerFound(ctx, 3*time.Second)

	// C drops; A and B are both re-queued after the grace delay.
	start := time.Now()
	c.c.Close()
	if _, err := a.wait(ctx, client.TypePartnerDisconnected, 3*time.Second); err != nil {
		return append(results, fail(nameDrop, "A: %v", err))
	}
	fa, err = a.partnerFound(ctx, 10*time.Second)
	if err != nil {
		return append(results, fail(nameDrop, "A: %v", err))
	}
	if fa.PartnerID != b.c.SessionID() {
		return append(results, fail(nameDrop, "A re-paired with %s, want B", truncateID(fa.PartnerID)))
	}
	return append(results, pass(nameDrop, fmt.Sprintf("re-paired after %s", time.Since(start).Round(time.Millisecond))))
}

func checkRelay(ctx context.Context, name string, offerer, answerer *inbox) scenarioResult {
	offer := json.RawMessage(`{"sdp":"v=0\r\no=- 1 1 IN IP4 0.0.0.0","type":"offer"}`)
	if err := offerer.c.Signal(client.TypeOffer, offer); err != nil {
		return fail(name, "send offer: %v", err)
	}
	raw, err := answerer.wait(ctx, client.TypeOffer, 3*time.Second)
	if err != nil {
		return fail(name, "offer: %v", err)
	}
	var got struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &got); err != nil || !bytes.Equal(got.Payload, offer) {
		return fail(name, "offer payload changed: %s", got.Payload)
	}

	if err := answerer.c.Signal(client.TypeAnswer, map[string]string{"type": "answer", "sdp": "v=0"}); err != nil {
		return fail(name, "send answer: %v", err)
	}
	if _, err := offerer.wait(ctx, client.TypeAnswer, 3*time.Second); err != nil {
		return fail(name, "answer: %v", err)
	}

	if err := answerer.c.Signal(client.TypeChatMessage, map[string]string{"text": "hi"}); err != nil {
		return fail(name, "send chat-message: %v", err)
	}
	if _, err := offerer.wait(ctx, client.TypeChatMessage, 3*time.Second); err != nil {
		return fail(name, "chat-message: %v", err)
	}
	return pass(name, "offer, answer and chat-message delivered")
}

func scenarioValidation(ctx context.Context, wsURL string) scenarioResult {
	name := "Input validation"

	a, err := dial(ctx, wsURL)
	if err != nil {
		return fail(name, "client: %v", err)
	}
	defer a.c.Close()

	checks := []struct {
		msg  interface{}
		code string
	}{
		{map[string]string{"type": client.TypeReportUser, "reason": "rude"}, "invalid_message"},
		{map[string]string{"type": client.TypeFindPartner, "chat_type": "hologram"}, "invalid_chat_type"},
		{map[string]string{"type": client.TypeReportUser, "reason": "spam"}, "no_partner"},
		{map[string]string{"type": "partner-found"}, "unsupported_type"},
	}
	for _, chk := range checks {
		if err := a.c.Send(chk.msg); err != nil {
			return fail(name, "send: %v", err)
		}
		code, err := a.errorCode(ctx)
		if err != nil {
			return fail(name, "want %s: %v", chk.code, err)
		}
		if code != chk.code {
			return fail(name, "got %s, want %s", code, chk.code)
		}
	}

	// A signal without a partner is dropped silently.
	_ = a.c.Signal(client.TypeChatMessage, map[string]string{"text": "anyone?"})
	if !a.quiet(client.TypeError, 500*time.Millisecond) {
		return fail(name, "unpaired chat-message produced an error")
	}
	return pass(name, fmt.Sprintf("%d rejections", len(checks)))
}
