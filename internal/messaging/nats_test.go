package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestClient connects to a local NATS server or skips the test.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.Name = "pairchat-test"
	cfg.MaxReconnects = 0

	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPublishJSONReachesAuditSubscriber(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 3)
	handler := func(data []byte) { got <- data }
	require.NoError(t, c.SubscribeAudit(handler, handler, handler))
	require.NoError(t, c.Flush(time.Second))

	require.NoError(t, c.PublishJSON(SubjectReport, map[string]string{"reason": "spam"}))

	select {
	case data := <-got:
		var body map[string]string
		require.NoError(t, json.Unmarshal(data, &body))
		require.Equal(t, "spam", body["reason"])
	case <-time.After(2 * time.Second):
		t.Fatal("report not delivered")
	}
}

func TestPublishJSONRejectsUnencodable(t *testing.T) {
	c := newTestClient(t)

	err := c.PublishJSON(SubjectReport, make(chan int))
	require.Error(t, err)
	require.Contains(t, err.Error(), "nats marshal "+SubjectReport)
}
