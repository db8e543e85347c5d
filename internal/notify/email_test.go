package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"fleetalert/internal/alert"
)

// mockSender records calls for assertion. failFor keys are plain
// addresses; they are matched against the escaped to= parameter.
type mockSender struct {
	mu      sync.Mutex
	urls    []string
	failFor map[string]bool
	failAll bool
}

func (m *mockSender) Send(target, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, target)
	if m.failAll {
		return fmt.Errorf("mock send error")
	}
	for addr := range m.failFor {
		if strings.Contains(target, "to="+url.QueryEscape(addr)) {
			return fmt.Errorf("mock send error for %s", addr)
		}
	}
	return nil
}

func TestEmailSendPerRecipient(t *testing.T) {
	sender := &mockSender{}
	ch := NewEmailChannel("smtp://relay:25/?from=alerts@example.com", sender)

	res := ch.Send(context.Background(), []string{"a@example.com", "b@example.com"}, "msg")
	if res.Reason != "" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
	if res.SentCount != 2 || res.FailedCount != 0 {
		t.Errorf("sent=%d failed=%d", res.SentCount, res.FailedCount)
	}
	if len(sender.urls) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.urls))
	}
	if !strings.Contains(sender.urls[0], "&to=a%40example.com") {
		t.Errorf("recipient not appended to URL: %q", sender.urls[0])
	}
}

func TestEmailRecipientEscaped(t *testing.T) {
	sender := &mockSender{}
	ch := NewEmailChannel("smtp://relay:25/?from=alerts@example.com", sender)

	res := ch.Send(context.Background(), []string{"ops+oncall@example.com"}, "msg")
	if res.SentCount != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(sender.urls[0], "to=ops%2Boncall%40example.com") {
		t.Fatalf("recipient not query-escaped: %q", sender.urls[0])
	}

	// The address must survive a round trip through URL parsing.
	parsed, err := url.Parse(sender.urls[0])
	if err != nil {
		t.Fatal(err)
	}
	if got := parsed.Query().Get("to"); got != "ops+oncall@example.com" {
		t.Errorf("decoded recipient = %q", got)
	}
}

func TestEmailPartialFailure(t *testing.T) {
	sender := &mockSender{failFor: map[string]bool{"bad@example.com": true}}
	ch := NewEmailChannel("smtp://relay:25", sender)

	res := ch.Send(context.Background(), []string{"bad@example.com", "ok@example.com"}, "msg")
	if res.SentCount != 1 || res.FailedCount != 1 {
		t.Errorf("sent=%d failed=%d, want 1/1", res.SentCount, res.FailedCount)
	}
	if len(sender.urls) != 2 {
		t.Error("one failing recipient must not abort the rest")
	}
}

func TestEmailSkipReasons(t *testing.T) {
	sender := &mockSender{}

	res := NewEmailChannel("", sender).Send(context.Background(), []string{"a@example.com"}, "msg")
	if res.Reason != alert.ReasonNotConfigured {
		t.Errorf("reason = %q, want not_configured", res.Reason)
	}

	ch := NewEmailChannel("smtp://relay:25", sender)
	if res := ch.Send(context.Background(), nil, "msg"); res.Reason != alert.ReasonNoRecipients {
		t.Errorf("reason = %q, want no_recipients", res.Reason)
	}
	if res := ch.Send(context.Background(), []string{"a@example.com"}, "  "); res.Reason != alert.ReasonInvalidMsg {
		t.Errorf("reason = %q, want invalid_message", res.Reason)
	}
	if len(sender.urls) != 0 {
		t.Error("skipped dispatches must not hit the sender")
	}
}
