package notification

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/finopsmind/billing/internal/model"
)

type captured struct {
	mu     sync.Mutex
	bodies []map[string]any
	events []string
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.events = append(c.events, r.Header.Get("X-Billing-Event"))
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendFundAlertOverBudget(t *testing.T) {
	var slack, hook captured
	slackSrv := httptest.NewServer(slack.handler(http.StatusOK))
	defer slackSrv.Close()
	hookSrv := httptest.NewServer(hook.handler(http.StatusAccepted))
	defer hookSrv.Close()

	svc := NewService(Config{SlackWebhookURL: slackSrv.URL, WebhookURLs: []string{hookSrv.URL}}, discardLogger())
	if !svc.HasChannel(ChannelSlack) || !svc.HasChannel(ChannelWebhook) || svc.HasChannel(ChannelEmail) {
		t.Fatalf("unexpected channels %v", svc.Channels())
	}

	err := svc.SendFundAlert(context.Background(), FundAlert{
		Customer: "Acme GmbH",
		Scope:    "cost center",
		Balance: model.FundBalance{
			Key: "cc-1", Name: "Production",
			TotalDeposit: decimal.NewFromInt(1000), TotalCost: decimal.NewFromInt(1200),
			AvailableFund: decimal.NewFromInt(-200), UtilizationPercent: 100, IsOverBudget: true,
		},
		Threshold: 80,
	})
	if err != nil {
		t.Fatalf("SendFundAlert: %v", err)
	}

	if len(hook.bodies) != 1 || hook.events[0] != string(EventFundOverBudget) {
		t.Fatalf("webhook got %v events %v", hook.bodies, hook.events)
	}
	if hook.bodies[0]["severity"] != SeverityHigh {
		t.Errorf("severity = %v", hook.bodies[0]["severity"])
	}
	if body, _ := hook.bodies[0]["body"].(string); !strings.Contains(body, "over budget by EUR 200.00") {
		t.Errorf("body = %q", body)
	}

	attachments, _ := slack.bodies[0]["attachments"].([]any)
	if len(attachments) != 1 {
		t.Fatalf("slack payload %v", slack.bodies[0])
	}
	fields, _ := attachments[0].(map[string]any)["fields"].([]any)
	if len(fields) != 7 || fields[0].(map[string]any)["title"] != "Available" {
		t.Errorf("slack fields not sorted: %v", fields)
	}
}

func TestSendCollectsChannelErrors(t *testing.T) {
	var ok captured
	okSrv := httptest.NewServer(ok.handler(http.StatusOK))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failSrv.Close()

	svc := NewService(Config{WebhookURLs: []string{failSrv.URL, okSrv.URL}}, discardLogger())
	err := svc.Send(context.Background(), Message{EventType: EventFundWarning, Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected joined webhook error, got %v", err)
	}
	if len(ok.bodies) != 1 {
		t.Errorf("healthy webhook should still be called, got %d", len(ok.bodies))
	}
}

func TestSendToUnknownChannel(t *testing.T) {
	svc := NewService(Config{}, discardLogger())
	if err := svc.SendToChannel(context.Background(), Channel("pager"), Message{}); err == nil {
		t.Fatal("expected error for unsupported channel")
	}
	if err := svc.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("no channels configured should be a no-op, got %v", err)
	}
}
