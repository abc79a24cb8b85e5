// Package notification delivers billing alerts to Slack, e-mail and generic
// webhooks.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"slices"
	"strings"
	"time"
)

// Channel represents a notification delivery channel.
type Channel string

const (
	ChannelSlack   Channel = "slack"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

// EventType represents the type of notification event.
type EventType string

const (
	EventFundOverBudget EventType = "fund.over_budget"
	EventFundWarning    EventType = "fund.warning"
	EventIngestFailed   EventType = "ingestion.failed"
)

// Severity levels used for Slack colouring.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Message represents a notification message.
type Message struct {
	EventType EventType      `json:"eventType"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Severity  string         `json:"severity,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config holds notification service configuration.
type Config struct {
	SlackWebhookURL string
	EmailSMTPHost   string
	EmailSMTPPort   int
	EmailFrom       string
	EmailPassword   string
	EmailRecipients []string
	WebhookURLs     []string
}

// Service manages notification delivery across channels.
type Service struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	channels   []Channel
}

// NewService creates a notification service with every channel whose
// settings are present.
func NewService(cfg Config, logger *slog.Logger) *Service {
	s := &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}

	if cfg.SlackWebhookURL != "" {
		s.channels = append(s.channels, ChannelSlack)
	}
	if cfg.EmailSMTPHost != "" {
		s.channels = append(s.channels, ChannelEmail)
	}
	if len(cfg.WebhookURLs) > 0 {
		s.channels = append(s.channels, ChannelWebhook)
	}

	return s
}

// Channels lists the configured channels.
func (s *Service) Channels() []Channel {
	return slices.Clone(s.channels)
}

// Send delivers msg to every configured channel. A failing channel does not
// stop the others; all failures are returned joined.
func (s *Service) Send(ctx context.Context, msg Message) error {
	msg.Timestamp = time.Now().UTC()
	var errs []error
	for _, ch := range s.channels {
		if err := s.deliver(ctx, ch, msg); err != nil {
			s.logger.ErrorContext(ctx, "notification send failed", "channel", ch, "event", msg.EventType, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// SendToChannel sends a notification to a specific channel.
func (s *Service) SendToChannel(ctx context.Context, ch Channel, msg Message) error {
	msg.Timestamp = time.Now().UTC()
	return s.deliver(ctx, ch, msg)
}

// HasChannel returns true if the specified channel is configured.
func (s *Service) HasChannel(ch Channel) bool {
	return slices.Contains(s.channels, ch)
}

func (s *Service) deliver(ctx context.Context, ch Channel, msg Message) error {
	switch ch {
	case ChannelSlack:
		return s.sendSlack(ctx, msg)
	case ChannelEmail:
		return s.sendEmail(msg)
	case ChannelWebhook:
		return s.sendWebhook(ctx, msg)
	default:
		return fmt.Errorf("unsupported channel: %s", ch)
	}
}

func (s *Service) sendSlack(ctx context.Context, msg Message) error {
	color := "#2196F3"
	switch msg.Severity {
	case SeverityCritical:
		color = "#FF0000"
	case SeverityHigh:
		color = "#FF9800"
	case SeverityMedium:
		color = "#FFC107"
	}

	payload := map[string]any{
		"attachments": []map[string]any{
			{
				"color":  color,
				"title":  msg.Title,
				"text":   msg.Body,
				"footer": "Reseller Billing",
				"ts":     msg.Timestamp.Unix(),
				"fields": slackFields(msg.Data),
			},
		},
	}
	return s.postJSON(ctx, s.cfg.SlackWebhookURL, payload, nil)
}

func (s *Service) sendEmail(msg Message) error {
	if s.cfg.EmailSMTPHost == "" {
		return errors.New("email SMTP not configured")
	}

	recipients := s.cfg.EmailRecipients
	if len(recipients) == 0 {
		recipients = []string{s.cfg.EmailFrom}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.EmailFrom)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: [Billing] %s\r\n", msg.Title)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n\r\n")
	for _, k := range sortedKeys(msg.Data) {
		fmt.Fprintf(&b, "%s: %v\r\n", k, msg.Data[k])
	}
	fmt.Fprintf(&b, "\r\nEvent: %s\r\nTime: %s\r\n", msg.EventType, msg.Timestamp.Format(time.RFC3339))

	var auth smtp.Auth
	if s.cfg.EmailPassword != "" {
		auth = smtp.PlainAuth("", s.cfg.EmailFrom, s.cfg.EmailPassword, s.cfg.EmailSMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.EmailSMTPHost, s.cfg.EmailSMTPPort)
	if err := smtp.SendMail(addr, auth, s.cfg.EmailFrom, recipients, []byte(b.String())); err != nil {
		return fmt.Errorf("email send failed: %w", err)
	}

	s.logger.Info("email notification sent", "event", msg.EventType, "recipients", len(recipients))
	return nil
}

func (s *Service) sendWebhook(ctx context.Context, msg Message) error {
	var errs []error
	for _, url := range s.cfg.WebhookURLs {
		headers := map[string]string{"X-Billing-Event": string(msg.EventType)}
		if err := s.postJSON(ctx, url, msg, headers); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) postJSON(ctx context.Context, url string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func slackFields(data map[string]any) []map[string]any {
	fields := make([]map[string]any, 0, len(data))
	for _, k := range sortedKeys(data) {
		fields = append(fields, map[string]any{
			"title": k,
			"value": fmt.Sprintf("%v", data[k]),
			"short": true,
		})
	}
	return fields
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
