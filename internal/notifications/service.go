package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"blackhole/internal/config"
)

const userAgent = "blackhole/1"

// Event identifies a notification type.
type Event string

const (
	// EventDescriptorFailed fires when a descriptor stays malformed after every retry.
	EventDescriptorFailed Event = "descriptor_failed"
	// EventRouteFailed fires when a classified descriptor could not be placed or submitted.
	EventRouteFailed Event = "route_failed"
	// EventSweepCompleted summarizes a one-shot sweep.
	EventSweepCompleted Event = "sweep_completed"
	// EventTest is sent by "blackhole config validate --check-remote".
	EventTest Event = "test"
)

// Payload carries event specific values.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		errors:   cfg.Notifications.Errors,
		sweep:    cfg.Notifications.Sweep,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	errors   bool
	sweep    bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventDescriptorFailed:
		if !n.errors {
			return message{}, false
		}
		body := fmt.Sprintf("❌ Unreadable descriptor: %s", payloadString(payload, "descriptor"))
		if attempts := payloadInt(payload, "attempts"); attempts > 0 {
			body += fmt.Sprintf(" (after %d attempts)", attempts)
		}
		if reason := payloadString(payload, "error"); reason != "" {
			body += "\n" + reason
		}
		return message{
			title:    "blackhole - Descriptor Failed",
			body:     body,
			tags:     []string{"blackhole", "descriptor", payloadString(payload, "category")},
			priority: "high",
		}, true
	case EventRouteFailed:
		if !n.errors {
			return message{}, false
		}
		return message{
			title:    "blackhole - Routing Failed",
			body:     fmt.Sprintf("❌ Could not %s %s: %s", payloadString(payload, "route"), payloadString(payload, "descriptor"), payloadString(payload, "error")),
			tags:     []string{"blackhole", "error", "alert"},
			priority: "high",
		}, true
	case EventSweepCompleted:
		if !n.sweep {
			return message{}, false
		}
		return message{
			title: "blackhole - Sweep Complete",
			body:  fmt.Sprintf("Processed %d descriptor(s)", payloadInt(payload, "count")),
			tags:  []string{"blackhole", "sweep", "completed"},
		}, true
	case EventTest:
		return message{
			title:    "blackhole - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"blackhole", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if tags := compactTags(data.tags); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func compactTags(tags []string) []string {
	out := tags[:0:0]
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func payloadString(p Payload, key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func payloadInt(p Payload, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
