package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"runpilot/internal/config"
)

const userAgent = "Runpilot/0.1.0"

// logTailLimit bounds how much accumulated log text rides along in a
// notification body.
const logTailLimit = 4000

// Service defines the outcome-reporting surface exposed to the workflow.
// Every terminal outcome of a run reaches operators through exactly one of
// these calls; routine skips never do.
type Service interface {
	AnalysisSucceeded(ctx context.Context, run string, logText string) error
	AnalysisFailed(ctx context.Context, run string, exitCode int, logText string) error
	InstrumentFailure(ctx context.Context, run, state string, logText string) error
	WaitTimedOut(ctx context.Context, run, marker string, logText string) error
	SpawnFailed(ctx context.Context, run string, cause error, logText string) error
	MissingInput(ctx context.Context, run, name string, logText string) error
	SetupFailed(ctx context.Context, run string, cause error, logText string) error
	ProjectDelivered(ctx context.Context, run, project, destination string) error
	DeliveryFailed(ctx context.Context, run, project string, cause error, logText string) error
	ManualDeliveryNeeded(ctx context.Context, run, project, owner string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var recipients []string
	if path := strings.TrimSpace(cfg.Notifications.RecipientsFile); path != "" {
		// A missing or unreadable recipient list downgrades to push-only
		// notifications rather than blocking the workflow.
		recipients, _ = LoadRecipients(path)
	}

	return &ntfyService{
		endpoint:   topic,
		recipients: recipients,
		client:     &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	recipients []string
	client     *http.Client
}

func (n *ntfyService) AnalysisSucceeded(ctx context.Context, run, logText string) error {
	data := payload{
		title:   "Runpilot - Analysis Complete",
		message: fmt.Sprintf("Analysis finished for %s\n\n%s", run, logTail(logText)),
		tags:    []string{"runpilot", "analysis", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) AnalysisFailed(ctx context.Context, run string, exitCode int, logText string) error {
	data := payload{
		title:    "Runpilot - Analysis Failed",
		message:  fmt.Sprintf("Analysis for %s exited with code %d\n\n%s", run, exitCode, logTail(logText)),
		tags:     []string{"runpilot", "analysis", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) InstrumentFailure(ctx context.Context, run, state string, logText string) error {
	if strings.TrimSpace(state) == "" {
		state = "(no state reported)"
	}
	data := payload{
		title:    "Runpilot - Instrument Failure",
		message:  fmt.Sprintf("Run summary for %s reported %s\n\n%s", run, state, logTail(logText)),
		tags:     []string{"runpilot", "instrument", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) WaitTimedOut(ctx context.Context, run, marker string, logText string) error {
	data := payload{
		title:    "Runpilot - Wait Timed Out",
		message:  fmt.Sprintf("%s never appeared in %s\n\n%s", marker, run, logTail(logText)),
		tags:     []string{"runpilot", "timeout"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) SpawnFailed(ctx context.Context, run string, cause error, logText string) error {
	data := payload{
		title:    "Runpilot - Analysis Could Not Start",
		message:  fmt.Sprintf("Spawn failure for %s: %v\n\n%s", run, cause, logTail(logText)),
		tags:     []string{"runpilot", "spawn", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) MissingInput(ctx context.Context, run, name string, logText string) error {
	data := payload{
		title:    "Runpilot - Missing Input",
		message:  fmt.Sprintf("%s is missing from %s; analysis not started\n\n%s", name, run, logTail(logText)),
		tags:     []string{"runpilot", "input", "missing"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) SetupFailed(ctx context.Context, run string, cause error, logText string) error {
	data := payload{
		title:    "Runpilot - Setup Failure",
		message:  fmt.Sprintf("Could not start working %s: %v\n\n%s", run, cause, logTail(logText)),
		tags:     []string{"runpilot", "setup", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) ProjectDelivered(ctx context.Context, run, project, destination string) error {
	data := payload{
		title:   "Runpilot - Delivered",
		message: fmt.Sprintf("%s from %s delivered to %s", project, run, destination),
		tags:    []string{"runpilot", "delivery", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) DeliveryFailed(ctx context.Context, run, project string, cause error, logText string) error {
	data := payload{
		title:    "Runpilot - Delivery Failed",
		message:  fmt.Sprintf("Copy of %s from %s stopped: %v\nPartial output left in place for inspection.\n\n%s", project, run, cause, logTail(logText)),
		tags:     []string{"runpilot", "delivery", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) ManualDeliveryNeeded(ctx context.Context, run, project, owner string) error {
	data := payload{
		title:    "Runpilot - Manual Delivery Needed",
		message:  fmt.Sprintf("No destination found for account %q; %s from %s needs manual delivery", owner, project, run),
		tags:     []string{"runpilot", "delivery", "manual"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Runpilot - Test",
		message:  "Notification system test",
		tags:     []string{"runpilot", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	if len(n.recipients) > 0 {
		req.Header.Set("Email", strings.Join(n.recipients, ", "))
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

func logTail(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= logTailLimit {
		return text
	}
	tail := text[len(text)-logTailLimit:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return "[...]\n" + tail
}

type noopService struct{}

func (noopService) AnalysisSucceeded(context.Context, string, string) error            { return nil }
func (noopService) AnalysisFailed(context.Context, string, int, string) error          { return nil }
func (noopService) InstrumentFailure(context.Context, string, string, string) error   { return nil }
func (noopService) WaitTimedOut(context.Context, string, string, string) error        { return nil }
func (noopService) SpawnFailed(context.Context, string, error, string) error          { return nil }
func (noopService) MissingInput(context.Context, string, string, string) error        { return nil }
func (noopService) SetupFailed(context.Context, string, error, string) error          { return nil }
func (noopService) ProjectDelivered(context.Context, string, string, string) error    { return nil }
func (noopService) DeliveryFailed(context.Context, string, string, error, string) error {
	return nil
}
func (noopService) ManualDeliveryNeeded(context.Context, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
