package notify_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"runpilot/internal/config"
	"runpilot/internal/notify"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notify.NewService(&cfg)
	if err := svc.AnalysisSucceeded(context.Background(), "run_0042", "log"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	email    string
	body     string
}

func newCapturingService(t *testing.T, recipientsFile string) (notify.Service, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		got.email = r.Header.Get("Email")
		body, _ := io.ReadAll(r.Body)
		got.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RecipientsFile = recipientsFile
	return notify.NewService(&cfg), got
}

func TestAnalysisFailedCarriesLogAndPriority(t *testing.T) {
	svc, got := newCapturingService(t, "")

	err := svc.AnalysisFailed(context.Background(), "run_0042", 2, "line one\nline two")
	if err != nil {
		t.Fatal(err)
	}
	if got.title != "Runpilot - Analysis Failed" {
		t.Fatalf("title = %q", got.title)
	}
	if got.priority != "high" {
		t.Fatalf("priority = %q", got.priority)
	}
	if !strings.Contains(got.body, "code 2") || !strings.Contains(got.body, "line two") {
		t.Fatalf("body missing exit code or log tail: %q", got.body)
	}
}

func TestRecipientsJoinedIntoEmailHeader(t *testing.T) {
	dir := t.TempDir()
	recipients := filepath.Join(dir, "recipients.txt")
	content := "# operators\n\nalice@example.org\nbob@example.org\n"
	if err := os.WriteFile(recipients, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	svc, got := newCapturingService(t, recipients)
	if err := svc.ManualDeliveryNeeded(context.Background(), "run_0042", "Project_jdoe", "jdoe"); err != nil {
		t.Fatal(err)
	}
	if got.email != "alice@example.org, bob@example.org" {
		t.Fatalf("email header = %q", got.email)
	}
	if !strings.Contains(got.body, "manual delivery") {
		t.Fatalf("body = %q", got.body)
	}
}

func TestSendReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notify.NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestLoadRecipients(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipients.txt")
	content := "# comment\nalice@example.org\n\n  bob@example.org  \n# trailing comment\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := notify.LoadRecipients(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0] != "alice@example.org" || list[1] != "bob@example.org" {
		t.Fatalf("recipients = %v", list)
	}
}

func TestLoadRecipientsMissingFile(t *testing.T) {
	_, err := notify.LoadRecipients(filepath.Join(t.TempDir(), "absent.txt"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected wrapped path error, got %v", err)
	}
}
