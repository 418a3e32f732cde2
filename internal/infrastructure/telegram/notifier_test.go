package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ResearchPipeline/internal/config"
	"ResearchPipeline/internal/domain"
)

type capture struct {
	gate  chan struct{}
	mu    sync.Mutex
	paths []string
	texts []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.texts = append(c.texts, r.PostForm.Get("text"))
		c.mu.Unlock()
		if c.gate != nil {
			<-c.gate
		}
		w.WriteHeader(status)
	}
}

func (c *capture) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...), append([]string(nil), c.texts...)
}

func completedRun() domain.Run {
	return domain.Run{
		ID:      "run-1",
		Company: "Acme",
		Depth:   domain.DepthStandard,
		Status:  domain.RunCompleted,
		Report: &domain.Report{Metadata: domain.ReportMetadata{
			CompanyName:    "Acme Corp",
			OverallScore:   6,
			Recommendation: "持有",
		}},
	}
}

func TestNotifierSendsOncePerTerminalRun(t *testing.T) {
	t.Parallel()

	c := capture{gate: make(chan struct{})}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "tok", ChatID: "42", APIBase: srv.URL}, nil)

	running := completedRun()
	running.Status = domain.RunRunning
	n.RunUpdated(running)
	n.RunUpdated(completedRun())
	n.RunUpdated(completedRun())
	if got := n.pending(); got != 1 {
		t.Fatalf("expected one send in flight, got %d", got)
	}
	close(c.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	paths, texts := c.snapshot()
	if len(paths) != 1 {
		t.Fatalf("expected one notification, got %d", len(paths))
	}
	if paths[0] != "/bottok/sendMessage" {
		t.Fatalf("unexpected path %s", paths[0])
	}
	if !strings.Contains(texts[0], "Acme Corp") || !strings.Contains(texts[0], "6/10") {
		t.Fatalf("unexpected digest %q", texts[0])
	}
	if got := n.pending(); got != 0 {
		t.Fatalf("finished sends must not be retained, got %d", got)
	}
}

func TestNotifierDoesNotRetainFinishedRuns(t *testing.T) {
	t.Parallel()

	var c capture
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "tok", ChatID: "42", APIBase: srv.URL}, nil)
	for i := range 20 {
		run := completedRun()
		run.ID = fmt.Sprintf("run-%d", i)
		n.RunUpdated(run)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := n.pending(); got != 0 {
		t.Fatalf("expected no retained runs, got %d", got)
	}
	if paths, _ := c.snapshot(); len(paths) != 20 {
		t.Fatalf("expected 20 notifications, got %d", len(paths))
	}
}

func TestPublishDigestReportsHTTPError(t *testing.T) {
	t.Parallel()

	var c capture
	srv := httptest.NewServer(c.handler(http.StatusForbidden))
	defer srv.Close()

	n := NewNotifier(config.TelegramConfig{BotToken: "tok", ChatID: "42", APIBase: srv.URL}, nil)
	if err := n.PublishDigest(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestDigestForFailedRun(t *testing.T) {
	t.Parallel()

	run := domain.Run{ID: "run-2", Company: "Globex", Status: domain.RunFailed, Error: "run cancelled"}
	got := Digest(run)
	if !strings.Contains(got, "Globex") || !strings.Contains(got, "run cancelled") {
		t.Fatalf("unexpected digest %q", got)
	}
}
