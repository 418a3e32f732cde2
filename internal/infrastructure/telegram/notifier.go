package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ResearchPipeline/internal/config"
	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

// Notifier posts a digest to a Telegram chat once a run reaches a terminal
// state. Sends happen off the run goroutine; repeated terminal updates for a
// run are ignored while its digest is in flight.
type Notifier struct {
	endpoint string
	chatID   string
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	notified map[string]struct{} // runs whose digest is being sent
	wg       sync.WaitGroup
}

var _ ports.RunObserver = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(cfg config.TelegramConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &Notifier{
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", base, cfg.BotToken),
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger.With("component", "telegram"),
		notified: map[string]struct{}{},
	}
}

// RunUpdated sends one digest per terminal run.
func (n *Notifier) RunUpdated(run domain.Run) {
	if !run.Terminal() {
		return
	}
	n.mu.Lock()
	if _, seen := n.notified[run.ID]; seen {
		n.mu.Unlock()
		return
	}
	n.notified[run.ID] = struct{}{}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		defer n.forget(run.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.PublishDigest(ctx, Digest(run)); err != nil {
			n.logger.Warn("notification failed", "run_id", run.ID, "error", err)
		}
	}()
}

// forget drops the in-flight marker. A run reports its terminal state once,
// so the marker only has to outlive the send.
func (n *Notifier) forget(runID string) {
	n.mu.Lock()
	delete(n.notified, runID)
	n.mu.Unlock()
}

// pending reports how many runs have a send in flight.
func (n *Notifier) pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishDigest posts a Markdown message to Telegram.
func (n *Notifier) PublishDigest(ctx context.Context, digest string) error {
	if n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", digest)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// Digest renders the notification text for a terminal run.
func Digest(run domain.Run) string {
	var b strings.Builder
	if run.Status == domain.RunFailed {
		fmt.Fprintf(&b, "*%s* research failed", run.Company)
		if run.Error != "" {
			fmt.Fprintf(&b, ": %s", run.Error)
		}
		return b.String()
	}

	name := run.Company
	if run.Report != nil && run.Report.Metadata.CompanyName != "" {
		name = run.Report.Metadata.CompanyName
	}
	fmt.Fprintf(&b, "*%s* research completed (%s)", name, run.Depth)
	if run.Report != nil {
		meta := run.Report.Metadata
		fmt.Fprintf(&b, "\nScore: %d/10", meta.OverallScore)
		if meta.Recommendation != "" {
			fmt.Fprintf(&b, "\nRecommendation: %s", meta.Recommendation)
		}
	}
	fmt.Fprintf(&b, "\nRun: `%s`", run.ID)
	return b.String()
}
