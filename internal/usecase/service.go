package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("research run not found")
	// ErrRunNotCompleted is returned when a result is requested too early.
	ErrRunNotCompleted = errors.New("research run not completed")
	// ErrInvalidRequest is returned for malformed research requests.
	ErrInvalidRequest = errors.New("invalid research request")
	// ErrShuttingDown is returned when runs are requested during shutdown.
	ErrShuttingDown = errors.New("research service is shutting down")
)

// ServiceDeps wires the research service.
type ServiceDeps struct {
	Orchestrator OrchestratorDeps
	Runs         ports.RunRepository
	Logger       *slog.Logger
	DefaultDepth domain.Depth
	// RetainFinished is how long terminal runs stay in the in-memory registry.
	RetainFinished time.Duration
}

// RunHandle identifies a launched run.
type RunHandle struct {
	RunID          string `json:"runId"`
	ConversationID string `json:"conversationId"`
}

type activeRun struct {
	run    domain.Run
	cancel context.CancelFunc
	done   chan struct{}
}

// ResearchService launches runs in the background and answers lifecycle
// queries about them.
type ResearchService struct {
	orchestrator *Orchestrator
	runs         ports.RunRepository
	messages     ports.MessageStore
	observer     ports.RunObserver
	logger       *slog.Logger
	defaultDepth domain.Depth
	retain       time.Duration
	newID        func() string
	now          func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	closing bool
	active  map[string]*activeRun
}

var _ ports.RunObserver = (*ResearchService)(nil)

// NewResearchService builds the service and its orchestrator. The service
// observes every run so lifecycle queries see live progress.
func NewResearchService(deps ServiceDeps) *ResearchService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	depth := deps.DefaultDepth
	if depth == "" {
		depth = domain.DepthStandard
	}
	retain := deps.RetainFinished
	if retain <= 0 {
		retain = 30 * time.Minute
	}

	orchDeps := deps.Orchestrator
	if orchDeps.Logger == nil {
		orchDeps.Logger = logger
	}
	if orchDeps.NewID == nil {
		orchDeps.NewID = uuid.NewString
	}
	if orchDeps.Now == nil {
		orchDeps.Now = func() time.Time { return time.Now().UTC() }
	}

	baseCtx, stop := context.WithCancel(context.Background())
	s := &ResearchService{
		runs:         deps.Runs,
		messages:     orchDeps.Messages,
		observer:     orchDeps.Observer,
		logger:       logger.With("component", "research-service"),
		defaultDepth: depth,
		retain:       retain,
		newID:        orchDeps.NewID,
		now:          orchDeps.Now,
		baseCtx:      baseCtx,
		stop:         stop,
		active:       map[string]*activeRun{},
	}
	orchDeps.Observer = s
	s.orchestrator = NewOrchestrator(orchDeps)
	return s
}

// Start validates the request and launches the run in the background.
func (s *ResearchService) Start(company, depth string) (RunHandle, error) {
	req, err := s.request(company, depth)
	if err != nil {
		return RunHandle{}, err
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	entry, err := s.register(req, cancel)
	if err != nil {
		cancel()
		return RunHandle{}, err
	}

	go func() {
		defer s.wg.Done()
		defer close(entry.done)
		defer cancel()
		if _, err := s.orchestrator.Run(ctx, req); err != nil {
			s.logger.Warn("background run ended with error", "run_id", req.RunID, "error", err)
		}
	}()

	return RunHandle{RunID: req.RunID, ConversationID: req.ConversationID}, nil
}

// RunSync executes a run on the calling goroutine. Cancelling ctx cancels
// the run.
func (s *ResearchService) RunSync(ctx context.Context, company, depth string) (domain.Run, error) {
	req, err := s.request(company, depth)
	if err != nil {
		return domain.Run{}, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopOnShutdown := context.AfterFunc(s.baseCtx, cancel)
	defer stopOnShutdown()

	entry, err := s.register(req, cancel)
	if err != nil {
		return domain.Run{}, err
	}
	defer s.wg.Done()
	defer close(entry.done)

	return s.orchestrator.Run(runCtx, req)
}

func (s *ResearchService) request(company, depth string) (RunRequest, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return RunRequest{}, fmt.Errorf("%w: company is required", ErrInvalidRequest)
	}
	d, err := domain.ParseDepth(depth, s.defaultDepth)
	if err != nil {
		return RunRequest{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return RunRequest{
		RunID:          s.newID(),
		ConversationID: s.newID(),
		Company:        company,
		Depth:          d,
	}, nil
}

// register admits a run. On success the caller owns one wg count and must
// call wg.Done when the run returns.
func (s *ResearchService) register(req RunRequest, cancel context.CancelFunc) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, ErrShuttingDown
	}
	now := s.now()
	entry := &activeRun{
		run: domain.Run{
			ID:             req.RunID,
			ConversationID: req.ConversationID,
			Company:        req.Company,
			Depth:          req.Depth,
			Status:         domain.RunRunning,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active[req.RunID] = entry
	// wg grows only under mu while closing is false; Shutdown waits on
	// every admitted run
	s.wg.Add(1)
	return entry, nil
}

// RunUpdated records the latest snapshot of a run and persists it.
func (s *ResearchService) RunUpdated(run domain.Run) {
	s.mu.Lock()
	if entry, ok := s.active[run.ID]; ok {
		entry.run = run
	}
	s.mu.Unlock()

	if s.runs != nil {
		// the run context may already be cancelled; persistence must still happen
		if err := s.runs.SaveRun(context.Background(), run); err != nil {
			s.logger.Warn("persist run failed", "run_id", run.ID, "error", err)
		}
	}
	if s.observer != nil {
		s.observer.RunUpdated(run)
	}
}

// Run returns the latest known snapshot of a run.
func (s *ResearchService) Run(ctx context.Context, runID string) (domain.Run, error) {
	s.mu.RLock()
	entry, ok := s.active[runID]
	var run domain.Run
	if ok {
		run = entry.run
	}
	s.mu.RUnlock()
	if ok {
		return run, nil
	}

	if s.runs == nil {
		return domain.Run{}, ErrRunNotFound
	}
	run, err := s.runs.GetRun(ctx, runID)
	if errors.Is(err, ports.ErrNotFound) {
		return domain.Run{}, ErrRunNotFound
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return run, nil
}

// Status answers the run lifecycle query.
func (s *ResearchService) Status(ctx context.Context, runID string) (domain.RunStatusView, error) {
	run, err := s.Run(ctx, runID)
	if err != nil {
		return domain.RunStatusView{}, err
	}
	return run.View(), nil
}

// Result returns the final report of a completed run.
func (s *ResearchService) Result(ctx context.Context, runID string) (domain.Report, error) {
	run, err := s.Run(ctx, runID)
	if err != nil {
		return domain.Report{}, err
	}
	if run.Status != domain.RunCompleted || run.Report == nil {
		return domain.Report{}, fmt.Errorf("%w: status %s", ErrRunNotCompleted, run.Status)
	}
	return *run.Report, nil
}

// History lists completed runs, most recent first.
func (s *ResearchService) History(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if s.runs == nil {
		return []domain.RunSummary{}, nil
	}
	runs, err := s.runs.ListCompleted(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]domain.RunSummary, 0, len(runs))
	for _, run := range runs {
		completed := run.UpdatedAt
		if run.CompletedAt != nil {
			completed = *run.CompletedAt
		}
		if run.Report == nil {
			out = append(out, domain.RunSummary{RunID: run.ID, Company: run.Company, CompanyName: run.Company, CompletedAt: completed})
			continue
		}
		out = append(out, run.Report.Summary(run.ID, completed))
	}
	return out, nil
}

// Messages returns the snapshot of a conversation.
func (s *ResearchService) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs, err := s.messages.ListByScope(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// Cancel stops an in-flight run. The run ends Failed with ErrRunCancelled.
func (s *ResearchService) Cancel(runID string) error {
	s.mu.RLock()
	entry, ok := s.active[runID]
	s.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	entry.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx ends.
func (s *ResearchService) Wait(ctx context.Context, runID string) (domain.Run, error) {
	s.mu.RLock()
	entry, ok := s.active[runID]
	s.mu.RUnlock()
	if !ok {
		return s.Run(ctx, runID)
	}
	select {
	case <-entry.done:
		return s.Run(ctx, runID)
	case <-ctx.Done():
		return domain.Run{}, ctx.Err()
	}
}

// Evict drops terminal runs that finished before now minus the retention
// window from the in-memory registry. Persisted snapshots stay queryable.
func (s *ResearchService) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, entry := range s.active {
		if !entry.run.Terminal() || entry.run.CompletedAt == nil {
			continue
		}
		if now.Sub(*entry.run.CompletedAt) < s.retain {
			continue
		}
		select {
		case <-entry.done:
		default:
			continue
		}
		delete(s.active, id)
		evicted++
	}
	if evicted > 0 {
		s.logger.Debug("evicted finished runs", "count", evicted)
	}
	return evicted
}

// Shutdown cancels in-flight runs and waits for them to record their
// terminal state.
func (s *ResearchService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}
