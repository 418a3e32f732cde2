package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/stage"
	"ResearchPipeline/internal/streaming"
)

// ErrRunCancelled distinguishes a cancelled run from other failures. It is
// always joined with the context error that caused it.
var ErrRunCancelled = errors.New("research run cancelled")

// Stages bundles the six pipeline stages.
type Stages struct {
	Search    stage.Stage[domain.ResearchRequest, domain.SearchResult]
	Structure stage.Stage[domain.SearchResult, domain.StructuredResult]
	Finance   stage.Stage[domain.StructuredResult, domain.FinancialAnalysis]
	Market    stage.Stage[domain.StructuredResult, domain.MarketAnalysis]
	Insight   stage.Stage[domain.InsightInput, domain.Insights]
	Write     stage.Stage[domain.WriteInput, domain.Report]
}

// OrchestratorDeps wires all collaborators into the workflow orchestrator.
type OrchestratorDeps struct {
	Stages    Stages
	Messages  ports.MessageStore
	Publisher ports.Publisher
	Observer  ports.RunObserver
	Logger    *slog.Logger
	NewID     func() string
	Now       func() time.Time
}

// RunRequest identifies one research run.
type RunRequest struct {
	RunID          string
	ConversationID string
	Company        string
	Depth          domain.Depth
}

// Orchestrator drives Search → Structure → {Finance ∥ Market} → Insight →
// Write for one run at a time per call; calls for different runs may overlap.
type Orchestrator struct {
	stages     Stages
	messages   ports.MessageStore
	publisher  ports.Publisher
	observer   ports.RunObserver
	aggregator *streaming.Aggregator
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time
}

// NewOrchestrator constructs the orchestration component.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		stages:     deps.Stages,
		messages:   deps.Messages,
		publisher:  deps.Publisher,
		observer:   deps.Observer,
		aggregator: streaming.NewAggregator(deps.Messages, deps.Publisher, logger),
		logger:     logger.With("component", "orchestrator"),
		newID:      newID,
		now:        now,
	}
}

// Run executes the workflow and returns the terminal run snapshot. Stage
// failures degrade to fallback payloads; only cancellation of ctx and stage
// panics fail the run, and then the returned error is non-nil.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (domain.Run, error) {
	if req.RunID == "" {
		req.RunID = o.newID()
	}
	if req.ConversationID == "" {
		req.ConversationID = o.newID()
	}
	now := o.now()
	e := &execution{
		o:      o,
		req:    req,
		logger: o.logger.With("run_id", req.RunID, "company", req.Company),
		run: domain.Run{
			ID:             req.RunID,
			ConversationID: req.ConversationID,
			Company:        req.Company,
			Depth:          req.Depth,
			Status:         domain.RunRunning,
			StageStatuses:  map[domain.StageName]domain.StageStatus{},
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		streams: map[domain.StageName]streaming.Identity{},
	}
	defer e.release()

	e.logger.Info("research run started", "depth", req.Depth)
	e.notify()
	e.greet(ctx)

	report, err := e.pipeline(ctx)
	if err != nil {
		return e.fail(ctx, err)
	}
	return e.complete(ctx, report), nil
}

// execution is the state of one run. mu guards run and streams because the
// parallel branches update them concurrently.
type execution struct {
	o        *Orchestrator
	req      RunRequest
	logger   *slog.Logger
	progress progressTracker

	mu      sync.Mutex
	run     domain.Run
	streams map[domain.StageName]streaming.Identity
}

func (e *execution) pipeline(ctx context.Context) (domain.Report, error) {
	st := e.o.stages
	request := domain.ResearchRequest{Company: e.req.Company, Depth: e.req.Depth}

	e.advance(milestoneSearch)
	searched, err := runStage(ctx, e, st.Search, request, summarizeSearch)
	if err != nil {
		return domain.Report{}, err
	}

	e.advance(milestoneStructure)
	structured, err := runStage(ctx, e, st.Structure, searched.Payload, summarizeStructure)
	if err != nil {
		return domain.Report{}, err
	}

	e.advance(milestoneAnalysis)
	var (
		finance stage.Result[domain.FinancialAnalysis]
		market  stage.Result[domain.MarketAnalysis]
		g       errgroup.Group
	)
	g.Go(func() error {
		var err error
		finance, err = runStage(ctx, e, st.Finance, structured.Payload, summarizeFinance)
		return err
	})
	g.Go(func() error {
		var err error
		market, err = runStage(ctx, e, st.Market, structured.Payload, summarizeMarket)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Report{}, err
	}
	e.advance(milestoneJoined)

	e.advance(milestoneInsight)
	insights, err := runStage(ctx, e, st.Insight, domain.InsightInput{
		Company:    e.req.Company,
		Structured: structured.Payload,
		Finance:    finance.Payload,
		Market:     market.Payload,
	}, summarizeInsights)
	if err != nil {
		return domain.Report{}, err
	}

	e.advance(milestoneWrite)
	written, err := runStage(ctx, e, st.Write, domain.WriteInput{
		Company:    e.req.Company,
		Depth:      e.req.Depth,
		Structured: structured.Payload,
		Finance:    finance.Payload,
		Market:     market.Payload,
		Insights:   insights.Payload,
	}, summarizeReport)
	if err != nil {
		return domain.Report{}, err
	}
	return written.Payload, nil
}

// runStage executes one stage under its stream identity and records its
// outcome on the stage's conversation message.
func runStage[In, Out any](ctx context.Context, e *execution, s stage.Stage[In, Out], in In, summarize func(Out) stageSummary) (stage.Result[Out], error) {
	name := s.Name()
	id := e.begin(ctx, name)
	logger := e.logger.With("stage", name)

	var onChunk stage.ChunkFunc
	if _, ok := s.(stage.Streamer[In, Out]); ok {
		onChunk = func(chunk string, final bool) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if final {
				return nil
			}
			if err := e.o.aggregator.Append(ctx, id, chunk); err != nil {
				logger.Warn("persist chunk failed", "error", err)
			}
			return nil
		}
	}

	started := time.Now()
	result, err := stage.Run(ctx, logger, s, in, onChunk)
	if err != nil {
		return result, err
	}
	logger.Info("stage finished", "status", result.Status, "elapsed", time.Since(started))

	var summary stageSummary
	if err := stage.Guard(name, func() { summary = summarize(result.Payload) }); err != nil {
		return result, err
	}
	e.finish(ctx, id, result.Status, summary)
	return result, nil
}

type stageSummary struct {
	Text  string
	Extra map[string]any
}

// begin mints the stream identity of a stage and posts its working message.
func (e *execution) begin(ctx context.Context, name domain.StageName) streaming.Identity {
	id := streaming.Identity{
		ID:      e.o.newID(),
		RunID:   e.req.RunID,
		ScopeID: e.req.ConversationID,
		Stage:   name,
	}

	e.mu.Lock()
	e.streams[name] = id
	e.run.CurrentStage = string(name)
	e.mu.Unlock()

	e.upsertMessage(ctx, id.ID, func(msg *domain.Message) {
		msg.ScopeID = id.ScopeID
		msg.Role = domain.RoleAgent
		msg.Type = domain.MessageStatusUpdate
		msg.AgentName = name.AgentName()
		msg.Status = domain.StatusWorking
		msg.Content = name.AgentName() + " is working"
		msg.SetExtra("runId", e.req.RunID)
		msg.SetExtra("stage", string(name))
	})
	return id
}

// finish closes the stage's stream and turns its message into the stage
// result. Streamed content is kept as is; the summary goes to extra data.
func (e *execution) finish(ctx context.Context, id streaming.Identity, status domain.StageStatus, summary stageSummary) {
	streamed, err := e.o.aggregator.Finalize(ctx, id, domain.StatusCompleted)
	if err != nil {
		e.logger.Warn("finalize stream failed", "stage", id.Stage, "error", err)
	}

	e.upsertMessage(ctx, id.ID, func(msg *domain.Message) {
		msg.ScopeID = id.ScopeID
		msg.Role = domain.RoleAgent
		msg.AgentName = id.Stage.AgentName()
		msg.Type = domain.MessageFinalResult
		msg.Status = domain.StatusCompleted
		if !streamed {
			msg.Content = summary.Text
		}
		// streamed text of a failed stage is raw, possibly truncated model output
		msg.SetExtra("partialStream", streamed && status == domain.StagePartialFallback)
		msg.SetExtra("summary", summary.Text)
		msg.SetExtra("stageStatus", string(status))
		for k, v := range summary.Extra {
			msg.SetExtra(k, v)
		}
	})

	e.mu.Lock()
	e.run.StageStatuses[id.Stage] = status
	e.mu.Unlock()
	e.notify()
}

func (e *execution) advance(m milestone) {
	e.emit(e.progress.advance(m))
}

func (e *execution) emit(p domain.ProgressEvent) {
	e.mu.Lock()
	e.run.Percent = p.Percent
	e.run.CurrentStage = p.StageName
	e.run.Description = p.Description
	e.run.ETASeconds = p.ETASeconds
	e.mu.Unlock()
	e.notify()

	if e.o.publisher == nil {
		return
	}
	e.o.publisher.Publish(e.req.RunID, domain.NewProgressEvent(e.req.RunID, p))
	e.o.publisher.Publish(e.req.ConversationID, domain.NewProgressEvent(e.req.RunID, p))
}

func (e *execution) greet(ctx context.Context) {
	e.createMessage(ctx, domain.Message{
		ScopeID: e.req.ConversationID,
		Role:    domain.RoleUser,
		Type:    domain.MessageText,
		Content: fmt.Sprintf("Research %s (%s)", e.req.Company, e.req.Depth),
	})
	e.createMessage(ctx, domain.Message{
		ScopeID: e.req.ConversationID,
		Role:    domain.RoleAssistant,
		Type:    domain.MessageText,
		Content: fmt.Sprintf("Starting %s research on %s. Progress updates will follow.", e.req.Depth, e.req.Company),
		Extra:   map[string]any{"runId": e.req.RunID},
	})
}

func (e *execution) complete(ctx context.Context, report domain.Report) domain.Run {
	now := e.o.now()

	e.mu.Lock()
	report.Metadata.StageStatuses = maps.Clone(e.run.StageStatuses)
	e.run.Report = &report
	e.run.Status = domain.RunCompleted
	e.run.CompletedAt = &now
	e.mu.Unlock()

	final := e.progress.advance(milestoneCompleted)
	final.Status = domain.RunCompleted
	e.emit(final)

	preview := report.Metadata.CompanyName
	if summary, ok := report.Section(domain.SectionExecutiveSummary); ok {
		preview = summary.Content
	}
	e.createMessage(ctx, domain.Message{
		ScopeID: e.req.ConversationID,
		Role:    domain.RoleAssistant,
		Type:    domain.MessageFinalResult,
		Content: preview,
		Status:  domain.StatusCompleted,
		Extra: map[string]any{
			"runId":          e.req.RunID,
			"overallScore":   report.Metadata.OverallScore,
			"recommendation": report.Metadata.Recommendation,
		},
	})

	e.logger.Info("research run completed", "overall_score", report.Metadata.OverallScore)
	return e.snapshot()
}

// fail moves the run to Failed. Cleanup writes use a context detached from
// the cancelled run.
func (e *execution) fail(ctx context.Context, cause error) (domain.Run, error) {
	cleanup := context.WithoutCancel(ctx)
	e.closeStreams(cleanup)

	err := cause
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(cause, ctxErr) {
		err = fmt.Errorf("%w: %w", ErrRunCancelled, cause)
	}

	now := e.o.now()
	e.mu.Lock()
	e.run.Status = domain.RunFailed
	e.run.Error = err.Error()
	e.run.CompletedAt = &now
	e.mu.Unlock()

	e.emit(e.progress.failed("Research failed: " + err.Error()))
	e.createMessage(cleanup, domain.Message{
		ScopeID: e.req.ConversationID,
		Role:    domain.RoleSystem,
		Type:    domain.MessageError,
		Content: "Research failed: " + err.Error(),
		Status:  domain.StatusFailed,
		Extra:   map[string]any{"runId": e.req.RunID},
	})

	e.logger.Error("research run failed", "error", err)
	return e.snapshot(), err
}

// closeStreams finalizes partially streamed messages and marks every stage
// message that is still in flight as failed.
func (e *execution) closeStreams(ctx context.Context) {
	e.mu.Lock()
	ids := make([]streaming.Identity, 0, len(e.streams))
	for _, id := range e.streams {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if _, err := e.o.aggregator.Finalize(ctx, id, domain.StatusFailed); err != nil {
			e.logger.Warn("finalize stream failed", "stage", id.Stage, "error", err)
		}
		msg, err := e.o.messages.Get(ctx, id.ID)
		if err != nil || msg.Status.Terminal() {
			continue
		}
		e.upsertMessage(ctx, id.ID, func(msg *domain.Message) {
			msg.Status = domain.StatusFailed
		})
	}
}

func (e *execution) createMessage(ctx context.Context, msg domain.Message) {
	if msg.ID == "" {
		msg.ID = e.o.newID()
	}
	stored, err := e.o.messages.Create(ctx, msg)
	if err != nil {
		e.logger.Warn("store message failed", "message_id", msg.ID, "error", err)
		return
	}
	e.publishMessage(stored)
}

func (e *execution) upsertMessage(ctx context.Context, id string, mutate ports.MessageMutator) {
	stored, err := e.o.messages.Upsert(ctx, id, mutate)
	if err != nil {
		e.logger.Warn("update message failed", "message_id", id, "error", err)
		return
	}
	e.publishMessage(stored)
}

func (e *execution) publishMessage(msg domain.Message) {
	if e.o.publisher == nil {
		return
	}
	e.o.publisher.Publish(e.req.ConversationID, domain.NewMessageEvent(e.req.RunID, msg))
}

// notify hands a snapshot to the observer. It holds mu so snapshots arrive
// in the order they were taken.
func (e *execution) notify() {
	if e.o.observer == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.UpdatedAt = e.o.now()
	e.o.observer.RunUpdated(e.snapshotLocked())
}

func (e *execution) snapshot() domain.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *execution) snapshotLocked() domain.Run {
	run := e.run
	run.StageStatuses = maps.Clone(e.run.StageStatuses)
	return run
}

func (e *execution) release() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.streams))
	for _, id := range e.streams {
		ids = append(ids, id.ID)
	}
	e.mu.Unlock()
	e.o.aggregator.Release(ids...)
}
