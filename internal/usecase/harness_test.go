package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ResearchPipeline/internal/agents"
	"ResearchPipeline/internal/broadcast"
	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/infrastructure/storage"
	"ResearchPipeline/internal/ports"
)

const (
	structureAnswer = `{"company_name":"Acme Corp","stock_code":"ACME","industry":"Robotics","main_business":"industrial robots","key_products":["R1"],"recent_events":["new plant"],"main_competitors":["Globex"]}`
	financeAnswer   = `{"profitability":{"score":6,"analysis":"steady margins"},"solvency":{"score":6},"efficiency":{"score":6},"growth":{"score":6},"overall_score":6,"summary":"healthy","strengths":["cash"]}`
	marketAnswer    = `{"industry":{"name":"Robotics"},"market_position":{"score":7},"outlook":{"rating":"看好"},"swot":{"strengths":["brand"]}}`
	insightAnswer   = `{"core_insights":[{"title":"Automation demand","content":"strong","impact":"正面"}],"key_risks":[{"type":"market","description":"cyclical demand","severity":"中"}],"recommendation":{"rating":"持有","confidence":"中","reasoning":"fair value"},"overall_score":7}`
	summaryAnswer   = "Acme Corp is a robotics maker with steady finances and a favourable outlook."
)

// routedModel answers each agent prompt with a canned payload, streaming
// it a few runes at a time.
type routedModel struct {
	err error
}

func (m routedModel) answer(prompt string) string {
	switch {
	case strings.Contains(prompt, "structured company profile"):
		return structureAnswer
	case strings.Contains(prompt, "financial condition"):
		return financeAnswer
	case strings.Contains(prompt, "market position of"):
		return marketAnswer
	case strings.Contains(prompt, "investment insights"):
		return insightAnswer
	default:
		return summaryAnswer
	}
}

func (m routedModel) Complete(_ context.Context, req ports.ChatRequest) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.answer(req.Prompt), nil
}

func (m routedModel) Stream(ctx context.Context, req ports.ChatRequest, onDelta func(string) error) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	runes := []rune(m.answer(req.Prompt))
	for start := 0; start < len(runes); start += 6 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := min(start+6, len(runes))
		if err := onDelta(string(runes[start:end])); err != nil {
			return "", err
		}
	}
	return string(runes), nil
}

type stubSearcher struct {
	err error
}

func (s stubSearcher) Collect(_ context.Context, req domain.ResearchRequest) (domain.SearchResult, error) {
	if s.err != nil {
		return domain.SearchResult{}, s.err
	}
	result := domain.DefaultSearchResult(req)
	result.Categories[domain.CategoryCompanyInfo] = domain.CategoryResult{
		Hits: []domain.SearchHit{{Title: "Acme Corp", Link: "https://acme.example", Snippet: "robots"}},
	}
	result.Categories[domain.CategoryNews] = domain.CategoryResult{Hits: []domain.SearchHit{}}
	return result, nil
}

func agentStages(model ports.ChatModel, searcher ports.Searcher) Stages {
	return Stages{
		Search:    agents.NewSearch(searcher),
		Structure: agents.NewStructure(model),
		Finance:   agents.NewFinance(model),
		Market:    agents.NewMarket(model),
		Insight:   agents.NewInsight(model),
		Write:     agents.NewWrite(model, nil),
	}
}

type runRecorder struct {
	mu   sync.Mutex
	runs []domain.Run
}

func (r *runRecorder) RunUpdated(run domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

func (r *runRecorder) snapshots() []domain.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Run(nil), r.runs...)
}

type harness struct {
	store    *storage.MemoryStore
	hub      *broadcast.Broadcaster
	recorder *runRecorder
	orch     *Orchestrator
}

func newHarness(stages Stages) *harness {
	h := &harness{
		store:    storage.NewMemoryStore(),
		hub:      broadcast.New(8192, nil),
		recorder: &runRecorder{},
	}
	h.orch = NewOrchestrator(OrchestratorDeps{
		Stages:    stages,
		Messages:  h.store,
		Publisher: h.hub,
		Observer:  h.recorder,
	})
	return h
}

// drain reads every event already buffered on sub.
func drain(sub *broadcast.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func progressEvents(events []domain.Event) []domain.ProgressEvent {
	var out []domain.ProgressEvent
	for _, ev := range events {
		if ev.Kind == domain.EventProgress {
			out = append(out, *ev.Progress)
		}
	}
	return out
}

func stageMessage(t *testing.T, msgs []domain.Message, name domain.StageName) domain.Message {
	t.Helper()
	for _, msg := range msgs {
		if msg.AgentName == name.AgentName() {
			return msg
		}
	}
	t.Fatalf("no message for stage %s", name)
	return domain.Message{}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var errOffline = errors.New("offline")
