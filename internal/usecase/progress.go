package usecase

import (
	"sync"

	"ResearchPipeline/internal/domain"
)

// milestone is a fixed progress point of the workflow.
type milestone struct {
	Percent     int
	Stage       string
	Description string
	ETASeconds  int
}

var (
	milestoneSearch    = milestone{5, string(domain.StageSearch), "Collecting public information", 120}
	milestoneStructure = milestone{18, string(domain.StageStructure), "Structuring collected material", 90}
	milestoneAnalysis  = milestone{35, "Analysis", "Running financial and market analysis", 70}
	milestoneJoined    = milestone{60, "Analysis", "Financial and market analysis finished", 30}
	milestoneInsight   = milestone{65, string(domain.StageInsight), "Deriving investment insights", 30}
	milestoneWrite     = milestone{85, string(domain.StageWrite), "Writing the report", 15}
	milestoneCompleted = milestone{100, "Completed", "Research completed", 0}
)

// progressTracker keeps the reported percentage non-decreasing.
type progressTracker struct {
	mu      sync.Mutex
	percent int
	stage   string
}

func (p *progressTracker) advance(m milestone) domain.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = max(p.percent, m.Percent)
	p.stage = m.Stage
	return domain.ProgressEvent{
		Percent:     p.percent,
		StageName:   m.Stage,
		Description: m.Description,
		ETASeconds:  m.ETASeconds,
		Status:      domain.RunRunning,
	}
}

// failed reports a terminal failure at the current position.
func (p *progressTracker) failed(description string) domain.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ProgressEvent{
		Percent:     p.percent,
		StageName:   p.stage,
		Description: description,
		Status:      domain.RunFailed,
	}
}
