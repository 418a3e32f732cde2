package domain

import (
	"fmt"
	"strings"
	"time"
)

// Depth controls how much material the pipeline collects and analyses.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ParseDepth normalises user input; empty input resolves to fallback.
func ParseDepth(raw string, fallback Depth) (Depth, error) {
	switch Depth(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return fallback, nil
	case DepthBasic:
		return DepthBasic, nil
	case DepthStandard:
		return DepthStandard, nil
	case DepthDeep:
		return DepthDeep, nil
	default:
		return "", fmt.Errorf("unknown research depth %q", raw)
	}
}

// StageName identifies one unit of pipeline work.
type StageName string

const (
	StageSearch    StageName = "Search"
	StageStructure StageName = "Structure"
	StageFinance   StageName = "Finance"
	StageMarket    StageName = "Market"
	StageInsight   StageName = "Insight"
	StageWrite     StageName = "Write"
)

// PipelineStages lists every stage in execution order; Finance and Market run
// concurrently.
var PipelineStages = []StageName{StageSearch, StageStructure, StageFinance, StageMarket, StageInsight, StageWrite}

// AgentName is the display name used on conversation records for the stage.
func (s StageName) AgentName() string {
	return string(s) + "Agent"
}

// StageStatus reports whether a stage produced its real output or its default.
type StageStatus string

const (
	StageSuccess         StageStatus = "success"
	StagePartialFallback StageStatus = "partial-fallback"
)

// RunStatus is the terminal state of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is a snapshot of one research workflow execution.
type Run struct {
	ID             string                    `json:"id"`
	ConversationID string                    `json:"conversationId"`
	Company        string                    `json:"company"`
	Depth          Depth                     `json:"depth"`
	Status         RunStatus                 `json:"status"`
	Percent        int                       `json:"percent"`
	CurrentStage   string                    `json:"currentStage"`
	Description    string                    `json:"description,omitempty"`
	ETASeconds     int                       `json:"etaSeconds"`
	StageStatuses  map[StageName]StageStatus `json:"stageStatuses,omitempty"`
	Error          string                    `json:"error,omitempty"`
	Report         *Report                   `json:"report,omitempty"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
	CompletedAt    *time.Time                `json:"completedAt,omitempty"`
}

// Terminal reports whether the run has finished one way or another.
func (r Run) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// RunStatusView is the lifecycle query answer for a run.
type RunStatusView struct {
	RunID        string    `json:"runId"`
	Status       RunStatus `json:"status"`
	Percent      int       `json:"percent"`
	CurrentStage string    `json:"currentStage"`
	ETASeconds   int       `json:"etaSeconds"`
	Error        string    `json:"error,omitempty"`
}

// View projects the run onto its lifecycle query shape.
func (r Run) View() RunStatusView {
	return RunStatusView{
		RunID:        r.ID,
		Status:       r.Status,
		Percent:      r.Percent,
		CurrentStage: r.CurrentStage,
		ETASeconds:   r.ETASeconds,
		Error:        r.Error,
	}
}

// RunSummary is one entry of the completed-research history.
type RunSummary struct {
	RunID          string    `json:"runId"`
	Company        string    `json:"company"`
	CompanyName    string    `json:"companyName"`
	OverallScore   int       `json:"overallScore"`
	Recommendation string    `json:"recommendation"`
	CompletedAt    time.Time `json:"completedAt"`
}
