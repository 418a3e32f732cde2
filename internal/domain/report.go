package domain

import "time"

// Report section identifiers, in presentation order.
const (
	SectionExecutiveSummary  = "executive-summary"
	SectionCompanyOverview   = "company-overview"
	SectionFinancialAnalysis = "financial-analysis"
	SectionMarketAnalysis    = "market-analysis"
	SectionInsights          = "insights"
	SectionRisks             = "risks"
	SectionRecommendation    = "recommendation"
)

// ReportSectionIDs lists every section a report always carries.
var ReportSectionIDs = []string{
	SectionExecutiveSummary,
	SectionCompanyOverview,
	SectionFinancialAnalysis,
	SectionMarketAnalysis,
	SectionInsights,
	SectionRisks,
	SectionRecommendation,
}

// ReportMetadata summarises the report for listings and previews.
type ReportMetadata struct {
	Company        string                    `json:"company"`
	CompanyName    string                    `json:"companyName"`
	StockCode      string                    `json:"stockCode,omitempty"`
	Industry       string                    `json:"industry,omitempty"`
	Depth          Depth                     `json:"depth"`
	ResearchDate   time.Time                 `json:"researchDate"`
	OverallScore   int                       `json:"overallScore"`
	Recommendation string                    `json:"recommendation"`
	StageStatuses  map[StageName]StageStatus `json:"stageStatuses,omitempty"`
}

// Subsection is a titled block inside a section.
type Subsection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Score   int    `json:"score,omitempty"`
}

// Section is one chapter of the report.
type Section struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	Score       int          `json:"score,omitempty"`
	KeyPoints   []string     `json:"keyPoints,omitempty"`
	Subsections []Subsection `json:"subsections,omitempty"`
}

// Report is the pipeline's final result.
type Report struct {
	Metadata ReportMetadata `json:"metadata"`
	Sections []Section      `json:"sections"`
}

// Section returns the section with id, if present.
func (r Report) Section(id string) (Section, bool) {
	for _, s := range r.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// Summary projects the report onto a history entry.
func (r Report) Summary(runID string, completedAt time.Time) RunSummary {
	return RunSummary{
		RunID:          runID,
		Company:        r.Metadata.Company,
		CompanyName:    r.Metadata.CompanyName,
		OverallScore:   r.Metadata.OverallScore,
		Recommendation: r.Metadata.Recommendation,
		CompletedAt:    completedAt,
	}
}
