package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DefaultScore is the neutral score used whenever a stage cannot produce one.
const DefaultScore = 5

// Outlook ratings produced by market analysis.
const (
	OutlookPositive = "看好"
	OutlookNeutral  = "中性"
	OutlookCautious = "谨慎"
)

// Investment ratings produced by insight extraction.
const (
	RatingBuy   = "买入"
	RatingHold  = "持有"
	RatingSell  = "卖出"
	RatingWatch = "观望"
)

// Confidence levels attached to a recommendation.
const (
	ConfidenceHigh   = "高"
	ConfidenceMedium = "中"
	ConfidenceLow    = "低"
)

// ResearchRequest is the input of the search stage.
type ResearchRequest struct {
	Company string `json:"company"`
	Depth   Depth  `json:"depth"`
}

// SearchCategory names one bucket of collected search material.
type SearchCategory string

const (
	CategoryCompanyInfo    SearchCategory = "company_info"
	CategoryFinancialData  SearchCategory = "financial_data"
	CategoryNews           SearchCategory = "news"
	CategoryIndustry       SearchCategory = "industry_analysis"
	CategoryDeepFinancials SearchCategory = "deep_financials"
	CategoryManagement     SearchCategory = "management"
	CategoryRiskFactors    SearchCategory = "risk_factors"
)

// SearchHit is one organic web result.
type SearchHit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// CategoryResult holds everything collected for one category.
type CategoryResult struct {
	Queries []string    `json:"queries,omitempty"`
	Hits    []SearchHit `json:"hits"`
	Error   string      `json:"error,omitempty"`
}

// SearchResult is the output of the search stage.
type SearchResult struct {
	Company    string                            `json:"company"`
	Depth      Depth                             `json:"depth"`
	Categories map[SearchCategory]CategoryResult `json:"categories"`
}

// HitCount returns the number of hits collected for category.
func (r SearchResult) HitCount(category SearchCategory) int {
	return len(r.Categories[category].Hits)
}

// DefaultSearchResult is the empty collection for req.
func DefaultSearchResult(req ResearchRequest) SearchResult {
	return SearchResult{Company: req.Company, Depth: req.Depth, Categories: map[SearchCategory]CategoryResult{}}
}

// StructuredData is the company profile extracted from raw search material.
type StructuredData struct {
	CompanyName      string            `json:"company_name"`
	StockCode        string            `json:"stock_code"`
	Industry         string            `json:"industry"`
	MainBusiness     string            `json:"main_business"`
	KeyProducts      []string          `json:"key_products"`
	FinancialSummary map[string]string `json:"financial_summary"`
	RecentEvents     []string          `json:"recent_events"`
	MarketPosition   string            `json:"market_position"`
	MainCompetitors  []string          `json:"main_competitors"`
}

// StructuredResult is the output of the structure stage.
type StructuredResult struct {
	Company string         `json:"company"`
	Depth   Depth          `json:"depth"`
	Data    StructuredData `json:"structured_data"`
}

// DefaultStructuredData is the profile used when extraction fails.
func DefaultStructuredData(company string) StructuredData {
	return StructuredData{
		CompanyName:      company,
		KeyProducts:      []string{},
		FinancialSummary: map[string]string{},
		RecentEvents:     []string{},
		MainCompetitors:  []string{},
	}
}

// Normalize fills missing fields from the defaults for company.
func (d *StructuredData) Normalize(company string) {
	if strings.TrimSpace(d.CompanyName) == "" {
		d.CompanyName = company
	}
	d.KeyProducts = nonNil(d.KeyProducts)
	d.RecentEvents = nonNil(d.RecentEvents)
	d.MainCompetitors = nonNil(d.MainCompetitors)
	if d.FinancialSummary == nil {
		d.FinancialSummary = map[string]string{}
	}
}

// Dimension is one scored axis of the financial analysis.
type Dimension struct {
	Score      int      `json:"score"`
	Analysis   string   `json:"analysis"`
	KeyMetrics []string `json:"key_metrics"`
}

func (d *Dimension) normalize() {
	d.Score = NormalizeScore(d.Score)
	d.KeyMetrics = nonNil(d.KeyMetrics)
}

// FinancialAnalysis is the output of the finance stage.
type FinancialAnalysis struct {
	Profitability Dimension `json:"profitability"`
	Solvency      Dimension `json:"solvency"`
	Efficiency    Dimension `json:"efficiency"`
	Growth        Dimension `json:"growth"`
	OverallScore  int       `json:"overall_score"`
	Summary       string    `json:"summary"`
	Strengths     []string  `json:"strengths"`
	Weaknesses    []string  `json:"weaknesses"`
}

// DefaultFinancialAnalysis is the neutral analysis used when the stage fails.
func DefaultFinancialAnalysis() FinancialAnalysis {
	dim := func(area string) Dimension {
		return Dimension{
			Score:      DefaultScore,
			Analysis:   "Public information is too limited for a detailed " + area + " analysis.",
			KeyMetrics: []string{},
		}
	}
	return FinancialAnalysis{
		Profitability: dim("profitability"),
		Solvency:      dim("solvency"),
		Efficiency:    dim("efficiency"),
		Growth:        dim("growth"),
		OverallScore:  DefaultScore,
		Summary:       "Refer to the company's official filings for an in-depth analysis.",
		Strengths:     []string{},
		Weaknesses:    []string{},
	}
}

// Normalize clamps scores and recomputes the weighted overall score when the
// model omitted it.
func (f *FinancialAnalysis) Normalize() {
	f.Profitability.normalize()
	f.Solvency.normalize()
	f.Efficiency.normalize()
	f.Growth.normalize()
	if f.OverallScore == 0 {
		f.OverallScore = FinancialOverallScore(*f)
	}
	f.OverallScore = NormalizeScore(f.OverallScore)
	f.Strengths = nonNil(f.Strengths)
	f.Weaknesses = nonNil(f.Weaknesses)
}

// LabeledItem is a SWOT or catalyst entry. Models return either a bare
// string or an object; both decode into Item.
type LabeledItem struct {
	Item   string `json:"item"`
	Detail string `json:"detail,omitempty"`
}

// UnmarshalJSON accepts "text", {"item": ..., "detail": ...} and
// {"event": ..., "timeline": ...}.
func (l *LabeledItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &l.Item)
	}
	var raw struct {
		Item     string `json:"item"`
		Detail   string `json:"detail"`
		Event    string `json:"event"`
		Timeline string `json:"timeline"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Item, l.Detail = raw.Item, raw.Detail
	if l.Item == "" {
		l.Item = raw.Event
	}
	if l.Detail == "" {
		l.Detail = raw.Timeline
	}
	return nil
}

// String renders the item for report text.
func (l LabeledItem) String() string {
	if l.Detail == "" {
		return l.Item
	}
	return l.Item + ": " + l.Detail
}

// Industry describes the sector the company operates in.
type Industry struct {
	Name              string   `json:"name"`
	Size              string   `json:"size"`
	Stage             string   `json:"stage"`
	GrowthTrend       string   `json:"growth_trend"`
	KeyDrivers        []string `json:"key_drivers"`
	PolicyEnvironment string   `json:"policy_environment"`
}

// Competition describes the competitive landscape.
type Competition struct {
	Intensity                string   `json:"intensity"`
	MarketShareRank          string   `json:"market_share_rank"`
	MainCompetitors          []string `json:"main_competitors"`
	CompetitiveAdvantages    []string `json:"competitive_advantages"`
	CompetitiveDisadvantages []string `json:"competitive_disadvantages"`
	EntryBarriers            string   `json:"entry_barriers,omitempty"`
}

// Force is one of Porter's five forces.
type Force struct {
	Score    int    `json:"score"`
	Analysis string `json:"analysis"`
}

// MarketPosition scores the company's standing in its market.
type MarketPosition struct {
	BrandPower     string `json:"brand_power"`
	TechLeadership string `json:"tech_leadership"`
	CustomerBase   string `json:"customer_base"`
	Score          int    `json:"score"`
	MoatAnalysis   string `json:"moat_analysis,omitempty"`
}

// SWOT groups strengths, weaknesses, opportunities and threats.
type SWOT struct {
	Strengths     []LabeledItem `json:"strengths"`
	Weaknesses    []LabeledItem `json:"weaknesses"`
	Opportunities []LabeledItem `json:"opportunities"`
	Threats       []LabeledItem `json:"threats"`
}

// Outlook is the forward-looking market view.
type Outlook struct {
	ShortTerm    string   `json:"short_term"`
	MediumTerm   string   `json:"medium_term"`
	LongTerm     string   `json:"long_term"`
	Rating       string   `json:"rating"`
	KeyCatalysts []string `json:"key_catalysts,omitempty"`
	KeyRisks     []string `json:"key_risks,omitempty"`
}

// MarketAnalysis is the output of the market stage.
type MarketAnalysis struct {
	Industry         Industry         `json:"industry"`
	Competition      Competition      `json:"competition"`
	PorterFiveForces map[string]Force `json:"porter_five_forces,omitempty"`
	Position         MarketPosition   `json:"market_position"`
	SWOT             SWOT             `json:"swot"`
	Outlook          Outlook          `json:"outlook"`
}

// DefaultMarketAnalysis is the neutral analysis used when the stage fails.
func DefaultMarketAnalysis() MarketAnalysis {
	const pending = "Pending analysis"
	return MarketAnalysis{
		Industry: Industry{Size: pending, Stage: pending, GrowthTrend: pending, KeyDrivers: []string{}, PolicyEnvironment: pending},
		Competition: Competition{
			Intensity:                ConfidenceMedium,
			MarketShareRank:          pending,
			MainCompetitors:          []string{},
			CompetitiveAdvantages:    []string{},
			CompetitiveDisadvantages: []string{},
		},
		Position: MarketPosition{BrandPower: ConfidenceMedium, TechLeadership: pending, CustomerBase: pending, Score: DefaultScore},
		SWOT: SWOT{
			Strengths:     []LabeledItem{},
			Weaknesses:    []LabeledItem{},
			Opportunities: []LabeledItem{},
			Threats:       []LabeledItem{},
		},
		Outlook: Outlook{ShortTerm: pending, MediumTerm: pending, LongTerm: pending, Rating: OutlookNeutral},
	}
}

// Normalize fills missing fields and clamps scores.
func (m *MarketAnalysis) Normalize() {
	m.Position.Score = NormalizeScore(m.Position.Score)
	for name, force := range m.PorterFiveForces {
		force.Score = NormalizeScore(force.Score)
		m.PorterFiveForces[name] = force
	}
	switch m.Outlook.Rating {
	case OutlookPositive, OutlookNeutral, OutlookCautious:
	default:
		m.Outlook.Rating = OutlookNeutral
	}
	m.Industry.KeyDrivers = nonNil(m.Industry.KeyDrivers)
	m.Competition.MainCompetitors = nonNil(m.Competition.MainCompetitors)
	m.Competition.CompetitiveAdvantages = nonNil(m.Competition.CompetitiveAdvantages)
	m.Competition.CompetitiveDisadvantages = nonNil(m.Competition.CompetitiveDisadvantages)
	m.SWOT.Strengths = nonNil(m.SWOT.Strengths)
	m.SWOT.Weaknesses = nonNil(m.SWOT.Weaknesses)
	m.SWOT.Opportunities = nonNil(m.SWOT.Opportunities)
	m.SWOT.Threats = nonNil(m.SWOT.Threats)
}

// CoreInsight is one headline finding.
type CoreInsight struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Impact  string `json:"impact"`
}

// Thesis holds the bull and bear arguments.
type Thesis struct {
	BullCase string `json:"bull_case"`
	BearCase string `json:"bear_case"`
}

// Risk is one identified risk factor.
type Risk struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Recommendation is the final investment call.
type Recommendation struct {
	Rating         string `json:"rating"`
	Confidence     string `json:"confidence"`
	Reasoning      string `json:"reasoning"`
	TargetAudience string `json:"target_audience"`
}

// Insights is the output of the insight stage.
type Insights struct {
	CoreInsights   []CoreInsight  `json:"core_insights"`
	Thesis         Thesis         `json:"investment_thesis"`
	KeyRisks       []Risk         `json:"key_risks"`
	Catalysts      []LabeledItem  `json:"catalysts"`
	Recommendation Recommendation `json:"recommendation"`
	OverallScore   int            `json:"overall_score"`
	// ModelScore is the overall score as reported by the model before
	// reconciliation with the computed score.
	ModelScore int `json:"model_score,omitempty"`
}

// DefaultInsights is the cautious view used when the stage fails.
func DefaultInsights() Insights {
	const needMore = "More information is required for this analysis."
	return Insights{
		CoreInsights: []CoreInsight{},
		Thesis:       Thesis{BullCase: needMore, BearCase: needMore},
		KeyRisks:     []Risk{},
		Catalysts:    []LabeledItem{},
		Recommendation: Recommendation{
			Rating:         RatingWatch,
			Confidence:     ConfidenceLow,
			Reasoning:      "Information is limited; investors should research further before deciding.",
			TargetAudience: "Investors with a high risk tolerance",
		},
		OverallScore: DefaultScore,
	}
}

// Normalize fills missing fields with defaults.
func (i *Insights) Normalize() {
	i.CoreInsights = nonNil(i.CoreInsights)
	i.KeyRisks = nonNil(i.KeyRisks)
	i.Catalysts = nonNil(i.Catalysts)
	switch i.Recommendation.Rating {
	case RatingBuy, RatingHold, RatingSell, RatingWatch:
	default:
		i.Recommendation.Rating = RatingWatch
	}
	if i.Recommendation.Confidence == "" {
		i.Recommendation.Confidence = ConfidenceLow
	}
}

// InsightInput gathers everything the insight stage consumes.
type InsightInput struct {
	Company    string
	Structured StructuredResult
	Finance    FinancialAnalysis
	Market     MarketAnalysis
}

// WriteInput gathers everything the writing stage consumes.
type WriteInput struct {
	Company    string
	Depth      Depth
	Structured StructuredResult
	Finance    FinancialAnalysis
	Market     MarketAnalysis
	Insights   Insights
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
