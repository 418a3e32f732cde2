package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/stage"
)

var (
	_ stage.Stage[domain.ResearchRequest, domain.SearchResult]          = (*Search)(nil)
	_ stage.Streamer[domain.SearchResult, domain.StructuredResult]      = (*Structure)(nil)
	_ stage.Streamer[domain.StructuredResult, domain.FinancialAnalysis] = (*Finance)(nil)
	_ stage.Stage[domain.StructuredResult, domain.MarketAnalysis]       = (*Market)(nil)
	_ stage.Streamer[domain.InsightInput, domain.Insights]              = (*Insight)(nil)
	_ stage.Streamer[domain.WriteInput, domain.Report]                  = (*Write)(nil)
)

// scriptedModel answers every prompt with the same text, streaming it in
// fixed-size pieces.
type scriptedModel struct {
	answer string
	err    error
	piece  int
}

func (m scriptedModel) Complete(context.Context, ports.ChatRequest) (string, error) {
	return m.answer, m.err
}

func (m scriptedModel) Stream(ctx context.Context, _ ports.ChatRequest, onDelta func(string) error) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	piece := max(m.piece, 1)
	for start := 0; start < len(m.answer); start += piece {
		end := min(start+piece, len(m.answer))
		if err := onDelta(m.answer[start:end]); err != nil {
			return m.answer[:end], err
		}
	}
	return m.answer, nil
}

type chunkRecorder struct {
	chunks []string
	finals int
}

func (r *chunkRecorder) record(chunk string, final bool) error {
	if final {
		r.finals++
		return nil
	}
	r.chunks = append(r.chunks, chunk)
	return nil
}

func TestStructureStreamsAndDecodes(t *testing.T) {
	t.Parallel()

	answer := "Here is the profile:\n```json\n" +
		`{"company_name":"Acme Corp","industry":"Robotics","main_business":"industrial robots","key_products":["R1"]}` +
		"\n```"
	s := NewStructure(scriptedModel{answer: answer, piece: 7})
	rec := &chunkRecorder{}

	out, err := s.ExecuteStreaming(context.Background(), domain.SearchResult{Company: "Acme", Depth: domain.DepthBasic}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, answer, strings.Join(rec.chunks, ""))
	assert.Equal(t, 1, rec.finals)
	assert.Equal(t, "Acme Corp", out.Data.CompanyName)
	assert.Equal(t, "Robotics", out.Data.Industry)
	assert.NotNil(t, out.Data.RecentEvents)
	assert.Equal(t, domain.DepthBasic, out.Depth)
}

func TestStructureWithoutJSONFails(t *testing.T) {
	t.Parallel()

	_, err := NewStructure(scriptedModel{answer: "sorry, no data"}).Execute(context.Background(), domain.SearchResult{Company: "Acme"})
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestFinanceFillsOverallScore(t *testing.T) {
	t.Parallel()

	answer := `{"profitability":{"score":8},"solvency":{"score":6},"efficiency":{"score":7},"growth":{"score":5},"summary":"ok"}`
	out, err := NewFinance(scriptedModel{answer: answer}).Execute(context.Background(), domain.StructuredResult{Company: "Acme"})
	require.NoError(t, err)

	// 8*0.3 + 6*0.25 + 7*0.25 + 5*0.2 = 6.65
	assert.Equal(t, 7, out.OverallScore)
	assert.NotNil(t, out.Strengths)
}

func TestMarketNormalizesRating(t *testing.T) {
	t.Parallel()

	answer := `{"market_position":{"score":14},"outlook":{"rating":"excellent"},"swot":{"strengths":["brand",{"item":"scale","detail":"largest fleet"}]}}`
	out, err := NewMarket(scriptedModel{answer: answer}).Execute(context.Background(), domain.StructuredResult{Company: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, 10, out.Position.Score)
	assert.Equal(t, domain.OutlookNeutral, out.Outlook.Rating)
	require.Len(t, out.SWOT.Strengths, 2)
	assert.Equal(t, "scale: largest fleet", out.SWOT.Strengths[1].String())
}

func TestInsightOverridesPlaceholderScore(t *testing.T) {
	t.Parallel()

	answer := `{"key_risks":[{"type":"market","description":"demand","severity":"中"}],"recommendation":{"rating":"持有"},"overall_score":7}`
	in := domain.InsightInput{
		Company: "Acme",
		Finance: domain.FinancialAnalysis{OverallScore: 6},
		Market: domain.MarketAnalysis{
			Position: domain.MarketPosition{Score: 7},
			Outlook:  domain.Outlook{Rating: domain.OutlookPositive},
		},
	}
	out, err := NewInsight(scriptedModel{answer: answer}).Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 7, out.ModelScore)
	assert.Equal(t, 6, out.OverallScore)
	assert.Equal(t, domain.RatingHold, out.Recommendation.Rating)
}

func TestInsightKeepsConsistentModelScore(t *testing.T) {
	t.Parallel()

	answer := `{"recommendation":{"rating":"买入","confidence":"高"},"overall_score":8}`
	in := domain.InsightInput{
		Finance: domain.FinancialAnalysis{OverallScore: 7},
		Market: domain.MarketAnalysis{
			Position: domain.MarketPosition{Score: 8},
			Outlook:  domain.Outlook{Rating: domain.OutlookPositive},
		},
	}
	// computed = 2.8 + 2.8 + 1.2 + 1.0 = 7.8
	out, err := NewInsight(scriptedModel{answer: answer}).Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 8, out.OverallScore)
}

func TestWriteBuildsEverySection(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := NewWrite(scriptedModel{answer: "  Acme is a robotics leader.  ", piece: 4}, func() time.Time { return now })
	in := domain.WriteInput{
		Company:    "Acme",
		Depth:      domain.DepthStandard,
		Structured: domain.StructuredResult{Company: "Acme", Data: domain.DefaultStructuredData("Acme")},
		Finance:    domain.DefaultFinancialAnalysis(),
		Market:     domain.DefaultMarketAnalysis(),
		Insights:   domain.DefaultInsights(),
	}
	rec := &chunkRecorder{}

	report, err := w.ExecuteStreaming(context.Background(), in, rec.record)
	require.NoError(t, err)

	summary, ok := report.Section(domain.SectionExecutiveSummary)
	require.True(t, ok)
	assert.Equal(t, "Acme is a robotics leader.", summary.Content)
	assert.Equal(t, now, report.Metadata.ResearchDate)
	assertCompleteReport(t, report)
}

func TestWriteDefaultIsComplete(t *testing.T) {
	t.Parallel()

	w := NewWrite(scriptedModel{err: errors.New("offline")}, nil)
	in := domain.WriteInput{
		Company:  "Acme",
		Finance:  domain.DefaultFinancialAnalysis(),
		Market:   domain.DefaultMarketAnalysis(),
		Insights: domain.DefaultInsights(),
	}
	_, err := w.Execute(context.Background(), in)
	require.Error(t, err)

	report := w.Default(in)
	assert.Equal(t, domain.DefaultScore, report.Metadata.OverallScore)
	assert.Equal(t, domain.RatingWatch, report.Metadata.Recommendation)
	assert.Equal(t, "Acme", report.Metadata.CompanyName)
	assertCompleteReport(t, report)
}

func TestDeepMarketSectionAddsForces(t *testing.T) {
	t.Parallel()

	m := domain.DefaultMarketAnalysis()
	m.PorterFiveForces = map[string]domain.Force{"rivalry": {Score: 8, Analysis: "crowded"}}
	m.Position.MoatAnalysis = "network effects"

	deep := marketSection(m, domain.DepthDeep)
	standard := marketSection(m, domain.DepthStandard)

	assert.Len(t, standard.Subsections, 5)
	require.Len(t, deep.Subsections, 7)
	assert.Equal(t, "波特五力分析", deep.Subsections[2].Title)
	assert.Equal(t, "护城河分析", deep.Subsections[6].Title)
}

func assertCompleteReport(t *testing.T, report domain.Report) {
	t.Helper()
	require.Len(t, report.Sections, len(domain.ReportSectionIDs))
	for i, id := range domain.ReportSectionIDs {
		section := report.Sections[i]
		assert.Equal(t, id, section.ID)
		assert.NotEmpty(t, section.Title, id)
		assert.NotEmpty(t, strings.TrimSpace(section.Content), id)
	}
}
