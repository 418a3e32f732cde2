package agents

import (
	"context"
	"fmt"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/stage"
)

const insightSystem = `You are a chief investment strategist. Combine financial and market findings into actionable insights, weigh bull and bear cases evenly, and answer in Chinese.`

// Insight derives the investment view and the overall score.
type Insight struct {
	model ports.ChatModel
}

// NewInsight wires the chat model.
func NewInsight(model ports.ChatModel) *Insight {
	return &Insight{model: model}
}

func (i *Insight) Name() domain.StageName { return domain.StageInsight }

func (i *Insight) Execute(ctx context.Context, in domain.InsightInput) (domain.Insights, error) {
	return i.run(ctx, in, nil)
}

func (i *Insight) ExecuteStreaming(ctx context.Context, in domain.InsightInput, onChunk stage.ChunkFunc) (domain.Insights, error) {
	return i.run(ctx, in, onChunk)
}

func (i *Insight) Default(domain.InsightInput) domain.Insights {
	return domain.DefaultInsights()
}

func (i *Insight) run(ctx context.Context, in domain.InsightInput, onChunk stage.ChunkFunc) (domain.Insights, error) {
	answer, err := ask(ctx, i.model, ports.ChatRequest{
		System:      insightSystem,
		Prompt:      insightPrompt(in),
		Temperature: 0.7,
	}, onChunk)
	if err != nil {
		return domain.Insights{}, err
	}

	var insights domain.Insights
	if err := decodeAnswer(answer, &insights); err != nil {
		return domain.Insights{}, err
	}
	insights.Normalize()

	computed := domain.ComputedOverallScore(
		in.Finance.OverallScore,
		in.Market.Position.Score,
		in.Market.Outlook.Rating,
		len(insights.KeyRisks),
	)
	insights.ModelScore = insights.OverallScore
	insights.OverallScore = domain.ReconcileScore(insights.ModelScore, computed)
	return insights, nil
}

func insightPrompt(in domain.InsightInput) string {
	return fmt.Sprintf(`Produce investment insights for %s (%s).

## Financial analysis (overall %d/10)
%s

## Market analysis (position %d/10, outlook %s)
%s

Return only JSON:
{
  "core_insights": [{"title": "", "content": "", "impact": "正面|负面|中性"}],
  "investment_thesis": {"bull_case": "", "bear_case": ""},
  "key_risks": [{"type": "", "description": "", "severity": "高|中|低"}],
  "catalysts": [{"event": "", "timeline": ""}],
  "recommendation": {"rating": "买入|持有|卖出|观望", "confidence": "高|中|低", "reasoning": "", "target_audience": ""},
  "overall_score": <financial*0.4 + market*0.35 + growth*0.15 + risk*0.1, 1-10>
}
growth is 8 for 看好, 3 for 谨慎, otherwise 5. risk is 10 when there are no key risks, otherwise 0.
Do not default the overall score to 7.`,
		in.Company,
		orUnknown(in.Structured.Data.Industry),
		in.Finance.OverallScore,
		mustJSON(in.Finance),
		in.Market.Position.Score,
		in.Market.Outlook.Rating,
		mustJSON(in.Market),
	)
}
