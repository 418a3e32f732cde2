package agents

import (
	"context"
	"fmt"
	"strings"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

const marketSystem = `You are an industry strategist. Assess markets with Porter's five forces and SWOT, keep ratings consistent with the evidence, and answer in Chinese.`

// Market analyses the industry, competition and outlook. It answers in one
// piece and does not stream.
type Market struct {
	model ports.ChatModel
}

// NewMarket wires the chat model.
func NewMarket(model ports.ChatModel) *Market {
	return &Market{model: model}
}

func (m *Market) Name() domain.StageName { return domain.StageMarket }

func (m *Market) Execute(ctx context.Context, in domain.StructuredResult) (domain.MarketAnalysis, error) {
	answer, err := ask(ctx, m.model, ports.ChatRequest{
		System:      marketSystem,
		Prompt:      marketPrompt(in),
		Temperature: 0.7,
	}, nil)
	if err != nil {
		return domain.MarketAnalysis{}, err
	}

	var analysis domain.MarketAnalysis
	if err := decodeAnswer(answer, &analysis); err != nil {
		return domain.MarketAnalysis{}, err
	}
	analysis.Normalize()
	return analysis, nil
}

func (m *Market) Default(domain.StructuredResult) domain.MarketAnalysis {
	return domain.DefaultMarketAnalysis()
}

func marketPrompt(in domain.StructuredResult) string {
	depthNote := ""
	if in.Depth == domain.DepthDeep {
		depthNote = "\nAlso fill \"porter_five_forces\" (supplier_power, buyer_power, new_entrants, substitutes, rivalry, each {score, analysis}) and \"moat_analysis\"."
	}
	return fmt.Sprintf(`Analyse the market position of %s.

## Known facts
- Industry: %s
- Main business: %s
- Market position: %s
- Main competitors: %s

Return only JSON:
{
  "industry": {"name": "", "size": "", "stage": "", "growth_trend": "", "key_drivers": [], "policy_environment": ""},
  "competition": {"intensity": "高|中|低", "market_share_rank": "", "main_competitors": [], "competitive_advantages": [], "competitive_disadvantages": []},
  "market_position": {"brand_power": "", "tech_leadership": "", "customer_base": "", "score": <1-10>},
  "swot": {"strengths": [], "weaknesses": [], "opportunities": [], "threats": []},
  "outlook": {"short_term": "", "medium_term": "", "long_term": "", "rating": "看好|中性|谨慎"}
}%s`,
		in.Company,
		orUnknown(in.Data.Industry),
		orUnknown(in.Data.MainBusiness),
		orUnknown(in.Data.MarketPosition),
		orUnknown(strings.Join(in.Data.MainCompetitors, ", ")),
		depthNote,
	)
}
