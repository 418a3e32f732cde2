package agents

import (
	"context"
	"fmt"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/stage"
)

const financeSystem = `You are a senior financial analyst of listed companies. Be thorough and objective, justify every score, say so explicitly when information is insufficient, and answer in Chinese.`

// Finance scores the company's financial health on four dimensions.
type Finance struct {
	model ports.ChatModel
}

// NewFinance wires the chat model.
func NewFinance(model ports.ChatModel) *Finance {
	return &Finance{model: model}
}

func (f *Finance) Name() domain.StageName { return domain.StageFinance }

func (f *Finance) Execute(ctx context.Context, in domain.StructuredResult) (domain.FinancialAnalysis, error) {
	return f.run(ctx, in, nil)
}

func (f *Finance) ExecuteStreaming(ctx context.Context, in domain.StructuredResult, onChunk stage.ChunkFunc) (domain.FinancialAnalysis, error) {
	return f.run(ctx, in, onChunk)
}

func (f *Finance) Default(domain.StructuredResult) domain.FinancialAnalysis {
	return domain.DefaultFinancialAnalysis()
}

func (f *Finance) run(ctx context.Context, in domain.StructuredResult, onChunk stage.ChunkFunc) (domain.FinancialAnalysis, error) {
	answer, err := ask(ctx, f.model, ports.ChatRequest{
		System:      financeSystem,
		Prompt:      financePrompt(in),
		Temperature: 0.7,
	}, onChunk)
	if err != nil {
		return domain.FinancialAnalysis{}, err
	}

	var analysis domain.FinancialAnalysis
	if err := decodeAnswer(answer, &analysis); err != nil {
		return domain.FinancialAnalysis{}, err
	}
	analysis.Normalize()
	return analysis, nil
}

func financePrompt(in domain.StructuredResult) string {
	return fmt.Sprintf(`Analyse the financial condition of %s.

## Known facts
- Company name: %s
- Industry: %s
- Main business: %s
- Financial summary: %s

Score profitability, solvency, efficiency and growth from 1 to 10 and return only JSON:
{
  "profitability": {"score": <1-10>, "analysis": "100-150 characters", "key_metrics": ["metric"]},
  "solvency": {"score": <1-10>, "analysis": "...", "key_metrics": []},
  "efficiency": {"score": <1-10>, "analysis": "...", "key_metrics": []},
  "growth": {"score": <1-10>, "analysis": "...", "key_metrics": []},
  "overall_score": <profitability*0.3 + solvency*0.25 + efficiency*0.25 + growth*0.2, rounded>,
  "summary": "overall financial health, 100-150 characters",
  "strengths": ["strength"],
  "weaknesses": ["weakness"]
}
Do not default any score to 7.`,
		in.Company,
		orUnknown(in.Data.CompanyName),
		orUnknown(in.Data.Industry),
		orUnknown(in.Data.MainBusiness),
		mustJSON(in.Data.FinancialSummary),
	)
}
