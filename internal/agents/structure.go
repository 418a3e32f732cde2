package agents

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/stage"
)

const maxHitsPerCategory = 8

const structureSystem = `You are a meticulous equity research data analyst. Extract facts only from the material provided, never invent figures, and answer in Chinese.`

// Structure turns raw search material into a company profile.
type Structure struct {
	model ports.ChatModel
}

// NewStructure wires the chat model.
func NewStructure(model ports.ChatModel) *Structure {
	return &Structure{model: model}
}

func (s *Structure) Name() domain.StageName { return domain.StageStructure }

func (s *Structure) Execute(ctx context.Context, in domain.SearchResult) (domain.StructuredResult, error) {
	return s.run(ctx, in, nil)
}

func (s *Structure) ExecuteStreaming(ctx context.Context, in domain.SearchResult, onChunk stage.ChunkFunc) (domain.StructuredResult, error) {
	return s.run(ctx, in, onChunk)
}

func (s *Structure) Default(in domain.SearchResult) domain.StructuredResult {
	return domain.StructuredResult{Company: in.Company, Depth: in.Depth, Data: domain.DefaultStructuredData(in.Company)}
}

func (s *Structure) run(ctx context.Context, in domain.SearchResult, onChunk stage.ChunkFunc) (domain.StructuredResult, error) {
	answer, err := ask(ctx, s.model, ports.ChatRequest{
		System:      structureSystem,
		Prompt:      structurePrompt(in),
		Temperature: 0.3,
	}, onChunk)
	if err != nil {
		return domain.StructuredResult{}, err
	}

	var data domain.StructuredData
	if err := decodeAnswer(answer, &data); err != nil {
		return domain.StructuredResult{}, err
	}
	data.Normalize(in.Company)
	return domain.StructuredResult{Company: in.Company, Depth: in.Depth, Data: data}, nil
}

func structurePrompt(in domain.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organise the following search results about %s into a structured company profile.\n\n", in.Company)

	categories := make([]string, 0, len(in.Categories))
	for name := range in.Categories {
		categories = append(categories, string(name))
	}
	slices.Sort(categories)
	for _, name := range categories {
		hits := in.Categories[domain.SearchCategory(name)].Hits
		if len(hits) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", name)
		for i, hit := range hits {
			if i == maxHitsPerCategory {
				break
			}
			fmt.Fprintf(&b, "- %s: %s", hit.Title, hit.Snippet)
			if hit.Date != "" {
				fmt.Fprintf(&b, " (%s)", hit.Date)
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString(`Return only JSON of this shape:
{
  "company_name": "full company name",
  "stock_code": "ticker, empty if unlisted",
  "industry": "industry",
  "main_business": "main business in 50-100 characters",
  "key_products": ["product"],
  "financial_summary": {"revenue": "", "net_profit": "", "gross_margin": "", "growth": ""},
  "recent_events": ["event"],
  "market_position": "market position",
  "main_competitors": ["competitor"]
}`)
	return b.String()
}
