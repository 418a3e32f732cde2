package usecase

import (
	"fmt"

	"ResearchPipeline/internal/domain"
)

func summarizeSearch(r domain.SearchResult) stageSummary {
	hits := 0
	for _, c := range r.Categories {
		hits += len(c.Hits)
	}
	return stageSummary{
		Text:  fmt.Sprintf("Collected %d results across %d categories", hits, len(r.Categories)),
		Extra: map[string]any{"hitCount": hits, "categoryCount": len(r.Categories)},
	}
}

func summarizeStructure(r domain.StructuredResult) stageSummary {
	industry := r.Data.Industry
	if industry == "" {
		industry = "industry unknown"
	}
	return stageSummary{
		Text:  fmt.Sprintf("Profile ready: %s (%s)", r.Data.CompanyName, industry),
		Extra: map[string]any{"companyName": r.Data.CompanyName, "industry": r.Data.Industry},
	}
}

func summarizeFinance(f domain.FinancialAnalysis) stageSummary {
	return stageSummary{
		Text:  fmt.Sprintf("Financial health score %d/10", f.OverallScore),
		Extra: map[string]any{"score": f.OverallScore},
	}
}

func summarizeMarket(m domain.MarketAnalysis) stageSummary {
	return stageSummary{
		Text:  fmt.Sprintf("Market position score %d/10, outlook %s", m.Position.Score, m.Outlook.Rating),
		Extra: map[string]any{"score": m.Position.Score, "rating": m.Outlook.Rating},
	}
}

func summarizeInsights(i domain.Insights) stageSummary {
	return stageSummary{
		Text: fmt.Sprintf("Overall score %d/10, recommendation %s", i.OverallScore, i.Recommendation.Rating),
		Extra: map[string]any{
			"overallScore":   i.OverallScore,
			"recommendation": i.Recommendation.Rating,
			"confidence":     i.Recommendation.Confidence,
		},
	}
}

func summarizeReport(r domain.Report) stageSummary {
	return stageSummary{
		Text:  fmt.Sprintf("Report ready with %d sections", len(r.Sections)),
		Extra: map[string]any{"sections": len(r.Sections)},
	}
}
