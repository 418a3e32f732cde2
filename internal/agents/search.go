package agents

import (
	"context"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

// Search collects raw material about the company.
type Search struct {
	searcher ports.Searcher
}

// NewSearch wires the web searcher.
func NewSearch(searcher ports.Searcher) *Search {
	return &Search{searcher: searcher}
}

func (s *Search) Name() domain.StageName { return domain.StageSearch }

func (s *Search) Execute(ctx context.Context, req domain.ResearchRequest) (domain.SearchResult, error) {
	return s.searcher.Collect(ctx, req)
}

func (s *Search) Default(req domain.ResearchRequest) domain.SearchResult {
	return domain.DefaultSearchResult(req)
}
