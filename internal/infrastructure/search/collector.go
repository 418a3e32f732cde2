// Package search gathers raw web material for a company according to a
// depth-dependent plan of query categories.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"ResearchPipeline/internal/config"
	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

// Backend runs a single query.
type Backend interface {
	Search(ctx context.Context, query string, news bool) ([]domain.SearchHit, error)
}

// Collector implements ports.Searcher over a Backend and configured plans.
type Collector struct {
	backend Backend
	plans   map[domain.Depth][]config.CategoryConfig
	logger  *slog.Logger
}

var _ ports.Searcher = (*Collector)(nil)

// NewCollector wires the backend with per-depth category plans.
func NewCollector(backend Backend, plans map[string][]config.CategoryConfig, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	byDepth := make(map[domain.Depth][]config.CategoryConfig, len(plans))
	for depth, plan := range plans {
		byDepth[domain.Depth(strings.ToLower(depth))] = plan
	}
	return &Collector{backend: backend, plans: byDepth, logger: logger.With("component", "search")}
}

// Plan returns the categories collected for depth; unknown depths use the
// standard plan.
func (c *Collector) Plan(depth domain.Depth) []config.CategoryConfig {
	if plan, ok := c.plans[depth]; ok {
		return plan
	}
	return c.plans[domain.DepthStandard]
}

// Collect runs every category of the plan concurrently. A failing category
// is recorded with its error and empty hits; Collect only fails when no
// category produced anything or the context ends.
func (c *Collector) Collect(ctx context.Context, req domain.ResearchRequest) (domain.SearchResult, error) {
	if c.backend == nil {
		return domain.SearchResult{}, fmt.Errorf("search backend is not configured")
	}
	plan := c.Plan(req.Depth)
	if len(plan) == 0 {
		return domain.SearchResult{}, fmt.Errorf("no search plan for depth %s", req.Depth)
	}

	result := domain.DefaultSearchResult(req)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, category := range plan {
		g.Go(func() error {
			collected := c.collectCategory(gctx, req.Company, category)
			mu.Lock()
			result.Categories[domain.SearchCategory(category.Name)] = collected
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.SearchResult{}, err
	}

	failed := 0
	for _, category := range result.Categories {
		if category.Error != "" && len(category.Hits) == 0 {
			failed++
		}
	}
	if failed == len(plan) {
		return domain.SearchResult{}, fmt.Errorf("all %d search categories failed", failed)
	}

	c.logger.Debug("search collected", "company", req.Company, "depth", req.Depth, "categories", len(result.Categories), "failed", failed)
	return result, nil
}

func (c *Collector) collectCategory(ctx context.Context, company string, category config.CategoryConfig) domain.CategoryResult {
	out := domain.CategoryResult{Hits: []domain.SearchHit{}}
	seen := map[string]struct{}{}
	var errs []string

	for _, template := range category.Queries {
		query := strings.ReplaceAll(template, "{company}", company)
		out.Queries = append(out.Queries, query)

		hits, err := c.backend.Search(ctx, query, category.News)
		if err != nil {
			c.logger.Warn("search query failed", "category", category.Name, "query", query, "error", err)
			errs = append(errs, err.Error())
			if ctx.Err() != nil {
				break
			}
			continue
		}
		for _, hit := range hits {
			key := hit.Link
			if key == "" {
				key = hit.Title
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			hit.Title = CleanText(hit.Title)
			hit.Snippet = CleanText(hit.Snippet)
			out.Hits = append(out.Hits, hit)
		}
	}

	if len(errs) > 0 {
		out.Error = strings.Join(errs, "; ")
	}
	return out
}
