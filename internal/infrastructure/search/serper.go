package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ResearchPipeline/internal/config"
	"ResearchPipeline/internal/domain"
)

// SerperClient queries the Serper web and news search endpoints.
type SerperClient struct {
	endpoint     string
	newsEndpoint string
	apiKey       string
	num          int
	country      string
	language     string
	http         *http.Client
}

// NewSerperClient creates a reusable HTTP client from configuration.
func NewSerperClient(cfg config.SearchConfig) *SerperClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	num := cfg.ResultsPerQuery
	if num <= 0 {
		num = 5
	}
	return &SerperClient{
		endpoint:     cfg.Endpoint,
		newsEndpoint: cfg.NewsEndpoint,
		apiKey:       cfg.APIKey,
		num:          num,
		country:      cfg.Country,
		language:     cfg.Language,
		http:         &http.Client{Timeout: timeout},
	}
}

type serperHit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
}

type serperResponse struct {
	Organic []serperHit `json:"organic"`
	News    []serperHit `json:"news"`
}

// Search runs one query against the web endpoint, or the news endpoint when
// news is set.
func (c *SerperClient) Search(ctx context.Context, query string, news bool) ([]domain.SearchHit, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("search api key is not configured")
	}
	endpoint := c.endpoint
	if news && c.newsEndpoint != "" {
		endpoint = c.newsEndpoint
	}

	payload := map[string]any{"q": query, "num": c.num}
	if c.country != "" {
		payload["gl"] = c.country
	}
	if c.language != "" {
		payload["hl"] = c.language
	}

	var resp serperResponse
	if err := c.post(ctx, endpoint, payload, &resp); err != nil {
		return nil, err
	}

	raw := resp.Organic
	if news || len(raw) == 0 {
		raw = append(raw, resp.News...)
	}
	hits := make([]domain.SearchHit, 0, len(raw))
	for _, h := range raw {
		hits = append(hits, domain.SearchHit{Title: h.Title, Link: h.Link, Snippet: h.Snippet, Date: h.Date})
	}
	return hits, nil
}

func (c *SerperClient) post(ctx context.Context, endpoint string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
