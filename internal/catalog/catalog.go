package catalog

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/promptathon/gateway/internal/domain"
)

// maxCategories caps how many categories are offered, regardless of how
// many the remote catalog holds. A longer upstream list is truncated,
// not treated as an error.
const maxCategories = 9

// Upstream is the remote catalog surface consumed by the client.
type Upstream interface {
	Categories(ctx context.Context) ([]string, error)
	Challenges(ctx context.Context) (map[string]domain.Challenge, error)
}

type Config struct {
	Upstream Upstream
}

// Client resolves categories and challenges from the remote catalog,
// degrading to a built-in table when the catalog is unreachable so the
// flow is never left without content. A successful challenge fetch is
// cached for the client's lifetime; challenges are immutable.
type Client struct {
	up Upstream

	mu     sync.RWMutex
	cached map[string]domain.Challenge
}

func NewClient(c Config) *Client {
	return &Client{up: c.Upstream}
}

// Warm fetches categories and challenges concurrently to prime the
// challenge cache. Best effort: an unreachable catalog is reported, not
// fatal, and the flow degrades to the fallback table.
func (c *Client) Warm(ctx context.Context) error {
	var eg errgroup.Group

	eg.Go(func() error {
		_, err := c.ListCategories(ctx)
		return err
	})

	eg.Go(func() error {
		c.challenges(ctx)
		return nil
	})

	return eg.Wait()
}

// ListCategories returns up to maxCategories category names in catalog
// order. On transport failure it returns an empty list along with the
// error so the caller can surface the degradation.
func (c *Client) ListCategories(ctx context.Context) ([]string, error) {
	cats, err := c.up.Categories(ctx)
	if err != nil {
		slog.WarnContext(ctx, "catalog: list categories failed", "error", err)
		return nil, err
	}

	if len(cats) > maxCategories {
		cats = cats[:maxCategories]
	}

	return cats, nil
}

// GetChallenge resolves one category to its challenge. The remote table
// wins when reachable and non-empty; otherwise the built-in fallback
// serves the known categories.
func (c *Client) GetChallenge(ctx context.Context, category string) (domain.Challenge, bool) {
	table := c.challenges(ctx)

	ch, ok := table[category]
	return ch, ok
}

func (c *Client) challenges(ctx context.Context) map[string]domain.Challenge {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()

	if cached != nil {
		return cached
	}

	table, err := c.up.Challenges(ctx)
	if err != nil || len(table) == 0 {
		if err != nil {
			slog.WarnContext(ctx, "catalog: fetch challenges failed, using fallback", "error", err)
		}
		return fallback
	}

	c.mu.Lock()
	c.cached = table
	c.mu.Unlock()

	return table
}

// fallback keeps the flow alive when the catalog is unreachable. Every
// entry carries a title, a task and at least one example input.
var fallback = map[string]domain.Challenge{
	"GWM": {
		Title: "Summarize a client's portfolio review",
		Task:  "Write a prompt that asks an LLM to summarize a client's last quarter portfolio performance, highlight risk exposures, and propose 2 actionable rebalancing suggestions.",
		Examples: []domain.Example{
			{Input: "Holdings: 40% equities (US large-cap), 40% bonds (IG), 20% cash. Q3 perf: +2.1%"},
			{Input: "Client risk: Moderate; Constraints: no energy sector >10%"},
		},
	},
	"IB": {
		Title: "Deal teaser extraction",
		Task:  "Craft a prompt to extract the 5 most compelling selling points from a deal teaser PDF, with bullet points capped at 20 words each.",
		Examples: []domain.Example{
			{Input: "Sector: FinTech; Geography: APAC; Revenue: $120M; Growth: 35% YoY"},
			{Input: "Differentiators: proprietary fraud engine; 200+ enterprise clients"},
		},
	},
	"AM": {
		Title: "ESG highlights generator",
		Task:  "Create a prompt that turns raw KPI data into a concise ESG summary paragraph for a fund factsheet.",
		Examples: []domain.Example{
			{Input: "Carbon intensity: -18% vs benchmark; Board diversity: 42%"},
			{Input: "Engagements: 23; Exclusions: thermal coal >25% revenue"},
		},
	},
	"Group Functions": {
		Title: "Policy Q&A author",
		Task:  "Write a prompt to convert a long internal policy into a Q&A with clear, compliance-friendly answers and citations to sections.",
		Examples: []domain.Example{
			{Input: "Policy: Travel & Expenses v3.2; Sections 4, 7 most asked"},
			{Input: "Audience: new hires; Tone: plain language"},
		},
	},
	"Tech": {
		Title: "Bug report triage",
		Task:  "Design a prompt that classifies bug reports by severity, extracts reproduction steps, and suggests an owner team.",
		Examples: []domain.Example{
			{Input: "Report: 'App crashes when uploading CSV > 5MB'"},
			{Input: "Modules: Upload service, Parser, UI"},
		},
	},
}
