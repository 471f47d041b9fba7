package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/promptathon/gateway/internal/domain"
	"github.com/promptathon/gateway/internal/event"
)

// AllCategories is the filter value matching every entry. It is always
// the first category option.
const AllCategories = "All"

// Upstream is the server-held leaderboard surface.
type Upstream interface {
	Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error)
}

type Config struct {
	Upstream Upstream
	EventBus *event.Bus
}

// Service reads the append-only leaderboard and derives filtered views.
// Loaded entries are cached until a submission is graded; the cache is
// then invalidated so the next load sees the new entry. The service
// never mutates loaded entries and preserves server order through every
// derived view.
type Service struct {
	up Upstream

	mu     sync.Mutex
	cached []domain.LeaderboardEntry
	loaded bool

	sub *event.Subscription
}

func NewService(c Config) *Service {
	s := &Service{up: c.Upstream}

	if c.EventBus != nil {
		s.sub = c.EventBus.Subscribe(domain.EventNameSubmissionGraded, func(ctx context.Context, e event.Event) error {
			s.Invalidate()
			return nil
		})
	}

	return s
}

// Load returns the leaderboard entries in server order. A fetch failure
// is surfaced as an error, never silently narrowed to an empty list.
func (s *Service) Load(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	if s.loaded {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	entries, err := s.up.Leaderboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: load: %w", err)
	}

	s.mu.Lock()
	s.cached = entries
	s.loaded = true
	s.mu.Unlock()

	return entries, nil
}

// Invalidate drops the cached entries.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.loaded = false
	s.mu.Unlock()
}

// Close detaches the service from the event bus. After Close a late
// graded event cannot touch the service.
func (s *Service) Close() {
	s.sub.Cancel()
}

// Query filters leaderboard rows. Zero values match everything.
type Query struct {
	// Category narrows rows to one category; empty or AllCategories
	// matches all.
	Category string
	// Name is a case-insensitive substring match on the entry name.
	Name string
}

// Filter recomputes the matching rows. The input slice is never
// mutated and row order is preserved.
func Filter(entries []domain.LeaderboardEntry, q Query) []domain.LeaderboardEntry {
	nameQ := strings.ToLower(strings.TrimSpace(q.Name))

	rows := make([]domain.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if q.Category != "" && q.Category != AllCategories && e.Category != q.Category {
			continue
		}
		if nameQ != "" && !strings.Contains(strings.ToLower(e.Name), nameQ) {
			continue
		}
		rows = append(rows, e)
	}

	return rows
}

// Options derives the category filter choices: AllCategories first,
// then every distinct trimmed non-empty category, sorted ascending.
func Options(entries []domain.LeaderboardEntry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		c := strings.TrimSpace(e.Category)
		if c == "" {
			continue
		}
		seen[c] = struct{}{}
	}

	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	return append([]string{AllCategories}, cats...)
}

// Summary aggregates entries per category: row count and average
// score, sorted by category name.
func Summary(entries []domain.LeaderboardEntry) []domain.CategorySummary {
	totals := make(map[string]decimal.Decimal)
	counts := make(map[string]int)

	for _, e := range entries {
		c := strings.TrimSpace(e.Category)
		if c == "" {
			continue
		}
		totals[c] = totals[c].Add(decimal.NewFromInt(int64(e.Score)))
		counts[c]++
	}

	out := make([]domain.CategorySummary, 0, len(totals))
	for c, total := range totals {
		out = append(out, domain.CategorySummary{
			Category:     c,
			Count:        counts[c],
			AverageScore: total.Div(decimal.NewFromInt(int64(counts[c]))).Round(2),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })

	return out
}
