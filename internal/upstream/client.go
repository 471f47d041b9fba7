package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promptathon/gateway/internal/domain"
	"github.com/promptathon/gateway/internal/errors"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	// BaseURL is the origin of the catalog/grading service,
	// e.g. "http://localhost:5000".
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the remote catalog, grader and leaderboard over
// HTTP/JSON. Any transport failure, non-2xx status or undecodable body
// surfaces as an unavailable error; the caller decides how to degrade.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(c Config) *Client {
	hc := c.HTTPClient
	if hc == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		base: c.BaseURL,
		hc:   hc,
	}
}

// Categories fetches the ordered category list.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var body struct {
		Categories []string `json:"categories"`
	}

	if err := c.get(ctx, "/api/categories", &body); err != nil {
		return nil, err
	}

	return body.Categories, nil
}

// Challenges fetches the full challenge table keyed by category.
func (c *Client) Challenges(ctx context.Context) (map[string]domain.Challenge, error) {
	var body struct {
		Challenges map[string]domain.Challenge `json:"challenges"`
	}

	if err := c.get(ctx, "/api/challenges", &body); err != nil {
		return nil, err
	}

	return body.Challenges, nil
}

// GradeRequest is the grading call's wire body.
type GradeRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Category       string `json:"category"`
	Prompt         string `json:"prompt"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// GradeResponse is the grader's wire reply. Score is a pointer because
// an ok reply may legitimately omit it.
type GradeResponse struct {
	OK      bool          `json:"ok"`
	Score   *float64      `json:"score"`
	Error   string        `json:"error"`
	Details *GradeDetails `json:"details"`
}

type GradeDetails struct {
	OverallScore *float64    `json:"overall_score"`
	Cases        []GradeCase `json:"cases"`
}

type GradeCase struct {
	ModelOutput string `json:"model_output"`
}

// Grade submits one authored prompt for remote grading.
func (c *Client) Grade(ctx context.Context, req GradeRequest) (*GradeResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("upstream: marshal grade request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/grade", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("upstream: build grade request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var body GradeResponse
	if err := c.do(httpReq, &body); err != nil {
		return nil, err
	}

	return &body, nil
}

// Leaderboard fetches all persisted entries in server order.
func (c *Client) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	var body struct {
		Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	}

	if err := c.get(ctx, "/api/leaderboard", &body); err != nil {
		return nil, err
	}

	return body.Leaderboard, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return errors.Internal(fmt.Errorf("upstream: build request %s: %w", path, err))
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Unavailable(fmt.Errorf("upstream: %s %s: %w", req.Method, req.URL.Path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("upstream: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Unavailable(fmt.Errorf("upstream: decode %s: %w", req.URL.Path, err))
	}

	return nil
}
