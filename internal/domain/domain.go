package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Enrollment holds the three fields a participant supplies before
// starting a challenge. It lives for the duration of a session.
type Enrollment struct {
	Name     string
	Email    string
	Category string
}

// Challenge is a category-specific prompt-writing task. Immutable once
// fetched from the catalog.
type Challenge struct {
	Title    string    `json:"title"`
	Task     string    `json:"task"`
	Examples []Example `json:"examples"`
}

type Example struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
}

// Submission is one authored prompt carried to the grader.
type Submission struct {
	Name           string
	Email          string
	Category       string
	Prompt         string
	ElapsedSeconds int64
}

// AttemptState is the phase of a single grading attempt.
type AttemptState string

const (
	AttemptIdle       AttemptState = "idle"
	AttemptSubmitting AttemptState = "submitting"
	AttemptGraded     AttemptState = "graded"
	AttemptFailed     AttemptState = "failed"
)

// GradeResult is the outcome of one grading attempt. Exactly one of
// Score or Error is meaningful, depending on OK.
type GradeResult struct {
	OK           bool
	Score        int
	Error        string
	SampleOutput string
	Estimated    bool // score came from the local heuristic, not the grader
	GradedAt     time.Time
}

// LeaderboardEntry is one graded submission as persisted server-side.
// Entries are append-only; the client only reads and filters them.
type LeaderboardEntry struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Score          int    `json:"score"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// CategorySummary aggregates the leaderboard entries of one category.
type CategorySummary struct {
	Category     string
	Count        int
	AverageScore decimal.Decimal
}
