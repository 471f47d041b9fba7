package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/promptathon/gateway/internal/domain"
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	GradedSubmission struct {
		Name           string `json:"name"`
		Category       string `json:"category"`
		Score          int    `json:"score"`
		ElapsedSeconds int64  `json:"elapsed_seconds"`
	}
)

// PublishSubmissionGraded pushes a graded-submission notification to
// the shared channel so open leaderboard views can refresh.
func (a *API) PublishSubmissionGraded(ctx context.Context, e domain.EventSubmissionGraded) error {
	if a.redis == nil {
		return nil
	}

	n := Notification{
		Event: e.Name(),
		Data: GradedSubmission{
			Name:           e.Submission.Name,
			Category:       e.Submission.Category,
			Score:          e.Result.Score,
			ElapsedSeconds: e.Submission.ElapsedSeconds,
		},
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", e.Name(), err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:leaderboard", a.prefix), b).Err()
}
