package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/promptathon/gateway/internal/domain"
	"github.com/promptathon/gateway/internal/errors"
	"github.com/promptathon/gateway/internal/event"
)

// Hash fields mirror the logical names the browser flow stored its
// enrollment under.
const (
	fieldName      = "player:name"
	fieldEmail     = "player:email"
	fieldCategory  = "player:category"
	fieldStartedAt = "challenge_started_at"
)

const defaultTTL = 4 * time.Hour

type Config struct {
	Redis    redis.UniversalClient
	EventBus *event.Bus
	Prefix   string
	TTL      time.Duration
}

// Service owns session-scoped participant state: one redis hash per
// session holding the three enrollment fields plus the challenge-view
// entry timestamp. Sessions expire with their TTL; there is no explicit
// logout.
type Service struct {
	redis  redis.UniversalClient
	eb     *event.Bus
	prefix string
	ttl    time.Duration
}

func NewService(c Config) *Service {
	ttl := c.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}

	return &Service{
		redis:  c.Redis,
		eb:     c.EventBus,
		prefix: c.Prefix,
		ttl:    ttl,
	}
}

// State is the stored snapshot of one session. Empty fields are absent.
type State struct {
	SessionID string
	Name      string
	Email     string
	Category  string

	// StartedAt anchors elapsed-time measurement. Zero until the
	// participant first enters the challenge view.
	StartedAt time.Time
}

// Enrolled reports whether the session may enter the challenge view.
// Email is optional metadata past enrollment and does not gate entry.
func (st State) Enrolled() bool {
	return st.Name != "" && st.Category != ""
}

func (st State) Enrollment() domain.Enrollment {
	return domain.Enrollment{
		Name:     st.Name,
		Email:    st.Email,
		Category: st.Category,
	}
}

// Create stores a fresh session for a validated enrollment and returns
// its ID.
func (s *Service) Create(ctx context.Context, e domain.Enrollment) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("session: generate ID: %w", err)
	}

	if err := s.Set(ctx, id.String(), e); err != nil {
		return "", err
	}

	return id.String(), nil
}

// Set overwrites the session's enrollment fields wholesale.
func (s *Service) Set(ctx context.Context, id string, e domain.Enrollment) error {
	key := s.key(id)

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			fieldName, e.Name,
			fieldEmail, e.Email,
			fieldCategory, e.Category,
		)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: store %s: %w", id, err)
	}

	return nil
}

// Get returns the session state, or a not-found error when the session
// does not exist or has expired.
func (s *Service) Get(ctx context.Context, id string) (State, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return State{}, fmt.Errorf("session: load %s: %w", id, err)
	}

	if len(fields) == 0 {
		return State{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", id))
	}

	st := State{
		SessionID: id,
		Name:      fields[fieldName],
		Email:     fields[fieldEmail],
		Category:  fields[fieldCategory],
	}

	if raw := fields[fieldStartedAt]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return State{}, fmt.Errorf("session: parse %s for %s: %w", fieldStartedAt, id, err)
		}
		st.StartedAt = time.UnixMilli(ms)
	}

	return st, nil
}

// StartChallenge records the challenge-view entry timestamp once.
// Re-entering the view keeps the original anchor, so elapsed time
// measures total time-on-task.
func (s *Service) StartChallenge(ctx context.Context, id string, t time.Time) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if err := s.redis.HSetNX(ctx, s.key(id), fieldStartedAt, t.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("session: start challenge %s: %w", id, err)
	}

	return nil
}

// Clear ends the session and drops its state.
func (s *Service) Clear(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("session: clear %s: %w", id, err)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionEnded{SessionID: id})
	}

	return nil
}

func (s *Service) key(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}
