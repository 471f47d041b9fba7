package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/promptathon/gateway/internal/api"
	"github.com/promptathon/gateway/internal/catalog"
	"github.com/promptathon/gateway/internal/event"
	"github.com/promptathon/gateway/internal/grading"
	"github.com/promptathon/gateway/internal/leaderboard"
	"github.com/promptathon/gateway/internal/session"
	"github.com/promptathon/gateway/internal/telemetry"
	"github.com/promptathon/gateway/internal/upstream"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Upstream struct {
		// BaseURL is the origin of the remote catalog/grading service.
		BaseURL        string
		TimeoutSeconds int32
	}

	Session struct {
		TTLMinutes int32
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		upstream *upstream.Client
	}

	service struct {
		session     *session.Service
		catalog     *catalog.Client
		grading     *grading.Service
		leaderboard *leaderboard.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()

	// Prime the catalog so the first participant is not waiting on the
	// upstream fetch.
	warmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.service.catalog.Warm(warmCtx); err != nil {
		slog.WarnContext(warmCtx, "server: catalog warm-up failed, fallback table in use", "error", err)
	}

	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	s.infra.upstream = upstream.NewClient(upstream.Config{
		BaseURL: s.c.Upstream.BaseURL,
		Timeout: time.Duration(s.c.Upstream.TimeoutSeconds) * time.Second,
	})

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initService() {
	s.service.session = session.NewService(session.Config{
		Redis:    s.infra.redis,
		EventBus: s.eb,
		Prefix:   s.c.Redis.Prefix,
		TTL:      time.Duration(s.c.Session.TTLMinutes) * time.Minute,
	})

	s.service.catalog = catalog.NewClient(catalog.Config{
		Upstream: s.infra.upstream,
	})

	s.service.grading = grading.NewService(grading.Config{
		Grader:   s.infra.upstream,
		Sessions: s.service.session,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		Upstream: s.infra.upstream,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Sessions:     s.service.session,
		Catalog:      s.service.catalog,
		Grading:      s.service.grading,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
