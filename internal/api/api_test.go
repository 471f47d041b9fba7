package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptathon/gateway/internal/api"
	"github.com/promptathon/gateway/internal/catalog"
	"github.com/promptathon/gateway/internal/event"
	"github.com/promptathon/gateway/internal/grading"
	"github.com/promptathon/gateway/internal/leaderboard"
	"github.com/promptathon/gateway/internal/session"
	"github.com/promptathon/gateway/internal/upstream"
)

// fixture stands up the full service graph against a scripted upstream.
type fixture struct {
	engine *gin.Engine
	eb     *event.Bus
	redis  redis.UniversalClient

	upstreamHandler http.HandlerFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{}

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.upstreamHandler != nil {
			f.upstreamHandler(w, r)
			return
		}

		switch r.URL.Path {
		case "/api/categories":
			w.Write([]byte(`{"categories":["GWM","IB","Tech"]}`))
		case "/api/challenges":
			w.Write([]byte(`{"challenges":{"Tech":{"title":"Bug report triage","task":"triage","examples":[{"input":"in"}]}}}`))
		case "/api/grade":
			w.Write([]byte(`{"ok":true,"score":77}`))
		case "/api/leaderboard":
			w.Write([]byte(`{"leaderboard":[{"name":"Ann","category":"Tech","score":80,"elapsed_seconds":120},{"name":"Bob","category":"IB","score":90,"elapsed_seconds":95}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(remote.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	f.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, f.redis.Ping(ctx).Err(), "should be able to ping redis")

	f.eb = event.NewBus()

	up := upstream.NewClient(upstream.Config{BaseURL: remote.URL})

	ss := session.NewService(session.Config{
		Redis:    f.redis,
		EventBus: f.eb,
		Prefix:   "test",
	})

	cat := catalog.NewClient(catalog.Config{Upstream: up})

	gs := grading.NewService(grading.Config{
		Grader:   up,
		Sessions: ss,
		EventBus: f.eb,
	})

	ls := leaderboard.NewService(leaderboard.Config{
		Upstream: up,
		EventBus: f.eb,
	})

	f.engine = gin.New()
	api.New(api.Config{
		Engine:       f.engine,
		EventBus:     f.eb,
		Sessions:     ss,
		Catalog:      cat,
		Grading:      gs,
		Leaderboard:  ls,
		Redis:        f.redis,
		PubsubPrefix: "test",
	})

	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	decoded := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}

	return w, decoded
}

func (f *fixture) enroll(t *testing.T) string {
	t.Helper()

	w, body := f.do(t, http.MethodPost, "/api/enroll",
		`{"name":"Ann Smith","email":"ann.smith@ubs.com","category":"Tech"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAPI_Enroll(t *testing.T) {
	t.Run("valid enrollment opens a session", func(t *testing.T) {
		f := newFixture(t)

		w, body := f.do(t, http.MethodPost, "/api/enroll",
			`{"name":"Ann Smith","email":"ann.smith@ubs.com","category":"Tech"}`)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.NotEmpty(t, body["session_id"])
		assert.Equal(t, "Ann Smith", body["name"])
	})

	t.Run("all field failures are reported together", func(t *testing.T) {
		f := newFixture(t)

		w, body := f.do(t, http.MethodPost, "/api/enroll",
			`{"name":"","email":"nonsense","category":""}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		fields := body["fields"].(map[string]any)
		assert.Equal(t, true, fields["name_missing"])
		assert.Equal(t, true, fields["email_invalid"])
		assert.Equal(t, true, fields["category_missing"])
	})

	t.Run("name is derived from a valid email", func(t *testing.T) {
		f := newFixture(t)

		w, body := f.do(t, http.MethodPost, "/api/enroll",
			`{"email":"jane-ann.o'brien@ubs.com","category":"IB"}`)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "Jane-Ann O'Brien", body["name"])
	})
}

func TestAPI_Categories_Degraded(t *testing.T) {
	f := newFixture(t)
	f.upstreamHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}

	w, body := f.do(t, http.MethodGet, "/api/categories", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["categories"])
	assert.NotEmpty(t, body["banner"])
}

func TestAPI_Challenge(t *testing.T) {
	t.Run("enrolled session gets its category's challenge", func(t *testing.T) {
		f := newFixture(t)
		id := f.enroll(t)

		w, body := f.do(t, http.MethodGet, "/api/session/"+id+"/challenge", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Tech", body["category"])
		ch := body["challenge"].(map[string]any)
		assert.Equal(t, "Bug report triage", ch["title"])
	})

	t.Run("unknown session is turned away", func(t *testing.T) {
		f := newFixture(t)

		w, _ := f.do(t, http.MethodGet, "/api/session/missing/challenge", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAPI_SubmitFlow(t *testing.T) {
	t.Run("graded submission returns the remote score", func(t *testing.T) {
		f := newFixture(t)
		id := f.enroll(t)

		// Mount the challenge view to anchor the clock.
		w, _ := f.do(t, http.MethodGet, "/api/session/"+id+"/challenge", "")
		require.Equal(t, http.StatusOK, w.Code)

		w, body := f.do(t, http.MethodPost, "/api/session/"+id+"/submit",
			`{"prompt":"You are a triager.\n- be strict"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, float64(77), body["score"])
		assert.Equal(t, "graded", body["state"])
	})

	t.Run("empty prompt is rejected without a remote call", func(t *testing.T) {
		f := newFixture(t)
		id := f.enroll(t)

		w, body := f.do(t, http.MethodPost, "/api/session/"+id+"/submit", `{"prompt":"  "}`)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["message"], "write a prompt")
	})

	t.Run("server-side rejection surfaces verbatim", func(t *testing.T) {
		f := newFixture(t)
		id := f.enroll(t)

		f.upstreamHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false,"error":"bad input"}`))
		}

		w, body := f.do(t, http.MethodPost, "/api/session/"+id+"/submit", `{"prompt":"try"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, "bad input", body["error"])
		assert.Equal(t, "failed", body["state"])
		assert.NotContains(t, body, "score")
	})
}

func TestAPI_SessionShowsLastScore(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)

	w, _ := f.do(t, http.MethodPost, "/api/session/"+id+"/submit", `{"prompt":"score me please"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := f.do(t, http.MethodGet, "/api/session/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "graded", body["state"])
	assert.Equal(t, float64(77), body["score"])
}

func TestAPI_Estimate(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/estimate", `{"prompt":"You are a helper"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(20), body["score"], "4 tokens clamp to 10, plus the role bonus")
	assert.Equal(t, true, body["estimated"])
}

func TestAPI_Leaderboard(t *testing.T) {
	t.Run("unfiltered view returns rows in server order", func(t *testing.T) {
		f := newFixture(t)

		w, body := f.do(t, http.MethodGet, "/api/leaderboard", "")

		require.Equal(t, http.StatusOK, w.Code)
		rows := body["leaderboard"].([]any)
		require.Len(t, rows, 2)
		assert.Equal(t, "Ann", rows[0].(map[string]any)["name"])
		assert.Equal(t, []any{"All", "IB", "Tech"}, body["categories"])
		assert.Equal(t, float64(2), body["total"])
	})

	t.Run("category and name filters narrow the rows", func(t *testing.T) {
		f := newFixture(t)

		w, body := f.do(t, http.MethodGet, "/api/leaderboard?category=Tech&q=an", "")

		require.Equal(t, http.StatusOK, w.Code)
		rows := body["leaderboard"].([]any)
		require.Len(t, rows, 1)
		assert.Equal(t, "Ann", rows[0].(map[string]any)["name"])
		assert.Equal(t, float64(1), body["showing"])
		assert.Equal(t, float64(2), body["total"])
	})

	t.Run("upstream failure surfaces as an error", func(t *testing.T) {
		f := newFixture(t)
		f.upstreamHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		w, _ := f.do(t, http.MethodGet, "/api/leaderboard", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestAPI_GradedSubmissionNotifiesSubscribers(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := f.redis.Subscribe(ctx, "test:leaderboard")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "subscription should be confirmed")

	w, _ := f.do(t, http.MethodPost, "/api/session/"+id+"/submit", `{"prompt":"notify me please"}`)
	require.Equal(t, http.StatusOK, w.Code)
	f.eb.Stop()

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n api.Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, "submission.graded", n.Event)

	data := n.Data.(map[string]any)
	assert.Equal(t, "Ann Smith", data["name"])
	assert.Equal(t, "Tech", data["category"])
	assert.Equal(t, float64(77), data["score"])
}

func TestAPI_EndSession(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)

	w, _ := f.do(t, http.MethodDelete, "/api/session/"+id, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/session/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
