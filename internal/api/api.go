package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptathon/gateway/internal/catalog"
	"github.com/promptathon/gateway/internal/domain"
	"github.com/promptathon/gateway/internal/enroll"
	"github.com/promptathon/gateway/internal/errors"
	"github.com/promptathon/gateway/internal/event"
	"github.com/promptathon/gateway/internal/grading"
	"github.com/promptathon/gateway/internal/leaderboard"
	"github.com/promptathon/gateway/internal/session"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Sessions     *session.Service
	Catalog      *catalog.Client
	Grading      *grading.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type API struct {
	ss  *session.Service
	cat *catalog.Client
	gs  *grading.Service
	ls  *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ss:     c.Sessions,
		cat:    c.Catalog,
		gs:     c.Grading,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	r := c.Engine
	r.GET("/healthz", a.Health)
	r.GET("/api/categories", a.ListCategories)
	r.POST("/api/enroll", a.Enroll)
	r.GET("/api/session/:id", a.GetSession)
	r.GET("/api/session/:id/challenge", a.GetChallenge)
	r.POST("/api/session/:id/submit", a.Submit)
	r.DELETE("/api/session/:id", a.EndSession)
	r.POST("/api/estimate", a.Estimate)
	r.GET("/api/leaderboard", a.Leaderboard)

	// Notify subscribed clients whenever a submission is graded.
	c.EventBus.Subscribe(domain.EventNameSubmissionGraded, func(ctx context.Context, e event.Event) error {
		return a.PublishSubmissionGraded(ctx, e.(domain.EventSubmissionGraded))
	})

	return a
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListCategories returns the offered categories. An unreachable catalog
// degrades to an empty list with a banner message rather than failing.
func (a *API) ListCategories(c *gin.Context) {
	cats, err := a.cat.ListCategories(c.Request.Context())

	resp := gin.H{"categories": cats}
	if err != nil {
		resp["categories"] = []string{}
		resp["banner"] = "Could not load categories from the server."
	}

	c.JSON(http.StatusOK, resp)
}

type enrollRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Category string `json:"category"`
}

type enrollFields struct {
	NameMissing     bool `json:"name_missing"`
	EmailInvalid    bool `json:"email_invalid"`
	CategoryMissing bool `json:"category_missing"`
}

// Enroll validates the three enrollment fields and opens a session.
// Validation problems come back together, one flag per field.
func (a *API) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	cats, _ := a.cat.ListCategories(c.Request.Context())

	e, fields := enroll.Validate(enroll.Input{
		Name:     req.Name,
		Email:    req.Email,
		Category: req.Category,
	}, cats)

	if !fields.OK() {
		c.JSON(http.StatusBadRequest, gin.H{
			"fields": enrollFields{
				NameMissing:     fields.NameMissing,
				EmailInvalid:    fields.EmailInvalid,
				CategoryMissing: fields.CategoryMissing,
			},
		})
		return
	}

	id, err := a.ss.Create(c.Request.Context(), e)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": id,
		"name":       e.Name,
		"email":      e.Email,
		"category":   e.Category,
	})
}

func (a *API) GetSession(c *gin.Context) {
	st, err := a.ss.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	body := gin.H{
		"session_id": st.SessionID,
		"name":       st.Name,
		"email":      st.Email,
		"category":   st.Category,
		"enrolled":   st.Enrolled(),
		"state":      a.gs.State(st.SessionID),
	}

	if r, ok := a.gs.LastResult(st.SessionID); ok && r.OK {
		body["score"] = r.Score
		body["estimated"] = r.Estimated
	}

	c.JSON(http.StatusOK, body)
}

// GetChallenge serves the session's challenge and anchors the
// elapsed-time clock on first view. An un-enrolled session is turned
// away so it can be redirected to the enrollment step.
func (a *API) GetChallenge(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	st, err := a.ss.Get(ctx, id)
	if err != nil {
		renderError(c, err)
		return
	}
	if !st.Enrolled() {
		renderError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("enrollment incomplete: complete the enrollment step first")))
		return
	}

	ch, ok := a.cat.GetChallenge(ctx, st.Category)
	if !ok {
		renderError(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no challenge for category: %s", st.Category)))
		return
	}

	if err := a.ss.StartChallenge(ctx, id, time.Now()); err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category":  st.Category,
		"challenge": ch,
	})
}

type submitRequest struct {
	Prompt string `json:"prompt"`
}

func (a *API) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.gs.Submit(c.Request.Context(), grading.SubmitRequest{
		SessionID: c.Param("id"),
		Prompt:    req.Prompt,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	body := gin.H{
		"state": resp.State,
		"ok":    resp.Result.OK,
	}
	if resp.Result.OK {
		body["score"] = resp.Result.Score
		body["estimated"] = resp.Result.Estimated
		if resp.Result.SampleOutput != "" {
			body["sample_output"] = resp.Result.SampleOutput
		}
	} else {
		body["error"] = resp.Result.Error
	}

	c.JSON(http.StatusOK, body)
}

func (a *API) EndSession(c *gin.Context) {
	if err := a.ss.Clear(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type estimateRequest struct {
	Prompt string `json:"prompt"`
}

// Estimate rates a prompt with the local heuristic only, as a
// non-authoritative preview.
func (a *API) Estimate(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"score":     a.gs.Estimate(req.Prompt),
		"estimated": true,
	})
}

// Leaderboard returns the filtered rows plus the derived filter options
// and per-category summary. Row order matches the server's.
func (a *API) Leaderboard(c *gin.Context) {
	entries, err := a.ls.Load(c.Request.Context())
	if err != nil {
		renderError(c, errors.Unavailable(err))
		return
	}

	q := leaderboard.Query{
		Category: c.Query("category"),
		Name:     c.Query("q"),
	}
	rows := leaderboard.Filter(entries, q)

	summaries := leaderboard.Summary(entries)
	summary := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		summary = append(summary, gin.H{
			"category":      s.Category,
			"count":         s.Count,
			"average_score": s.AverageScore.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard": rows,
		"categories":  leaderboard.Options(entries),
		"summary":     summary,
		"total":       len(entries),
		"showing":     len(rows),
	})
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code.String(),
		"message": e.Message,
	})
}
