package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contractsvc/internal/handler"
	"contractsvc/internal/model"
	"contractsvc/internal/repository/memory"
	"contractsvc/internal/service/contract"
	"contractsvc/internal/util"
	"contractsvc/internal/workspace"
	"contractsvc/pkg/circuitbreaker"
	"contractsvc/pkg/config"
	"contractsvc/pkg/trace"
)

const secret = "test-secret"

type fakeReplayer struct {
	replayed []int64
}

func (f *fakeReplayer) ReplayEvent(_ context.Context, id int64) error {
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeReplayer) ReplayFailedEvents(_ context.Context, limit int) (int, error) {
	return limit / 2, nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	router *Router
	store  *memory.Store
	replay *fakeReplayer
}

func newTestServer(t *testing.T, rl config.RateLimitConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.SeedJob(model.Job{ID: 1, ClientID: 10, Title: "Landing page", Status: model.JobOpen})
	store.SeedProposal(model.Proposal{ID: 5, JobID: 1, FreelancerID: 20, TotalAmount: 100000, Status: model.ProposalSubmitted})
	store.SeedProposalMilestone(model.ProposalMilestone{ID: 51, ProposalID: 5, Title: "Design", Amount: 40000, Currency: "USD", OrderIndex: 1})
	store.SeedProposalMilestone(model.ProposalMilestone{ID: 52, ProposalID: 5, Title: "Build", Amount: 60000, Currency: "USD", OrderIndex: 2})

	log := zap.NewNop()
	engine := contract.NewEngine(store, nil, workspace.ServiceCredential{UserID: "system", Role: "ADMIN"}, log)
	t.Cleanup(engine.Wait)

	replay := &fakeReplayer{}
	router := NewRouter(Handlers{
		Contract:  handler.NewContractHandler(engine, log),
		Milestone: handler.NewMilestoneHandler(engine, log),
		Template:  handler.NewTemplateHandler(engine, log),
		Admin:     handler.NewAdminHandler(replay, log),
	}, secret, rl, Readiness{DB: store}, log)
	return &testServer{router: router, store: store, replay: replay}
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, secret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestContractLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})
	clientTok := token(t, 10, "CLIENT")
	freelancerTok := token(t, 20, "FREELANCER")

	w := s.do(t, http.MethodPost, "/api/contracts", clientTok, gin.H{"job_id": 1, "proposal_id": 5, "terms": gin.H{"ip": "client"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created contract.View
	decode(t, w, &created)
	assert.Equal(t, model.ContractActive, created.Status)
	assert.Equal(t, int64(100000), created.TotalAmount)
	require.Len(t, created.Milestones, 2)
	assert.Equal(t, 2, created.TotalMilestones)

	// job 已是 IN_PROGRESS
	w = s.do(t, http.MethodPost, "/api/contracts", clientTok, gin.H{"job_id": 1, "proposal_id": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/contracts/"+itoa(created.ID), freelancerTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/contracts/"+itoa(created.ID), token(t, 30, "CLIENT"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodGet, "/api/contracts/999", clientTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/contracts", freelancerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine struct {
		Count int `json:"count"`
	}
	decode(t, w, &mine)
	assert.Equal(t, 1, mine.Count)

	msID := itoa(created.Milestones[0].ID)
	w = s.do(t, http.MethodPut, "/api/milestones/"+msID+"/submit", freelancerTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "PENDING cannot be submitted")
	w = s.do(t, http.MethodPut, "/api/milestones/"+msID+"/accept", freelancerTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPut, "/api/milestones/"+msID+"/status", clientTok, gin.H{"status": "PAID"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/contracts/"+itoa(created.ID)+"/status", freelancerTok, gin.H{"status": "PAUSED"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPut, "/api/contracts/"+itoa(created.ID)+"/status", clientTok, gin.H{"status": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPut, "/api/contracts/"+itoa(created.ID)+"/status", clientTok, gin.H{"status": "COMPLETED"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPut, "/api/contracts/"+itoa(created.ID)+"/status", clientTok, gin.H{"status": "ACTIVE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMilestoneEndpoints(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})
	clientTok := token(t, 10, "CLIENT")

	w := s.do(t, http.MethodPost, "/api/contracts", clientTok, gin.H{"job_id": 1, "proposal_id": 5})
	require.Equal(t, http.StatusCreated, w.Code)
	var created contract.View
	decode(t, w, &created)
	cid := itoa(created.ID)

	w = s.do(t, http.MethodPost, "/api/contracts/"+cid+"/milestones", clientTok, gin.H{"title": "Launch", "amount": 1500, "due_date": "2025-06-01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var added model.ContractMilestone
	decode(t, w, &added)
	assert.Equal(t, model.MilestoneFundingRequired, added.Status)
	assert.Equal(t, 3, added.OrderIndex)

	w = s.do(t, http.MethodPost, "/api/contracts/"+cid+"/milestones", clientTok, gin.H{"title": "Bad", "amount": 1, "due_date": "June"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/contracts/"+cid+"/milestones", token(t, 20, "FREELANCER"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Milestones []model.ContractMilestone `json:"milestones"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Milestones, 3)

	w = s.do(t, http.MethodPut, "/api/milestones/abc/submit", clientTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateEndpoints(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})

	w := s.do(t, http.MethodPost, "/api/jobs/1/milestones", token(t, 10, "CLIENT"), gin.H{"title": "Brief", "order_index": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/jobs/1/milestones", token(t, 20, "FREELANCER"), gin.H{"title": "Brief"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodGet, "/api/jobs/1/milestones", token(t, 20, "FREELANCER"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/proposals/5/milestones", token(t, 20, "FREELANCER"), gin.H{"title": "QA", "amount": 500})
	assert.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodGet, "/api/proposals/5/milestones", token(t, 30, "CLIENT"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})

	w := s.do(t, http.MethodGet, "/api/contracts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodGet, "/api/contracts", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminReplayRequiresAdmin(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})

	w := s.do(t, http.MethodPost, "/admin/outbox/replay?id=7", token(t, 10, "CLIENT"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/admin/outbox/replay?id=7", token(t, 1, "ADMIN"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{7}, s.replay.replayed)

	w = s.do(t, http.MethodPost, "/admin/outbox/replay", token(t, 1, "ADMIN"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/admin/outbox/replay-failed?limit=10", token(t, 1, "ADMIN"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		SuccessCount int `json:"success_count"`
	}
	decode(t, w, &out)
	assert.Equal(t, 5, out.SuccessCount)
}

func TestRateLimitPerUser(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2})
	a, b := token(t, 10, "CLIENT"), token(t, 20, "FREELANCER")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/contracts", a, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/contracts", a, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/api/contracts", a, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/contracts", b, nil).Code)
}

func TestHealthAndTraceHeader(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})

	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName()))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set(trace.HeaderName(), "abc123")
	rec := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Header().Get(trace.HeaderName()))

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzReportsDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	store := memory.NewStore()
	engine := contract.NewEngine(store, nil, workspace.ServiceCredential{}, log)
	r := NewRouter(Handlers{
		Contract:  handler.NewContractHandler(engine, log),
		Milestone: handler.NewMilestoneHandler(engine, log),
		Template:  handler.NewTemplateHandler(engine, log),
	}, secret, config.RateLimitConfig{}, Readiness{DB: downPinger{}}, log)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// admin routes are absent without a replay service
	rec = httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/outbox/replay?id=1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type brokerStub bool

func (b brokerStub) IsConnected() bool { return bool(b) }

type breakerStub circuitbreaker.State

func (b breakerStub) BreakerState() circuitbreaker.State { return circuitbreaker.State(b) }

func TestReadyzBrokerAndWorkspace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	store := memory.NewStore()
	engine := contract.NewEngine(store, nil, workspace.ServiceCredential{}, log)
	h := Handlers{
		Contract:  handler.NewContractHandler(engine, log),
		Milestone: handler.NewMilestoneHandler(engine, log),
		Template:  handler.NewTemplateHandler(engine, log),
	}
	readyz := func(ready Readiness) (int, map[string]string) {
		rec := httptest.NewRecorder()
		NewRouter(h, secret, config.RateLimitConfig{}, ready, log).Handler().
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	// workspace 熔断只上报，不影响就绪
	code, body := readyz(Readiness{DB: store, Broker: brokerStub(true), Workspace: breakerStub(circuitbreaker.StateOpen)})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "open", body["workspace_breaker"])

	code, body = readyz(Readiness{DB: store, Broker: brokerStub(false)})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "mq_not_ready", body["status"])
	_, reported := body["workspace_breaker"]
	assert.False(t, reported)
}

func TestUserLimiterNilAllows(t *testing.T) {
	var l *userLimiter
	assert.True(t, l.Allow(1, time.Now()))
	assert.Nil(t, newUserLimiter(0, 1, 0))
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
