package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casier-judiciaire/casier-backend/internal/assignment"
	"github.com/casier-judiciaire/casier-backend/internal/cases"
	"github.com/casier-judiciaire/casier-backend/internal/notifications"
	pkgAuth "github.com/casier-judiciaire/casier-backend/pkg/auth"
	"github.com/casier-judiciaire/casier-backend/pkg/config"
	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubCaseService struct {
	created []cases.CreateInput
	updated []cases.UpdateStatusInput
	listed  []cases.ListParams
	err     error
}

func (s *stubCaseService) Create(_ context.Context, input cases.CreateInput) (*cases.CreateResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created = append(s.created, input)
	return &cases.CreateResult{Case: models.Case{ID: uuid.New(), RecordType: input.RecordType, Status: enums.CaseStatusSubmitted}}, nil
}

func (s *stubCaseService) UpdateStatus(_ context.Context, input cases.UpdateStatusInput) (*models.Case, error) {
	s.updated = append(s.updated, input)
	return &models.Case{ID: input.CaseID, Status: input.Status}, nil
}

func (s *stubCaseService) ListAssigned(_ context.Context, params cases.ListParams) (*cases.ListResult, error) {
	s.listed = append(s.listed, params)
	return &cases.ListResult{Items: []models.Case{}}, nil
}

type stubAssignmentService struct {
	reassigned []assignment.ReassignInput
	assignErr  error
}

func (s *stubAssignmentService) Assign(_ context.Context, caseID uuid.UUID) (assignment.Result, error) {
	if s.assignErr != nil {
		return assignment.Result{}, s.assignErr
	}
	return assignment.Result{CaseID: caseID, AgentID: uuid.New()}, nil
}

func (s *stubAssignmentService) AssignBatch(_ context.Context, caseIDs []uuid.UUID) assignment.BatchResult {
	out := assignment.BatchResult{}
	for _, id := range caseIDs {
		agent := uuid.New()
		out.Items = append(out.Items, assignment.BatchItem{CaseID: id, AgentID: &agent})
		out.Results = append(out.Results, assignment.Result{CaseID: id, AgentID: agent})
		out.Assigned++
	}
	return out
}

func (s *stubAssignmentService) Reassign(_ context.Context, input assignment.ReassignInput) (assignment.Result, error) {
	s.reassigned = append(s.reassigned, input)
	agent := uuid.New()
	if input.TargetAgentID != nil {
		agent = *input.TargetAgentID
	}
	return assignment.Result{CaseID: input.CaseID, AgentID: agent}, nil
}

func (s *stubAssignmentService) Workload(context.Context) ([]assignment.Candidate, error) {
	return nil, nil
}

func (s *stubAssignmentService) Stats(context.Context) (assignment.Stats, error) {
	return assignment.Stats{Total: 3}, nil
}

type stubSweeper struct{ summary assignment.SweepSummary }

func (s stubSweeper) SweepPending(context.Context) assignment.SweepSummary { return s.summary }

type recordingNotifier struct {
	assigned  []assignment.Result
	announced []string
}

func (n *recordingNotifier) CaseAssigned(_ context.Context, result assignment.Result) {
	n.assigned = append(n.assigned, result)
}

func (n *recordingNotifier) Announce(_ context.Context, message string) error {
	n.announced = append(n.announced, message)
	return nil
}

type testDeps struct {
	cfg        *config.Config
	cases      *stubCaseService
	assignment *stubAssignmentService
	sweeper    stubSweeper
	notifier   *recordingNotifier
	registry   *notifications.Registry
	db         stubPinger
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "casier", ExpirationMinutes: 60},
		Realtime: config.RealtimeConfig{
			AllowedOrigins: []string{"*"},
			SendBuffer:     8,
			WriteTimeout:   time.Second,
		},
	}
}

func newTestDeps() *testDeps {
	logg := testLogger()
	return &testDeps{
		cfg:        testConfig(),
		cases:      &stubCaseService{},
		assignment: &stubAssignmentService{},
		notifier:   &recordingNotifier{},
		registry:   notifications.NewRegistry(logg, nil),
	}
}

func (d *testDeps) router() http.Handler {
	reg := prometheus.NewRegistry()
	return NewRouter(
		d.cfg,
		testLogger(),
		d.db,
		nil,
		d.cases,
		d.assignment,
		d.sweeper,
		d.notifier,
		d.registry,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
}

func buildToken(t *testing.T, cfg *config.Config, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: userID, Role: role})
	require.NoError(t, err)
	return token
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestHealthRoutes(t *testing.T) {
	deps := newTestDeps()
	router := deps.router()

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health/ready", "", "").Code)

	deps.db = stubPinger{err: errors.New("db down")}
	resp := do(t, deps.router(), http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), errorCode(t, resp))
}

func TestMetricsRouteIsExposed(t *testing.T) {
	resp := do(t, newTestDeps().router(), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestPrivateGroupRejectsMissingJWT(t *testing.T) {
	resp := do(t, newTestDeps().router(), http.MethodPost, "/api/v1/demandes", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequesterCreatesCase(t *testing.T) {
	deps := newTestDeps()
	router := deps.router()
	requester := uuid.New()
	body := `{"record_type":"B3","delivery_mode":"online","notification_channel":"email"}`

	resp := do(t, router, http.MethodPost, "/api/v1/demandes", buildToken(t, deps.cfg, requester, enums.UserRoleRequester), body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.Len(t, deps.cases.created, 1)
	assert.Equal(t, requester, deps.cases.created[0].RequesterID)
	assert.Equal(t, enums.RecordTypeB3, deps.cases.created[0].RecordType)

	agentResp := do(t, router, http.MethodPost, "/api/v1/demandes", buildToken(t, deps.cfg, uuid.New(), enums.UserRoleAgent), body)
	assert.Equal(t, http.StatusForbidden, agentResp.Code)
}

func TestCreateCaseValidatesBody(t *testing.T) {
	deps := newTestDeps()
	token := buildToken(t, deps.cfg, uuid.New(), enums.UserRoleRequester)

	resp := do(t, deps.router(), http.MethodPost, "/api/v1/demandes", token, `{"record_type":"B9","delivery_mode":"online","notification_channel":"email"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, deps.cases.created)
}

func TestCreateCaseSurfacesCapacityAsUnavailable(t *testing.T) {
	deps := newTestDeps()
	deps.cases.err = pkgerrors.Wrap(pkgerrors.CodeCapacity, fmt.Errorf("%w: %w", cases.ErrQueued, assignment.ErrCapacityExhausted), "no agent is available, please retry later")
	token := buildToken(t, deps.cfg, uuid.New(), enums.UserRoleRequester)

	resp := do(t, deps.router(), http.MethodPost, "/api/v1/demandes", token, `{"record_type":"B3","delivery_mode":"in_person","notification_channel":"sms"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeCapacity), errorCode(t, resp))
}

func TestAgentRoutesRequireAgentRole(t *testing.T) {
	deps := newTestDeps()
	router := deps.router()
	agent := uuid.New()

	resp := do(t, router, http.MethodGet, "/api/v1/agent/demandes", buildToken(t, deps.cfg, uuid.New(), enums.UserRoleRequester), "")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = do(t, router, http.MethodGet, "/api/v1/agent/demandes?status=in_progress&limit=5", buildToken(t, deps.cfg, agent, enums.UserRoleAgent), "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Len(t, deps.cases.listed, 1)
	assert.Equal(t, agent, deps.cases.listed[0].AgentID)
	assert.Equal(t, 5, deps.cases.listed[0].Limit)
	require.NotNil(t, deps.cases.listed[0].Status)
	assert.Equal(t, enums.CaseStatusInProgress, *deps.cases.listed[0].Status)

	resp = do(t, router, http.MethodGet, "/api/v1/agent/demandes?status=lost", buildToken(t, deps.cfg, agent, enums.UserRoleAgent), "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAgentUpdatesCaseStatus(t *testing.T) {
	deps := newTestDeps()
	agent := uuid.New()
	caseID := uuid.New()

	resp := do(t, deps.router(), http.MethodPatch, fmt.Sprintf("/api/v1/agent/demandes/%s/status", caseID),
		buildToken(t, deps.cfg, agent, enums.UserRoleAgent), `{"status":"completed","comment":"prêt"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Len(t, deps.cases.updated, 1)
	assert.Equal(t, cases.UpdateStatusInput{AgentID: agent, CaseID: caseID, Status: enums.CaseStatusCompleted, Comment: "prêt"}, deps.cases.updated[0])

	resp = do(t, deps.router(), http.MethodPatch, "/api/v1/agent/demandes/not-a-uuid/status",
		buildToken(t, deps.cfg, agent, enums.UserRoleAgent), `{"status":"completed"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminGroupRequiresSupervisorOrAdmin(t *testing.T) {
	deps := newTestDeps()
	router := deps.router()

	resp := do(t, router, http.MethodGet, "/api/admin/v1/assignments/stats", buildToken(t, deps.cfg, uuid.New(), enums.UserRoleAgent), "")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	for _, role := range []enums.UserRole{enums.UserRoleSupervisor, enums.UserRoleAdmin} {
		resp = do(t, router, http.MethodGet, "/api/admin/v1/assignments/stats", buildToken(t, deps.cfg, uuid.New(), role), "")
		assert.Equal(t, http.StatusOK, resp.Code, "role %s", role)
	}

	resp = do(t, router, http.MethodGet, "/api/admin/v1/assignments/workload", buildToken(t, deps.cfg, uuid.New(), enums.UserRoleAdmin), "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"agents":[]}}`, resp.Body.String())
}

func TestAdminSweep(t *testing.T) {
	deps := newTestDeps()
	deps.sweeper = stubSweeper{summary: assignment.SweepSummary{Backlog: 2, Assigned: 1, Failed: 1, Err: errors.New("1 failed")}}
	token := buildToken(t, deps.cfg, uuid.New(), enums.UserRoleSupervisor)

	resp := do(t, deps.router(), http.MethodPost, "/api/admin/v1/assignments/sweep", token, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var payload struct {
		Data assignment.SweepSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, 2, payload.Data.Backlog)
	assert.Equal(t, 1, payload.Data.Assigned)

	deps.sweeper = stubSweeper{summary: assignment.SweepSummary{Err: fmt.Errorf("%w: %w", assignment.ErrBacklogUnavailable, errors.New("db down"))}}
	resp = do(t, deps.router(), http.MethodPost, "/api/admin/v1/assignments/sweep", token, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestAdminAssignNotifies(t *testing.T) {
	deps := newTestDeps()
	token := buildToken(t, deps.cfg, uuid.New(), enums.UserRoleSupervisor)
	caseID := uuid.New()

	resp := do(t, deps.router(), http.MethodPost, fmt.Sprintf("/api/admin/v1/demandes/%s/assign", caseID), token, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Len(t, deps.notifier.assigned, 1)
	assert.Equal(t, caseID, deps.notifier.assigned[0].CaseID)

	deps.assignment.assignErr = pkgerrors.Wrap(pkgerrors.CodeConflict, assignment.ErrAlreadyAssigned, "case already assigned")
	resp = do(t, deps.router(), http.MethodPost, fmt.Sprintf("/api/admin/v1/demandes/%s/assign", caseID), token, "")
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Len(t, deps.notifier.assigned, 1)
}

func TestAdminBatchNotifiesEachAssignment(t *testing.T) {
	deps := newTestDeps()
	token := buildToken(t, deps.cfg, uuid.New(), enums.UserRoleAdmin)
	body := fmt.Sprintf(`{"case_ids":["%s","%s"]}`, uuid.New(), uuid.New())

	resp := do(t, deps.router(), http.MethodPost, "/api/admin/v1/assignments/batch", token, body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Len(t, deps.notifier.assigned, 2)

	resp = do(t, deps.router(), http.MethodPost, "/api/admin/v1/assignments/batch", token, `{"case_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminReassign(t *testing.T) {
	deps := newTestDeps()
	supervisor := uuid.New()
	token := buildToken(t, deps.cfg, supervisor, enums.UserRoleSupervisor)
	caseID := uuid.New()
	target := uuid.New()

	resp := do(t, deps.router(), http.MethodPost, fmt.Sprintf("/api/admin/v1/demandes/%s/reassign", caseID), token, fmt.Sprintf(`{"agent_id":"%s"}`, target))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Len(t, deps.assignment.reassigned, 1)
	input := deps.assignment.reassigned[0]
	assert.Equal(t, caseID, input.CaseID)
	require.NotNil(t, input.TargetAgentID)
	assert.Equal(t, target, *input.TargetAgentID)
	require.NotNil(t, input.ActorID)
	assert.Equal(t, supervisor, *input.ActorID)

	resp = do(t, deps.router(), http.MethodPost, fmt.Sprintf("/api/admin/v1/demandes/%s/reassign", caseID), token, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Len(t, deps.assignment.reassigned, 2)
	assert.Nil(t, deps.assignment.reassigned[1].TargetAgentID)
	assert.Len(t, deps.notifier.assigned, 2)
}

func TestAdminAnnouncement(t *testing.T) {
	deps := newTestDeps()
	token := buildToken(t, deps.cfg, uuid.New(), enums.UserRoleAdmin)

	resp := do(t, deps.router(), http.MethodPost, "/api/admin/v1/announcements", token, `{"message":"  maintenance à 18h  "}`)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	assert.Equal(t, []string{"maintenance à 18h"}, deps.notifier.announced)

	resp = do(t, deps.router(), http.MethodPost, "/api/admin/v1/announcements", token, `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func dialSocket(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRealtimeSocketDeliversToAuthenticatedUser(t *testing.T) {
	deps := newTestDeps()
	srv := httptest.NewServer(deps.router())
	t.Cleanup(srv.Close)
	user := uuid.New()

	conn := dialSocket(t, srv, buildToken(t, deps.cfg, user, enums.UserRoleAgent))
	require.Eventually(t, func() bool { return deps.registry.ChannelsFor(user) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, deps.registry.SendToUser(context.Background(), user, notifications.Payload{Type: enums.NotificationTypeSystemAnnouncement, Message: "salut"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"message":"salut"`)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return deps.registry.ChannelsFor(user) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRealtimeSocketRejectsInvalidToken(t *testing.T) {
	deps := newTestDeps()
	srv := httptest.NewServer(deps.router())
	t.Cleanup(srv.Close)

	conn := dialSocket(t, srv, "not-a-token")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error %v", err)
	assert.Zero(t, deps.registry.Connections())
}
