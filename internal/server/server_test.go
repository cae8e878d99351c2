package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/migrate"
)

const testSecret = "test-secret"

var (
	adminActor = domain.Actor{ID: "root", Role: domain.RoleAdmin}
	orgActor   = domain.Actor{ID: "org-1", Role: domain.RoleOrganization}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	URL    string
	Engine engine.Engine
	Clock  *testClock
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, db.SQLite))

	clk := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	e := engine.New(conn, db.SQLite, config.Default(), nil)
	e.Now = clk.Now

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevLogin: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Clock:  clk,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, actor domain.Actor) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actor, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func studentActor(id string) domain.Actor {
	return domain.Actor{ID: id, Role: domain.RoleStudent}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func requireErrorCode(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	require.Equal(t, status, res.StatusCode, string(data))
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	require.Equal(t, code, env.Error.Code, string(data))
}

// seed creates org-1 with students stu-x and stu-y and returns an open task.
func seed(t *testing.T, srv *testServer, positions int) domain.Task {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/organizations", map[string]any{
		"id": orgActor.ID, "name": "Acme Labs",
	}, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	for _, s := range []map[string]any{
		{"id": "stu-x", "name": "Xia", "skills": []string{"go", "sql"}},
		{"id": "stu-y", "name": "Yann", "skills": []string{"go"}},
	} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/students", s, bearer(t, adminActor))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":           "Build ingestion pipeline",
		"required_skills": []string{"go", "sql"},
		"positions_total": positions,
		"compensation":    120000,
	}, bearer(t, orgActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var task domain.Task
	require.NoError(t, json.Unmarshal(data, &task))
	require.Equal(t, domain.TaskPending, task.Status)
	require.Equal(t, orgActor.ID, task.OrganizationID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/review", map[string]any{
		"decision": "approve",
	}, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &task))
	require.Equal(t, domain.TaskOpen, task.Status)
	return task
}

func sendOffer(t *testing.T, srv *testServer, taskID, studentID string) domain.Offer {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+taskID+"/offers", map[string]any{
		"student_id": studentID,
	}, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var o domain.Offer
	require.NoError(t, json.Unmarshal(data, &o))
	require.Equal(t, domain.OfferSent, o.Status)
	return o
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	requireErrorCode(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	requireErrorCode(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Actor-Id": "root", "X-Actor-Role": "admin"})
	requireErrorCode(t, res, data, http.StatusUnauthorized, "unauthorized")

	key, _, err := srv.Engine.CreateAPIKey(context.Background(), adminActor, orgActor.ID, domain.RoleOrganization, "ci")
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list struct {
		Items []domain.Task `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &list))
	require.NotNil(t, list.Items)
	require.Empty(t, list.Items)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "stu-x", "role": "student",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	principal, err := authenticateJWT(login.Token, testSecret)
	require.NoError(t, err)
	require.Equal(t, studentActor("stu-x"), principal.Actor)
}

func TestOfferLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	task := seed(t, srv, 1)

	ox := sendOffer(t, srv, task.ID, "stu-x")
	oy := sendOffer(t, srv, task.ID, "stu-y")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/offers", map[string]any{
		"student_id": "stu-x",
	}, bearer(t, adminActor))
	requireErrorCode(t, res, data, http.StatusConflict, "DuplicateOffer")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+ox.ID+"/resolve", map[string]any{
		"action": "accept",
	}, bearer(t, studentActor("stu-y")))
	requireErrorCode(t, res, data, http.StatusForbidden, "Forbidden")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+ox.ID+"/resolve", map[string]any{
		"action": "accept",
	}, bearer(t, studentActor("stu-x")))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+oy.ID+"/resolve", map[string]any{
		"action": "accept",
	}, bearer(t, studentActor("stu-y")))
	requireErrorCode(t, res, data, http.StatusConflict, "CapacityExceeded")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+ox.ID+"/resolve", map[string]any{
		"action": "decline",
	}, bearer(t, studentActor("stu-x")))
	requireErrorCode(t, res, data, http.StatusConflict, "OfferAlreadyResolved")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, bearer(t, orgActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &task))
	require.Equal(t, domain.TaskActive, task.Status)
	require.Equal(t, 1, task.PositionsFilled)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", map[string]any{}, bearer(t, orgActor))
	requireErrorCode(t, res, data, http.StatusUnprocessableEntity, "RatingRequired")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", map[string]any{
		"rating": 5, "feedback": "Shipped early",
	}, bearer(t, orgActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &task))
	require.Equal(t, domain.TaskCompleted, task.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/cancel", nil, bearer(t, orgActor))
	requireErrorCode(t, res, data, http.StatusConflict, "TerminalStateViolation")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/students/stu-x/offers", nil, bearer(t, studentActor("stu-x")))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var offers struct {
		Items []domain.Offer `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &offers))
	require.Len(t, offers.Items, 1)
	require.Equal(t, domain.OfferAccepted, offers.Items[0].Status)
}

func TestExpiredOfferIsGone(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	task := seed(t, srv, 1)
	o := sendOffer(t, srv, task.ID, "stu-x")

	srv.Clock.Advance(25 * time.Hour)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/offers/"+o.ID, nil, bearer(t, studentActor("stu-x")))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var got domain.Offer
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, domain.OfferExpired, got.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+o.ID+"/resolve", map[string]any{
		"action": "accept",
	}, bearer(t, studentActor("stu-x")))
	requireErrorCode(t, res, data, http.StatusGone, "OfferExpired")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/missing/resolve", map[string]any{
		"action": "accept",
	}, bearer(t, studentActor("stu-x")))
	requireErrorCode(t, res, data, http.StatusNotFound, "OfferNotFound")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/admin/sweep", nil, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var sweep SweepResponse
	require.NoError(t, json.Unmarshal(data, &sweep))
	require.Empty(t, sweep.ExpiredOffers)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=offer.expired", nil, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts struct {
		Items []domain.Event `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	require.Equal(t, o.ID, evts.Items[0].EntityID)
}

func TestReplacementOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	task := seed(t, srv, 1)
	o := sendOffer(t, srv, task.ID, "stu-x")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+o.ID+"/resolve", map[string]any{
		"action": "accept",
	}, bearer(t, studentActor("stu-x")))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/replacements", map[string]any{
		"student_id": "stu-y",
	}, bearer(t, orgActor))
	requireErrorCode(t, res, data, http.StatusUnprocessableEntity, "NoActiveAssignment")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/replacements", map[string]any{
		"student_id": "stu-x", "reason": "exam week",
	}, bearer(t, orgActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rr ReplacementResponse
	require.NoError(t, json.Unmarshal(data, &rr))
	require.Equal(t, domain.ReplacementPending, rr.Status)
	require.False(t, rr.Overdue)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/replacements", map[string]any{
		"student_id": "stu-x",
	}, bearer(t, orgActor))
	requireErrorCode(t, res, data, http.StatusUnprocessableEntity, "NoActiveAssignment")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/replacements/"+rr.ID+"/shortlist", nil, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var shortlist struct {
		Items []domain.Candidate `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &shortlist))
	require.Len(t, shortlist.Items, 1)
	require.Equal(t, "stu-y", shortlist.Items[0].Student.ID)

	srv.Clock.Advance(49 * time.Hour)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/replacements/"+rr.ID, nil, bearer(t, orgActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &rr))
	require.True(t, rr.Overdue)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/replacements/"+rr.ID+"/offers", map[string]any{
		"student_ids": []string{"stu-y"},
	}, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var sent SendReplacementOffersResponse
	require.NoError(t, json.Unmarshal(data, &sent))
	require.Len(t, sent.Offers, 1)
	require.Equal(t, domain.ReplacementSent, sent.Replacement.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/offers/"+sent.Offers[0].ID+"/resolve", map[string]any{
		"action": "accept",
	}, bearer(t, studentActor("stu-y")))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/replacements/"+rr.ID, nil, bearer(t, adminActor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &rr))
	require.Equal(t, domain.ReplacementCompleted, rr.Status)
	require.False(t, rr.Overdue)
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, p := range []string{"/v1/tasks", "/v1/tasks/{id}/offers", "/v1/offers/{id}/resolve", "/v1/replacements/{id}/shortlist"} {
		require.Contains(t, doc.Paths, p)
	}
	require.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, strings.Contains(string(data), "/v1/openapi.json"))
}

func TestOpenAPIDocumentConcurrentFirstFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotEmpty(t, bodies[i])
		require.Equal(t, bodies[0], bodies[i])
	}
}
