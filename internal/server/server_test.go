package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"civicline/internal/agent"
	"civicline/internal/db"
	"civicline/internal/dispatch"
	"civicline/internal/domain"
	"civicline/internal/engine"
	"civicline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	d := dispatch.New(e, agent.LocalRuntime{})
	handler, err := New(Config{
		Engine:     e,
		Dispatcher: d,
		BasePath:   "/v0",
		Auth:       AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"subject":     "Сломался принтер",
		"description": "в кабинете 12 не печатает принтер",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.CitizenRequest
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if created.Status != domain.StatusNew {
		t.Fatalf("created status = %s", created.Status)
	}

	// create a rule, then route
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"name":          "it-support",
		"keywords":      []string{"принтер"},
		"priority":      5,
		"department_id": "dept-it",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/route", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("route status %d: %s", res.StatusCode, string(data))
	}
	var routed RouteResponse
	if err := json.Unmarshal(data, &routed); err != nil {
		t.Fatalf("unmarshal route: %v", err)
	}
	if !routed.Decision.Assigned || routed.Request.Status != domain.StatusAssigned {
		t.Fatalf("unexpected routing outcome: %+v", routed)
	}

	// invalid transition maps to 409 with the envelope
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/transition", map[string]any{
		"status": "completed",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}

	// valid transition
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/transition", map[string]any{
		"status": "in_progress",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}

	// audit trail is visible
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities?related_type=citizen_request&related_id="+created.ID, nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activities status %d: %s", res.StatusCode, string(data))
	}
	var activities []ActivityResponse
	if err := json.Unmarshal(data, &activities); err != nil {
		t.Fatalf("unmarshal activities: %v", err)
	}
	if len(activities) != 3 {
		t.Fatalf("expected 3 activities, got %d", len(activities))
	}
}

func TestProcessRequestOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"name": "classifier",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create agent status %d: %s", res.StatusCode, string(data))
	}
	var ag domain.Agent
	if err := json.Unmarshal(data, &ag); err != nil {
		t.Fatalf("unmarshal agent: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"subject": "Вопрос по налогам",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request status %d: %s", res.StatusCode, string(data))
	}
	var cr domain.CitizenRequest
	if err := json.Unmarshal(data, &cr); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+cr.ID+"/process", map[string]any{
		"agent_id": ag.ID,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("process status %d: %s", res.StatusCode, string(data))
	}
	var processed ProcessResponse
	if err := json.Unmarshal(data, &processed); err != nil {
		t.Fatalf("unmarshal process response: %v", err)
	}
	if !processed.Result.Success || !processed.Request.AIProcessed {
		t.Fatalf("unexpected process outcome: %+v", processed)
	}
	if processed.Request.AIClassification != "taxation" {
		t.Fatalf("classification = %s", processed.Request.AIClassification)
	}
}

func TestBatchOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{"name": "worker"}, actorHeader)
	var ag domain.Agent
	if err := json.Unmarshal(data, &ag); err != nil {
		t.Fatalf("unmarshal agent: %v", err)
	}

	var ids []string
	for _, subject := range []string{"Нет воды", "Вопрос по налогам"} {
		_, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{"subject": subject}, actorHeader)
		var cr domain.CitizenRequest
		if err := json.Unmarshal(body, &cr); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		ids = append(ids, cr.ID)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/process-batch", map[string]any{
		"request_ids": ids,
		"agent_id":    ag.ID,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("batch status %d: %s", res.StatusCode, string(data))
	}
	var report dispatch.BatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Summary.Total != 2 || report.Summary.Succeeded != 2 {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}
	if report.Results[0].RequestID != ids[0] || report.Results[1].RequestID != ids[1] {
		t.Fatalf("order broken: %+v", report.Results)
	}
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}
