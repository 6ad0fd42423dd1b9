package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"prodline/internal/config"
	"prodline/internal/db"
	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/migrate"
	"prodline/internal/repo"
)

const testSecret = "server-test-secret"

// frozenNow is a Monday 08:00 UTC, the start of the default calendar's shift.
var frozenNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Server.JWTSecret = testSecret
	cfg.Server.AllowLegacyActorHeader = true
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return frozenNow }
	handler, err := New(Config{
		Engine:   e,
		BasePath: cfg.Server.BasePath,
		Auth: AuthConfig{
			JWTSecret:              cfg.Server.JWTSecret,
			AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
		},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedFloor(t *testing.T, srv *testServer) {
	t.Helper()
	ctx := context.Background()
	r := srv.Engine.Repo
	if err := r.UpsertSkill(ctx, domain.Skill{ID: "sk-asm", Name: "Assembly"}); err != nil {
		t.Fatalf("skill: %v", err)
	}
	if err := r.UpsertOperation(ctx, domain.Operation{ID: "op-asm", Name: "Assemble", SkillIDs: []string{"sk-asm"}}); err != nil {
		t.Fatalf("operation: %v", err)
	}
	if err := r.UpsertStation(ctx, domain.Station{ID: "st-1", Name: "Bench"}); err != nil {
		t.Fatalf("station: %v", err)
	}
	for _, id := range []string{"sub-1", "sub-2"} {
		if err := r.UpsertSubstation(ctx, domain.Substation{
			ID: id, StationID: "st-1", Name: id, IsActive: true, Status: domain.SubstationAvailable,
		}); err != nil {
			t.Fatalf("substation %s: %v", id, err)
		}
	}
	for _, id := range []string{"w-1", "w-2"} {
		if err := r.UpsertWorker(ctx, domain.Worker{
			ID: id, Name: id, Status: domain.WorkerAvailable,
			SkillIDs: []string{"sk-asm"}, ScheduleMode: domain.ScheduleCompany, ShiftLane: "1",
		}); err != nil {
			t.Fatalf("worker %s: %v", id, err)
		}
	}
}

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestLaunchFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedFloor(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans", map[string]any{
		"id": "p-1", "name": "Chairs", "quantity": 2,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create plan: %d %s", res.StatusCode, string(data))
	}

	for _, name := range []string{"cut", "weld"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/p-1/nodes", map[string]any{
			"id": "n-" + name, "name": name, "operation_id": "op-asm", "nominal_time": 60,
			"stations": []map[string]any{{"station_id": "st-1", "priority": 1}},
		}, actorHeader)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add node %s: %d %s", name, res.StatusCode, string(data))
		}
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/p-1/edges", map[string]any{
		"node_id": "n-weld", "predecessor_id": "n-cut",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add edge: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/p-1/launch", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("launch: %d %s", res.StatusCode, string(data))
	}
	var launch domain.LaunchResult
	if err := json.Unmarshal(data, &launch); err != nil {
		t.Fatalf("unmarshal launch: %v", err)
	}
	if launch.Status != domain.PlanActive {
		t.Fatalf("launch status = %s", launch.Status)
	}
	if launch.Summary.AssignedNodes != 2 {
		t.Fatalf("assigned nodes = %d", launch.Summary.AssignedNodes)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans/p-1", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get plan: %d %s", res.StatusCode, string(data))
	}
	var plan PlanResponse
	_ = json.Unmarshal(data, &plan)
	if plan.Status != domain.PlanActive || plan.LaunchedAt == nil {
		t.Fatalf("plan after launch: %+v", plan)
	}

	workerID := launch.Assignments[0].WorkerID
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workers/"+workerID+"/queue", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue: %d %s", res.StatusCode, string(data))
	}
	var queue []QueueItemResponse
	if err := json.Unmarshal(data, &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d", len(queue))
	}
	if !queue[0].Startable || queue[1].Startable {
		t.Fatalf("startable flags: %v %v", queue[0].Startable, queue[1].Startable)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/assignments/"+queue[1].ID+"/start", nil, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("start queued tail: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/assignments/"+queue[0].ID+"/start", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start head: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/assignments/"+queue[0].ID+"/complete", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete head: %d %s", res.StatusCode, string(data))
	}
	var completed AssignmentResponse
	_ = json.Unmarshal(data, &completed)
	if completed.Status != domain.AssignmentCompleted || completed.CompletedAt == nil {
		t.Fatalf("completed assignment: %+v", completed)
	}
}

func TestLaunchCycleReturns422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedFloor(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans", map[string]any{
		"id": "p-cyc", "name": "Loop",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create plan: %d %s", res.StatusCode, string(data))
	}
	for _, name := range []string{"a", "b"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/p-cyc/nodes", map[string]any{
			"id": "n-" + name, "name": name, "operation_id": "op-asm", "nominal_time": 30,
			"stations": []map[string]any{{"station_id": "st-1", "priority": 1}},
		}, actorHeader)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add node %s: %d %s", name, res.StatusCode, string(data))
		}
	}
	for _, e := range [][2]string{{"n-b", "n-a"}, {"n-a", "n-b"}} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/p-cyc/edges", map[string]any{
			"node_id": e[0], "predecessor_id": e[1],
		}, actorHeader)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add edge %v: %d %s", e, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/p-cyc/launch", nil, actorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "dependency_cycle" {
		t.Fatalf("error code = %s", code)
	}

	// Rollback: the plan must still be launchable once the cycle is fixed.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans/p-cyc", nil, actorHeader)
	var plan PlanResponse
	_ = json.Unmarshal(data, &plan)
	if plan.Status != domain.PlanDraft {
		t.Fatalf("plan status after failed launch = %s", plan.Status)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans/ghost", nil, actorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code = %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans", map[string]any{
		"name": "",
	}, actorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthModes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// Health is open.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}

	// Everything else requires a principal.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	// A signed JWT with a subject passes.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt auth: %d %s", res.StatusCode, string(data))
	}

	// A garbage token does not.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans", nil, map[string]string{
		"Authorization": "Bearer not.a.token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad jwt: %d %s", res.StatusCode, string(data))
	}

	// Hashed API keys resolve to their actor.
	raw := "pl_test_key"
	if err := insertTestKey(srv, raw, "key-user"); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans", nil, map[string]string{
		"X-Api-Key": raw,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
}

func TestLegacyActorHeaderCanBeDisabled(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// Rebuild the handler with the legacy header disallowed.
	handler, err := New(Config{
		Engine:   srv.Engine,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: false},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "/v0/plans", nil)
	req.Header.Set("X-Actor-Id", "tester")
	rec := newRecorder()
	handler.ServeHTTP(rec, req)
	if rec.status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.status)
	}
}

func TestDirectoryEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/stations/st-9", map[string]any{
		"name": "Paint booth",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert station: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/substations/sub-9", map[string]any{
		"station_id": "st-9", "name": "Booth A",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert substation: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/substations/sub-x", map[string]any{
		"station_id": "st-missing", "name": "Orphan",
	}, actorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("orphan substation: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/materials/RM-PAINT", map[string]any{
		"name": "Paint", "unit": "l", "stock": 40,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert material: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/materials", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list materials: %d %s", res.StatusCode, string(data))
	}
	var materials []domain.Material
	_ = json.Unmarshal(data, &materials)
	if len(materials) != 1 || materials[0].Code != "RM-PAINT" {
		t.Fatalf("materials: %+v", materials)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/workers/w-9", map[string]any{
		"name": "Sam", "skill_ids": []string{}, "shift_lane": "1",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upsert worker: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workers/w-9/absences", map[string]any{
		"from": "2026-03-04T00:00:00Z", "to": "2026-03-03T00:00:00Z",
	}, actorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("inverted absence: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workers/w-9/absences", map[string]any{
		"from": "2026-03-03T00:00:00Z", "to": "2026-03-04T00:00:00Z", "reason": "training",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("absence: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/holidays", map[string]any{
		"from": "2026-05-01T00:00:00Z", "to": "2026-05-01T23:59:59Z", "name": "May Day",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("holiday: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/holidays", nil, actorHeader)
	var holidays []domain.Holiday
	_ = json.Unmarshal(data, &holidays)
	if len(holidays) != 1 || holidays[0].Name != "May Day" {
		t.Fatalf("holidays: %+v", holidays)
	}
}

func TestCalendarImportAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/calendar", map[string]any{
		"lanes": map[string]any{
			"1": map[string]any{
				"mon": []map[string]any{{"kind": "work", "start": "06:00", "end": "14:00"}},
			},
		},
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import calendar: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	if events[0].Type != "calendar.imported" {
		t.Fatalf("latest event type = %s", events[0].Type)
	}
	if events[0].ActorID != "tester" {
		t.Fatalf("event actor = %s", events[0].ActorID)
	}
}

// minimal ResponseWriter for handler-level tests
type recorder struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func newRecorder() *recorder { return &recorder{header: http.Header{}} }

func (r *recorder) Header() http.Header { return r.header }
func (r *recorder) WriteHeader(s int)   { r.status = s }
func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

func insertTestKey(srv *testServer, raw, actorID string) error {
	ctx := context.Background()
	tx, err := srv.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := srv.Engine.Repo.InsertAPIKey(ctx, tx, domain.APIKey{
		ID:      "k-1",
		ActorID: actorID,
		Name:    "test",
		KeyHash: repo.HashAPIKey(raw),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
