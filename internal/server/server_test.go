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

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
)

var serverNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
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
	cfg := config.Default("siteline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return serverNow }
	if _, err := e.InitTenant(context.Background(), cfg.Tenant.ID, "", "tester"); err != nil {
		t.Fatalf("init tenant: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
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
	req.Header.Set("X-Actor-Id", "tester")
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

func createTestUnit(t *testing.T, srv *testServer, unitNumber string) (devID, unitID string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/developments", map[string]any{
		"name": "Rathard Park",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create development status %d: %s", res.StatusCode, string(data))
	}
	var dev domain.Development
	if err := json.Unmarshal(data, &dev); err != nil {
		t.Fatalf("unmarshal development: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/units", map[string]any{
		"development_id": dev.ID,
		"unit_number":    unitNumber,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create unit status %d: %s", res.StatusCode, string(data))
	}
	var unit domain.Unit
	if err := json.Unmarshal(data, &unit); err != nil {
		t.Fatalf("unmarshal unit: %v", err)
	}
	return dev.ID, unit.ID
}

func TestMilestoneToBoard(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	devID, unitID := createTestUnit(t, srv, "14")

	value := serverNow.AddDate(0, 0, -35).Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/units/"+unitID+"/pipeline/milestones", map[string]any{
		"field": "contracts_issued_date",
		"value": value,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set milestone status %d: %s", res.StatusCode, string(data))
	}
	var ann PipelineResponse
	if err := json.Unmarshal(data, &ann); err != nil {
		t.Fatalf("unmarshal pipeline: %v", err)
	}
	if ann.Stage != "contracts_issued" || ann.DwellDays != 35 || ann.Health != "red" {
		t.Fatalf("unexpected annotation %+v", ann)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/developments/"+devID+"/board", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	var board BoardResponse
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if len(board.Rows) != 1 || board.Rows[0].Stage != "contracts_issued" {
		t.Fatalf("unexpected board %+v", board)
	}
	if board.Funnel["contracts_issued"] != 1 || board.Health["red"] != 1 {
		t.Fatalf("unexpected board counts %+v", board)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/attention", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attention status %d: %s", res.StatusCode, string(data))
	}
	var items []domain.AttentionItem
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal attention: %v", err)
	}
	if len(items) != 1 || items[0].Category != "stuck_pipeline" || items[0].Severity != "red" {
		t.Fatalf("unexpected attention %+v", items)
	}
}

func TestChaseEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, unitID := createTestUnit(t, srv, "7")

	value := serverNow.AddDate(0, 0, -30).Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/units/"+unitID+"/pipeline/milestones", map[string]any{
		"field": "contracts_issued_date",
		"value": value,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set milestone status %d: %s", res.StatusCode, string(data))
	}

	// No purchaser email yet; chase must be rejected.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/units/"+unitID+"/chase", map[string]any{
		"stage": "contracts",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("chase without contact status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "missing_contact" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/units/"+unitID+"/pipeline/contact", map[string]any{
		"purchaser_name":  "Aoife Byrne",
		"purchaser_email": "aoife@example.com",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update contact status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/units/"+unitID+"/chase", map[string]any{
		"stage": "contracts",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chase status %d: %s", res.StatusCode, string(data))
	}
	var msg domain.ChaseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal chase: %v", err)
	}
	if msg.To != "aoife@example.com" || msg.DaysPending != 30 {
		t.Fatalf("unexpected chase %+v", msg)
	}
	if msg.Subject != "Action Required: Contracts - 7" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}

func TestSnagConflictStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, unitID := createTestUnit(t, srv, "3")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/units/"+unitID+"/snags", map[string]any{
		"description": "Door misaligned",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create snag status %d: %s", res.StatusCode, string(data))
	}
	var snag domain.SnagItem
	if err := json.Unmarshal(data, &snag); err != nil {
		t.Fatalf("unmarshal snag: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/snags/"+snag.ID+"/status", map[string]any{
		"status": "closed",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close snag status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/snags/"+snag.ID+"/status", map[string]any{
		"status": "open",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("reopen closed snag status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/developments", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res.StatusCode)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "jwt-user",
		"roles":    []string{"developer"},
	}, map[string]string{"X-Actor-Id": ""})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("expected token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
		"X-Actor-Id":    "",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "jwt-user" || len(who.Roles) != 1 || who.Roles[0] != "developer" {
		t.Fatalf("unexpected principal %+v", who)
	}
}
