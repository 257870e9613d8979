package server

import (
	"bufio"
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

	"github.com/rs/zerolog"

	"opsline/internal/app"
	"opsline/internal/config"
	"opsline/internal/domain"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	logs   *syncBuffer
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.JWTSecret = testSecret
	cfg.Server.DevLogin = true
	cfg.Users = []config.SeedUser{
		{ID: "mgr", FullName: "Mona Manager", Email: "mgr@example.com", Role: domain.RoleManager},
		{ID: "sec", FullName: "Sam Secretary", Email: "sec@example.com", Role: domain.RoleSecretary},
		{ID: "web", FullName: "Wen Web", Email: "web@example.com", Role: domain.RoleProjectLeadWeb},
		{ID: "mob", FullName: "Mo Mobile", Email: "mob@example.com", Role: domain.RoleProjectLeadMobile},
	}
	logs := &syncBuffer{}
	log := zerolog.New(logs)
	a, err := app.Open(context.Background(), t.TempDir(), cfg, log)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	a.StartConsumers(context.Background())
	handler, err := New(Config{
		Engine:    a.Engine,
		Hub:       a.Hub,
		Router:    a.Router,
		Dashboard: a.Dashboard,
		BasePath:  "/api",
		Auth:      AuthConfig{JWTSecret: testSecret, DevLogin: true},
		Log:       log,
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
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		logs:   logs,
	}
	var once sync.Once
	ts.close = func() {
		once.Do(func() {
			a.Hub.CloseAll()
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		})
	}
	t.Cleanup(ts.Close)
	return ts
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, _, err := signDevToken(testSecret, userID, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
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

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, bearer(t, "ghost"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", res.StatusCode)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/dev/login", map[string]any{"user_id": "web"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, data)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("decode login: %v %s", err, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, data)
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if me.UserID != "web" || me.Role != domain.RoleProjectLeadWeb {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestMeetingLifecycleAndErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	base := srv.URL + "/api"

	res, data := doJSON(t, client, http.MethodPost, base+"/meetings", map[string]any{
		"title":        "Sprint review",
		"date":         time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"participants": []string{"web", "mob"},
	}, bearer(t, "sec"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without agenda, got %d %s", res.StatusCode, data)
	}
	env := decodeError(t, data)
	if env.Error.Code != "validation_failed" || env.Error.Message != "agenda is required" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/meetings", map[string]any{
		"title":        "Sprint review",
		"agenda":       "Demo and retro",
		"date":         time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"participants": []string{"web", "mob"},
	}, bearer(t, "sec"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create meeting: %d %s", res.StatusCode, data)
	}
	var m domain.Meeting
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode meeting: %v", err)
	}
	if m.Status != domain.MeetingScheduled {
		t.Fatalf("expected scheduled, got %s", m.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/meetings/"+m.ID+"/confirm", nil, bearer(t, "mgr"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("non-participant confirm: expected 409, got %d %s", res.StatusCode, data)
	}
	for _, u := range []string{"web", "mob"} {
		res, data = doJSON(t, client, http.MethodPost, base+"/meetings/"+m.ID+"/confirm", nil, bearer(t, u))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("confirm %s: %d %s", u, res.StatusCode, data)
		}
	}
	_ = json.Unmarshal(data, &m)
	if m.Status != domain.MeetingConfirmed {
		t.Fatalf("expected confirmed, got %s", m.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/meetings/"+m.ID+"/close", map[string]any{"minutes": "done"}, bearer(t, "web"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, data)
	}
	env = decodeError(t, data)
	if env.Error.Code != "forbidden" || env.Error.Message != "not permitted" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/meetings/"+m.ID+"/close", map[string]any{"minutes": "Shipped."}, bearer(t, "sec"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/meetings/"+m.ID+"/close", map[string]any{"minutes": "again"}, bearer(t, "sec"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second close, got %d %s", res.StatusCode, data)
	}
	env = decodeError(t, data)
	if env.Error.Details["state"] != domain.MeetingCompleted {
		t.Fatalf("expected state detail completed, got %+v", env.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/meetings/missing", nil, bearer(t, "sec"))
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Error.Code != "not_found" {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, data)
	}
}

func TestComplianceReportIsAnonymous(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	base := srv.URL + "/api"

	res, data := doJSON(t, client, http.MethodPost, base+"/compliance-reports", map[string]any{"content": "Badge sharing at the door"}, bearer(t, "web"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}
	var receipt map[string]any
	_ = json.Unmarshal(data, &receipt)
	if len(receipt) != 2 || receipt["id"] == nil || receipt["created_at"] == nil {
		t.Fatalf("receipt should carry only id and created_at: %v", receipt)
	}

	res, _ = doJSON(t, client, http.MethodGet, base+"/compliance-reports", nil, bearer(t, "web"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-manager list: expected 403, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/compliance-reports", nil, bearer(t, "mgr"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manager list: %d %s", res.StatusCode, data)
	}
	if strings.Contains(string(data), "web") {
		t.Fatalf("report listing leaks reporter: %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?entity_kind=compliance_report", nil, bearer(t, "mgr"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
	var page paginatedEvents
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.Items[0].ActorID != "anonymous" {
		t.Fatalf("expected one anonymous event, got %+v", page.Items)
	}

	waitFor(t, func() bool {
		n, _ := srv.App.Hub.UnreadCount(context.Background(), "mgr")
		return n == 1
	})
	history, err := srv.App.Hub.History(context.Background(), "mgr", 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("manager history: %v %v", history, err)
	}
	if strings.Contains(history[0].Message, "Wen") || strings.Contains(history[0].Title, "Wen") {
		t.Fatalf("notification leaks reporter: %+v", history[0])
	}

	srv.Close()
	for _, line := range strings.Split(srv.logs.String(), "\n") {
		if strings.Contains(line, `"path":"/api/compliance-reports"`) && strings.Contains(line, `"method":"POST"`) && strings.Contains(line, `"user_id"`) {
			t.Fatalf("access log names the reporter: %s", line)
		}
	}
}

func TestNotificationsStreamHistoryAndRead(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	base := srv.URL + "/api"

	res, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title":       "Fix login",
		"category":    "web",
		"assigned_to": "web",
		"deadline":    time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}, bearer(t, "mgr"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, data)
	}
	var task domain.Task
	_ = json.Unmarshal(data, &task)
	waitFor(t, func() bool {
		n, _ := srv.App.Hub.UnreadCount(context.Background(), "web")
		return n == 1
	})

	token := strings.TrimPrefix(bearer(t, "web")["Authorization"], "Bearer ")
	pushed := make(chan NotificationPush, 1)
	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		req, _ := http.NewRequestWithContext(streamCtx, http.MethodGet, base+"/notifications/stream?access_token="+token, nil)
		resp, err := client.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:") && event == "notification":
				var n NotificationPush
				if json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &n) == nil {
					pushed <- n
					return
				}
			}
		}
	}()
	waitFor(t, func() bool { return srv.App.Hub.Connected("web") })

	res, data = doJSON(t, client, http.MethodPost, base+"/tasks/"+task.ID+"/block", map[string]any{"reason": "waiting on API keys"}, bearer(t, "web"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("block: %d %s", res.StatusCode, data)
	}
	select {
	case n := <-pushed:
		if n.Priority != domain.PriorityHigh {
			t.Fatalf("expected high priority push, got %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no notification pushed")
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/notifications", nil, bearer(t, "web"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, data)
	}
	var list listResponse[domain.Notification]
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 2 || list.Items[0].EventKind != domain.EventTaskBlocked {
		t.Fatalf("expected blocked notification first, got %+v", list.Items)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/notifications/"+list.Items[0].ID+"/read", nil, bearer(t, "mob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign mark read: expected 404, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/notifications/"+list.Items[0].ID+"/read", nil, bearer(t, "web"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/notifications/unread-count", nil, bearer(t, "web"))
	var count UnreadCountResponse
	_ = json.Unmarshal(data, &count)
	if res.StatusCode != http.StatusOK || count.Unread != 1 {
		t.Fatalf("unread count: %d %s", res.StatusCode, data)
	}
}

func TestEscalateNotifiesEveryManager(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	base := srv.URL + "/api"

	res, data := doJSON(t, client, http.MethodPost, base+"/users", map[string]any{
		"id": "mgr2", "full_name": "Max Manager", "email": "mgr2@example.com", "role": domain.RoleManager,
	}, bearer(t, "mgr"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create manager: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title": "Release", "category": "mobile", "assigned_to": "mob",
		"deadline": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}, bearer(t, "mob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, data)
	}
	var task domain.Task
	_ = json.Unmarshal(data, &task)

	for i := 0; i < 2; i++ {
		res, data = doJSON(t, client, http.MethodPost, base+"/escalate", map[string]any{
			"entity_type": "task", "entity_id": task.ID, "reason": "store review rejected",
		}, bearer(t, "mob"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("escalate: %d %s", res.StatusCode, data)
		}
		var out EscalateResponse
		_ = json.Unmarshal(data, &out)
		if out.Notified != 2 {
			t.Fatalf("expected 2 managers notified, got %+v", out)
		}
	}
	waitFor(t, func() bool {
		a, _ := srv.App.Hub.UnreadCount(context.Background(), "mgr")
		b, _ := srv.App.Hub.UnreadCount(context.Background(), "mgr2")
		return a == 2 && b == 2
	})

	res, data = doJSON(t, client, http.MethodPost, base+"/escalate", map[string]any{
		"entity_type": "spaceship", "entity_id": "x", "reason": "r",
	}, bearer(t, "mob"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown entity type: expected 400, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/escalate", map[string]any{
		"entity_type": "task", "entity_id": "missing", "reason": "r",
	}, bearer(t, "mob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing entity: expected 404, got %d %s", res.StatusCode, data)
	}
}

func TestDashboardHonorsNowQuery(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	base := srv.URL + "/api"

	res, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"title": "Old", "category": "other", "assigned_to": "web",
		"deadline": time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
	}, bearer(t, "web"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, data)
	}
	later := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	res, data = doJSON(t, client, http.MethodGet, base+"/dashboard?now="+later, nil, bearer(t, "web"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: %d %s", res.StatusCode, data)
	}
	var d domain.Dashboard
	_ = json.Unmarshal(data, &d)
	if d.TotalTasks != 1 || d.OverdueTasks != 1 || len(d.Tasks) != 1 {
		t.Fatalf("unexpected dashboard %+v", d)
	}
	res, _ = doJSON(t, client, http.MethodGet, base+"/dashboard?now=yesterday", nil, bearer(t, "web"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad now, got %d", res.StatusCode)
	}
}
