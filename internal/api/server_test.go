package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Hatles/rx-home-sub002/internal/audit"
	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/logging"
	"github.com/Hatles/rx-home-sub002/internal/metrics"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

type fakeAudit struct {
	filters []audit.Filter
	err     error
}

func (f *fakeAudit) Create(context.Context, *audit.Entry) error { return nil }

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{
		Entries: []audit.Entry{{ID: "aud-1", Action: "login", EntityType: audit.EntityAuthProvider, Source: audit.Source}},
		Total:   1,
		Limit:   50,
	}, nil
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv         *Server
	handler     http.Handler
	audit       *fakeAudit
	adminToken  string
	memberToken string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()

	m, err := auth.NewManager(auth.NewStore(storage.NewMemoryBackend()), nil, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	token := func(u *auth.User) string {
		t.Helper()
		rt, err := m.CreateRefreshToken(ctx, u, auth.RefreshTokenRequest{ClientID: "http://panel.local/"})
		if err != nil {
			t.Fatalf("CreateRefreshToken() error = %v", err)
		}
		access, err := m.CreateAccessToken(ctx, rt, "127.0.0.1")
		if err != nil {
			t.Fatalf("CreateAccessToken() error = %v", err)
		}
		return access
	}
	owner, err := m.CreateUser(ctx, auth.CreateUserOptions{Name: "Owner", GroupIDs: []string{auth.GroupIDAdmin}})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	member, err := m.CreateUser(ctx, auth.CreateUserOptions{Name: "Member", GroupIDs: []string{auth.GroupIDUser}})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics.NewAuth(reg).ObserveLogin("password", "success")
	fa := &fakeAudit{}
	srv, err := New(Deps{
		Config:      config.MetricsConfig{Enabled: true, Host: "127.0.0.1", Port: 0},
		Logger:      logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Auth:        m,
		Audit:       fa,
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTP(reg),
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return testEnv{
		srv:         srv,
		handler:     srv.Handler(),
		audit:       fa,
		adminToken:  token(owner),
		memberToken: token(member),
	}
}

func (e testEnv) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")
	if _, err := New(Deps{Gatherer: prometheus.NewRegistry()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without gatherer should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	env.srv.AddHealthCheck("database", checkerFunc(func(context.Context) error { return nil }))
	env.srv.AddHealthCheck("influxdb", checkerFunc(func(context.Context) error { return errors.New("not connected") }))

	rec = env.get(t, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["database"] != "ok" || body.Checks["influxdb"] != "not connected" {
		t.Errorf("body = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/health", "")

	rec := env.get(t, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"rxhome_auth_login_attempts_total", `route="/health"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestAuditRoute_Auth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"member", env.memberToken, http.StatusForbidden},
		{"owner", env.adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, "/api/v1/audit", tt.token)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAuditRoute_Filters(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/v1/audit?action=login&user_id=u1&limit=10&offset=5", env.adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res audit.ListResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Total != 1 || res.Entries[0].ID != "aud-1" {
		t.Errorf("result = %+v", res)
	}
	got := env.audit.filters[0]
	if got.Action != "login" || got.UserID != "u1" || got.Limit != 10 || got.Offset != 5 {
		t.Errorf("filter = %+v", got)
	}

	if rec := env.get(t, "/api/v1/audit?limit=ten", env.adminToken); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	env.audit.err = errors.New("locked")
	if rec := env.get(t, "/api/v1/audit", env.adminToken); rec.Code != http.StatusInternalServerError {
		t.Errorf("repo failure status = %d, want 500", rec.Code)
	}
}

func TestStartClose(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + env.srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
