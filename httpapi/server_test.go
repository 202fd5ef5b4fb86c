package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/config"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type captureMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *captureMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]string)
	}
	m.tokens[email] = token
	return nil
}

func (m *captureMailer) token(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

type testServer struct {
	srv    *Server
	engine *authcore.Engine
	mr     *miniredis.Miniredis
	mailer *captureMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Cipher.MasterSecret = []byte("fedcba9876543210fedcba9876543210")
	cfg.Cipher.BcryptCost = bcrypt.MinCost
	cfg.Cipher.KDFIterations = 1_000

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mailer := &captureMailer{}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRecords(memory.New()).
		WithMailer(mailer).
		WithLogger(logger).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	srv, err := New(Deps{
		Config:  config.ServerConfig{Addr: "127.0.0.1:0"},
		Engine:  engine,
		Logger:  logger,
		Metrics: promexport.NewPrometheusExporter(engine).Handler(),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &testServer{srv: srv, engine: engine, mr: mr, mailer: mailer}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "httpapi-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (ts *testServer) signUp(t *testing.T) authResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/auth/signup", signUpRequest{
		Email:         "alice@example.com",
		Password:      "Secret123!",
		FirstName:     "Alice",
		WorkspaceName: "Wonderland",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[authResponse](t, rec)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected health body %v", body)
	}

	ts.mr.Close()
	if rec := ts.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz without redis = %d, want 503", rec.Code)
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	ts := newTestServer(t)

	res := ts.signUp(t)
	if res.AccessToken == "" || res.RefreshToken == "" || res.TokenType != "Bearer" {
		t.Fatalf("incomplete token pair %+v", res)
	}
	if res.ExpiresIn != 900 {
		t.Fatalf("expires_in = %d, want 900", res.ExpiresIn)
	}
	if res.User.Email != "alice@example.com" || res.User.Role != "OWNER" {
		t.Fatalf("unexpected user %+v", res.User)
	}

	dup := ts.do(t, http.MethodPost, "/v1/auth/signup", signUpRequest{
		Email: "alice@example.com", Password: "Secret123!", WorkspaceName: "Other",
	}, "")
	if dup.Code != http.StatusConflict {
		t.Fatalf("duplicate signup = %d, want 409", dup.Code)
	}
	if e := decode[Error](t, dup); e.Code != ErrCodeConflict {
		t.Fatalf("error code = %q", e.Code)
	}

	ok := ts.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: "alice@example.com", Password: "Secret123!"}, "")
	if ok.Code != http.StatusOK {
		t.Fatalf("signin = %d, body %s", ok.Code, ok.Body.String())
	}

	bad := ts.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: "alice@example.com", Password: "wrong"}, "")
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad signin = %d, want 401", bad.Code)
	}
	if got := bad.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestMalformedBodies(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"signup garbage", "/v1/auth/signup", "{not json"},
		{"signup unknown field", "/v1/auth/signup", `{"email":"a@b.c","admin":true}`},
		{"signin empty", "/v1/auth/signin", ""},
		{"refresh missing token", "/v1/auth/refresh", `{}`},
		{"reset garbage", "/v1/auth/password/reset", "[]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			ts.srv.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSignUpValidationIsBadRequest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/auth/signup", signUpRequest{
		Email: "not-an-email", Password: "Secret123!", WorkspaceName: "W",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSignInRateLimitSetsRetryAfter(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t)

	creds := signInRequest{Email: "alice@example.com", Password: "wrong"}
	for i := 0; i < 5; i++ {
		if rec := ts.do(t, http.MethodPost, "/v1/auth/signin", creds, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d, want 401", i+1, rec.Code)
		}
	}

	rec := ts.do(t, http.MethodPost, "/v1/auth/signin", creds, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1800" {
		t.Fatalf("Retry-After = %q, want 1800", got)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	ts := newTestServer(t)
	res := ts.signUp(t)

	rec := ts.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: res.RefreshToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body %s", rec.Code, rec.Body.String())
	}
	refreshed := decode[refreshResponse](t, rec)
	if refreshed.AccessToken == "" || refreshed.RefreshToken != "" {
		t.Fatalf("unexpected refresh response %+v", refreshed)
	}

	if rec := ts.do(t, http.MethodGet, "/v1/auth/me", nil, res.AccessToken); rec.Code != http.StatusOK {
		t.Fatalf("me = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/auth/logout", refreshRequest{RefreshToken: res.RefreshToken}, res.AccessToken)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := ts.do(t, http.MethodGet, "/v1/auth/me", nil, res.AccessToken); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: res.RefreshToken}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d, want 401", rec.Code)
	}
	// The access token minted by the refresh is still valid.
	if rec := ts.do(t, http.MethodGet, "/v1/auth/me", nil, refreshed.AccessToken); rec.Code != http.StatusOK {
		t.Fatalf("me with refreshed token = %d", rec.Code)
	}
}

func TestLogoutWithoutBody(t *testing.T) {
	ts := newTestServer(t)
	res := ts.signUp(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+res.AccessToken)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d, want 204", rec.Code)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	ts := newTestServer(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/v1/auth/me"},
		{http.MethodPost, "/v1/auth/logout"},
		{http.MethodPost, "/v1/auth/logout-all"},
		{http.MethodPost, "/v1/auth/password/change"},
		{http.MethodGet, "/v1/auth/sessions"},
		{http.MethodDelete, "/v1/auth/sessions/abc"},
	}
	for _, rt := range routes {
		if rec := ts.do(t, rt.method, rt.path, nil, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s = %d, want 401", rt.method, rt.path, rec.Code)
		}
	}
}

func TestSessionsListAndRevoke(t *testing.T) {
	ts := newTestServer(t)
	first := ts.signUp(t)

	rec := ts.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: "alice@example.com", Password: "Secret123!"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("signin = %d", rec.Code)
	}
	second := decode[authResponse](t, rec)

	rec = ts.do(t, http.MethodGet, "/v1/auth/sessions", nil, second.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions = %d", rec.Code)
	}
	listed := decode[struct {
		Sessions []authcore.SessionInfo `json:"sessions"`
		Count    int                    `json:"count"`
	}](t, rec)
	if listed.Count != 2 || len(listed.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %+v", listed)
	}
	for _, s := range listed.Sessions {
		if s.UserAgent != "httpapi-test" {
			t.Fatalf("session user agent = %q", s.UserAgent)
		}
	}

	path := "/v1/auth/sessions/" + first.SessionID
	if rec := ts.do(t, http.MethodDelete, path, nil, second.AccessToken); rec.Code != http.StatusNoContent {
		t.Fatalf("revoke = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodDelete, path, nil, second.AccessToken); rec.Code != http.StatusNotFound {
		t.Fatalf("second revoke = %d, want 404", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: first.RefreshToken}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh of revoked session = %d, want 401", rec.Code)
	}

	if rec := ts.do(t, http.MethodPost, "/v1/auth/logout-all", nil, second.AccessToken); rec.Code != http.StatusNoContent {
		t.Fatalf("logout-all = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: second.RefreshToken}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout-all = %d, want 401", rec.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	res := ts.signUp(t)

	if rec := ts.do(t, http.MethodPost, "/v1/auth/password/forgot", forgotPasswordRequest{Email: "nobody@example.com"}, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("forgot unknown = %d, want 202", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/auth/password/forgot", forgotPasswordRequest{Email: "alice@example.com"}, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("forgot = %d, want 202", rec.Code)
	}
	token := ts.mailer.token("alice@example.com")
	if token == "" {
		t.Fatal("reset token was not mailed")
	}

	if rec := ts.do(t, http.MethodPost, "/v1/auth/password/reset", resetPasswordRequest{Token: "bogus", NewPassword: "NewSecret456!"}, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("reset with bogus token = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/auth/password/reset", resetPasswordRequest{Token: token, NewPassword: "NewSecret456!"}, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reset = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := ts.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: res.RefreshToken}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after reset = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: "alice@example.com", Password: "NewSecret456!"}, ""); rec.Code != http.StatusOK {
		t.Fatalf("signin with new password = %d", rec.Code)
	}
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t)
	res := ts.signUp(t)

	rec := ts.do(t, http.MethodPost, "/v1/auth/password/change", changePasswordRequest{
		CurrentPassword: "wrong", NewPassword: "NewSecret456!",
	}, res.AccessToken)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("change with wrong password = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/auth/password/change", changePasswordRequest{
		CurrentPassword: "Secret123!", NewPassword: "NewSecret456!",
	}, res.AccessToken)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("change = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodPost, "/v1/auth/signin", signInRequest{Email: "alice@example.com", Password: "NewSecret456!"}, ""); rec.Code != http.StatusOK {
		t.Fatalf("signin with changed password = %d", rec.Code)
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authcore_sign_up_success_total 1") {
		t.Fatalf("sign-up counter missing:\n%s", rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/nope", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route = %d", rec.Code)
	}
	if e := decode[Error](t, rec); e.Code != ErrCodeNotFound {
		t.Fatalf("error code = %q", e.Code)
	}
}

func TestBackendOutageIsServiceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	res := ts.signUp(t)
	ts.mr.Close()

	if rec := ts.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: res.RefreshToken}, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("refresh during outage = %d, want 503", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/v1/auth/me", nil, res.AccessToken); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("me during outage = %d, want 503", rec.Code)
	}
}

func TestStartAndClose(t *testing.T) {
	ts := newTestServer(t)

	if err := ts.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = ts.srv.Close() })

	resp, err := http.Get("http://" + ts.srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	if err := ts.srv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error without engine")
	}
}
