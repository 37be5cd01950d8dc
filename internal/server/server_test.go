package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/user-manager/internal/config"
	"github.com/sakif/user-manager/internal/events"
	"github.com/sakif/user-manager/internal/server"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type countingCounter struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *countingCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int64)
	}
	c.n[key]++
	return c.n[key], nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Host: "127.0.0.1", Port: 3000, CORSOrigins: []string{"*"}},
		Auth: config.AuthConfig{
			JWTSecret:  "end-to-end-test-secret-0123456789",
			BcryptCost: 4,
		},
		Admin: config.AdminConfig{
			Username: "admin",
			Email:    "admin@example.com",
			Password: "admin123",
			FullName: "Administrator",
		},
		Database: config.DatabaseConfig{
			Driver:      config.DriverSQLite,
			SQLitePath:  ":memory:",
			RetryMax:    1,
			RetryBaseMS: 1,
		},
		Redis: config.RedisConfig{AuthLimit: 3, AuthWindowSeconds: 60},
	}
}

type testServer struct {
	t   *testing.T
	srv *server.Server
	pub *capturePublisher
}

func newTestServer(t *testing.T, opts ...server.Option) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(), opts...)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, opts ...server.Option) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := &capturePublisher{}

	srv, err := server.New(context.Background(), cfg, logger, append([]server.Option{server.WithPublisher(pub)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	return &testServer{t: t, srv: srv, pub: pub}
}

// do sends a request and decodes the JSON response into out, when given.
func (ts *testServer) do(method, path, token string, body any, out any) int {
	ts.t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)

	assert.Equal(ts.t, "application/json", rr.Header().Get("Content-Type"), "%s %s", method, path)
	if out != nil {
		require.NoError(ts.t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
	}
	return rr.Code
}

func (ts *testServer) login(identifier, password string) string {
	ts.t.Helper()
	var res struct {
		Token string `json:"token"`
	}
	code := ts.do(http.MethodPost, "/api/login", "", map[string]string{"username": identifier, "password": password}, &res)
	require.Equal(ts.t, http.StatusOK, code)
	require.NotEmpty(ts.t, res.Token)
	return res.Token
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type userBody struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	FullName     string `json:"fullName"`
	Role         string `json:"role"`
	CreatedAt    string `json:"createdAt"`
	PasswordHash string `json:"password_hash"`
}

// =========================================================================
// END-TO-END
// =========================================================================

func TestBobScenario(t *testing.T) {
	ts := newTestServer(t)

	// register
	var reg struct {
		Message string   `json:"message"`
		User    userBody `json:"user"`
	}
	code := ts.do(http.MethodPost, "/api/register", "", map[string]string{
		"username": "bob", "email": "bob@x.com", "password": "p1", "fullName": "Bob",
	}, &reg)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "User registered successfully", reg.Message)
	assert.Equal(t, "bob", reg.User.Username)
	assert.Equal(t, "user", reg.User.Role)
	assert.NotZero(t, reg.User.ID)
	assert.Empty(t, reg.User.PasswordHash)

	// same email again
	var dup errorBody
	code = ts.do(http.MethodPost, "/api/register", "", map[string]string{
		"username": "bob2", "email": "bob@x.com", "password": "p2",
	}, &dup)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Email already exists", dup.Error)

	// login
	var login struct {
		Message string   `json:"message"`
		Token   string   `json:"token"`
		User    userBody `json:"user"`
	}
	code = ts.do(http.MethodPost, "/api/login", "", map[string]string{"username": "bob", "password": "p1"}, &login)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Login successful", login.Message)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, reg.User.ID, login.User.ID)

	// non-admin listing
	var denied errorBody
	code = ts.do(http.MethodGet, "/api/users", login.Token, nil, &denied)
	assert.Equal(t, http.StatusForbidden, code)
	assert.NotEmpty(t, denied.Error)

	assert.Equal(t, []events.Kind{events.UserRegistered}, ts.pub.kinds())
}

func TestHealth(t *testing.T) {
	fixed := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	ts := newTestServer(t, server.WithClock(func() time.Time { return fixed }))

	var body map[string]string
	code := ts.do(http.MethodGet, "/api/health", "", nil, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"message": "Server is running", "timestamp": "2026-10-14T12:00:00Z"}, body)
}

func TestAdminIsSeeded(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login("admin", "admin123")

	var users []userBody
	code := ts.do(http.MethodGet, "/api/users", token, nil, &users)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, users, 1)
	assert.Equal(t, ts.srv.AdminID(), users[0].ID)
	assert.Equal(t, "admin", users[0].Role)
}

func TestAdminSurvivesRestart(t *testing.T) {
	cfg := testConfig()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "users.db")

	ts := newTestServerWithConfig(t, cfg)
	adminID := ts.srv.AdminID()
	token := ts.login("admin", "admin123")
	path := fmt.Sprintf("/api/users/%d", adminID)

	var denied errorBody
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPut, path, token, map[string]string{"username": "root"}, &denied))
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPut, path, token, map[string]string{"email": "root@example.com"}, &denied))
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPut, path, token, map[string]string{"fullName": "Root"}, nil))
	require.NoError(t, ts.srv.Close())

	// same file, same config
	again := newTestServerWithConfig(t, cfg)
	assert.Equal(t, adminID, again.srv.AdminID())
	require.NoError(t, again.srv.Close())

	// configured username changed, email kept
	renamed := testConfig()
	renamed.Database.SQLitePath = cfg.Database.SQLitePath
	renamed.Admin.Username = "superuser"
	third := newTestServerWithConfig(t, renamed)
	assert.Equal(t, adminID, third.srv.AdminID())

	var users []userBody
	require.Equal(t, http.StatusOK, third.do(http.MethodGet, "/api/users", third.login("admin", "admin123"), nil, &users))
	require.Len(t, users, 1, "no second administrator is seeded")
	assert.Equal(t, "Root", users[0].FullName)
}

func TestAdminSignupSwitch(t *testing.T) {
	adminSignup := map[string]string{
		"username": "eve", "email": "eve@x.com", "password": "p1", "role": "admin",
	}

	open := newTestServer(t)
	var reg struct {
		User userBody `json:"user"`
	}
	require.Equal(t, http.StatusCreated, open.do(http.MethodPost, "/api/register", "", adminSignup, &reg))
	assert.Equal(t, "admin", reg.User.Role)

	cfg := testConfig()
	cfg.Auth.DisableAdminSignup = true
	closed := newTestServerWithConfig(t, cfg)

	var body errorBody
	assert.Equal(t, http.StatusForbidden, closed.do(http.MethodPost, "/api/register", "", adminSignup, &body))
	assert.Equal(t, "forbidden", body.Code)

	adminSignup["role"] = "user"
	assert.Equal(t, http.StatusCreated, closed.do(http.MethodPost, "/api/register", "", adminSignup, nil))
}

func TestBearerTokenRequired(t *testing.T) {
	ts := newTestServer(t)

	var body errorBody
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/users", "", nil, &body))
	assert.Equal(t, "unauthenticated", body.Code)

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/users", "not.a.jwt", nil, &body))
	assert.Equal(t, "forbidden", body.Code)
}

func TestAdminManagesUsers(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.login("admin", "admin123")

	for _, name := range []string{"carol", "dave"} {
		code := ts.do(http.MethodPost, "/api/register", "", map[string]string{
			"username": name, "email": name + "@x.com", "password": "pw", "fullName": name,
		}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var users []userBody
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/users", adminToken, nil, &users))
	require.Len(t, users, 3)
	for i := 1; i < len(users); i++ {
		assert.Less(t, users[i-1].ID, users[i].ID)
	}
	carolID := users[1].ID
	carolPath := fmt.Sprintf("/api/users/%d", carolID)

	// partial update keeps the other fields
	var msg map[string]string
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, carolPath, adminToken, map[string]string{"fullName": "Carol C."}, &msg))
	assert.Equal(t, "User updated successfully", msg["message"])

	var carol userBody
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, carolPath, adminToken, nil, &carol))
	assert.Equal(t, "Carol C.", carol.FullName)
	assert.Equal(t, "carol", carol.Username)
	assert.Equal(t, "carol@x.com", carol.Email)

	// renaming onto an existing username collides
	var dup errorBody
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, carolPath, adminToken, map[string]string{"username": "dave"}, &dup))
	assert.Equal(t, "duplicate_key", dup.Code)

	// delete, then it is gone
	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, carolPath, adminToken, nil, &msg))
	assert.Equal(t, "User deleted successfully", msg["message"])

	var missing errorBody
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, carolPath, adminToken, nil, &missing))
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, carolPath, adminToken, nil, &missing))
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPut, carolPath, adminToken, map[string]string{"fullName": "x"}, &missing))

	assert.Equal(t, []events.Kind{events.UserRegistered, events.UserRegistered, events.UserUpdated, events.UserDeleted}, ts.pub.kinds())
}

func TestProtectedAdminCannotBeDeleted(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.login("admin", "admin123")

	var body errorBody
	code := ts.do(http.MethodDelete, fmt.Sprintf("/api/users/%d", ts.srv.AdminID()), adminToken, nil, &body)
	assert.Equal(t, http.StatusForbidden, code)

	// still able to log in
	ts.login("admin", "admin123")
}

func TestUserManagesSelfOnly(t *testing.T) {
	ts := newTestServer(t)

	var reg struct {
		User userBody `json:"user"`
	}
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/register", "", map[string]string{
		"username": "erin", "email": "erin@x.com", "password": "pw",
	}, &reg))
	token := ts.login("erin@x.com", "pw")
	self := fmt.Sprintf("/api/users/%d", reg.User.ID)
	other := fmt.Sprintf("/api/users/%d", ts.srv.AdminID())

	var me userBody
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, self, token, nil, &me))
	assert.Equal(t, "erin", me.Username)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPut, self, token, map[string]string{"fullName": "Erin E."}, nil))

	var body errorBody
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, other, token, nil, &body))
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPut, other, token, map[string]string{"fullName": "x"}, &body))
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodDelete, self, token, nil, &body))
}

func TestLoginFailures(t *testing.T) {
	ts := newTestServer(t)

	var unknown, wrong errorBody
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/login", "", map[string]string{"username": "ghost", "password": "x"}, &unknown))
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/login", "", map[string]string{"username": "admin", "password": "x"}, &wrong))
	assert.Equal(t, unknown, wrong)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login("admin", "admin123")

	var body errorBody
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/register", "", `{"username":`, &body))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/login", "", ``, &body))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/users/abc", token, nil, &body))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/register", "", map[string]string{
		"username": "<script>x</script>", "email": "s@x.com", "password": "pw",
	}, &body))
	assert.Equal(t, "validation_error", body.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t)

	var body errorBody
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/nope", "", nil, &body))
	assert.Equal(t, "not_found", body.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodPatch, "/api/health", "", nil, &body))
	assert.Equal(t, "method_not_allowed", body.Code)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	ts := newTestServer(t, server.WithRateLimitCounter(&countingCounter{}))

	creds := map[string]string{"username": "admin", "password": "admin123"}
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/login", "", creds, nil))
	}

	var body errorBody
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodPost, "/api/login", "", creds, &body))
	assert.Equal(t, "rate_limited", body.Code)

	// health is not limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/health", "", nil, nil))
	}
}
