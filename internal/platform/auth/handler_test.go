package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medscribe/console/internal/platform/engine"
)

type mockAuthEngine struct {
	failAuth    bool
	unreachable bool
	loggedOut   bool
}

func (m *mockAuthEngine) GoogleAuth(_ context.Context, token string) (*engine.AuthResult, string, error) {
	if m.unreachable {
		return nil, "", fmt.Errorf("%w: dial", engine.ErrUnreachable)
	}
	if m.failAuth {
		return nil, "", &engine.APIError{StatusCode: http.StatusUnauthorized, Detail: "bad token"}
	}
	return &engine.AuthResult{Status: "success", User: engine.User{Email: "doc@example.com", Name: "Dr. Example"}}, "sid=xyz", nil
}

func (m *mockAuthEngine) VerifyToken(_ context.Context, session string) (*engine.AuthResult, error) {
	if session != "sid=xyz" {
		return nil, &engine.APIError{StatusCode: http.StatusUnauthorized, Detail: "expired"}
	}
	return &engine.AuthResult{Status: "success", User: engine.User{Email: "doc@example.com"}}, nil
}

func (m *mockAuthEngine) RefreshToken(_ context.Context, session string) (*engine.StatusMessage, string, error) {
	return &engine.StatusMessage{Status: "success", Message: "refreshed"}, "sid=new", nil
}

func (m *mockAuthEngine) Logout(_ context.Context, _ string) (*engine.StatusMessage, error) {
	m.loggedOut = true
	return &engine.StatusMessage{Status: "success"}, nil
}

func newTestHandler(eng AuthEngine) (*Handler, *Manager) {
	mgr := NewManager("test-secret-test-secret-test-secret", time.Hour)
	return NewHandler(mgr, eng, false), mgr
}

func TestGoogleAuth_SetsSessionCookie(t *testing.T) {
	h, mgr := newTestHandler(&mockAuthEngine{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/google", strings.NewReader(`{"token":"g-tok"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GoogleAuth(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == CookieName {
			cookie = ck
		}
	}
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	claims, err := mgr.Parse(cookie.Value)
	if err != nil {
		t.Fatalf("cookie does not parse: %v", err)
	}
	if claims.EngineSession != "sid=xyz" {
		t.Errorf("engine session = %q", claims.EngineSession)
	}
}

func TestGoogleAuth_MissingToken(t *testing.T) {
	h, _ := newTestHandler(&mockAuthEngine{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/google", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.GoogleAuth(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGoogleAuth_EngineUnreachable(t *testing.T) {
	h, _ := newTestHandler(&mockAuthEngine{unreachable: true})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/google", strings.NewReader(`{"token":"g-tok"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.GoogleAuth(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	h, mgr := newTestHandler(&mockAuthEngine{})
	signed, _ := mgr.Issue("doc@example.com", "Dr. Example", "", "sid=xyz")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: signed})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Verify(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res engine.AuthResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.User.Email != "doc@example.com" {
		t.Errorf("email = %q", res.User.Email)
	}
}

func TestVerify_NoCookie(t *testing.T) {
	h, _ := newTestHandler(&mockAuthEngine{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Verify(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestRefresh_RotatesEngineSession(t *testing.T) {
	h, mgr := newTestHandler(&mockAuthEngine{})
	signed, _ := mgr.Issue("doc@example.com", "Dr. Example", "", "sid=xyz")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: signed})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Refresh(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == CookieName {
			cookie = ck
		}
	}
	if cookie == nil {
		t.Fatal("expected refreshed session cookie")
	}
	claims, err := mgr.Parse(cookie.Value)
	if err != nil {
		t.Fatalf("cookie does not parse: %v", err)
	}
	if claims.EngineSession != "sid=new" {
		t.Errorf("engine session = %q, want sid=new", claims.EngineSession)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	eng := &mockAuthEngine{}
	h, mgr := newTestHandler(eng)
	signed, _ := mgr.Issue("doc@example.com", "Dr. Example", "", "sid=xyz")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: signed})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Logout(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eng.loggedOut {
		t.Error("expected engine logout call")
	}
	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == CookieName {
			cookie = ck
		}
	}
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Error("expected expired session cookie")
	}
}

func TestMiddleware_AllowsValidSession(t *testing.T) {
	mgr := NewManager("test-secret-test-secret-test-secret", time.Hour)
	signed, _ := mgr.Issue("doc@example.com", "Dr. Example", "", "sid=xyz")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: signed})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := Middleware(mgr)(func(c echo.Context) error {
		if UserEmail(c) != "doc@example.com" {
			t.Errorf("UserEmail = %q", UserEmail(c))
		}
		if EngineSession(c) != "sid=xyz" {
			t.Errorf("EngineSession = %q", EngineSession(c))
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMiddleware_RejectsMissingSession(t *testing.T) {
	mgr := NewManager("test-secret-test-secret-test-secret", time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	h := Middleware(mgr)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
