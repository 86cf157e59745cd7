package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Specs7/LFIWEB/internal/api/auth"
	"github.com/Specs7/LFIWEB/internal/api/session"
	"github.com/Specs7/LFIWEB/internal/config"
	"github.com/Specs7/LFIWEB/internal/model"
)

// consumeLink turns an emailed absolute link into a request against the
// test router and returns the response.
func consumeLink(t *testing.T, ts *testServer, link string) *httptest.ResponseRecorder {
	t.Helper()
	path := strings.TrimPrefix(link, ts.cfg.App.SiteURL)
	if path == link {
		t.Fatalf("link %q does not start with the site url", link)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	res := http.Response{Header: w.Header()}
	for _, c := range res.Cookies() {
		if c.Name == session.CookieName && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func TestMagicLinkEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	w, out := doJSON(t, ts, jsonRequest(http.MethodPost, "/auth/request-token", map[string]string{
		"email": "Maire@Example.org",
	}))
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("request-token: expected ok, got %d %v", w.Code, out)
	}
	if len(ts.mailer.links) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(ts.mailer.links))
	}
	if ts.mailer.to[0] != "maire@example.org" {
		t.Fatalf("email not normalized: %q", ts.mailer.to[0])
	}

	link := ts.mailer.links[0]
	w = consumeLink(t, ts, link)
	if w.Code != http.StatusFound {
		t.Fatalf("consume: expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != auth.ManagePath {
		t.Fatalf("consume: expected redirect to %s, got %s", auth.ManagePath, loc)
	}
	cookie := sessionCookie(t, w)

	// The raw link never stores the plaintext token.
	var row model.LoginToken
	if err := ts.db.First(&row).Error; err != nil {
		t.Fatalf("load token row: %v", err)
	}
	if strings.Contains(link, row.TokenHash) {
		t.Fatalf("link carries the stored hash")
	}
	if !row.Used {
		t.Fatalf("token row not marked used")
	}

	// The minted session passes the admin guard once the user is promoted.
	if err := ts.db.Model(&model.User{}).Where("email = ?", "maire@example.org").
		Update("role", "admin").Error; err != nil {
		t.Fatalf("promote user: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	w, out = doJSON(t, ts, req)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}
	user, _ := out["user"].(map[string]interface{})
	if user == nil || user["email"] != "maire@example.org" {
		t.Fatalf("me: unexpected user %v", out["user"])
	}

	sess, err := ts.sessions.Parse(cookie.Value)
	if err != nil {
		t.Fatalf("parse issued cookie: %v", err)
	}
	req = jsonRequest(http.MethodPost, "/api/articles", map[string]string{"title": "Premier article"})
	req.AddCookie(cookie)
	req.Header.Set("X-CSRF-Token", sess.CSRF)
	w, _ = doJSON(t, ts, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create with minted session: expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	// Replaying the link must not mint a second session.
	w = consumeLink(t, ts, link)
	if w.Code != http.StatusFound {
		t.Fatalf("replay: expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != auth.RequestPath {
		t.Fatalf("replay: expected redirect to %s, got %s", auth.RequestPath, loc)
	}
}

func TestRequestTokenAlwaysOK(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Rate.MaxRequests = 1
	})

	// Blank email succeeds and creates nothing.
	w, out := doJSON(t, ts, jsonRequest(http.MethodPost, "/auth/request-token", map[string]string{
		"email": "   ",
	}))
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("blank email: expected ok, got %d %v", w.Code, out)
	}
	var users int64
	if err := ts.db.Model(&model.User{}).Count(&users).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if users != 0 {
		t.Fatalf("blank email created %d users", users)
	}

	// First real request consumes the whole window.
	w, _ = doJSON(t, ts, jsonRequest(http.MethodPost, "/auth/request-token", map[string]string{
		"email": "voter@example.org",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}

	// The limited caller still sees ok but no second token is written.
	w, out = doJSON(t, ts, jsonRequest(http.MethodPost, "/auth/request-token", map[string]string{
		"email": "voter@example.org",
	}))
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("limited request: expected ok, got %d %v", w.Code, out)
	}
	var tokens int64
	if err := ts.db.Model(&model.LoginToken{}).Count(&tokens).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if tokens != 1 {
		t.Fatalf("expected 1 token row, got %d", tokens)
	}
	if len(ts.mailer.links) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(ts.mailer.links))
	}
}

func TestConsumeRejectsBadTokens(t *testing.T) {
	ts := newTestServer(t)
	user := createUser(t, ts.db, "voter@example.org", "editor")

	expectRequestRedirect := func(path string) {
		t.Helper()
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusFound {
			t.Fatalf("%s: expected 302, got %d", path, w.Code)
		}
		if loc := w.Header().Get("Location"); loc != auth.RequestPath {
			t.Fatalf("%s: expected redirect to %s, got %s", path, auth.RequestPath, loc)
		}
		if w.Header().Get("Set-Cookie") != "" {
			t.Fatalf("%s: minted a cookie for an invalid token", path)
		}
	}

	// Missing parameters.
	expectRequestRedirect("/auth/consume")
	expectRequestRedirect("/auth/consume?token=abc")
	expectRequestRedirect("/auth/consume?uid=1")

	// Token nobody ever issued.
	expectRequestRedirect("/auth/consume?token=garbage&uid=1")

	// Expired token.
	raw := "expired-secret"
	sum := sha256.Sum256([]byte(raw))
	row := model.LoginToken{
		UserID:    user.ID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := ts.db.Create(&row).Error; err != nil {
		t.Fatalf("seed expired token: %v", err)
	}
	expectRequestRedirect("/auth/consume?token=" + raw + "&uid=1")
}

func TestConsumeSingleWinnerUnderRace(t *testing.T) {
	ts := newTestServer(t)

	w, _ := doJSON(t, ts, jsonRequest(http.MethodPost, "/auth/request-token", map[string]string{
		"email": "voter@example.org",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("request-token: expected 200, got %d", w.Code)
	}
	if len(ts.mailer.links) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(ts.mailer.links))
	}
	path := strings.TrimPrefix(ts.mailer.links[0], ts.cfg.App.SiteURL)

	const attempts = 4
	var wg sync.WaitGroup
	start := make(chan struct{})
	locations := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			w := httptest.NewRecorder()
			ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			locations <- w.Header().Get("Location")
		}()
	}
	close(start)
	wg.Wait()
	close(locations)

	// No matter how the goroutines interleave, the token is redeemed once.
	wins, losses := 0, 0
	for loc := range locations {
		switch loc {
		case auth.ManagePath:
			wins++
		case auth.RequestPath:
			losses++
		default:
			t.Fatalf("unexpected redirect %q", loc)
		}
	}
	if wins != 1 || losses != attempts-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d", attempts-1, wins, losses)
	}

	var used int64
	if err := ts.db.Model(&model.LoginToken{}).Where("used = ?", true).Count(&used).Error; err != nil {
		t.Fatalf("count used tokens: %v", err)
	}
	if used != 1 {
		t.Fatalf("expected 1 used token row, got %d", used)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	ts := newTestServer(t)
	admin := createUser(t, ts.db, "admin@example.org", "admin")
	cookie, _ := sessionFor(t, ts, admin.ID)

	req := httptest.NewRequest(http.MethodGet, "/admin/logout", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("logout: expected 302, got %d", w.Code)
	}

	res := http.Response{Header: w.Header()}
	cleared := false
	for _, c := range res.Cookies() {
		if c.Name == session.CookieName && c.Value == "" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("logout did not expire the session cookie")
	}
}

func TestManagePage(t *testing.T) {
	ts := newTestServer(t)
	editor := createUser(t, ts.db, "editor@example.org", "editor")
	admin := createUser(t, ts.db, "admin@example.org", "admin")

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, auth.ManagePath, nil))
	if w.Code != http.StatusFound {
		t.Fatalf("anonymous: expected 302, got %d", w.Code)
	}

	cookie, _ := sessionFor(t, ts, editor.ID)
	req := httptest.NewRequest(http.MethodGet, auth.ManagePath, nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("editor: expected 403, got %d", w.Code)
	}

	cookie, _ = sessionFor(t, ts, admin.ID)
	req = httptest.NewRequest(http.MethodGet, auth.ManagePath, nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", w.Code)
	}
}
