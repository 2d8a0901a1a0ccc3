package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/testutil/fakebackend"
	"github.com/KobaKhit/rebelzapp-sub001/internal/tokenstore"
)

func newStore(t *testing.T, token string) *tokenstore.Store {
	t.Helper()
	s, err := tokenstore.Open(context.Background(), tokenstore.NewMemoryBackend(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		if err := s.Set(context.Background(), token); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func newClient(t *testing.T, baseURL string, store *tokenstore.Store) *Client {
	t.Helper()
	c, err := New(baseURL, store)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFetchAttachesBearerAndDefaults(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"detail":"short and stout"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/", newStore(t, "tok-1"))
	resp, err := c.Fetch(context.Background(), Request{
		Path:   "/anything",
		Header: http.Header{"Accept": {"text/plain"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusTeapot {
		t.Fatalf("expected non-2xx to be returned as-is, got %d", resp.Status)
	}
	if got.Get("Authorization") != "Bearer tok-1" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("Accept") != "text/plain" {
		t.Errorf("caller header should win, Accept = %q", got.Get("Accept"))
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Get("Content-Type"))
	}
	if got.Get("X-Request-ID") == "" || got.Get("X-Request-ID") != resp.RequestID {
		t.Errorf("X-Request-ID = %q, response id %q", got.Get("X-Request-ID"), resp.RequestID)
	}
}

func TestFetchWithoutTokenSendsNoAuthorization(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, newStore(t, ""))
	if _, err := c.Fetch(context.Background(), Request{Path: "/x"}); err != nil {
		t.Fatal(err)
	}
	if auth != "" {
		t.Fatalf("expected no Authorization header, got %q", auth)
	}
}

func TestFetch401ClearsTokenOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newStore(t, "stale")
	c := newClient(t, srv.URL, store)

	_, err := c.Fetch(context.Background(), Request{Path: "/events/"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry, server saw %d calls", calls)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("expected token cleared after 401")
	}
}

func TestURLResolution(t *testing.T) {
	c := newClient(t, "https://api.example.com/base/", newStore(t, ""))
	tests := []struct {
		path string
		want string
	}{
		{"/events/", "https://api.example.com/base/events/"},
		{"events/3", "https://api.example.com/base/events/3"},
		{"http://other.example.com/x", "http://other.example.com/x"},
	}
	for _, tt := range tests {
		if got := c.URL(tt.path, nil); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
	if got := c.WebSocketURL("/ws/chat/4", nil); got != "wss://api.example.com/base/ws/chat/4" {
		t.Errorf("WebSocketURL = %q", got)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"ftp://x", "http://", "::"} {
		if _, err := New(raw, newStore(t, "")); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
	c, err := New("", newStore(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
}

func TestAPIErrorDetailParsing(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"Event not found"}`, "Event not found"},
		{"validation list", `{"detail":[{"loc":["body","title"],"msg":"field required"}]}`, "body.title: field required"},
		{"plain text", `upstream exploded`, "upstream exploded"},
		{"empty", ``, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newAPIError(&Response{Status: http.StatusNotFound, Body: []byte(tt.body)})
			if err.Detail != tt.want {
				t.Errorf("Detail = %q, want %q", err.Detail, tt.want)
			}
			if !errors.Is(err, ErrNotFound) {
				t.Error("expected errors.Is(err, ErrNotFound)")
			}
		})
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()

	store := newStore(t, "previous")
	c := newClient(t, fb.URL, store)

	if _, err := c.Login(context.Background(), "student@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if tok, _ := store.Get(); tok != "previous" {
		t.Fatalf("failed login must not touch the store, got %q", tok)
	}

	tok, err := c.Login(context.Background(), "student@example.com", "password123")
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "student-token" {
		t.Fatalf("unexpected token %+v", tok)
	}

	reqs := fb.Requests()
	last := reqs[len(reqs)-1]
	if last.Header.Get("Authorization") != "" {
		t.Error("login must not send a bearer token")
	}
	if !strings.HasPrefix(last.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		t.Errorf("login Content-Type = %q", last.Header.Get("Content-Type"))
	}
}

func TestSignupValidatesBeforeSending(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	c := newClient(t, fb.URL, newStore(t, ""))

	_, err := c.Signup(context.Background(), domain.SignupRequest{Email: "not-an-email", Password: "short"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if fb.CountRequests("/auth/signup") != 0 {
		t.Fatal("invalid signup reached the server")
	}

	name := "New Person"
	u, err := c.Signup(context.Background(), domain.SignupRequest{Email: "new@example.com", Password: "longenough", FullName: &name})
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "new@example.com" || u.DisplayName() != name {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestMe(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	c := newClient(t, fb.URL, newStore(t, "instructor-token"))

	u, err := c.Me(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"instructor"}, u.Roles); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
}

func TestEventsLifecycle(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	ctx := context.Background()
	c := newClient(t, fb.URL, newStore(t, "instructor-token"))

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, err := c.Events().Create(ctx, domain.EventCreate{
		Type:      "class",
		Title:     "Intro to Go",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	list, err := c.Events().List(ctx, "class")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	title := "Intro to Go, revised"
	updated, err := c.Events().Update(ctx, created.ID, domain.EventUpdate{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != title {
		t.Fatalf("title = %q", updated.Title)
	}

	if err := c.Events().Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Events().Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEventCreateValidation(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	c := newClient(t, fb.URL, newStore(t, "instructor-token"))

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	negative := -1
	cases := map[string]domain.EventCreate{
		"missing title": {Type: "class", StartTime: start, EndTime: start.Add(time.Hour)},
		"end before":    {Type: "class", Title: "x", StartTime: start, EndTime: start.Add(-time.Hour)},
		"neg capacity":  {Type: "class", Title: "x", StartTime: start, EndTime: start.Add(time.Hour), Capacity: &negative},
	}
	for name, in := range cases {
		if _, err := c.Events().Create(context.Background(), in); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if n := fb.CountRequests("/events/"); n != 0 {
		t.Fatalf("invalid events reached the server %d times", n)
	}
}

func TestForbiddenIsAPIErrorNotLogout(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	store := newStore(t, "student-token")
	c := newClient(t, fb.URL, store)

	_, err := c.Users().List(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 APIError, got %v", err)
	}
	if !errors.Is(err, ErrForbidden) {
		t.Fatal("expected errors.Is(err, ErrForbidden)")
	}
	if _, ok := store.Get(); !ok {
		t.Fatal("a 403 must not clear the token")
	}
}

func TestRegistrations(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	ctx := context.Background()
	ev := fb.AddEvent(domain.Event{Type: "class", Title: "Yoga"})

	c := newClient(t, fb.URL, newStore(t, "student-token"))
	reg, err := c.Registrations().Register(ctx, domain.RegistrationCreate{EventID: ev.ID})
	if err != nil {
		t.Fatal(err)
	}
	mine, err := c.Registrations().Mine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != reg.ID {
		t.Fatalf("unexpected registrations %+v", mine)
	}
	if err := c.Registrations().Cancel(ctx, reg.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Registrations().List(ctx, RegistrationFilter{EventID: ev.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot list all registrations, got %v", err)
	}
}

func TestRegistrationFilterQuery(t *testing.T) {
	q := RegistrationFilter{EventID: 3, Status: domain.RegistrationWaitlist, Limit: 20}.query()
	if q.Encode() != "event_id=3&limit=20&status=waitlist" {
		t.Fatalf("query = %q", q.Encode())
	}
}

func TestAssignRolesSendsJSONList(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = w.Write([]byte(`{"id":5,"email":"x@example.com","is_active":true,"roles":["instructor"]}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, newStore(t, "admin-token"))
	u, err := c.Users().AssignRoles(context.Background(), 5, []string{"instructor"})
	if err != nil {
		t.Fatal(err)
	}
	if body != `["instructor"]` {
		t.Fatalf("body = %s", body)
	}
	if !u.HasRole("instructor") {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestSendAssistantMessage(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	c := newClient(t, fb.URL, newStore(t, "student-token"))

	reply, err := c.SendAssistantMessage(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type != "text" {
		t.Fatalf("reply type = %q", reply.Type)
	}

	reqs := fb.Requests()
	if got := string(reqs[len(reqs)-1].Body); !strings.Contains(got, `"role":"user"`) || !strings.Contains(got, `"type":"message"`) {
		t.Fatalf("unexpected request body %s", got)
	}
}

func TestOpenEventStreamRequiresToken(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1", newStore(t, ""))
	if _, err := c.OpenEventStream(context.Background()); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
}

func TestOpenEventStream401ClearsToken(t *testing.T) {
	fb := fakebackend.New()
	defer fb.Close()
	store := newStore(t, "revoked")
	c := newClient(t, fb.URL, store)

	if _, err := c.OpenEventStream(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("expected token cleared")
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, err := New(srv.URL, newStore(t, ""), WithRateLimit(0.001, 1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch(context.Background(), Request{Path: "/a"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Fetch(ctx, Request{Path: "/b"}); err == nil {
		t.Fatal("expected the second request to be rate limited")
	}
}
