// Package fakebackend is an in-process stand-in for the Rebelz platform API,
// used by client and CLI tests.
package fakebackend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
)

// Recorded is one request seen by the server.
type Recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Account is a user that can log in.
type Account struct {
	User     domain.User
	Password string
	Token    string
}

// Server is a fake platform API.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	accounts      map[string]*Account // by email
	tokens        map[string]*Account // by bearer token
	nextUserID    int64
	events        map[int64]domain.Event
	nextEventID   int64
	registrations map[int64]domain.Registration
	nextRegID     int64
	groups        map[int64]domain.ChatGroup
	messages      map[int64][]domain.GroupMessage
	roles         []domain.RoleRecord
	perms         []domain.PermissionRecord
	requests      []Recorded
	expireOn      []string

	// AssistantReply answers POST /ai/message. Defaults to a text echo.
	AssistantReply func(content string) (int, any)

	streamMu sync.Mutex
	streams  []chan string
	wsConns  map[int64][]*wsPeer
}

type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) write(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteJSON(v)
}

// New starts a fake backend with a student, an instructor and an admin.
// Passwords are "password123" and tokens are "<role>-token".
func New() *Server {
	s := &Server{
		accounts:      make(map[string]*Account),
		tokens:        make(map[string]*Account),
		nextUserID:    1,
		events:        make(map[int64]domain.Event),
		nextEventID:   1,
		registrations: make(map[int64]domain.Registration),
		nextRegID:     1,
		groups:        make(map[int64]domain.ChatGroup),
		messages:      make(map[int64][]domain.GroupMessage),
		wsConns:       make(map[int64][]*wsPeer),
		roles: []domain.RoleRecord{
			{ID: 1, Name: "admin", Permissions: []string{"manage_users", "manage_roles", "manage_permissions", "manage_events", "view_events"}},
			{ID: 2, Name: "instructor", Permissions: []string{"view_events", "manage_events"}},
			{ID: 3, Name: "student", Permissions: []string{"view_events"}},
		},
		perms: []domain.PermissionRecord{
			{ID: 1, Name: "view_events"},
			{ID: 2, Name: "manage_events"},
			{ID: 3, Name: "manage_users"},
			{ID: 4, Name: "manage_roles"},
			{ID: 5, Name: "manage_permissions"},
		},
	}
	s.AssistantReply = func(content string) (int, any) {
		return http.StatusOK, map[string]any{
			"type": "text",
			"data": map[string]string{"content": "echo: " + content},
		}
	}
	s.AddAccount("student@example.com", "student-token", "student")
	s.AddAccount("instructor@example.com", "instructor-token", "instructor")
	s.AddAccount("admin@example.com", "admin-token", "admin")

	s.Server = httptest.NewServer(s.router())
	return s
}

// AddAccount registers a user with the given bearer token and roles.
func (s *Server) AddAccount(email, token string, roles ...string) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := &Account{
		User: domain.User{
			ID:       s.nextUserID,
			Email:    email,
			IsActive: true,
			Roles:    append([]string{}, roles...),
		},
		Password: "password123",
		Token:    token,
	}
	s.nextUserID++
	s.accounts[email] = acct
	s.tokens[token] = acct
	u := acct.User
	return &u
}

// ExpireOn makes authenticated requests whose path starts with prefix answer
// 401, as if the token expired after the profile was fetched.
func (s *Server) ExpireOn(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireOn = append(s.expireOn, prefix)
}

func (s *Server) expired(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.expireOn {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RevokeToken makes token invalid for subsequent requests.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// AddEvent seeds an event.
func (s *Server) AddEvent(e domain.Event) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextEventID
	s.nextEventID++
	s.events[e.ID] = e
	return e
}

// AddGroup seeds a chat group with the given member user IDs.
func (s *Server) AddGroup(g domain.ChatGroup, memberIDs ...int64) domain.ChatGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == 0 {
		g.ID = int64(len(s.groups) + 1)
	}
	for _, uid := range memberIDs {
		g.Members = append(g.Members, domain.ChatGroupMember{GroupID: g.ID, UserID: uid})
	}
	s.groups[g.ID] = g
	return g
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// CountRequests returns how many requests hit path.
func (s *Server) CountRequests(path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Push sends one raw SSE data payload to every open /ai/events stream.
func (s *Server) Push(payload string) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	for _, ch := range s.streams {
		select {
		case ch <- payload:
		default:
		}
	}
}

// PushFrame marshals {type, data} and pushes it.
func (s *Server) PushFrame(kind string, data any) {
	b, _ := json.Marshal(map[string]any{"type": kind, "data": data})
	s.Push(string(b))
}

// OpenStreams returns the number of connected /ai/events clients.
func (s *Server) OpenStreams() int {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return len(s.streams)
}

// Broadcast writes a frame to every WebSocket client of groupID.
func (s *Server) Broadcast(groupID int64, frame any) {
	s.broadcast(groupID, nil, frame)
}

func (s *Server) broadcast(groupID int64, except *wsPeer, frame any) {
	s.streamMu.Lock()
	peers := append([]*wsPeer(nil), s.wsConns[groupID]...)
	s.streamMu.Unlock()
	for _, p := range peers {
		if p != except {
			p.write(frame)
		}
	}
}

// WSClients returns the number of WebSocket clients of groupID.
func (s *Server) WSClients(groupID int64) int {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return len(s.wsConns[groupID])
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/auth/token", s.login)
	r.Post("/auth/signup", s.signup)
	r.With(s.auth).Get("/auth/me", s.me)

	r.Route("/events", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/types", s.eventTypes)
		r.Get("/types/categories", s.eventCategories)
		r.Get("/types/detailed", s.eventTypesDetailed)
		r.Get("/types/category/{category}", s.eventTypesInCategory)
		r.Get("/", s.listEvents)
		r.Post("/", s.createEvent)
		r.Get("/{id}", s.getEvent)
		r.Patch("/{id}", s.updateEvent)
		r.Delete("/{id}", s.deleteEvent)
	})

	r.Route("/registrations", func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/", s.register)
		r.Get("/my", s.myRegistrations)
		r.Get("/", s.listRegistrations)
		r.Delete("/{id}", s.cancelRegistration)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/groups", s.listGroups)
		r.Get("/groups/{id}/messages", s.listMessages)
		r.Post("/groups/{id}/messages", s.postMessage)
	})

	r.With(s.auth).Get("/users/", s.listUsers)
	r.With(s.auth).Get("/roles/", s.listRoles)
	r.With(s.auth).Get("/permissions/", s.listPermissions)

	r.With(s.auth).Post("/ai/message", s.aiMessage)
	r.Post("/ai/chat", s.aiChat)
	r.Post("/api/copilotkit", s.copilot)
	r.Get("/ai/events", s.aiEvents)
	r.Get("/ws/chat/{id}", s.wsChat)

	return r
}

type ctxKey struct{}

func contextWithAccount(r *http.Request, acct *Account) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, acct)
}

func accountFrom(r *http.Request) *Account {
	acct, _ := r.Context().Value(ctxKey{}).(*Account)
	return acct
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookup(token string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		acct := s.lookup(tok)
		if acct == nil || s.expired(r.URL.Path) {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithAccount(r, acct)))
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	s.mu.Lock()
	acct := s.accounts[r.PostForm.Get("username")]
	s.mu.Unlock()
	if acct == nil || acct.Password != r.PostForm.Get("password") {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, domain.Token{AccessToken: acct.Token, TokenType: "bearer"})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var in domain.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	_, exists := s.accounts[in.Email]
	s.mu.Unlock()
	if exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := s.AddAccount(in.Email, in.Email+"-token", "student")
	s.mu.Lock()
	s.accounts[in.Email].Password = in.Password
	s.accounts[in.Email].User.FullName = in.FullName
	u.FullName = in.FullName
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, accountFrom(r).User)
}

func (s *Server) eventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"class": "ClassEvent", "workshop": "WorkshopEvent"})
}

func (s *Server) eventCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"education": "Education", "social": "Social"})
}

var eventTypeInfo = map[string]map[string]string{
	"class":    {"schema": "ClassEvent", "category": "education"},
	"workshop": {"schema": "WorkshopEvent", "category": "education"},
	"meetup":   {"schema": "MeetupEvent", "category": "social"},
}

func (s *Server) eventTypesDetailed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, eventTypeInfo)
}

func (s *Server) eventTypesInCategory(w http.ResponseWriter, r *http.Request) {
	cat := chi.URLParam(r, "category")
	out := map[string]map[string]string{}
	for name, info := range eventTypeInfo {
		if info["category"] == cat {
			out[name] = info
		}
	}
	if len(out) == 0 {
		writeDetail(w, http.StatusBadRequest, "Invalid category: "+cat)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func hasPermission(acct *Account, perm string) bool {
	for _, r := range acct.User.Roles {
		switch r {
		case "admin":
			return true
		case "instructor":
			if perm == "view_events" || perm == "manage_events" {
				return true
			}
		case "student":
			if perm == "view_events" {
				return true
			}
		}
	}
	return false
}

func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	if !hasPermission(accountFrom(r), perm) {
		writeDetail(w, http.StatusForbidden, "Missing permission: "+perm)
		return false
	}
	return true
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "view_events") {
		return
	}
	filter := r.URL.Query().Get("type")
	s.mu.Lock()
	out := make([]domain.Event, 0, len(s.events))
	for _, e := range s.events {
		if filter == "" || e.Type == filter {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "view_events") {
		return
	}
	eid, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	e, ok := s.events[eid]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Event not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "manage_events") {
		return
	}
	var in domain.EventCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	uid := accountFrom(r).User.ID
	e := s.AddEvent(domain.Event{
		Type:            in.Type,
		Title:           in.Title,
		Description:     in.Description,
		Location:        in.Location,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		Capacity:        in.Capacity,
		Data:            in.Data,
		IsPublished:     in.IsPublished,
		CreatedByUserID: &uid,
	})
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "manage_events") {
		return
	}
	eid, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var in domain.EventUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eid]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Event not found")
		return
	}
	if in.Title != nil {
		e.Title = *in.Title
	}
	if in.Location != nil {
		e.Location = in.Location
	}
	if in.Capacity != nil {
		e.Capacity = in.Capacity
	}
	if in.IsPublished != nil {
		e.IsPublished = *in.IsPublished
	}
	s.events[eid] = e
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "manage_events") {
		return
	}
	eid, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	_, ok := s.events[eid]
	delete(s.events, eid)
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Event not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in domain.RegistrationCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	acct := accountFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[in.EventID]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Event not found")
		return
	}
	for _, reg := range s.registrations {
		if reg.EventID == in.EventID && reg.UserID == acct.User.ID && reg.Status != domain.RegistrationCancelled {
			writeDetail(w, http.StatusBadRequest, "Already registered for this event")
			return
		}
	}
	reg := domain.Registration{
		ID:               s.nextRegID,
		EventID:          in.EventID,
		UserID:           acct.User.ID,
		Status:           domain.RegistrationConfirmed,
		RegistrationDate: time.Now().UTC(),
		Notes:            in.Notes,
		EventTitle:       &e.Title,
	}
	s.nextRegID++
	s.registrations[reg.ID] = reg
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) myRegistrations(w http.ResponseWriter, r *http.Request) {
	uid := accountFrom(r).User.ID
	s.mu.Lock()
	out := []domain.Registration{}
	for _, reg := range s.registrations {
		if reg.UserID == uid {
			out = append(out, reg)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRegistrations(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "manage_events") {
		return
	}
	s.mu.Lock()
	out := []domain.Registration{}
	for _, reg := range s.registrations {
		out = append(out, reg)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) cancelRegistration(w http.ResponseWriter, r *http.Request) {
	rid, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	uid := accountFrom(r).User.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[rid]
	if !ok || reg.UserID != uid {
		writeDetail(w, http.StatusNotFound, "Registration not found")
		return
	}
	reg.Status = domain.RegistrationCancelled
	s.registrations[rid] = reg
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	uid := accountFrom(r).User.ID
	s.mu.Lock()
	out := []domain.ChatGroup{}
	for _, g := range s.groups {
		if isMember(g, uid) {
			out = append(out, g)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func isMember(g domain.ChatGroup, uid int64) bool {
	for _, m := range g.Members {
		if m.UserID == uid {
			return true
		}
	}
	return false
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	gid, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	out := append([]domain.GroupMessage{}, s.messages[gid]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	gid, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var in domain.GroupMessageCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	acct := accountFrom(r)
	s.mu.Lock()
	msg := domain.GroupMessage{
		ID:          int64(len(s.messages[gid]) + 1),
		GroupID:     gid,
		SenderID:    acct.User.ID,
		Content:     in.Content,
		MessageType: in.MessageType,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.messages[gid] = append(s.messages[gid], msg)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "manage_users") {
		return
	}
	s.mu.Lock()
	out := make([]domain.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.User)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "manage_roles") {
		return
	}
	writeJSON(w, http.StatusOK, s.roles)
}

func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "manage_permissions") {
		return
	}
	writeJSON(w, http.StatusOK, s.perms)
}

func (s *Server) aiMessage(w http.ResponseWriter, r *http.Request) {
	var in domain.AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	status, body := s.AssistantReply(in.Data.Content)
	writeJSON(w, status, body)
}

func (s *Server) aiChat(w http.ResponseWriter, r *http.Request) {
	var in domain.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Messages) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	last := in.Messages[len(in.Messages)-1]
	writeJSON(w, http.StatusOK, domain.Completion{
		Model: "fake-model",
		Choices: []domain.CompletionChoice{{
			Message: domain.AssistantMessage{Role: "assistant", Content: "completed: " + last.Content},
		}},
	})
}

// copilot mirrors the action runtime: actions need a signed-in user, and
// failures come back as success=false with a 200.
func (s *Server) copilot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action     string          `json:"action"`
		Parameters json.RawMessage `json:"parameters"`
		Type       string          `json:"type"`
		Text       *string         `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid body"})
		return
	}
	if body.Type == "suggestions" || body.Text != nil {
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": []string{}})
		return
	}
	acct := s.lookup(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if acct == nil {
		writeJSON(w, http.StatusOK, domain.ActionResult{Error: "Authentication required for actions"})
		return
	}

	var data any
	var failure string
	switch body.Action {
	case domain.ActionSearchEvents:
		var q domain.ActionSearch
		_ = json.Unmarshal(body.Parameters, &q)
		data = s.searchEvents(q)
	case domain.ActionCreateEvent:
		data, failure = s.createEventAction(body.Parameters, acct)
	case domain.ActionRegisterForEvent:
		data, failure = s.registerAction(body.Parameters, acct)
	default:
		failure = "Unknown action: " + body.Action
	}
	if failure != "" {
		writeJSON(w, http.StatusOK, domain.ActionResult{Error: failure})
		return
	}
	raw, _ := json.Marshal(data)
	writeJSON(w, http.StatusOK, domain.ActionResult{Success: true, Data: raw})
}

func (s *Server) searchEvents(q domain.ActionSearch) domain.ActionEvents {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := domain.ActionEvents{Events: []domain.ActionEvent{}}
	term := strings.ToLower(q.Query)
	for _, id := range ids {
		e := s.events[id]
		desc := ""
		if e.Description != nil {
			desc = *e.Description
		}
		if term != "" && !strings.Contains(strings.ToLower(e.Title), term) && !strings.Contains(strings.ToLower(desc), term) {
			continue
		}
		if q.EventType != "" && e.Type != q.EventType {
			continue
		}
		out.Events = append(out.Events, domain.ActionEvent{
			ID:            e.ID,
			Title:         e.Title,
			Description:   e.Description,
			EventType:     e.Type,
			StartDateTime: e.StartTime.Format(time.RFC3339),
			EndDateTime:   e.EndTime.Format(time.RFC3339),
		})
		if len(out.Events) == 10 {
			break
		}
	}
	out.Count = len(out.Events)
	out.Message = fmt.Sprintf("Found %d events matching your criteria", out.Count)
	return out
}

func (s *Server) createEventAction(raw json.RawMessage, acct *Account) (any, string) {
	var in domain.ActionEventCreate
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, "Failed to create event: " + err.Error()
	}
	start, err := time.Parse(time.RFC3339, in.StartDateTime)
	if err != nil {
		return nil, "Failed to create event: " + err.Error()
	}
	end, err := time.Parse(time.RFC3339, in.EndDateTime)
	if err != nil {
		return nil, "Failed to create event: " + err.Error()
	}
	var desc *string
	if in.Description != "" {
		desc = &in.Description
	}
	capacity := 50
	uid := acct.User.ID
	e := s.AddEvent(domain.Event{
		Type:            in.EventType,
		Title:           in.Title,
		Description:     desc,
		StartTime:       start,
		EndTime:         end,
		Capacity:        &capacity,
		IsPublished:     true,
		CreatedByUserID: &uid,
	})
	return domain.ActionEventCreated{
		ID:      e.ID,
		Title:   e.Title,
		Message: fmt.Sprintf("Successfully created event '%s' with ID %d", e.Title, e.ID),
	}, ""
}

func (s *Server) registerAction(raw json.RawMessage, acct *Account) (any, string) {
	var in domain.ActionRegister
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, "Failed to register for event: " + err.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[in.EventID]
	if !ok {
		return nil, "Event not found"
	}
	for _, reg := range s.registrations {
		if reg.EventID == in.EventID && reg.UserID == acct.User.ID {
			return nil, "Already registered for this event"
		}
	}
	reg := domain.Registration{
		ID:               s.nextRegID,
		EventID:          in.EventID,
		UserID:           acct.User.ID,
		Status:           domain.RegistrationConfirmed,
		RegistrationDate: time.Now().UTC(),
		EventTitle:       &e.Title,
	}
	s.nextRegID++
	s.registrations[reg.ID] = reg
	return domain.ActionRegistered{
		RegistrationID: &reg.ID,
		EventTitle:     e.Title,
		Message:        fmt.Sprintf("Successfully registered for '%s'", e.Title),
	}, ""
}

func (s *Server) aiEvents(w http.ResponseWriter, r *http.Request) {
	if s.lookup(r.URL.Query().Get("token")) == nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := make(chan string, 16)
	s.streamMu.Lock()
	s.streams = append(s.streams, ch)
	s.streamMu.Unlock()
	defer func() {
		s.streamMu.Lock()
		for i, c := range s.streams {
			if c == ch {
				s.streams = append(s.streams[:i], s.streams[i+1:]...)
				break
			}
		}
		s.streamMu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connection","data":{"status":"connected"}}`)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-ch:
			if payload == "" {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// CloseStreams ends every open /ai/events response.
func (s *Server) CloseStreams() {
	s.Push("")
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) wsChat(w http.ResponseWriter, r *http.Request) {
	gid, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	acct := s.lookup(r.URL.Query().Get("token"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	g, ok := s.groups[gid]
	s.mu.Unlock()
	if acct == nil || !ok || !isMember(g, acct.User.ID) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a member"))
		return
	}

	peer := &wsPeer{conn: conn}
	s.streamMu.Lock()
	s.wsConns[gid] = append(s.wsConns[gid], peer)
	s.streamMu.Unlock()

	who := domain.UserBasic{ID: acct.User.ID, Email: acct.User.Email, FullName: acct.User.FullName}
	s.broadcast(gid, peer, map[string]any{"type": "user_joined", "user": who, "group_id": gid})
	defer func() {
		s.streamMu.Lock()
		peers := s.wsConns[gid]
		for i, p := range peers {
			if p == peer {
				s.wsConns[gid] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		s.streamMu.Unlock()
		s.broadcast(gid, nil, map[string]any{"type": "user_left", "user": who, "group_id": gid})
	}()

	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame["type"] {
		case "message":
			content, _ := frame["content"].(string)
			kind, _ := frame["message_type"].(string)
			if kind == "" {
				kind = "text"
			}
			s.mu.Lock()
			msg := domain.GroupMessage{
				ID:          int64(len(s.messages[gid]) + 1),
				GroupID:     gid,
				SenderID:    acct.User.ID,
				Content:     content,
				MessageType: kind,
				CreatedAt:   time.Now().UTC(),
				Sender:      &who,
			}
			s.messages[gid] = append(s.messages[gid], msg)
			s.mu.Unlock()
			s.broadcast(gid, nil, map[string]any{"type": "message", "message": msg})
		case "typing":
			typing, _ := frame["is_typing"].(bool)
			s.broadcast(gid, peer, map[string]any{
				"type":      "typing",
				"user":      who,
				"group_id":  gid,
				"is_typing": typing,
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
