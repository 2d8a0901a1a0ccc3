package assistant

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/testutil/fakebackend"
	"github.com/KobaKhit/rebelzapp-sub001/internal/tokenstore"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newAPI(t *testing.T, srv *fakebackend.Server, token string) (*apiclient.Client, *tokenstore.Store) {
	t.Helper()
	store, err := tokenstore.Open(context.Background(), tokenstore.NewMemoryBackend(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		if err := store.Set(context.Background(), token); err != nil {
			t.Fatal(err)
		}
	}
	api, err := apiclient.New(srv.URL, store)
	if err != nil {
		t.Fatal(err)
	}
	return api, store
}

// startChannel runs a channel against srv and waits for the connection ack.
func startChannel(t *testing.T, srv *fakebackend.Server, opts ...Option) *Channel {
	t.Helper()
	api, _ := newAPI(t, srv, "student-token")
	opts = append([]Option{WithReconnectPolicy(ReconnectPolicy{Delay: 10 * time.Millisecond})}, opts...)
	ch := New(api, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	eventually(t, "stream connection", ch.Connected)
	return ch
}

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Role)+":"+m.Content)
	}
	return out
}

func TestReadFrames(t *testing.T) {
	in := strings.Join([]string{
		": keepalive",
		"event: update",
		"data: {\"a\":1}",
		"",
		"data: line one\r",
		"data:line two",
		"id: 7",
		"",
		"",
		"data: unterminated",
	}, "\n")

	var got []string
	err := readFrames(strings.NewReader(in), func(d string) { got = append(got, d) })
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
	want := []string{`{"a":1}`, "line one\nline two"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestThinkingThenMessage(t *testing.T) {
	ch := New(nil)
	updates, cancel := ch.Conversation().Subscribe(8)
	defer cancel()

	ch.handleFrame(`{"type":"thinking","data":{}}`)
	if !ch.Conversation().Typing() {
		t.Fatal("thinking should set typing")
	}
	ch.handleFrame(`{"type":"message","data":{"role":"assistant","content":"Hi"}}`)
	if ch.Conversation().Typing() {
		t.Fatal("message should clear typing")
	}

	msgs := ch.Conversation().Messages()
	if len(msgs) != 1 || msgs[0].Content != "Hi" || msgs[0].Role != RoleAssistant {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	var kinds []UpdateKind
	for len(updates) > 0 {
		kinds = append(kinds, (<-updates).Kind)
	}
	want := []UpdateKind{UpdateTyping, UpdateTyping, UpdateMessage}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("update order (-want +got):\n%s", diff)
	}
}

func TestFrameHandling(t *testing.T) {
	ch := New(nil)

	ch.handleFrame(`{"type":"heartbeat","data":{"timestamp":"now"}}`)
	ch.handleFrame(`{"type":"message","data":{"role":"user","content":"echoed"}}`)
	ch.handleFrame(`{"type":"mystery"}`)
	ch.handleFrame(`not json at all`)
	ch.handleFrame(`{"type":"message","data":"oops"}`)
	if n := len(ch.Conversation().Messages()); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}

	if !ch.handleFrame(`{"type":"connection","data":{"status":"connected"}}`) {
		t.Fatal("connection frame should be reported as ack")
	}
	if !ch.Connected() {
		t.Fatal("expected connected")
	}

	ch.handleFrame(`{"type":"thinking","data":{}}`)
	ch.handleFrame(`{"type":"error","data":{"message":"model unavailable"}}`)
	msgs := ch.Conversation().Messages()
	if len(msgs) != 1 || !msgs[0].Failed || msgs[0].Content != FailureMessage {
		t.Fatalf("expected one failure message, got %+v", msgs)
	}
	if ch.Conversation().Typing() {
		t.Fatal("error should clear typing")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	srv := fakebackend.New()
	defer srv.Close()
	api, _ := newAPI(t, srv, "student-token")

	ch := New(api)
	_, err := ch.Send(context.Background(), "hello")
	if err == nil || err.Error() != "Not connected to AG-UI endpoint" {
		t.Fatalf("expected not-connected error, got %v", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Fatal("expected ErrNotConnected")
	}
	if n := srv.CountRequests("/ai/message"); n != 0 {
		t.Fatalf("expected no request, got %d", n)
	}
	if len(ch.Conversation().Messages()) != 0 {
		t.Fatal("rejected send must not append")
	}
}

func TestSendTextReply(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	ch := startChannel(t, srv)

	reply, err := ch.Send(context.Background(), "  hello  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Content != "echo: hello" {
		t.Fatalf("unexpected reply %q", reply.Content)
	}

	msgs := ch.Conversation().Messages()
	if diff := cmp.Diff([]string{"user:hello", "assistant:echo: hello"}, contents(msgs)); diff != "" {
		t.Fatalf("conversation mismatch (-want +got):\n%s", diff)
	}
	if msgs[0].Seq >= msgs[1].Seq {
		t.Fatalf("seq not increasing: %d, %d", msgs[0].Seq, msgs[1].Seq)
	}

	req := srv.Requests()
	last := req[len(req)-1]
	if last.Header.Get("Authorization") != "Bearer student-token" {
		t.Fatalf("send missing bearer header: %v", last.Header)
	}
	if !strings.Contains(string(last.Body), `"type":"message"`) || !strings.Contains(string(last.Body), `"role":"user"`) {
		t.Fatalf("unexpected body %s", last.Body)
	}
}

func TestSendEventsReply(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	srv.AssistantReply = func(string) (int, any) {
		return http.StatusOK, map[string]any{
			"type": "events",
			"data": map[string]any{
				"title":   "Upcoming events",
				"message": "Here is what's coming up",
				"events": []map[string]any{
					{"id": 1, "title": "Swim meet", "start_time": "2026-11-01T10:00:00"},
					{"id": 2, "title": "Chess club"},
				},
			},
		}
	}
	ch := startChannel(t, srv)

	reply, err := ch.Send(context.Background(), "what's on?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Title != "Upcoming events" || reply.Content != "Here is what's coming up" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	want := []domain.EventSummary{
		{ID: 1, Title: "Swim meet", StartTime: "2026-11-01T10:00:00"},
		{ID: 2, Title: "Chess club"},
	}
	if diff := cmp.Diff(want, reply.Events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	var withEvents int
	for _, m := range ch.Conversation().Messages() {
		if len(m.Events) > 0 {
			withEvents++
		}
	}
	if withEvents != 1 {
		t.Fatalf("expected exactly one message with events, got %d", withEvents)
	}
}

func TestSendFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr bool
	}{
		{
			name:   "error reply",
			status: http.StatusOK,
			body:   map[string]any{"type": "error", "data": map[string]string{"message": "no model"}},
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    map[string]string{"detail": "boom"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakebackend.New()
			t.Cleanup(srv.Close)
			srv.AssistantReply = func(string) (int, any) { return tt.status, tt.body }
			ch := startChannel(t, srv)

			reply, err := ch.Send(context.Background(), "hi")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if reply == nil || !reply.Failed || reply.Content != FailureMessage {
				t.Fatalf("expected failure message, got %+v", reply)
			}
			if n := len(ch.Conversation().Messages()); n != 2 {
				t.Fatalf("expected user message plus failure, got %d", n)
			}
		})
	}
}

type blockingTransport struct {
	release chan struct{}
	entered chan struct{}
}

func (b *blockingTransport) OpenEventStream(context.Context) (io.ReadCloser, error) {
	return nil, errors.New("unused")
}

func (b *blockingTransport) SendAssistantMessage(ctx context.Context, content string) (*domain.AssistantReply, error) {
	close(b.entered)
	<-b.release
	return &domain.AssistantReply{Type: "text", Data: []byte(`{"content":"done"}`)}, nil
}

func TestSecondSendIsRejectedWhileBusy(t *testing.T) {
	tr := &blockingTransport{release: make(chan struct{}), entered: make(chan struct{})}
	ch := New(tr)
	ch.handleFrame(`{"type":"connection","data":{}}`)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := ch.Send(context.Background(), "first"); err != nil {
			t.Errorf("first send: %v", err)
		}
	}()
	<-tr.entered

	if !ch.Sending() {
		t.Fatal("expected a send in flight")
	}
	if _, err := ch.Send(context.Background(), "second"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}
	close(tr.release)
	wg.Wait()

	if diff := cmp.Diff([]string{"user:first", "assistant:done"}, contents(ch.Conversation().Messages())); diff != "" {
		t.Fatalf("conversation mismatch (-want +got):\n%s", diff)
	}
}

func TestPushedMessagesAndMalformedFrames(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	ch := startChannel(t, srv)

	srv.Push("{this is not json")
	srv.PushFrame("thinking", map[string]any{})
	srv.PushFrame("message", map[string]string{"role": "assistant", "content": "Hi"})

	eventually(t, "pushed message", func() bool { return len(ch.Conversation().Messages()) == 1 })
	if got := ch.Conversation().Messages()[0].Content; got != "Hi" {
		t.Fatalf("unexpected content %q", got)
	}
	if ch.Conversation().Typing() {
		t.Fatal("typing should be cleared")
	}
	if !ch.Connected() {
		t.Fatal("malformed frame must not close the stream")
	}
}

func TestReconnectsAfterStreamEnds(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	ch := startChannel(t, srv)

	srv.CloseStreams()
	eventually(t, "second stream", func() bool {
		return srv.CountRequests("/ai/events") >= 2 && srv.OpenStreams() == 1
	})
	eventually(t, "reconnected", ch.Connected)
}

type failingTransport struct {
	opens atomic.Int32
}

func (f *failingTransport) OpenEventStream(context.Context) (io.ReadCloser, error) {
	f.opens.Add(1)
	return nil, errors.New("connection refused")
}

func (f *failingTransport) SendAssistantMessage(context.Context, string) (*domain.AssistantReply, error) {
	return nil, errors.New("unused")
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	tr := &failingTransport{}
	ch := New(tr, WithReconnectPolicy(ReconnectPolicy{Delay: time.Millisecond, MaxAttempts: 2}))

	err := ch.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "giving up") {
		t.Fatalf("expected give-up error, got %v", err)
	}
	if n := tr.opens.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestExponentialPolicyGrows(t *testing.T) {
	b := ReconnectPolicy{Delay: 10 * time.Millisecond, MaxDelay: time.Second, Exponential: true}.backOff()
	first := b.NextBackOff()
	var last time.Duration
	for i := 0; i < 5; i++ {
		last = b.NextBackOff()
	}
	if first > 15*time.Millisecond || last <= first {
		t.Fatalf("expected growth from ~10ms, got first=%v last=%v", first, last)
	}

	c := DefaultReconnectPolicy().backOff()
	if d := c.NextBackOff(); d != 5*time.Second {
		t.Fatalf("default delay = %v, want 5s", d)
	}
}

func TestRunStopsOnUnauthorized(t *testing.T) {
	srv := fakebackend.New()
	defer srv.Close()
	srv.RevokeToken("student-token")
	api, store := newAPI(t, srv, "student-token")

	ch := New(api, WithReconnectPolicy(ReconnectPolicy{Delay: time.Millisecond}))
	err := ch.Run(context.Background())
	if !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("401 on the stream should clear the token")
	}
}

func TestCloseStopsRun(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	api, _ := newAPI(t, srv, "student-token")
	ch := New(api)

	done := make(chan error, 1)
	go func() { done <- ch.Run(context.Background()) }()
	eventually(t, "connection", ch.Connected)

	ch.Close()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if ch.Connected() {
		t.Fatal("expected disconnected after Close")
	}
}
