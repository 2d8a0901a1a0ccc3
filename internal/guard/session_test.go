package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
	"github.com/KobaKhit/rebelzapp-sub001/internal/session"
	"github.com/KobaKhit/rebelzapp-sub001/internal/tokenstore"
)

var _ = Describe("Guard with a live session", func() {
	var (
		srv      *httptest.Server
		tokens   *tokenstore.Store
		api      *apiclient.Client
		sessions *session.Resolver
		g        *Guard
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		mux := http.NewServeMux()
		mux.HandleFunc("/auth/me", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":5,"email":"student@example.com","is_active":true,"roles":["student"]}`))
		})
		mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"detail":"Could not validate credentials"}`, http.StatusUnauthorized)
		})
		srv = httptest.NewServer(mux)

		var err error
		tokens, err = tokenstore.Open(ctx, tokenstore.NewMemoryBackend(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(tokens.Set(ctx, "student-token")).To(Succeed())

		api, err = apiclient.New(srv.URL, tokens)
		Expect(err).NotTo(HaveOccurred())

		sessions = session.New(tokens, api)
		sessions.Start(ctx)
		g = New(sessions, rbac.NewEvaluator(rbac.DefaultTable()), nil)
	})

	AfterEach(func() {
		sessions.Close()
		srv.Close()
		cancel()
	})

	It("sends the user to login as soon as a request is rejected with 401", func() {
		res, err := g.Enforce(ctx, Requirement{}, "/dashboard")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Kind).To(Equal(Render))

		_, err = api.Fetch(ctx, apiclient.Request{Method: http.MethodGet, Path: "/events/"})
		Expect(err).To(MatchError(apiclient.ErrUnauthorized))
		_, ok := tokens.Get()
		Expect(ok).To(BeFalse())

		res, err = g.Enforce(ctx, Requirement{}, "/dashboard")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Decision).To(Equal(Decision{Kind: RedirectLogin, From: "/dashboard"}))
	})
})
