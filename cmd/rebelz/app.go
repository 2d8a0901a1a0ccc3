package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/config"
	"github.com/KobaKhit/rebelzapp-sub001/internal/guard"
	"github.com/KobaKhit/rebelzapp-sub001/internal/logging"
	"github.com/KobaKhit/rebelzapp-sub001/internal/metrics"
	"github.com/KobaKhit/rebelzapp-sub001/internal/navigation"
	"github.com/KobaKhit/rebelzapp-sub001/internal/preferences"
	"github.com/KobaKhit/rebelzapp-sub001/internal/rbac"
	"github.com/KobaKhit/rebelzapp-sub001/internal/session"
	"github.com/KobaKhit/rebelzapp-sub001/internal/telemetry"
	"github.com/KobaKhit/rebelzapp-sub001/internal/tokenstore"
)

// skipSetup marks commands that run without config, tokens or a session.
const skipSetup = "rebelz/skip-setup"

type globalFlags struct {
	apiURL       string
	configPath   string
	tokenBackend string
	jsonOut      bool
	logLevel     string
	metricsAddr  string
}

// app holds everything a command needs. Fields are populated by setup.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	flags  globalFlags
	stdin  *bufio.Reader

	cfg       config.Config
	logger    *zap.Logger
	tokens    *tokenstore.Store
	api       *apiclient.Client
	sessions  *session.Resolver
	evaluator *rbac.Evaluator
	guard     *guard.Guard
	prefs     *preferences.File
	views     *navigation.Composer

	metricsSrv    *http.Server
	stopTracing   func(context.Context) error
	readyForClose bool
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, logger: zap.NewNop()}
}

// input is the shared buffered reader over in, so successive prompts do not
// lose buffered lines.
func (a *app) input() *bufio.Reader {
	if a.stdin == nil {
		a.stdin = bufio.NewReader(a.in)
	}
	return a.stdin
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rebelz",
		Short:         "Terminal client for the Rebelz platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipSetup] == "true" {
				return nil
			}
			return a.setup(cmd.Context())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.flags.apiURL, "api-url", "", "platform API base URL (env REBELZ_API_URL)")
	f.StringVar(&a.flags.configPath, "config", "", "config file (default ~/.config/rebelz/config.yaml)")
	f.StringVar(&a.flags.tokenBackend, "token-backend", "", "token storage: file, sqlite, redis, postgres, mysql or memory")
	f.BoolVar(&a.flags.jsonOut, "json", false, "print JSON instead of tables")
	f.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newWhoAmICmd(a),
		newDashboardCmd(a),
		newNavCmd(a),
		newViewCmd(a),
		newEventsCmd(a),
		newRegistrationsCmd(a),
		newAttendanceCmd(a),
		newChatCmd(a),
		newAdminCmd(a),
		newAssistantCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.apiURL != "" {
		cfg.APIURL = a.flags.apiURL
	}
	if a.flags.tokenBackend != "" {
		cfg.Token.Backend = a.flags.tokenBackend
	}
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
	}
	if a.flags.metricsAddr != "" {
		cfg.MetricsAddr = a.flags.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.readyForClose = true

	a.logger, err = logging.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		return err
	}

	if cfg.HasTracing() {
		telemetry.SetLogger(logging.Logr(a.logger.Named("otel")))
		a.stopTracing, err = telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
		if err != nil {
			a.logger.Warn("tracing disabled", zap.Error(err))
		}
	}
	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}

	backend, err := openBackend(ctx, cfg.Token)
	if err != nil {
		return err
	}
	a.tokens, err = tokenstore.Open(ctx, backend, a.logger.Named("tokens"))
	if err != nil {
		_ = backend.Close()
		return err
	}

	opts := []apiclient.Option{apiclient.WithLogger(a.logger.Named("api"))}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		opts = append(opts, apiclient.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}
	a.api, err = apiclient.New(cfg.APIURL, a.tokens, opts...)
	if err != nil {
		return err
	}

	a.prefs = preferences.Open(cfg.PreferencesPath)
	a.views = navigation.NewComposer(a.prefs)
	a.evaluator = rbac.NewEvaluator(rbac.DefaultTable())
	a.sessions = session.New(a.tokens, a.api, session.WithLogger(a.logger.Named("session")))
	a.guard = guard.New(a.sessions, a.evaluator, a.views.LandingFor)
	a.sessions.Start(ctx)
	return nil
}

func openBackend(ctx context.Context, tc config.TokenConfig) (tokenstore.Backend, error) {
	switch tc.Backend {
	case config.BackendSQLite:
		path := tc.Path
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, fmt.Errorf("resolve config dir: %w", err)
			}
			path = filepath.Join(dir, "rebelz", "rebelz.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create token dir: %w", err)
		}
		return tokenstore.NewSQLiteBackend(path)
	case config.BackendRedis:
		return tokenstore.NewRedisBackend(ctx, tc.RedisURL, tc.RedisKey)
	case config.BackendPostgres, config.BackendMySQL:
		return tokenstore.NewSQLBackend(ctx, tc.Backend, tc.DSN)
	case config.BackendMemory:
		return tokenstore.NewMemoryBackend(), nil
	default:
		return tokenstore.NewFileBackend(tc.Path)
	}
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
	a.logger.Debug("serving metrics", zap.String("addr", addr))
}

func (a *app) close() {
	if !a.readyForClose {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.tokens != nil {
		if err := a.tokens.Close(); err != nil {
			a.logger.Debug("closing token store", zap.Error(err))
		}
	}
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(ctx)
	}
	if a.stopTracing != nil {
		if err := a.stopTracing(ctx); err != nil {
			a.logger.Debug("flushing traces", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// loginRequiredError is the CLI rendering of a login redirect.
type loginRequiredError struct {
	From string
}

func (e *loginRequiredError) Error() string {
	if e.From == "" {
		return "login required: run 'rebelz login'"
	}
	return fmt.Sprintf("login required: run 'rebelz login', then '%s' will be suggested again", e.From)
}

type runFunc func(ctx context.Context, res guard.Result, args []string) error

// route runs fn behind the guard. A login redirect becomes a
// loginRequiredError and remembers the command; a landing redirect silently
// shows the landing view instead.
func (a *app) route(req guard.Requirement, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, span := telemetry.StartCommandSpan(cmd.Context(), cmd.CommandPath())
		defer span.End()

		loc := strings.TrimSpace(cmd.CommandPath() + " " + strings.Join(args, " "))
		res, err := a.guard.Enforce(ctx, req, loc)
		if err != nil {
			return err
		}

		switch res.Kind {
		case guard.RedirectLogin:
			if err := a.prefs.RememberReturn(res.From); err != nil {
				a.logger.Debug("could not remember command", zap.Error(err))
			}
			return &loginRequiredError{From: res.From}
		case guard.RedirectLanding:
			a.logger.Debug("redirecting to landing", zap.String("from", loc), zap.String("to", res.Target))
			return a.renderLanding(ctx, res)
		}
		return fn(ctx, res, args)
	}
}

// startRefresh refreshes the profile on the configured schedule until the
// returned func is called.
func (a *app) startRefresh(ctx context.Context) func() {
	if a.cfg.RefreshSchedule == "" {
		return func() {}
	}
	c := cron.New()
	_, err := c.AddFunc(a.cfg.RefreshSchedule, func() {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := a.sessions.Refresh(rctx); err != nil {
			a.logger.Debug("profile refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		a.logger.Warn("invalid refresh schedule", zap.Error(err))
		return func() {}
	}
	c.Start()
	return func() { <-c.Stop().Done() }
}
