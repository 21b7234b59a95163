// Plume tracks emissions detection events, scores them for urgency and
// follows their response deadlines.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/plume/internal/archive"
	pc "github.com/linnemanlabs/plume/internal/cfg"
	"github.com/linnemanlabs/plume/internal/emissions"
	"github.com/linnemanlabs/plume/internal/emissions/filestore"
	"github.com/linnemanlabs/plume/internal/emissions/pgstore"
	"github.com/linnemanlabs/plume/internal/emissions/table"
	"github.com/linnemanlabs/plume/internal/eventapi"
	"github.com/linnemanlabs/plume/internal/llm/claude"
	"github.com/linnemanlabs/plume/internal/notify/slack"
	"github.com/linnemanlabs/plume/internal/postgres"
)

const appName = "plume"
const component = "server"

// maxBodyBytes caps every request body; import uploads are limited further by
// -max-upload-bytes.
const maxBodyBytes = 64 << 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    pc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// optional .env for local runs, real environment variables win
	if err := loadDotEnv(".env"); err != nil {
		return err
	}

	// Fill in config values from environment variables with prefix PLUME_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "PLUME_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}
	if appCfg.MaxUploadBytes > maxBodyBytes {
		return fmt.Errorf("max-upload-bytes %d exceeds the request body cap %d", appCfg.MaxUploadBytes, maxBodyBytes)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"data_dir", appCfg.DataDir,
		"postgres", appCfg.DatabaseURL != "",
		"assistant", appCfg.ClaudeAPIKey != "",
		"slack", appCfg.SlackWebhookURL != "",
		"report_bucket", appCfg.ReportBucket,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	storeMetrics := emissions.NewMetrics(m.Registry())

	// Initialize the event store
	var store emissions.Store
	if appCfg.DatabaseURL != "" {
		queryMetrics := postgres.NewQueryMetrics(m.Registry())
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL, L,
			postgres.WithMaxConns(int32(appCfg.DBMaxConns)), //nolint:gosec // G115: validated non-negative, pool sizes are small
			postgres.WithSlowQueryLog(time.Duration(appCfg.SlowQueryMillis)*time.Millisecond),
			postgres.WithQueryObserver(queryMetrics.Observe),
		)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		if err := seedFromDir(ctx, pgStore, appCfg.DataDir, L); err != nil {
			return fmt.Errorf("pgstore seed: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		fileStore, err := filestore.Open(appCfg.DataDir,
			filestore.WithLogger(L),
			filestore.WithPersistObserver(storeMetrics.PersistHook()),
		)
		if err != nil {
			return fmt.Errorf("filestore open: %w", err)
		}
		store = fileStore
		L.Info(ctx, "using csv file store", "data_dir", appCfg.DataDir)
	}

	svcOpts := []emissions.Option{emissions.WithMetrics(storeMetrics)}

	if appCfg.ClaudeAPIKey != "" {
		svcOpts = append(svcOpts, emissions.WithAssistant(claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)))
		L.Info(ctx, "initialized assistant", "provider", "claude", "model", appCfg.ClaudeModel)
	}

	if appCfg.SlackWebhookURL != "" {
		svcOpts = append(svcOpts, emissions.WithNotifier(slack.New(appCfg.SlackWebhookURL, L)))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	if appCfg.ReportBucket != "" {
		arch, err := archive.New(ctx, archive.Config{
			Bucket:          appCfg.ReportBucket,
			Region:          appCfg.S3Region,
			Endpoint:        appCfg.S3Endpoint,
			UsePathStyle:    appCfg.S3PathStyle,
			AccessKeyID:     appCfg.S3AccessKey,
			SecretAccessKey: appCfg.S3SecretKey,
		})
		if err != nil {
			return fmt.Errorf("report archive: %w", err)
		}
		svcOpts = append(svcOpts, emissions.WithArchiver(arch))
		L.Info(ctx, "report archive enabled", "bucket", appCfg.ReportBucket)
	}

	svc := emissions.NewService(store, L, svcOpts...)

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	r.Use(httpmw.AccessLog())

	r.Use(httpmw.MaxBody(maxBodyBytes))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	eventapi.New(L, svc, eventapi.WithMaxUploadBytes(appCfg.MaxUploadBytes)).RegisterRoutes(r)

	// middleware stack for main listener, order matters: outermost sees the
	// raw request first and the response last
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	h = m.Middleware(h)

	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	h = httpmw.Recover(L, nil)(h)

	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start eventapi http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop eventapi http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"eventapi http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// loadDotEnv loads path into the process environment if it exists. Variables
// already set are left alone.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// seedFromDir copies the CSV backing files in dir into the database. Assets
// are upserted and events already present are left untouched, so a restart
// never overwrites lifecycle changes made through postgres.
func seedFromDir(ctx context.Context, s *pgstore.Store, dir string, L log.Logger) error {
	assets, err := readSeed(filepath.Join(dir, filestore.AssetsFile), table.ReadAssets)
	if err != nil {
		return err
	}
	if len(assets) > 0 {
		if err := s.SeedAssets(ctx, assets); err != nil {
			return err
		}
	}

	events, err := readSeed(filepath.Join(dir, filestore.EventsFile), table.ReadEvents)
	if err != nil {
		return err
	}
	added, err := s.SeedEvents(ctx, events)
	if err != nil {
		return err
	}

	L.Info(ctx, "seeded postgres from csv", "data_dir", dir, "assets", len(assets), "events_added", added)
	return nil
}

// readSeed decodes path with decode. A missing file yields the zero value.
func readSeed[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path) //nolint:gosec // G304: path is built from operator config
	if errors.Is(err, os.ErrNotExist) {
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	out, err := decode(f)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", emissions.ErrStartup, path, err)
	}
	return out, nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
