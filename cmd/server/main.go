// Muster turns emergency trigger signals into dispatched alerts: it
// ingests device activations, opens incidents, fans alerts out across
// notification channels and an ESPA-style paging network, and tracks
// acknowledgment and escalation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/muster/internal/ack"
	"github.com/linnemanlabs/muster/internal/authmw"
	mc "github.com/linnemanlabs/muster/internal/cfg"
	"github.com/linnemanlabs/muster/internal/dispatch"
	"github.com/linnemanlabs/muster/internal/incident"
	"github.com/linnemanlabs/muster/internal/incident/memstore"
	"github.com/linnemanlabs/muster/internal/incident/pgstore"
	"github.com/linnemanlabs/muster/internal/notify/mailgw"
	"github.com/linnemanlabs/muster/internal/notify/mqttcast"
	"github.com/linnemanlabs/muster/internal/notify/slack"
	"github.com/linnemanlabs/muster/internal/notify/smsgw"
	"github.com/linnemanlabs/muster/internal/notify/webhook"
	"github.com/linnemanlabs/muster/internal/paging"
	"github.com/linnemanlabs/muster/internal/pipeline"
	"github.com/linnemanlabs/muster/internal/position"
	"github.com/linnemanlabs/muster/internal/position/mqttscan"
	"github.com/linnemanlabs/muster/internal/postgres"
	"github.com/linnemanlabs/muster/internal/site"
	"github.com/linnemanlabs/muster/internal/trigger"
	"github.com/linnemanlabs/muster/internal/trigger/memreg"
	"github.com/linnemanlabs/muster/internal/triggerapi"
	"github.com/linnemanlabs/muster/internal/voice"
	"github.com/linnemanlabs/muster/internal/voice/mqttcap"
)

const appName = "muster"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    mc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
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

	// Fill in config values from environment variables with prefix MUSTER_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "MUSTER_", func(format string, args ...any) {
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

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
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
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Load the site provisioning file: triggers, recipient roster,
	// positioning calibration data, paging devices.
	siteData := &site.Site{}
	if appCfg.SiteFile != "" {
		siteData, err = site.Load(appCfg.SiteFile)
		if err != nil {
			return fmt.Errorf("site provisioning: %w", err)
		}
		L.Info(ctx, "site provisioning loaded",
			"site_file", appCfg.SiteFile,
			"triggers", len(siteData.Triggers),
			"recipients", len(siteData.Recipients),
			"beacons", len(siteData.Beacons),
			"fingerprints", len(siteData.Fingerprints),
			"paging_devices", len(siteData.PagingDevices),
		)
	} else {
		L.Warn(ctx, "no site file configured, starting with an empty trigger registry")
	}

	registry := memreg.New(siteData.Triggers)
	ingestor := trigger.NewIngestor(registry, L)

	// Initialize the incident store
	var incidentStore incident.Store
	if appCfg.DatabaseURL != "" {
		pgStore, err := pgstore.New(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		defer pgStore.Close()
		incidentStore = pgStore
		L.Info(ctx, "using postgres incident store")
	} else {
		incidentStore = memstore.New()
		L.Info(ctx, "using in-memory incident store (no database-url configured)")
	}

	// Register per-query DB duration histogram and wire the observer.
	// Queries are labelled by store operation so timer- and cron-driven
	// writes show up alongside request-path ones.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "muster_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, route, outcome).Observe(dur.Seconds())
		},
	))

	// Build the notification channels configured for this deployment.
	var notifiers []dispatch.Notifier
	if appCfg.PushEndpoint != "" {
		notifiers = append(notifiers, webhook.New(appCfg.PushEndpoint))
		L.Info(ctx, "channel enabled", "channel", "push", "endpoint", appCfg.PushEndpoint)
	}
	if appCfg.SMSEndpoint != "" {
		notifiers = append(notifiers, smsgw.New(appCfg.SMSEndpoint, appCfg.SMSAPIKey))
		L.Info(ctx, "channel enabled", "channel", "sms", "endpoint", appCfg.SMSEndpoint)
	}
	if appCfg.MailEndpoint != "" {
		notifiers = append(notifiers, mailgw.New(appCfg.MailEndpoint, appCfg.MailAPIKey, appCfg.MailFrom))
		L.Info(ctx, "channel enabled", "channel", "email", "endpoint", appCfg.MailEndpoint)
	}
	if appCfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, slack.New(appCfg.SlackWebhookURL))
		L.Info(ctx, "channel enabled", "channel", "slack")
	}

	var broadcaster pipeline.Broadcaster
	if appCfg.MQTTBrokerURL != "" {
		caster, err := mqttcast.New(appCfg.MQTTBrokerURL, "muster-server", appCfg.MQTTTopic)
		if err != nil {
			return fmt.Errorf("mqtt broadcast: %w", err)
		}
		defer caster.Close()
		notifiers = append(notifiers, caster)
		broadcaster = caster
		L.Info(ctx, "channel enabled", "channel", "broadcast", "broker", appCfg.MQTTBrokerURL)
	}

	// Paging network adapter. A failed initial connect is not fatal:
	// alerts still go out on the other channels and the refresh schedule
	// retries the connection.
	var adapter *paging.Adapter
	if appCfg.PagingAddr != "" {
		adapter = paging.NewAdapter(paging.Options{
			Addr:              appCfg.PagingAddr,
			SystemTag:         appCfg.PagingSystemTag,
			HeartbeatInterval: time.Duration(appCfg.PagingHeartbeatSecs) * time.Second,
			LoadDevices:       siteData.PagingLoader(),
		}, L)
		if err := adapter.Connect(ctx); err != nil {
			L.Error(ctx, err, "paging connect failed, retrying on refresh schedule", "addr", appCfg.PagingAddr)
		}
		defer adapter.Close()
	}

	// Positioning: entity radio telemetry arrives over the broker and is
	// fused into last-known positions for location-scoped addressing.
	var (
		estimator  *position.Estimator
		directory  *position.Directory
		trackedIDs []string
	)
	if appCfg.MQTTBrokerURL != "" {
		scanner, err := mqttscan.New(appCfg.MQTTBrokerURL, "muster-scan", appCfg.TelemetryTopic, L)
		if err != nil {
			return fmt.Errorf("telemetry scanner: %w", err)
		}
		defer scanner.Close()
		estimator = position.NewEstimator(scanner,
			position.NewFingerprintStore(siteData.Fingerprints),
			position.NewBeaconSet(siteData.Beacons), L)
		directory = position.NewDirectory()
		trackedIDs = splitList(appCfg.TrackedEntityIDs)
		L.Info(ctx, "positioning enabled",
			"tracked_entities", len(trackedIDs),
			"fingerprints", len(siteData.Fingerprints),
			"beacons", len(siteData.Beacons),
		)
	}

	// Initialize the dispatcher with the configured channels. pager and
	// the position sources stay nil interfaces when unconfigured.
	var pager dispatch.Pager
	if adapter != nil {
		pager = adapter
	}
	var posSrc dispatch.PositionSource
	var locator dispatch.RecipientLocator
	if estimator != nil {
		posSrc = estimator
		locator = directory
	}
	dispatchMetrics := dispatch.NewMetrics(m.Registry())
	dispatcher := dispatch.NewDispatcher(notifiers, pager, posSrc, locator, dispatch.Options{
		MaxInFlight: appCfg.DispatchMaxInFlight,
	}, dispatchMetrics.Hooks(), L)

	// Acknowledgment tracker with auto-escalation backed by the dispatcher.
	ackMetrics := ack.NewMetrics(m.Registry())
	tracker := ack.NewTracker(
		pipeline.NewEscalator(dispatcher, incidentStore, L),
		time.Duration(appCfg.EscalationTimeoutSecs)*time.Second,
		ackMetrics.Hooks(), L)
	defer tracker.Close()

	// Pipeline service ties ingestion, incidents, dispatch, and tracking.
	var areas pipeline.AreaResolver
	if directory != nil {
		areas = directory
	}
	pipelineSvc := pipeline.NewService(ingestor, incidentStore, dispatcher, tracker,
		areas, site.NewRoster(siteData.Recipients), broadcaster, L)

	// Voice activation: edge devices publish recognized utterances over
	// the broker; a match submits a signal for the configured device.
	if appCfg.VoicePhrases != "" {
		capture, err := mqttcap.New(appCfg.MQTTBrokerURL, "muster-voice", appCfg.TelemetryTopic, appCfg.VoiceDeviceID, L)
		if err != nil {
			return fmt.Errorf("voice capture: %w", err)
		}
		defer capture.Close()
		phrases := splitList(appCfg.VoicePhrases)
		session := voice.NewSession(capture, voice.TextRecognizer{}, pipelineSvc, voice.Options{
			DeviceID: appCfg.VoiceDeviceID,
			Phrases:  phrases,
		}, L)
		// sessions end themselves after a quiet period; start the next
		// one until shutdown
		go func() {
			for ctx.Err() == nil {
				if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					L.Error(ctx, err, "voice session ended")
					return
				}
			}
		}()
		L.Info(ctx, "voice activation enabled", "device_id", appCfg.VoiceDeviceID, "phrases", len(phrases))
	}

	// Scheduled jobs: paging registry refresh (doubles as reconnect) and
	// position directory re-poll.
	sched := cron.New()
	if adapter != nil {
		if _, err := sched.AddFunc(appCfg.DeviceRefreshCron, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if adapter.State() != paging.StateConnected {
				if err := adapter.Connect(jobCtx); err != nil {
					L.Error(jobCtx, err, "paging reconnect failed", "addr", appCfg.PagingAddr)
				}
				return
			}
			if err := adapter.RefreshDevices(jobCtx); err != nil {
				L.Error(jobCtx, err, "paging device refresh failed")
			}
		}); err != nil {
			return fmt.Errorf("device refresh schedule: %w", err)
		}
	}
	if directory != nil && len(trackedIDs) > 0 {
		poller := position.NewPoller(estimator, directory, L)
		if _, err := sched.AddFunc(appCfg.PositionPollCron, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			poller.Poll(jobCtx, trackedIDs)
		}); err != nil {
			return fmt.Errorf("position poll schedule: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
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

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB covers signal payloads with photo refs

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes; device and operator credentials are separate
	// token classes so a leaked device token cannot work the event surface
	var pagerAck triggerapi.PagingAcker
	if adapter != nil {
		pagerAck = adapter
	}
	api := triggerapi.New(L, pipelineSvc, pagerAck)
	api.RegisterRoutes(r,
		authmw.BearerAny(splitList(appCfg.DeviceTokens)...),
		authmw.BearerAny(splitList(appCfg.OperatorTokens)...),
	)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start api HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
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
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
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

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// splitList parses a comma-separated flag value, trimming blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
