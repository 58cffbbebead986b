package sensorhub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/eldaeon/sensorhub/internal/adapters/gpsd"
	"github.com/eldaeon/sensorhub/internal/adapters/gqdevice"
	"github.com/eldaeon/sensorhub/internal/adapters/httpapi"
	"github.com/eldaeon/sensorhub/internal/adapters/nmea"
	"github.com/eldaeon/sensorhub/internal/adapters/observability"
	"github.com/eldaeon/sensorhub/internal/adapters/queue"
	"github.com/eldaeon/sensorhub/internal/adapters/serialport"
	"github.com/eldaeon/sensorhub/internal/adapters/sink"
	"github.com/eldaeon/sensorhub/internal/adapters/stream"
	"github.com/eldaeon/sensorhub/internal/app/gps"
	"github.com/eldaeon/sensorhub/internal/app/pipeline"
	"github.com/eldaeon/sensorhub/internal/app/poller"
	"github.com/eldaeon/sensorhub/internal/app/store"
	"github.com/eldaeon/sensorhub/internal/ports"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	mqttDialTimeout        = 5 * time.Second
)

// EdgeRuntimeOption customizes the dependencies used by EdgeRuntime.
type EdgeRuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	store         *Store
	sinks         []Sink
	observability Observability
	opener        Opener
	gps           GPSProvider
	clock         Clock
}

// WithStore shares an existing store, for example between a runtime and a test harness.
func WithStore(st *Store) EdgeRuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = st
	}
}

// WithSink adds an export sink next to the ones enabled in the config. It may be given more than once.
func WithSink(s Sink) EdgeRuntimeOption {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithObservability replaces the Prometheus backend. /metrics is not served in that case.
func WithObservability(obs Observability) EdgeRuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithOpener replaces the serial opener for every device, which is how simulators plug in.
func WithOpener(op Opener) EdgeRuntimeOption {
	return func(o *runtimeOverrides) {
		o.opener = op
	}
}

// WithGPSProvider replaces the provider named in gps.provider. GPS must still be enabled.
func WithGPSProvider(p GPSProvider) EdgeRuntimeOption {
	return func(o *runtimeOverrides) {
		o.gps = p
	}
}

func WithClock(c Clock) EdgeRuntimeOption {
	return func(o *runtimeOverrides) {
		o.clock = c
	}
}

// EdgeRuntime wires pollers and the GPS worker into the store, and the store
// into the REST API, the push hub and the export sinks.
type EdgeRuntime struct {
	cfg   *Config
	obs   ports.Observability
	prom  *observability.PromObs
	clock ports.Clock

	store    *store.Store
	pollers  []*poller.Poller
	gps      *gps.Worker
	hub      *stream.Hub
	exporter *pipeline.Exporter
	handler  http.Handler

	httpSrv    *http.Server
	metricsSrv *http.Server
	logCloser  io.Closer

	mu           sync.Mutex
	started      bool
	cancel       context.CancelFunc
	exportCancel context.CancelFunc
	wg           sync.WaitGroup
	exportDone   chan struct{}
	serveErrs    chan error
}

// NewEdgeRuntime builds every component from cfg without starting anything.
// Sinks are dialed here; a broker that is down at startup is retried in the
// background by the MQTT client.
func NewEdgeRuntime(cfg *Config, opts ...EdgeRuntimeOption) (*EdgeRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &EdgeRuntime{cfg: cfg, clock: overrides.clock}
	if rt.clock == nil {
		rt.clock = ports.SystemClock{}
	}
	rt.obs = overrides.observability
	if rt.obs == nil {
		rt.prom = observability.NewPromObs(nil)
		rt.obs = rt.prom
	}

	rt.store = overrides.store
	if rt.store == nil {
		rt.store = store.New(cfg.History, store.WithClock(rt.clock), store.WithObservability(rt.obs))
	}

	if err := rt.buildPollers(overrides.opener); err != nil {
		return nil, err
	}
	if err := rt.buildGPS(overrides.gps); err != nil {
		return nil, err
	}

	rt.hub = stream.NewHub(cfg.Stream, rt.store, rt.obs)
	rt.store.AddListener(rt.hub)

	sinks, err := rt.buildSinks()
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, overrides.sinks...)
	if len(sinks) > 0 {
		pol := pipeline.NormalizePolicy(cfg.Policy)
		rt.exporter = pipeline.NewExporter(queue.NewMemQueue(pol.MaxQueueLen), sinks, pol, rt.obs)
		rt.store.AddListener(rt.exporter)
	}

	routerOpts := httpapi.Options{
		Store:  rt.store,
		Status: func() any { return rt.Status() },
		Stream: rt.hub,
		Obs:    rt.obs,
		Clock:  rt.clock,
	}
	if rt.prom != nil {
		routerOpts.Metrics = rt.prom.Handler()
	}
	rt.handler = httpapi.NewRouter(routerOpts)

	return rt, nil
}

func (e *EdgeRuntime) buildPollers(override ports.Opener) error {
	claims := poller.NewClaims()
	for i, d := range e.cfg.Devices {
		model, err := gqdevice.Lookup(d.Poller.Driver, d.Poller.Identity)
		if err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		var opener ports.Opener = serialport.NewOpener(d.Serial)
		if override != nil {
			opener = override
		}
		p, err := poller.New(d.Poller, model, opener, e.store,
			poller.WithClaims(claims),
			poller.WithClock(e.clock),
			poller.WithObservability(e.obs),
		)
		if err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		e.pollers = append(e.pollers, p)
	}
	return nil
}

func (e *EdgeRuntime) buildGPS(override ports.GPSProvider) error {
	c := e.cfg.GPS
	if !c.Enabled {
		return nil
	}
	provider := override
	if provider == nil {
		switch c.Provider {
		case "gpsd":
			provider = gpsd.New(c.Addr, c.StaleAfter, c.FixTimeout)
		case "nmea":
			provider = nmea.New(c.Device, c.Baud, c.StaleAfter)
		default:
			return fmt.Errorf("gps: unknown provider %q", c.Provider)
		}
	}
	src := gps.NewSource(provider, c.FixTimeout, e.obs)
	e.gps = gps.NewWorker(src, e.store, c.Interval, e.clock)
	return nil
}

func (e *EdgeRuntime) buildSinks() ([]ports.Sink, error) {
	var (
		out []ports.Sink
		sc  = e.cfg.Sinks
	)
	if sc.Timescale != nil {
		db, err := sql.Open("postgres", sc.Timescale.ConnString)
		if err != nil {
			return nil, fmt.Errorf("timescale: %w", err)
		}
		out = append(out, sink.NewTimescaleSink(db, sc.Timescale.Table))
	}
	if sc.MQTT != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mqttDialTimeout)
		m, err := sink.DialMQTT(ctx, *sc.MQTT)
		cancel()
		if err != nil {
			closeSinks(out)
			return nil, err
		}
		out = append(out, m)
	}
	if sc.Redis != nil {
		out = append(out, sink.NewRedisSink(sink.NewRedisClient(*sc.Redis), *sc.Redis))
	}
	return out, nil
}

func closeSinks(sinks []ports.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// Store exposes the runtime's store for reads or for writing samples from
// sources the runtime does not drive itself.
func (e *EdgeRuntime) Store() *Store { return e.store }

// Handler is the REST, push and metrics router. It is served on http.addr by
// Start, and can be mounted elsewhere by embedders.
func (e *EdgeRuntime) Handler() http.Handler { return e.handler }

// Start launches the workers and the HTTP listeners and returns immediately.
func (e *EdgeRuntime) Start() error {
	if e == nil {
		return fmt.Errorf("edge runtime is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("edge runtime already started")
	}
	e.started = true

	if e.prom != nil && e.cfg.Log.File != "" {
		e.logCloser = observability.SetupLogging(e.cfg.Log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.serveErrs = make(chan error, 2)

	for _, p := range e.pollers {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			// A missing device leaves its slot degraded; the rest keep running.
			if err := p.Run(ctx); err != nil {
				e.obs.LogError("poller_stopped", err, ports.Field{Key: "device", Value: p.Name()})
			}
		}()
	}
	if e.gps != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			_ = e.gps.Run(ctx)
		}()
	}

	if e.exporter != nil {
		exportCtx, exportCancel := context.WithCancel(context.Background())
		e.exportCancel = exportCancel
		e.exportDone = make(chan struct{})
		go func() {
			defer close(e.exportDone)
			_ = e.exporter.Run(exportCtx)
		}()
	}

	e.httpSrv = &http.Server{
		Addr:              e.cfg.HTTP.Addr,
		Handler:           e.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.serve(e.httpSrv, "http")

	if e.prom != nil && e.cfg.Metrics.Addr != "" {
		e.metricsSrv = &http.Server{
			Addr:              e.cfg.Metrics.Addr,
			Handler:           e.prom.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		e.serve(e.metricsSrv, "metrics")
	}

	e.obs.LogInfo("runtime_started",
		ports.Field{Key: "devices", Value: len(e.pollers)},
		ports.Field{Key: "gps", Value: e.gps != nil},
		ports.Field{Key: "http", Value: e.cfg.HTTP.Addr})
	return nil
}

func (e *EdgeRuntime) serve(srv *http.Server, name string) {
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.obs.LogCritical("server_exited", err, ports.Field{Key: "server", Value: name})
			e.serveErrs <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

// Run starts the runtime and blocks until ctx is cancelled or a listener
// fails, then shuts down gracefully.
func (e *EdgeRuntime) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-e.serveErrs:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, e.Shutdown(shutdownCtx))
}

// Shutdown stops the workers, the listeners and the hub, drains the export
// queue into the sinks and closes them. It is bounded by ctx.
func (e *EdgeRuntime) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		if e.exporter != nil {
			return e.exporter.Close()
		}
		return nil
	}
	e.started = false

	var errs []error

	e.cancel()
	workersDone := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for workers: %w", ctx.Err()))
	}

	for _, srv := range []*http.Server{e.httpSrv, e.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if err := e.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if e.exporter != nil {
		e.exportCancel()
		select {
		case <-e.exportDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("drain exporter: %w", ctx.Err()))
		}
		if err := e.exporter.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if e.logCloser != nil {
		if err := e.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	e.obs.LogInfo("runtime_stopped")
	return errors.Join(errs...)
}

// RuntimeStatus is served on /status.
type RuntimeStatus struct {
	Devices     []poller.Status `json:"devices"`
	GPS         *gps.Status     `json:"gps,omitempty"`
	Subscribers int             `json:"subscribers"`
	HistorySize int             `json:"history_frames"`
	ExportDrops int             `json:"export_dropped"`
}

func (e *EdgeRuntime) Status() RuntimeStatus {
	st := RuntimeStatus{
		Devices:     make([]poller.Status, 0, len(e.pollers)),
		Subscribers: e.hub.Count(),
		HistorySize: e.store.Len(),
	}
	for _, p := range e.pollers {
		st.Devices = append(st.Devices, p.Status())
	}
	if e.gps != nil {
		g := e.gps.Source().Status()
		st.GPS = &g
	}
	if e.exporter != nil {
		st.ExportDrops = e.exporter.Dropped()
	}
	return st
}
