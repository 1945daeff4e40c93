// Package fetch retrieves frame payloads from the store with bounded
// concurrency while preserving request order on the output channel.
//
// Each submission reserves a slot in a bounded queue of future channels
// before its fetch goroutine starts, so at most the configured number of
// fetches is ever in flight. The delivery side blocks on the head future,
// which makes output order equal submission order by construction.
package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/metric"
)

// Getter retrieves a stored object by key. Satisfied by store.FrameStore.
type Getter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Result carries one fetched frame, in submission order. Err is set when the
// fetch failed or timed out; Data is nil in that case.
type Result struct {
	Key  string
	Data []byte
	Err  error
}

// Pipeline fetches batches of keys with bounded concurrency.
type Pipeline struct {
	store       Getter
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger

	fetched  prometheus.Counter
	failed   prometheus.Counter
	inFlight prometheus.Gauge
	duration prometheus.Histogram
}

// New creates a Pipeline. The registry may be nil, in which case no metrics
// are exported.
func New(store Getter, cfg config.VideoConfig, logger *slog.Logger, registry *metric.MetricsRegistry) (*Pipeline, error) {
	if cfg.FetchConcurrency < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pipeline", "New", "fetch concurrency must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		store:       store,
		concurrency: cfg.FetchConcurrency,
		timeout:     cfg.FetchTimeout.Std(),
		logger:      logger,
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framevault_frames_fetched_total",
			Help: "Frames successfully fetched from the store",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framevault_frame_fetch_failures_total",
			Help: "Frame fetches that failed or timed out",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "framevault_frame_fetches_in_flight",
			Help: "Frame fetches currently outstanding",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "framevault_frame_fetch_duration_seconds",
			Help:    "Latency of individual frame fetches",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if registry != nil {
		if err := registry.RegisterCounter("fetch", "framevault_frames_fetched_total", p.fetched); err != nil {
			return nil, err
		}
		if err := registry.RegisterCounter("fetch", "framevault_frame_fetch_failures_total", p.failed); err != nil {
			return nil, err
		}
		if err := registry.RegisterGauge("fetch", "framevault_frame_fetches_in_flight", p.inFlight); err != nil {
			return nil, err
		}
		if err := registry.RegisterHistogram("fetch", "framevault_frame_fetch_duration_seconds", p.duration); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Run fetches the given keys and returns a channel that yields exactly one
// Result per key, in the same order as keys. The channel is closed when all
// results have been delivered or the context is cancelled.
func (p *Pipeline) Run(ctx context.Context, keys []string) <-chan Result {
	out := make(chan Result)
	// The window is the buffer plus the head future the deliverer has already
	// dequeued, so the buffer holds one less than the bound. Unbuffered when
	// the bound is 1.
	pending := make(chan chan Result, p.concurrency-1)

	// Submitter. Reserving the pending slot before spawning the fetch keeps
	// the number of in-flight fetches at or below the configured bound.
	go func() {
		defer close(pending)
		for _, key := range keys {
			fut := make(chan Result, 1)
			select {
			case pending <- fut:
			case <-ctx.Done():
				return
			}
			go p.fetchOne(ctx, key, fut)
		}
	}()

	// Deliverer. Blocking on the head future preserves submission order even
	// when later fetches complete first.
	go func() {
		defer close(out)
		for fut := range pending {
			res := <-fut
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (p *Pipeline) fetchOne(ctx context.Context, key string, fut chan<- Result) {
	p.inFlight.Inc()
	defer p.inFlight.Dec()

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.logger.Debug("Fetching frame", "key", key)
	started := time.Now()
	data, err := p.store.Get(fetchCtx, key)
	p.duration.Observe(time.Since(started).Seconds())

	if err != nil {
		p.failed.Inc()
		p.logger.Debug("Frame fetch failed", "key", key, "error", err)
		fut <- Result{Key: key, Err: errors.WrapTransient(err, "Pipeline", "fetchOne", key)}
		return
	}

	p.fetched.Inc()
	fut <- Result{Key: key, Data: data}
}
