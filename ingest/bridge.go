// Package ingest bridges a JetStream subject of camera snapshots into the
// frame store. Messages carry a JSON envelope with a base64 image; each good
// envelope becomes one stored frame under its canonical key.
//
// Delivery is at-least-once. A message that cannot be parsed is acknowledged
// and dropped, since redelivery would never fix it. A message that parsed but
// failed to store is negatively acknowledged so the server redelivers it.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/framekey"
	"github.com/c360/framevault/metric"
	"github.com/c360/framevault/pkg/retry"
)

// State tracks the bridge lifecycle.
type State int32

// Bridge lifecycle states
const (
	StateCreated State = iota
	StateRunning
	StateShuttingDown
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Envelope is the wire format of one ingested snapshot.
type Envelope struct {
	Timestamp    string `json:"timestamp"`
	CameraID     string `json:"cameraId"`
	LocationName string `json:"locationName"`
	Image        string `json:"image"`
}

// Putter is the slice of the frame store the bridge needs.
type Putter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionNak
)

// Bridge consumes the ingest stream and writes frames to the store.
type Bridge struct {
	js     jetstream.JetStream
	store  Putter
	cfg    config.IngestConfig
	logger *slog.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	stored  prometheus.Counter
	dropped prometheus.Counter
}

// New creates a Bridge in the Created state. The registry may be nil.
func New(js jetstream.JetStream, store Putter, cfg config.IngestConfig, logger *slog.Logger, registry *metric.MetricsRegistry) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		js:     js,
		store:  store,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framevault_ingest_frames_stored_total",
			Help: "Snapshots successfully written to the frame store",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framevault_ingest_messages_dropped_total",
			Help: "Ingest messages dropped because their envelope was unusable",
		}),
	}

	if registry != nil {
		if err := registry.RegisterCounter("ingest", "framevault_ingest_frames_stored_total", b.stored); err != nil {
			return nil, err
		}
		if err := registry.RegisterCounter("ingest", "framevault_ingest_messages_dropped_total", b.dropped); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Start binds the consumer and launches the poll loop. A missing stream
// closes the bridge immediately; it never reaches Running.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "start")
	}

	stream, err := b.js.Stream(ctx, b.cfg.Stream)
	if err != nil {
		b.state.Store(int32(StateClosed))
		close(b.done)
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return errors.WrapFatal(errors.ErrStreamMissing, "Bridge", "Start", b.cfg.Stream)
		}
		return errors.WrapTransient(err, "Bridge", "Start", "look up stream "+b.cfg.Stream)
	}

	consumer, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (jetstream.Consumer, error) {
		return stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       b.cfg.Consumer,
			FilterSubject: b.cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
		})
	})
	if err != nil {
		b.state.Store(int32(StateClosed))
		close(b.done)
		return errors.WrapTransient(err, "Bridge", "Start", "bind consumer "+b.cfg.Consumer)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.run(runCtx, consumer)

	b.logger.Info("Ingest bridge started",
		"stream", b.cfg.Stream,
		"subject", b.cfg.Subject,
		"consumer", b.cfg.Consumer,
	)
	return nil
}

// run polls the consumer until cancelled. Fetch errors back off briefly
// instead of spinning against an unavailable server.
func (b *Bridge) run(ctx context.Context, consumer jetstream.Consumer) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := consumer.Fetch(b.cfg.BatchSize, jetstream.FetchMaxWait(b.cfg.PollTimeout.Std()))
		if err != nil {
			b.logger.Warn("Ingest fetch failed, backing off", "error", err)
			b.sleep(ctx, b.cfg.ErrorBackoff.Std())
			continue
		}

		for msg := range batch.Messages() {
			switch b.handle(ctx, msg.Data()) {
			case dispositionAck:
				if err := msg.Ack(); err != nil {
					b.logger.Warn("Ack failed", "error", err)
				}
			case dispositionNak:
				if err := msg.Nak(); err != nil {
					b.logger.Warn("Nak failed", "error", err)
				}
			}
		}

		if err := batch.Error(); err != nil {
			b.logger.Warn("Ingest batch ended with error", "error", err)
			b.sleep(ctx, b.cfg.ErrorBackoff.Std())
		}
	}
}

// handle processes one message body and decides its acknowledgement.
func (b *Bridge) handle(ctx context.Context, data []byte) disposition {
	key, image, err := decodeSnapshot(data)
	if err != nil {
		b.dropped.Inc()
		b.logger.Warn("Dropping unusable ingest message", "error", err)
		return dispositionAck
	}

	if err := b.store.Put(ctx, key, image, "image/jpeg"); err != nil {
		b.logger.Warn("Frame store write failed, requesting redelivery", "key", key, "error", err)
		return dispositionNak
	}

	b.stored.Inc()
	b.logger.Debug("Stored ingested frame", "key", key, "bytes", len(image))
	return dispositionAck
}

// decodeSnapshot validates an envelope and returns the frame key and image
// payload it describes.
func decodeSnapshot(data []byte) (string, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, errors.WrapInvalid(errors.ErrBadEnvelope, "Bridge", "decodeSnapshot", "parse JSON")
	}
	if env.CameraID == "" || env.LocationName == "" || env.Image == "" {
		return "", nil, errors.WrapInvalid(errors.ErrBadEnvelope, "Bridge", "decodeSnapshot", "missing required fields")
	}

	instant, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return "", nil, errors.WrapInvalid(errors.ErrInvalidTimestamp, "Bridge", "decodeSnapshot", env.Timestamp)
	}

	image, err := base64.StdEncoding.DecodeString(env.Image)
	if err != nil {
		return "", nil, errors.WrapInvalid(errors.ErrBadEnvelope, "Bridge", "decodeSnapshot", "decode image")
	}

	return framekey.Encode(env.LocationName, env.CameraID, instant), image, nil
}

func (b *Bridge) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Stop transitions to ShuttingDown, waits for the poll loop to drain, and
// closes the bridge. Stopping a bridge that never started just closes it.
func (b *Bridge) Stop(timeout time.Duration) error {
	if b.state.CompareAndSwap(int32(StateCreated), int32(StateClosed)) {
		return nil
	}
	if !b.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return errors.WrapInvalid(errors.ErrNotStarted, "Bridge", "Stop", "stop")
	}

	if b.cancel != nil {
		b.cancel()
	}

	select {
	case <-b.done:
	case <-time.After(timeout):
		b.state.Store(int32(StateClosed))
		return errors.WrapTransient(errors.ErrShuttingDown, "Bridge", "Stop",
			"poll loop did not drain within "+timeout.String())
	}

	b.state.Store(int32(StateClosed))
	b.logger.Info("Ingest bridge stopped")
	return nil
}
