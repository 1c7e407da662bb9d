package effects

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/datastore/entities"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

// Defaults applied when DispatcherConfig leaves a field zero.
const (
	DefaultPollInterval    = time.Second
	DefaultBatchSize       = 50
	DefaultMaxAttempts     = 8
	DefaultInitialDelay    = 2 * time.Second
	DefaultMaxDelay        = 10 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultDeliveryTimeout = 30 * time.Second

	jitterFraction = 0.1
)

// Operation and status labels reported to Recorder
const (
	OpDeliver = "deliver"
	OpPoll    = "poll"

	StatusDelivered = "delivered"
	StatusRetry     = "retry"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// Sink receives envelopes. Deliver must be safe to call again with the same
// MessageID; delivery is at least once.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) error
}

// Alerter is told about envelopes that exhausted their attempts.
type Alerter interface {
	Alert(ctx context.Context, env Envelope, cause error) error
}

// Recorder receives dispatcher metrics.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(string, string) {}
func (noopRecorder) RecordDuration(string, float64) {}

// Outbox is the slice of the outbox repository the dispatcher needs.
type Outbox interface {
	Due(ctx context.Context, now time.Time, limit int) ([]entities.OutboxRecord, error)
	MarkDelivered(ctx context.Context, id uint, at time.Time) error
	MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error
	Requeue(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context) (datastore.OutboxStats, error)
}

// DispatcherConfig tunes polling and retry.
type DispatcherConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	DeliveryTimeout time.Duration

	Alerter Alerter
	Metrics Recorder
	Logger  logger.Logger
	Now     func() time.Time
}

func (c *DispatcherConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.Metrics == nil {
		c.Metrics = noopRecorder{}
	}
	if c.Logger == nil {
		c.Logger = logger.NewDiscardLogger()
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
}

// DispatcherStats counts what this dispatcher has done since it was created.
type DispatcherStats struct {
	Delivered uint64 `json:"delivered"`
	Retried   uint64 `json:"retried"`
	Failed    uint64 `json:"failed"`
	Panics    uint64 `json:"panics"`
}

// Dispatcher polls the outbox and hands due envelopes to a sink, retrying
// with exponential backoff and parking rows as failed after MaxAttempts.
type Dispatcher struct {
	outbox Outbox
	sink   Sink
	cfg    DispatcherConfig
	log    logger.Logger

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	processCancel context.CancelFunc
	loopDone      sync.WaitGroup
	batchMu       sync.Mutex

	delivered atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(outbox Outbox, sink Sink, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		outbox: outbox,
		sink:   sink,
		cfg:    cfg,
		log:    cfg.Logger.Module("effects").Module("dispatcher"),
		stopCh: make(chan struct{}),
	}
}

// Start begins polling until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	processCtx, cancel := context.WithCancel(ctx)
	d.processCancel = cancel
	stopCh := d.stopCh
	d.mu.Unlock()

	d.log.Info("outbox dispatcher started",
		logger.String("sink", d.sink.Name()),
		logger.Duration("poll_interval", d.cfg.PollInterval),
		logger.Int("max_attempts", d.cfg.MaxAttempts))

	d.loopDone.Add(1)
	go func() {
		defer d.loopDone.Done()
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-processCtx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if _, err := d.ProcessImmediately(processCtx); err != nil && processCtx.Err() == nil {
					d.log.Warn("outbox poll failed", logger.Error(err))
				}
			}
		}
	}()
}

// Stop stops polling and waits up to ten seconds for the in-flight batch.
func (d *Dispatcher) Stop() error {
	return d.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout stops polling and waits up to timeout for the in-flight batch.
func (d *Dispatcher) StopWithTimeout(timeout time.Duration) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	if d.processCancel != nil {
		d.processCancel()
		d.processCancel = nil
	}
	close(d.stopCh)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.loopDone.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("outbox dispatcher stopped")
		return nil
	case <-time.After(timeout):
		return errors.Newf("timed out waiting for outbox dispatcher after %v", timeout).
			Component("effects").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// ProcessImmediately delivers one batch of due envelopes and returns how
// many were delivered. Batches never overlap.
func (d *Dispatcher) ProcessImmediately(ctx context.Context) (int, error) {
	d.batchMu.Lock()
	defer d.batchMu.Unlock()

	start := time.Now()
	due, err := d.outbox.Due(ctx, d.cfg.Now(), d.cfg.BatchSize)
	if err != nil {
		d.cfg.Metrics.RecordOperation(OpPoll, StatusError)
		return 0, err
	}
	d.cfg.Metrics.RecordOperation(OpPoll, StatusDelivered)

	delivered := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := d.deliver(ctx, &due[i])
		if err != nil {
			return delivered, err
		}
		if ok {
			delivered++
		}
	}
	d.cfg.Metrics.RecordDuration(OpPoll, time.Since(start).Seconds())
	return delivered, nil
}

// Drain processes batches until nothing is due or ctx ends.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := d.ProcessImmediately(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Requeue makes failed rows pending again.
func (d *Dispatcher) Requeue(ctx context.Context) (int64, error) {
	n, err := d.outbox.Requeue(ctx, d.cfg.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.Info("requeued failed effects", logger.Int64("count", n))
	}
	return n, nil
}

// Stats returns counters for this dispatcher.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
		Panics:    d.panics.Load(),
	}
}

// deliver sends one record and updates its row. It only returns an error
// when the outbox itself could not be updated.
func (d *Dispatcher) deliver(ctx context.Context, rec *entities.OutboxRecord) (bool, error) {
	env := EnvelopeFromRecord(rec)
	log := d.log.WithContext(ctx).With(
		logger.String("message_id", env.MessageID),
		logger.String("kind", string(env.Kind)),
		logger.Uint64("observation_id", uint64(env.ObservationID)),
		logger.Int("attempt", env.Attempt))

	start := time.Now()
	err := d.send(ctx, env)
	d.cfg.Metrics.RecordDuration(OpDeliver, time.Since(start).Seconds())

	if err == nil {
		d.delivered.Add(1)
		d.cfg.Metrics.RecordOperation(OpDeliver, StatusDelivered)
		if env.Attempt > 1 {
			log.Info("effect delivered after retry")
		} else {
			log.Debug("effect delivered")
		}
		return true, d.outbox.MarkDelivered(ctx, rec.ID, d.cfg.Now())
	}

	if env.Attempt >= d.cfg.MaxAttempts {
		d.failed.Add(1)
		d.cfg.Metrics.RecordOperation(OpDeliver, StatusFailed)
		log.Error("effect delivery failed permanently", logger.Error(err))
		if markErr := d.outbox.MarkFailed(ctx, rec.ID, env.Attempt, err.Error()); markErr != nil {
			return false, markErr
		}
		if d.cfg.Alerter != nil {
			if alertErr := d.cfg.Alerter.Alert(ctx, env, err); alertErr != nil {
				log.Warn("dead-letter alert failed", logger.Error(alertErr))
			}
		}
		return false, nil
	}

	d.retried.Add(1)
	d.cfg.Metrics.RecordOperation(OpDeliver, StatusRetry)
	delay := d.backoff(env.Attempt)
	log.Warn("effect delivery failed, will retry",
		logger.Error(err),
		logger.Duration("retry_in", delay))
	return false, d.outbox.MarkRetry(ctx, rec.ID, env.Attempt, d.cfg.Now().Add(delay), err.Error())
}

// send runs the sink with a deadline and turns a panic into an error.
func (d *Dispatcher) send(ctx context.Context, env Envelope) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.panics.Add(1)
				result <- errors.Newf("sink %s panicked: %v", d.sink.Name(), r).
					Component("effects").
					Category(errors.CategoryDispatch).
					Build()
			}
		}()
		result <- d.sink.Deliver(sendCtx, env)
	}()

	select {
	case err := <-result:
		return err
	case <-sendCtx.Done():
		return errors.New(fmt.Errorf("delivery to %s aborted: %w", d.sink.Name(), sendCtx.Err())).
			Component("effects").
			Category(errors.CategoryTimeout).
			Context("message_id", env.MessageID).
			Build()
	}
}

// backoff returns InitialDelay * Multiplier^(attempt-1), jittered by ten
// percent and capped at MaxDelay.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	return calculateBackoffDelay(d.cfg.InitialDelay, d.cfg.MaxDelay, d.cfg.Multiplier, attempt)
}

func calculateBackoffDelay(initial, maxDelay time.Duration, multiplier float64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	jitter := delay * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter needs no crypto randomness
	delay += jitter
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}
