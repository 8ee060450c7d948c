package sync

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/zoobzio/capitan"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// maxJitter is the exclusive upper bound of the random delay added to each
// backoff sleep.
const maxJitter = 300 * time.Millisecond

// RetryPolicy configures the Executor.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts; values below 1 mean 1.
	MaxRetries int
	BaseDelay  time.Duration
	Backoff    Backoff
	// Jitter returns the random extra delay. Nil uses a uniform value in [0, 300ms).
	Jitter func() time.Duration
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Backoff:    BackoffExponential,
	}
}

// Attempts returns the effective number of attempts.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// BaseDelayFor returns the delay after a failed attempt (0-based), without
// jitter: base*(attempt+1) for linear, base*2^attempt for exponential.
func (p RetryPolicy) BaseDelayFor(attempt int) time.Duration {
	if p.Backoff == BackoffLinear {
		return p.BaseDelay * time.Duration(attempt+1)
	}
	return p.BaseDelay * time.Duration(1<<attempt)
}

// Delay returns BaseDelayFor(attempt) plus jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	return p.BaseDelayFor(attempt) + jitter()
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter)))
}

// Outcome is the result of Execute.
type Outcome int

const (
	// Failed means the record was neither delivered nor queued.
	Failed Outcome = iota
	// Delivered means the remote store accepted the record.
	Delivered
	// Queued means delivery failed and the record is in the pending queue.
	Queued
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	default:
		return "failed"
	}
}

// Writer delivers one record to the remote store.
type Writer interface {
	Push(ctx context.Context, r *schema.WasteRecord) error
}

// Executor writes records with retry and backoff, diverting records that
// exhaust their attempts to the pending queue.
type Executor struct {
	mu           sync.RWMutex
	writer       Writer
	state        *State
	policy       RetryPolicy
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewExecutor creates an executor over writer, queueing into state.Queue.
func NewExecutor(writer Writer, state *State, policy RetryPolicy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		writer:       writer,
		state:        state,
		policy:       policy,
		writeTimeout: remote.DefaultWriteTimeout,
		logger:       logger,
	}
}

// SetPolicy replaces the retry policy for subsequent calls.
func (e *Executor) SetPolicy(p RetryPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

// Policy returns the current retry policy.
func (e *Executor) Policy() RetryPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Attempt makes a single delivery attempt bounded by the write timeout.
func (e *Executor) Attempt(ctx context.Context, r *schema.WasteRecord) error {
	ctx, cancel := e.state.Clock.WithTimeout(ctx, e.writeTimeout)
	defer cancel()
	return e.writer.Push(ctx, r)
}

// Execute delivers r, retrying with backoff. When every attempt fails the
// record is queued and Execute returns (Queued, nil). The error is non-nil
// only for ErrMalformedConfig, which is never retried, or when the queue
// write itself fails; then the last delivery error is returned.
func (e *Executor) Execute(ctx context.Context, r schema.WasteRecord) (Outcome, error) {
	policy := e.Policy()
	attempts := policy.Attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := e.Attempt(ctx, &r)
		if err == nil {
			capitan.Emit(ctx, RecordDelivered, KeyRecordID.Field(r.ID), KeyAttempt.Field(attempt+1))
			return Delivered, nil
		}
		if errors.Is(err, remote.ErrMalformedConfig) {
			return Failed, err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := policy.Delay(attempt)
		e.logger.Warn("delivery attempt failed, retrying",
			"record", r.ID, "attempt", attempt+1, "of", attempts, "delay", delay, "error", err)
		capitan.Emit(ctx, RecordRetrying,
			KeyRecordID.Field(r.ID), KeyAttempt.Field(attempt+1), KeyDelay.Field(delay), KeyError.Field(err.Error()))

		if err := e.sleep(ctx, delay); err != nil {
			break
		}
	}

	return e.divert(ctx, r, lastErr)
}

// divert queues r after its final failure.
func (e *Executor) divert(ctx context.Context, r schema.WasteRecord, deliveryErr error) (Outcome, error) {
	reason := Classify(deliveryErr)
	// The queue write must survive a cancelled run.
	qctx := context.WithoutCancel(ctx)

	evicted, err := e.state.Queue.Enqueue(qctx, r, reason, deliveryErr.Error())
	if err != nil {
		e.logger.Error("failed to queue record", "record", r.ID, "error", err)
		return Failed, deliveryErr
	}

	e.logger.Warn("record queued for later delivery", "record", r.ID, "reason", reason, "error", deliveryErr)
	capitan.Emit(qctx, RecordQueued,
		KeyRecordID.Field(r.ID), KeyReason.Field(string(reason)), KeyError.Field(deliveryErr.Error()))
	if evicted > 0 {
		e.logger.Warn("pending queue full, evicted oldest records", "evicted", evicted)
		capitan.Emit(qctx, QueueEvicted, KeyEvicted.Field(evicted))
	}
	return Queued, nil
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := e.state.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// networkSignatures are error texts that indicate a transport failure when
// the error carries no type information.
var networkSignatures = []string{"NetworkError", "Failed to fetch", "timeout", "CORS"}

// Classify returns ReasonNetwork for transport failures, timeouts and
// cancelled deliveries, and ReasonRemote for everything else.
func Classify(err error) Reason {
	if err == nil {
		return ReasonRemote
	}
	if remote.IsNetwork(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ReasonNetwork
	}
	msg := err.Error()
	for _, sig := range networkSignatures {
		if strings.Contains(msg, sig) {
			return ReasonNetwork
		}
	}
	return ReasonRemote
}
