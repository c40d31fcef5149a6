// Package transport implements the Retry Transport described in spec §4.2:
// an HTTP client wrapper that retries recoverable failures against a
// wall-clock retry budget rather than a fixed attempt count, and that
// isolates the rate-limit sleep from the caller's per-request deadline.
//
// Grounded on the teacher's runtime/a2a/retry.Config/Do
// (goa.design/goa-ai), generalized from a MaxAttempts loop to a budget-based
// one. Backoff/jitter computation is delegated to
// github.com/cenkalti/backoff/v4 instead of the teacher's hand-rolled
// calculateBackoff, since that package already implements the exact
// current/max-interval-plus-randomization-factor policy the spec calls for.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/loopwire/agentcore/telemetry"
)

// Defaults per spec §4.2 / §5.
const (
	DefaultRetryBudget   = 7 * 24 * time.Hour
	DefaultMaxSingleStep = 20 * time.Minute
	DefaultMinInterval   = 30 * time.Second
	DefaultBaseBackoff   = 1 * time.Second
)

// ErrBudgetExhausted is returned when the next retry attempt would land
// after the wall-clock retry budget expires.
var ErrBudgetExhausted = errors.New("transport: retry budget exhausted")

// RequestFactory builds a fresh *http.Request for each attempt. Implementers
// must return a request whose body (if any) is safe to read exactly once;
// retried requests call the factory again rather than reusing a consumed
// body.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Config configures a Transport. Zero values fall back to the package
// defaults.
type Config struct {
	RetryBudget    time.Duration
	MaxSingleDelay time.Duration
	MinInterval    time.Duration
	BaseBackoff    time.Duration
	Logger         telemetry.Logger

	// RateLimit caps outbound request throughput process-wide when set, a
	// static token bucket in front of every attempt (including retries). Nil
	// means unlimited, the default. This is the static-budget counterpart to
	// the teacher's AdaptiveRateLimiter: the AIMD adjustment against
	// provider backoff signals and the Pulse-backed cluster coordination it
	// layers on top are both out of scope here, since this module has no
	// cluster membership concept.
	RateLimit *rate.Limiter

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// Transport wraps an *http.Client with retry-after-aware rate-limit
// handling and exponential backoff on transient network faults.
type Transport struct {
	client *http.Client
	cfg    Config
}

// New constructs a Transport around client (http.DefaultClient if nil).
func New(client *http.Client, cfg Config) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.MaxSingleDelay <= 0 {
		cfg.MaxSingleDelay = DefaultMaxSingleStep
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Transport{client: client, cfg: cfg}
}

// nonRetryableStatus is the set of HTTP statuses spec §4.2 says must be
// returned immediately without retrying.
var nonRetryableStatus = map[int]bool{
	http.StatusBadRequest:          true,
	http.StatusUnauthorized:        true,
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusUnprocessableEntity: true,
}

// Do executes newReq with retry, honoring HTTP 429 (Retry-After aware),
// network faults (exponential backoff), and the global retry-budget clock.
//
// ctx is the ambient session-scoped cancellation signal (SIGINT, or the
// caller's outer deadline) and governs both in-flight HTTP attempts and any
// rate-limit sleep between attempts. attemptTimeout, when non-zero, bounds
// each individual HTTP round trip but — per §4.2 — is deliberately NOT
// consulted while sleeping between attempts: a per-request deadline that
// expired because a previous attempt was slow must never abort the
// subsequent rate-limit wait.
func (t *Transport) Do(ctx context.Context, newReq RequestFactory, attemptTimeout time.Duration) (*http.Response, error) {
	start := t.cfg.now()
	deadline := start.Add(t.cfg.RetryBudget)

	var attempt int
	for {
		if t.cfg.RateLimit != nil {
			if err := t.cfg.RateLimit.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, attemptTimeout)
		}
		req, err := newReq(attemptCtx)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			return nil, err
		}
		resp, err := t.client.Do(req)
		if cancel != nil {
			// Only released once resp.Body is fully drained by the caller in
			// the success path; on every retryable path below we close the
			// body ourselves before cancel, since no caller will see it.
			defer cancel()
		}

		if err == nil && resp.StatusCode < 300 {
			return resp, nil
		}

		var delay time.Duration
		var retryable bool
		if err == nil {
			retryable, delay = t.classifyResponse(resp, attempt)
			if !retryable {
				return resp, nil
			}
			_ = resp.Body.Close()
		} else {
			retryable = isNetworkRetryable(err)
			if !retryable {
				return nil, err
			}
			delay = t.backoffDelay(attempt)
		}

		attempt++
		now := t.cfg.now()
		waitUntil := now.Add(delay)
		if waitUntil.After(deadline) {
			t.cfg.Logger.Warn(ctx, "retry budget exhausted",
				"attempt", attempt, "delayMs", delay.Milliseconds(),
				"remainingBudgetMs", deadline.Sub(now).Milliseconds())
			return nil, ErrBudgetExhausted
		}

		t.cfg.Logger.Warn(ctx, "retrying request",
			"attempt", attempt, "delayMs", delay.Milliseconds(),
			"elapsedMs", now.Sub(start).Milliseconds(),
			"remainingBudgetMs", deadline.Sub(now).Milliseconds())

		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// classifyResponse decides whether resp's status code is retryable and, if
// so, computes the delay before the next attempt per §4.2: the final delay
// is max(retryAfter, backoff, minInterval), where backoff grows with the
// number of retries already made (attempt). MaxSingleDelay caps only the
// computed backoff/minInterval floor, not retryAfter — an oversized
// Retry-After must flow uncapped into Do's budget check so it can raise
// ErrBudgetExhausted instead of being silently truncated into a sleep.
func (t *Transport) classifyResponse(resp *http.Response, attempt int) (retryable bool, delay time.Duration) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), t.cfg.now())
		backoffFloor := maxDuration(t.backoffDelay(attempt), t.cfg.MinInterval)
		if backoffFloor > t.cfg.MaxSingleDelay {
			backoffFloor = t.cfg.MaxSingleDelay
		}
		delay = maxDuration(retryAfter, backoffFloor)
		return true, delay
	case resp.StatusCode >= 500:
		return true, t.backoffDelay(attempt)
	case nonRetryableStatus[resp.StatusCode]:
		return false, 0
	default:
		return false, 0
	}
}

// backoffDelay computes min(maxSingleDelay, base*2^attempt + jitter) using
// backoff/v4's ExponentialBackOff, seeded so attempt 0 returns ~BaseBackoff.
func (t *Transport) backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.BaseBackoff
	b.MaxInterval = t.cfg.MaxSingleDelay
	b.MaxElapsedTime = 0 // unbounded; the retry budget governs overall duration
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	b.Reset()
	for i := 0; i < attempt; i++ {
		b.NextBackOff()
	}
	d := b.NextBackOff()
	if d == backoff.Stop || d < 0 {
		d = t.cfg.MaxSingleDelay
	}
	if d > t.cfg.MaxSingleDelay {
		d = t.cfg.MaxSingleDelay
	}
	return d
}

// sleep waits for delay, honoring only the session-scoped ctx (SIGINT) —
// never a per-request deadline, per the isolation requirement in §4.2/§5.
func (t *Transport) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func maxDuration(ds ...time.Duration) time.Duration {
	m := time.Duration(0)
	for _, d := range ds {
		if d > m {
			m = d
		}
	}
	return m
}

// parseRetryAfter parses an HTTP Retry-After header as either delta-seconds
// or an HTTP-date. Unparseable values are ignored (zero delay contribution).
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		d := when.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

func isNetworkRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return true // http.Client.Do errors are DNS/connect/TLS/timeout faults by construction
}
