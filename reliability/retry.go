package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before the nth attempt (1-based).
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

type backoffBase struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       bool
	JitterFactor float64
}

func (b backoffBase) applyJitter(d time.Duration) time.Duration {
	if !b.Jitter || d <= 0 {
		return d
	}
	j := b.JitterFactor
	if j == 0 {
		j = 0.25
	}
	factor := (1 - j) + rand.Float64()*2*j
	if factor < 0 {
		factor = 0
	}
	return time.Duration(math.Floor(float64(d) * factor))
}

func (b backoffBase) cap(d time.Duration) time.Duration {
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// ExponentialBackoff: d = min(maxDelay, initial * multiplier^(n-1)).
type ExponentialBackoff struct {
	backoffBase
	Multiplier float64
}

func NewExponentialBackoff(initial, max time.Duration, multiplier float64, jitter bool) *ExponentialBackoff {
	return &ExponentialBackoff{
		backoffBase: backoffBase{InitialDelay: initial, MaxDelay: max, Jitter: jitter},
		Multiplier:  multiplier,
	}
}

func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	raw := float64(e.InitialDelay) * math.Pow(e.Multiplier, float64(attempt-1))
	return e.applyJitter(e.cap(time.Duration(raw)))
}

// LinearBackoff: d = min(maxDelay, initial + (n-1)*step).
type LinearBackoff struct {
	backoffBase
	Step time.Duration
}

func NewLinearBackoff(initial, max, step time.Duration, jitter bool) *LinearBackoff {
	return &LinearBackoff{
		backoffBase: backoffBase{InitialDelay: initial, MaxDelay: max, Jitter: jitter},
		Step:        step,
	}
}

func (l *LinearBackoff) Delay(attempt int) time.Duration {
	raw := l.InitialDelay + time.Duration(attempt-1)*l.Step
	return l.applyJitter(l.cap(raw))
}

// ConstantBackoff: d = initial, every attempt.
type ConstantBackoff struct {
	backoffBase
}

func NewConstantBackoff(initial time.Duration, jitter bool) *ConstantBackoff {
	return &ConstantBackoff{backoffBase{InitialDelay: initial, MaxDelay: initial, Jitter: jitter}}
}

func (c *ConstantBackoff) Delay(attempt int) time.Duration {
	return c.applyJitter(c.InitialDelay)
}

// FibonacciBackoff: d = min(maxDelay, initial * fib(n)), fib(1)=fib(2)=1.
type FibonacciBackoff struct {
	backoffBase
}

func NewFibonacciBackoff(initial, max time.Duration, jitter bool) *FibonacciBackoff {
	return &FibonacciBackoff{backoffBase{InitialDelay: initial, MaxDelay: max, Jitter: jitter}}
}

func fib(n int) int64 {
	if n <= 2 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

func (f *FibonacciBackoff) Delay(attempt int) time.Duration {
	raw := time.Duration(int64(f.InitialDelay) * fib(attempt))
	return f.applyJitter(f.cap(raw))
}

// RetryEvent is passed to an OnRetry callback before each sleep. Attempt is
// the attempt about to run once the sleep completes (current+1); tests
// assert the sequence [2, 3, ...] for a run that keeps failing.
type RetryEvent struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	LastError   error
}

// RetryableFunc decides whether err should be retried.
type RetryableFunc func(err error) bool

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

func WithMaxRetries(n int) RetrierOption {
	return func(r *Retrier) { r.maxRetries = n }
}

func WithRetryable(fn RetryableFunc) RetrierOption {
	return func(r *Retrier) { r.retryable = fn }
}

func WithOnRetry(fn func(RetryEvent)) RetrierOption {
	return func(r *Retrier) { r.onRetry = fn }
}

// Retrier executes an operation at most maxRetries+1 times using strategy
// for the inter-attempt delay.
type Retrier struct {
	strategy   BackoffStrategy
	maxRetries int
	retryable  RetryableFunc
	onRetry    func(RetryEvent)
}

// NewRetrier builds a Retrier. Default maxRetries is 3, matching
// contracts.DefaultRetryConfig; default retryability predicate is
// reliability.IsRetryableError.
func NewRetrier(strategy BackoffStrategy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		strategy:   strategy,
		maxRetries: 3,
		retryable:  IsRetryableError,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute attempts op up to maxRetries+1 times. Between attempts it
// computes the next delay, invokes OnRetry (if set) with the about-to-run
// attempt number, then sleeps in a context-cancellable manner.
func (r *Retrier) Execute(ctx context.Context, op func() error) error {
	maxAttempts := r.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return &RetryError{Attempts: attempt - 1, MaxAttempts: maxAttempts, LastError: ctx.Err()}
		default:
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.retryable(err) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := r.strategy.Delay(attempt)
		if r.onRetry != nil {
			r.onRetry(RetryEvent{
				Attempt:     attempt + 1,
				MaxAttempts: maxAttempts,
				Delay:       delay,
				LastError:   lastErr,
			})
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &RetryError{Attempts: attempt, MaxAttempts: maxAttempts, LastError: ctx.Err()}
		}
	}

	return &RetryError{Attempts: maxAttempts, MaxAttempts: maxAttempts, LastError: lastErr}
}
