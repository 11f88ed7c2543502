// Package adapter provides the composition every concrete backend adapter
// embeds: configuration, serializer, resilience middleware and the
// executeWithResilience helper that wraps a send in
// circuit_breaker.execute(retry.execute(send)).
package adapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/reliability"
	"github.com/relaybus/relaybus/serializer"
)

// Option configures a Base.
type Option func(*Base)

func WithConfig(cfg contracts.Config) Option {
	return func(b *Base) { b.Config = cfg }
}

func WithLogger(l logging.Logger) Option {
	return func(b *Base) { b.Logger = l }
}

func WithSerializer(s serializer.Serializer) Option {
	return func(b *Base) { b.Serializer = s }
}

func WithBackoffStrategy(s reliability.BackoffStrategy) Option {
	return func(b *Base) { b.backoffOverride = s }
}

// Base is embedded by every concrete adapter (memory, rabbitmq, ...). It
// owns the config, serializer, retrier, circuit breaker and logger that
// back that adapter instance; none of these are shared across adapter
// instances.
type Base struct {
	Config     contracts.Config
	Logger     logging.Logger
	Serializer serializer.Serializer

	Retrier        *reliability.Retrier
	CircuitBreaker *reliability.CircuitBreaker

	backoffOverride reliability.BackoffStrategy
	connected       bool
}

// NewBase builds a Base from cfg (validated) and any options, constructing
// the retrier and circuit breaker from cfg's Retry/CircuitBreaker
// sub-configs unless overridden.
func NewBase(cfg contracts.Config, opts ...Option) (*Base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Base{
		Config:     cfg,
		Logger:     logging.Default(),
		Serializer: serializer.NewJSON(serializer.JSONOptions{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	strategy := b.backoffOverride
	if strategy == nil {
		strategy = reliability.NewExponentialBackoff(
			time.Duration(cfg.Retry.InitialDelayMs)*time.Millisecond,
			time.Duration(cfg.Retry.MaxDelayMs)*time.Millisecond,
			cfg.Retry.Multiplier,
			cfg.Retry.Jitter,
		)
	}

	retryable := reliability.IsRetryableError
	if len(cfg.Retry.RetryableErrors) > 0 {
		patterns := cfg.Retry.RetryableErrors
		retryable = func(err error) bool {
			var base *contracts.Error
			if errors.As(err, &base) {
				return base.Retryable
			}
			msg := strings.ToLower(err.Error())
			for _, p := range patterns {
				if strings.Contains(msg, strings.ToLower(p)) {
					return true
				}
			}
			return false
		}
	}

	b.Retrier = reliability.NewRetrier(strategy,
		reliability.WithMaxRetries(cfg.Retry.MaxRetries),
		reliability.WithRetryable(retryable),
	)

	b.CircuitBreaker = reliability.NewCircuitBreaker(
		reliability.WithEnabled(cfg.CircuitBreaker.Enabled),
		reliability.WithFailureThreshold(cfg.CircuitBreaker.FailureThreshold),
		reliability.WithFailureWindow(time.Duration(cfg.CircuitBreaker.FailureWindowMs)*time.Millisecond),
		reliability.WithResetTimeout(time.Duration(cfg.CircuitBreaker.ResetTimeoutMs)*time.Millisecond),
		reliability.WithSuccessThreshold(cfg.CircuitBreaker.SuccessThreshold),
		reliability.WithName(cfg.ClientID),
	)

	return b, nil
}

// Serialize encodes v with the adapter's configured codec, producing the
// bytes Publish expects. Handler code that wants the __type bigint/
// timestamp encodings should build its payload through this instead of
// calling encoding/json directly.
func (b *Base) Serialize(v any) ([]byte, error) {
	data, err := b.Serializer.Serialize(v)
	if err != nil {
		return nil, contracts.NewSerializationError("serialize publish payload", err)
	}
	return data, nil
}

// Deserialize decodes data with the adapter's configured codec. Message.
// Decode calls this indirectly via the codec attached through WithCodec;
// this method exists for callers holding raw bytes outside a Message.
func (b *Base) Deserialize(data []byte, v any) error {
	if err := b.Serializer.Deserialize(data, v); err != nil {
		return contracts.NewSerializationError("deserialize payload", err)
	}
	return nil
}

// ExecuteWithResilience wraps op in the circuit breaker, which in turn
// wraps op in the retry engine: cb.Execute(ctx, () => retrier.Execute(ctx,
// op)). A CircuitOpenError therefore never invokes op and is never retried.
func (b *Base) ExecuteWithResilience(ctx context.Context, op func() error) error {
	return b.CircuitBreaker.Execute(ctx, func() error {
		return b.Retrier.Execute(ctx, op)
	})
}

// SetConnected updates the adapter's connection flag. Adapters call this
// from their own Connect/Disconnect implementations.
func (b *Base) SetConnected(connected bool) { b.connected = connected }

// IsConnected reports the adapter's last-known connection state.
func (b *Base) IsConnected() bool { return b.connected }
