package contracts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSettler struct {
	acks   int
	nacks  int
	lastRq bool
}

func (s *countingSettler) Ack(ctx context.Context) error { s.acks++; return nil }
func (s *countingSettler) Nack(ctx context.Context, requeue bool) error {
	s.nacks++
	s.lastRq = requeue
	return nil
}
func (s *countingSettler) ExtendDeadline(ctx context.Context, seconds int) error { return nil }

func TestMessageAckIdempotent(t *testing.T) {
	s := &countingSettler{}
	msg := NewMessage("m1", []byte("body"), s)

	require.NoError(t, msg.Ack(context.Background()))
	require.NoError(t, msg.Ack(context.Background()))

	assert.Equal(t, 1, s.acks)
	assert.True(t, msg.Settled())
}

func TestMessageNackAfterAckIsNoop(t *testing.T) {
	s := &countingSettler{}
	msg := NewMessage("m1", []byte("body"), s)

	require.NoError(t, msg.Ack(context.Background()))
	require.NoError(t, msg.Nack(context.Background(), true))

	assert.Equal(t, 1, s.acks)
	assert.Equal(t, 0, s.nacks)
}

func TestMessageDeliveryAttemptStartsAtOne(t *testing.T) {
	msg := NewMessage("m1", []byte("body"), nil)
	assert.Equal(t, 1, msg.DeliveryAttempt)
}

func TestExtendDeadlineWithoutSettlerIsNotImplemented(t *testing.T) {
	msg := NewMessage("m1", nil, nil)
	err := msg.ExtendDeadline(context.Background(), 30)
	require.Error(t, err)
	assert.Equal(t, CodeNotImplemented, CodeOf(err))
}

func TestErrorUnwrapReachesCause(t *testing.T) {
	root := errors.New("dial tcp: connection refused")
	wrapped := NewConnectionError("connect to broker", root)

	assert.ErrorIs(t, wrapped, root)
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, CodeConnection, CodeOf(wrapped))
}

func TestFromAnyWrapsNonErrorValues(t *testing.T) {
	err := FromAny("boom")
	assert.Equal(t, CodeUnknown, err.Code)
	assert.Contains(t, err.Error(), "boom")

	err2 := FromAny(nil)
	assert.Equal(t, CodeUnknown, err2.Code)
}

func TestConfigValidateRejectsBadTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionTimeout = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, CodeConfiguration, CodeOf(err))
}
