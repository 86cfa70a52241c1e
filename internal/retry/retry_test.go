package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "kafka leader election", err: fmt.Errorf("send: %w", sarama.ErrLeaderNotAvailable), want: true},
		{name: "kafka message too large", err: sarama.ErrMessageSizeTooLarge, want: false},
		{name: "out of brokers", err: sarama.ErrOutOfBrokers, want: true},
		{name: "clickhouse syntax", err: errors.New("code: 62, syntax error"), want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{
			name: "producer errors all retriable",
			err: sarama.ProducerErrors{
				{Err: sarama.ErrNotEnoughReplicas},
				{Err: sarama.ErrRequestTimedOut},
			},
			want: true,
		},
		{
			name: "producer errors one permanent",
			err: sarama.ProducerErrors{
				{Err: sarama.ErrNotEnoughReplicas},
				{Err: sarama.ErrInvalidMessage},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid payload")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("i/o timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoWithResult_CustomClassifier(t *testing.T) {
	cfg := fastConfig()
	cfg.Retryable = func(error) bool { return true }

	calls := 0
	got, err := DoWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("anything")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
