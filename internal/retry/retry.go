package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (default: 3)
	InitialDelay time.Duration // Delay before the second attempt (default: 100ms)
	MaxDelay     time.Duration // Upper bound for the delay (default: 5s)
	Multiplier   float64       // Exponential backoff multiplier (default: 2.0)

	// Retryable decides whether an error deserves another attempt.
	// Nil means IsRetryableError.
	Retryable func(error) bool
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// retryablePatterns are lowercase substrings of transient error messages
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"network is unreachable",
	"no such host",
	"temporary failure",
	"code: 999", // ClickHouse: Connection lost
	"code: 159", // ClickHouse: Timeout exceeded
	"code: 210", // ClickHouse: Network error
}

// IsRetryableError reports whether err is transient: network failures,
// retriable Kafka broker errors and transient ClickHouse codes
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var kErr sarama.KError
	if errors.As(err, &kErr) {
		return isRetriableKafka(kErr)
	}

	var pErrs sarama.ProducerErrors
	if errors.As(err, &pErrs) {
		for _, pe := range pErrs {
			if !IsRetryableError(pe.Err) {
				return false
			}
		}
		return len(pErrs) > 0
	}

	if errors.Is(err, sarama.ErrOutOfBrokers) || errors.Is(err, sarama.ErrNotConnected) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isRetriableKafka(kErr sarama.KError) bool {
	switch kErr {
	case sarama.ErrLeaderNotAvailable,
		sarama.ErrNotLeaderForPartition,
		sarama.ErrRequestTimedOut,
		sarama.ErrNotEnoughReplicas,
		sarama.ErrNotEnoughReplicasAfterAppend,
		sarama.ErrNetworkException,
		sarama.ErrBrokerNotAvailable:
		return true
	}
	return false
}

// Do executes operation until it succeeds, fails permanently or attempts run out
func Do(ctx context.Context, cfg Config, operation func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var zero T
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		result, err := operation()
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("Operation succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			log.Debug().Err(err).Int("attempt", attempt).Msg("Error is not retryable, aborting")
			return zero, err
		}
		if attempt == attempts {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("retry_delay", delay).
			Msg("Operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	log.Warn().Err(lastErr).Int("max_attempts", attempts).Msg("Max retry attempts reached")
	return zero, fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
