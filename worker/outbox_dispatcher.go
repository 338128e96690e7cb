package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/config"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/miguelbtcode/techmart-backend-sub002/publisher"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
	"github.com/sirupsen/logrus"
)

const maxLastErrorLen = 1024

// CycleResult summarizes one dispatcher pass.
type CycleResult struct {
	Fetched    int
	Dispatched int
	Failed     int
	Poisoned   int
}

// OutboxDispatcher drains committed outbox rows into the publisher.
// Delivery is at least once: a crash between publish and mark repeats the message.
type OutboxDispatcher struct {
	repo      repository.IOutboxRepository
	publisher publisher.Publisher
	clock     common.Clock
	policy    config.DispatcherPolicy

	wake  chan struct{}
	cycle sync.Mutex
}

func NewOutboxDispatcher(repo repository.IOutboxRepository, pub publisher.Publisher, clock common.Clock, policy config.DispatcherPolicy) *OutboxDispatcher {
	if policy.Interval <= 0 {
		policy.Interval = 5 * time.Second
	}
	if policy.BatchSize <= 0 {
		policy.BatchSize = 100
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 10
	}
	if policy.PublishTimeout <= 0 {
		policy.PublishTimeout = 10 * time.Second
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = time.Second
	}
	if policy.MaxBackoff < policy.BaseBackoff {
		policy.MaxBackoff = policy.BaseBackoff
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: pub,
		clock:     clock,
		policy:    policy,
		wake:      make(chan struct{}, 1),
	}
}

// Signal asks for a cycle as soon as possible. It never blocks.
func (d *OutboxDispatcher) Signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs cycles on the configured interval and on Signal until ctx is cancelled.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	logger.Log.WithFields(logrus.Fields{
		"interval":     d.policy.Interval,
		"batch_size":   d.policy.BatchSize,
		"max_attempts": d.policy.MaxAttempts,
	}).Info("Outbox dispatcher started")

	ticker := time.NewTicker(d.policy.Interval)
	defer ticker.Stop()

	for {
		d.runLogged(ctx)
		select {
		case <-ctx.Done():
			logger.Log.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *OutboxDispatcher) runLogged(ctx context.Context) {
	result, err := d.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("Outbox dispatch cycle aborted")
		return
	}
	if result.Fetched > 0 {
		logger.Log.WithFields(logrus.Fields{
			"fetched":    result.Fetched,
			"dispatched": result.Dispatched,
			"failed":     result.Failed,
			"poisoned":   result.Poisoned,
		}).Info("Outbox dispatch cycle finished")
	}
}

// RunOnce publishes one batch of due messages in occurred_at order.
// A failed publish never blocks the rest of the batch.
// It returns an error only when the store itself fails.
func (d *OutboxDispatcher) RunOnce(ctx context.Context) (CycleResult, error) {
	d.cycle.Lock()
	defer d.cycle.Unlock()

	var result CycleResult
	messages, err := d.repo.FetchPending(ctx, d.clock.Now(), d.policy.BatchSize)
	if err != nil {
		return result, err
	}
	result.Fetched = len(messages)

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if pubErr := d.publish(ctx, msg); pubErr != nil {
			poisoned, err := d.recordFailure(ctx, msg, pubErr)
			if err != nil {
				return result, err
			}
			result.Failed++
			if poisoned {
				result.Poisoned++
			}
			continue
		}

		if _, err := d.repo.MarkDispatched(ctx, msg.ID, d.clock.Now()); err != nil {
			return result, err
		}
		result.Dispatched++
	}
	return result, nil
}

// publish bounds a single attempt. A timeout counts as a failed attempt.
func (d *OutboxDispatcher) publish(ctx context.Context, msg *model.OutboxMessage) error {
	pubCtx, cancel := context.WithTimeout(ctx, d.policy.PublishTimeout)
	defer cancel()
	return d.publisher.Publish(pubCtx, msg)
}

func (d *OutboxDispatcher) recordFailure(ctx context.Context, msg *model.OutboxMessage, pubErr error) (bool, error) {
	attempt := msg.AttemptCount + 1
	next := d.clock.Now().Add(retryBackoff(attempt, d.policy.BaseBackoff, d.policy.MaxBackoff))

	lastError := truncate(pubErr.Error(), maxLastErrorLen)
	if lastError == model.PoisonMarker {
		lastError = "publish: " + lastError
	}

	outcome, err := d.repo.MarkFailed(ctx, msg.ID, lastError, next, d.policy.MaxAttempts)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// dispatched by another instance in the meantime
			return false, nil
		}
		return false, err
	}

	log := logger.Log.WithFields(logrus.Fields{
		"message_id":    msg.ID,
		"event_type":    msg.EventType,
		"attempt_count": outcome.AttemptCount,
	}).WithError(pubErr)
	if outcome.Poisoned {
		log.Error("Outbox message exhausted its attempts and was set aside as poison")
	} else {
		log.WithField("next_attempt_at", next).Warn("Outbox publish failed, will retry")
	}
	return outcome.Poisoned, nil
}

// retryBackoff doubles from base on every attempt and never exceeds max.
func retryBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		return max
	}
	delay := base << shift
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// truncate keeps at most n bytes of valid UTF-8. last_error is a TEXT column,
// and Postgres rejects a rune cut in half.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
