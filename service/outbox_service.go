package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/miguelbtcode/techmart-backend-sub002/common"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/miguelbtcode/techmart-backend-sub002/repository"
)

// OutboxService exposes the operator actions on messages the dispatcher set aside.
type OutboxService struct {
	repo   repository.IOutboxRepository
	clock  common.Clock
	notify func()
}

// NewOutboxService takes a repository bound to the pool, not to a unit of work.
// notify, when set, wakes the dispatcher after a successful requeue.
func NewOutboxService(repo repository.IOutboxRepository, clock common.Clock, notify func()) *OutboxService {
	return &OutboxService{repo: repo, clock: clock, notify: notify}
}

// Requeue makes a poisoned message pending again.
// An unknown, dispatched or non-poisoned id yields repository.ErrNotFound.
func (s *OutboxService) Requeue(ctx context.Context, id uuid.UUID) error {
	ok, err := s.repo.Requeue(ctx, id, s.clock.Now())
	if err != nil {
		return classify(err)
	}
	if !ok {
		return repository.ErrNotFound
	}

	logger.Log.WithField("message_id", id).Warn("Poisoned outbox message requeued")
	if s.notify != nil {
		s.notify()
	}
	return nil
}

func (s *OutboxService) ListPoisoned(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	messages, err := s.repo.ListPoisoned(ctx, limit)
	if err != nil {
		return nil, classify(err)
	}
	return messages, nil
}
