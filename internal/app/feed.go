package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hylla/shiftsync/internal/domain"
)

// ListSinceInput holds input values for one catch-up page.
type ListSinceInput struct {
	Team  string
	Day   string
	Since int64
	Limit int
}

// OpsPage is one ascending page of the operation log.
type OpsPage struct {
	Ops       []domain.Operation
	NextSince int64
}

// ListSince returns operations with a sequence strictly greater than Since, ascending.
// NextSince is the last returned sequence, or Since when the page is empty.
func (s *Service) ListSince(ctx context.Context, in ListSinceInput) (OpsPage, error) {
	query, err := s.normalizeOpsQuery(in)
	if err != nil {
		return OpsPage{}, err
	}
	ops, err := s.repo.ListOperationsSince(ctx, query)
	if err != nil {
		return OpsPage{}, fmt.Errorf("list operations since %d: %w", query.Since, err)
	}
	next := query.Since
	if len(ops) > 0 {
		next = ops[len(ops)-1].Seq
	}
	s.recorder.ObserveOpsServed(len(ops))
	return OpsPage{Ops: ops, NextSince: next}, nil
}

// normalizeOpsQuery validates filters and clamps the page size.
func (s *Service) normalizeOpsQuery(in ListSinceInput) (OperationQuery, error) {
	team := domain.NormalizeIdentifier(in.Team)
	if team == "" {
		return OperationQuery{}, domain.ErrInvalidTeam
	}
	day := strings.TrimSpace(in.Day)
	if day != "" {
		if err := domain.ValidateDay(day); err != nil {
			return OperationQuery{}, err
		}
	}
	if in.Since < 0 {
		return OperationQuery{}, domain.ErrInvalidVersion
	}
	limit := in.Limit
	if limit <= 0 {
		limit = s.defaultOpsLimit
	}
	limit = min(limit, s.maxOpsLimit)
	return OperationQuery{
		Team:  team,
		Day:   day,
		Since: in.Since,
		Limit: limit,
	}, nil
}

// SubscribeInput holds input values for one push subscription.
type SubscribeInput struct {
	Team  string
	Day   string
	Since int64
}

// Subscription streams operations appended after a watermark until its context ends.
type Subscription struct {
	ops       chan domain.Operation
	watermark atomic.Int64
	mu        sync.Mutex
	err       error
}

// Ops returns the delivery channel; it is closed when the poller stops.
func (s *Subscription) Ops() <-chan domain.Operation {
	return s.ops
}

// Err returns the poller failure, if any, once Ops is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Watermark returns the last sequence handed to the consumer.
func (s *Subscription) Watermark() int64 {
	return s.watermark.Load()
}

// fail records one terminal poller error.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Subscribe starts one background poller that pushes new operations until ctx is canceled.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*Subscription, error) {
	query, err := s.normalizeOpsQuery(ListSinceInput{
		Team:  in.Team,
		Day:   in.Day,
		Since: in.Since,
		Limit: s.streamBatchSize,
	})
	if err != nil {
		return nil, err
	}
	sub := &Subscription{ops: make(chan domain.Operation)}
	sub.watermark.Store(query.Since)
	s.recorder.SubscriberOpened()
	go s.poll(ctx, sub, query)
	return sub, nil
}

// poll drains full pages immediately and otherwise waits one poll interval between reads.
func (s *Service) poll(ctx context.Context, sub *Subscription, query OperationQuery) {
	defer s.recorder.SubscriberClosed()
	defer close(sub.ops)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		query.Since = sub.Watermark()
		ops, err := s.repo.ListOperationsSince(ctx, query)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("subscription poll failed", "team", query.Team, "since", query.Since, "err", err)
				sub.fail(fmt.Errorf("poll operations since %d: %w", query.Since, err))
			}
			return
		}
		for _, op := range ops {
			select {
			case sub.ops <- op:
				sub.watermark.Store(op.Seq)
			case <-ctx.Done():
				return
			}
		}
		s.recorder.ObserveOpsServed(len(ops))
		if len(ops) >= query.Limit {
			timer.Reset(0)
			continue
		}
		timer.Reset(s.pollInterval)
	}
}
