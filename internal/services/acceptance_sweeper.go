package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/agamariel/fooddispatch/internal/alerts"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultSweepInterval = 5 * time.Second
	sweepBatchSize       = 100
)

// Expirer снимает просроченные предложения.
type Expirer interface {
	ExpireAndReassign(ctx context.Context, orderID uuid.UUID, excluding []uuid.UUID) (*AssignResult, error)
}

// AcceptanceSweeper периодически снимает просроченные предложения
// и досчитывает доставленные заказы, расчёт которых не прошёл.
// О каждом заказе с неудачным расчётом операторы узнают один раз.
type AcceptanceSweeper struct {
	orders   OrderStorage
	expirer  Expirer
	settler  Settler
	reporter alerts.Reporter
	interval time.Duration
	clock    func() time.Time
	logger   *log.Logger

	mu       sync.Mutex
	reported map[uuid.UUID]struct{}
}

func NewAcceptanceSweeper(orders OrderStorage, expirer Expirer, settler Settler, reporter alerts.Reporter, interval time.Duration, clock func() time.Time, logger *log.Logger) *AcceptanceSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	if reporter == nil {
		reporter = alerts.NewLogReporter(logger)
	}
	return &AcceptanceSweeper{
		orders:   orders,
		expirer:  expirer,
		settler:  settler,
		reporter: reporter,
		interval: interval,
		clock:    clock,
		logger:   logger,
		reported: make(map[uuid.UUID]struct{}),
	}
}

// Start запускает воркер в отдельной горутине и останавливается по ctx.Done().
// Возвращаемый канал закрывается после остановки.
func (s *AcceptanceSweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		s.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	return done
}

// RunOnce выполняет один проход: истечение окон и досчёт расчётов.
func (s *AcceptanceSweeper) RunOnce(ctx context.Context) {
	if err := s.sweepExpired(ctx); err != nil {
		s.logger.Printf("acceptance sweeper error: %v", err)
	}
	if err := s.sweepUnsettled(ctx); err != nil {
		s.logger.Printf("settlement sweep error: %v", err)
	}
}

func (s *AcceptanceSweeper) sweepExpired(ctx context.Context) error {
	orders, err := s.orders.ListExpiredAwaiting(ctx, s.clock(), sweepBatchSize)
	if err != nil {
		return err
	}
	if len(orders) > 0 {
		s.logger.Printf("expiring %d offers", len(orders))
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := s.expirer.ExpireAndReassign(ctx, o.ID, nil)
		switch {
		case err == nil:
			if result.Stuck {
				s.logger.Printf("order %s stuck without driver", o.ID)
			}
		case errors.Is(err, ErrOrderConflict), errors.Is(err, ErrInvalidState):
			// принят или отменён параллельно
		default:
			s.logger.Printf("expire order %s error: %v", o.ID, err)
		}
	}
	return nil
}

func (s *AcceptanceSweeper) sweepUnsettled(ctx context.Context) error {
	if s.settler == nil {
		return nil
	}
	orders, err := s.orders.ListUnsettledDelivered(ctx, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.settler.Settle(ctx, o.ID); err != nil {
			s.logger.Printf("settle order %s error: %v", o.ID, err)
			s.reportSettlementFailure(ctx, o, err)
			continue
		}
		s.mu.Lock()
		delete(s.reported, o.ID)
		s.mu.Unlock()
	}
	return nil
}

func (s *AcceptanceSweeper) reportSettlementFailure(ctx context.Context, order *models.Order, cause error) {
	s.mu.Lock()
	_, seen := s.reported[order.ID]
	s.reported[order.ID] = struct{}{}
	s.mu.Unlock()
	if seen {
		return
	}

	ev := alerts.Event{
		Kind:        alerts.KindSettlementFailed,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Reason:      cause.Error(),
		At:          s.clock(),
	}
	if err := s.reporter.Report(ctx, ev); err != nil {
		s.logger.Printf("report settlement failure for order %s: %v", order.ID, err)
	}
}
