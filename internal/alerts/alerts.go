// Package alerts сообщает операторам о заказах, требующих внимания.
package alerts

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// Kind: тип операционного события.
type Kind string

const (
	// KindStuckOrder: после истечения окна не нашлось другого водителя.
	KindStuckOrder Kind = "stuck_order"
	// KindDegradedFare: стоимость доставки не рассчитана из-за сбоя маршрутизации.
	KindDegradedFare Kind = "degraded_fare"
	// KindSettlementFailed: доставленный заказ не удаётся рассчитать.
	KindSettlementFailed Kind = "settlement_failed"
)

// Event: операционное событие по заказу.
type Event struct {
	Kind        Kind      `json:"kind"`
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber int64     `json:"order_number"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// Reporter доставляет события операторам.
type Reporter interface {
	Report(ctx context.Context, ev Event) error
}

// LogReporter пишет события в лог.
type LogReporter struct {
	logger *log.Logger
}

// NewLogReporter создаёт LogReporter.
func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogReporter{logger: logger}
}

// Report пишет событие в лог.
func (r *LogReporter) Report(_ context.Context, ev Event) error {
	r.logger.Printf("ops alert %s: order %s (#%d): %s", ev.Kind, ev.OrderID, ev.OrderNumber, ev.Reason)
	return nil
}

// Multi отправляет событие во все репортеры и объединяет ошибки.
type Multi []Reporter

// Report вызывает каждый репортер.
func (m Multi) Report(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
