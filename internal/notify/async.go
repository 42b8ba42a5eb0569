package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Async отправляет уведомления в фоне. Ошибки доставки только логируются.
type Async struct {
	next    Gateway
	timeout time.Duration
	logger  *log.Logger
	wg      sync.WaitGroup
}

// NewAsync оборачивает шлюз next.
func NewAsync(next Gateway, timeout time.Duration, logger *log.Logger) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Async{next: next, timeout: timeout, logger: logger}
}

// Push ставит отправку в фон и сразу возвращает nil.
// Контекст запроса не используется, у отправки свой таймаут.
func (a *Async) Push(_ context.Context, address string, msg Message) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		err := a.next.Push(ctx, address, msg)
		// водитель без открытого сокета получит предложение по push
		if err != nil && !errors.Is(err, ErrNotConnected) {
			a.logger.Printf("push to %s failed: %v", address, err)
		}
	}()
	return nil
}

// Wait дожидается завершения отправок.
func (a *Async) Wait() {
	a.wg.Wait()
}
