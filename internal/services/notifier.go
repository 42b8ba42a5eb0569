package services

import (
	"context"
	"log"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/agamariel/fooddispatch/internal/notify"
)

// Notifier рассылает уведомления участникам заказа.
// Ошибки доставки логируются и не прерывают операцию.
type Notifier struct {
	gateway  notify.Gateway
	contacts ContactStorage
	logger   *log.Logger
}

// NewNotifier создаёт Notifier. gateway может быть nil, тогда уведомления отключены.
func NewNotifier(gateway notify.Gateway, contacts ContactStorage, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{gateway: gateway, contacts: contacts, logger: logger}
}

func (n *Notifier) push(ctx context.Context, address string, msg notify.Message) {
	if n == nil || n.gateway == nil || address == "" {
		return
	}
	if err := n.gateway.Push(ctx, address, msg); err != nil {
		n.logger.Printf("notify %s failed: %v", address, err)
	}
}

// Driver уведомляет водителя по push-адресу и по WebSocket.
func (n *Notifier) Driver(ctx context.Context, driver *models.Driver, msg notify.Message) {
	if driver == nil {
		return
	}
	n.push(ctx, driver.PushAddress, msg)
	n.push(ctx, "ws:"+driver.ID.String(), msg)
}

// Customer уведомляет заказчика, если он известен.
func (n *Notifier) Customer(ctx context.Context, order *models.Order, msg notify.Message) {
	if n == nil || order.CustomerID == nil || n.contacts == nil {
		return
	}
	contact, err := n.contacts.Get(ctx, *order.CustomerID)
	if err != nil {
		n.logger.Printf("no contact for customer %s: %v", order.CustomerID, err)
		return
	}
	n.push(ctx, contact.PushAddress, msg)
}

// Restaurant уведомляет ресторан.
func (n *Notifier) Restaurant(ctx context.Context, restaurant *models.Restaurant, msg notify.Message) {
	if restaurant == nil {
		return
	}
	n.push(ctx, restaurant.PushAddress, msg)
}

func orderData(order *models.Order) map[string]string {
	return map[string]string{
		"order_id": order.ID.String(),
		"status":   string(order.Status),
	}
}
