// Package notify доставляет push-уведомления через Expo, Telegram и WebSocket.
// Адрес получателя содержит схему: expo:<token>, tg:<chat id>, ws:<ключ>.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyAddress       = errors.New("notify: empty address")
	ErrUnsupportedAddress = errors.New("notify: unsupported address scheme")
)

// Message: содержимое уведомления.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Gateway доставляет сообщение по адресу.
type Gateway interface {
	Push(ctx context.Context, address string, msg Message) error
}

// GatewayFunc позволяет использовать функцию как Gateway.
type GatewayFunc func(ctx context.Context, address string, msg Message) error

// Push вызывает f.
func (f GatewayFunc) Push(ctx context.Context, address string, msg Message) error {
	return f(ctx, address, msg)
}

// SplitAddress разбирает адрес на схему и значение.
func SplitAddress(address string) (scheme, target string, err error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", ErrEmptyAddress
	}
	scheme, target, ok := strings.Cut(address, ":")
	if !ok || scheme == "" || target == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedAddress, address)
	}
	return scheme, target, nil
}

// Router выбирает транспорт по схеме адреса.
type Router struct {
	routes map[string]Gateway
}

// NewRouter создаёт пустой маршрутизатор.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Gateway)}
}

// Handle регистрирует транспорт для схемы. Транспорт получает адрес без схемы.
func (r *Router) Handle(scheme string, gw Gateway) *Router {
	r.routes[scheme] = gw
	return r
}

// Push отправляет сообщение через транспорт, соответствующий схеме.
func (r *Router) Push(ctx context.Context, address string, msg Message) error {
	scheme, target, err := SplitAddress(address)
	if err != nil {
		return err
	}
	gw, ok := r.routes[scheme]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAddress, scheme)
	}
	return gw.Push(ctx, target, msg)
}
