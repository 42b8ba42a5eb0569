package services

import (
	"fmt"

	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// transitionModel разрешает роли перевод заказа в целевой статус.
// Администратор может любой переход из графа.
const transitionModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == "admin" || (r.sub == p.sub && r.obj == p.obj)
`

// defaultTransitionRules: роль и целевой статус.
var defaultTransitionRules = [][2]string{
	{string(models.RoleRestaurant), string(models.OrderStatusPending)},
	{string(models.RoleRestaurant), string(models.OrderStatusAccepted)},
	{string(models.RoleRestaurant), string(models.OrderStatusCancelled)},
	{string(models.RoleDriver), string(models.OrderStatusEnRoute)},
	{string(models.RoleDriver), string(models.OrderStatusDelivered)},
	{string(models.RoleCustomer), string(models.OrderStatusCancelled)},
}

// transitionGraph: допустимые переходы статусов.
// awaiting_acceptance и assigned выставляются только движком назначения.
var transitionGraph = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusAwaitingPayment:    {models.OrderStatusPending, models.OrderStatusCancelled},
	models.OrderStatusPending:            {models.OrderStatusAccepted, models.OrderStatusCancelled},
	models.OrderStatusAccepted:           {models.OrderStatusCancelled},
	models.OrderStatusAwaitingAcceptance: {models.OrderStatusCancelled},
	models.OrderStatusAssigned:           {models.OrderStatusEnRoute, models.OrderStatusCancelled},
	models.OrderStatusEnRoute:            {models.OrderStatusDelivered},
}

// TransitionAllowed сообщает, есть ли переход from → to в графе статусов.
func TransitionAllowed(from, to models.OrderStatus) bool {
	for _, s := range transitionGraph[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionPolicy проверяет, может ли роль выполнить переход.
type TransitionPolicy struct {
	enforcer *casbin.Enforcer
}

// NewTransitionPolicy создаёт политику со стандартными правилами.
func NewTransitionPolicy() (*TransitionPolicy, error) {
	m, err := model.NewModelFromString(transitionModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transition model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transition enforcer: %w", err)
	}

	for _, rule := range defaultTransitionRules {
		if _, err := enforcer.AddPolicy(rule[0], rule[1]); err != nil {
			return nil, fmt.Errorf("failed to add transition rule %v: %w", rule, err)
		}
	}

	return &TransitionPolicy{enforcer: enforcer}, nil
}

// Allowed сообщает, разрешён ли роли перевод в статус to.
func (p *TransitionPolicy) Allowed(role models.Role, to models.OrderStatus) (bool, error) {
	ok, err := p.enforcer.Enforce(string(role), string(to))
	if err != nil {
		return false, fmt.Errorf("transition policy check failed: %w", err)
	}
	return ok, nil
}
