package models

import (
	"time"

	"github.com/google/uuid"
)

// Role: роль пользователя, выданная внешним сервисом идентификации.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Actor: инициатор операции.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// AuditRecord: запись журнала аудита.
type AuditRecord struct {
	ID          uuid.UUID  `db:"id"`
	ActorID     *uuid.UUID `db:"actor_id"`
	Action      string     `db:"action"`
	Description string     `db:"description"`
	Entity      string     `db:"entity"`
	EntityID    string     `db:"entity_id"`
	CreatedAt   time.Time  `db:"created_at"`
}

// ProvisionRequest DTO для явного создания записей после регистрации.
type ProvisionRequest struct {
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Role        Role      `json:"role" validate:"required,oneof=customer restaurant driver admin"`
	PushAddress string    `json:"push_address" validate:"max=255"`
}

// Contact: адрес доставки уведомлений пользователя.
type Contact struct {
	UserID      uuid.UUID `db:"user_id"`
	Role        Role      `db:"role"`
	PushAddress string    `db:"push_address"`
	UpdatedAt   time.Time `db:"updated_at"`
}
