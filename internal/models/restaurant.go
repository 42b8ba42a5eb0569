package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Restaurant: точка отправления заказа.
type Restaurant struct {
	ID          uuid.UUID `db:"id"`
	OwnerID     uuid.UUID `db:"owner_id"`
	Name        string    `db:"name"`
	Lat         float64   `db:"lat"`
	Lon         float64   `db:"lon"`
	PushAddress string    `db:"push_address"`
}

// MenuItem: позиция каталога, нужная для расчёта цены.
type MenuItem struct {
	ID            uuid.UUID        `db:"id"`
	RestaurantID  uuid.UUID        `db:"restaurant_id"`
	Name          string           `db:"name"`
	Price         decimal.Decimal  `db:"price"`
	DiscountPrice *decimal.Decimal `db:"discount_price"`
}

// MenuAddon: дополнительная опция позиции.
type MenuAddon struct {
	ID     uuid.UUID       `db:"id"`
	ItemID uuid.UUID       `db:"item_id"`
	Name   string          `db:"name"`
	Price  decimal.Decimal `db:"price"`
}
