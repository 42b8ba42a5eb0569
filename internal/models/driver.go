package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// PenaltyThreshold: число штрафов в окне, после которого водитель отстраняется.
	PenaltyThreshold = 3
	// PenaltyWindow: скользящее окно подсчёта штрафов.
	PenaltyWindow = 7 * 24 * time.Hour
	// SuspensionPeriod: длительность отстранения.
	SuspensionPeriod = 7 * 24 * time.Hour
)

// Driver представляет водителя доставки.
type Driver struct {
	ID             uuid.UUID  `db:"id"`
	UserID         uuid.UUID  `db:"user_id"`
	Available      bool       `db:"available"`
	Lat            *float64   `db:"lat"`
	Lon            *float64   `db:"lon"`
	LastAssignedAt *time.Time `db:"last_assigned_at"`
	PenaltyCount   int        `db:"penalty_count"`
	LastPenaltyAt  *time.Time `db:"last_penalty_at"`
	SuspendedUntil *time.Time `db:"suspended_until"`
	PushAddress    string     `db:"push_address"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Suspended сообщает, отстранён ли водитель на момент now.
func (d *Driver) Suspended(now time.Time) bool {
	return d.SuspendedUntil != nil && d.SuspendedUntil.After(now)
}

// HasLocation сообщает, известны ли координаты водителя.
func (d *Driver) HasLocation() bool {
	return d.Lat != nil && d.Lon != nil
}

// Dispatchable сообщает, может ли водитель получить предложение на момент now.
func (d *Driver) Dispatchable(now time.Time) bool {
	return d.Available && !d.Suspended(now) && d.HasLocation()
}

// RegisterPenalty учитывает штраф, выставленный в момент now.
// inWindow: число штрафов за окно PenaltyWindow, включая текущий.
// Уже отстранённый водитель не получает нового отстранения.
// Возвращает true, если штраф привёл к отстранению.
func (d *Driver) RegisterPenalty(now time.Time, inWindow int) bool {
	d.PenaltyCount++
	d.LastPenaltyAt = &now

	if d.Suspended(now) {
		return false
	}
	if inWindow < PenaltyThreshold {
		return false
	}

	until := now.Add(SuspensionPeriod)
	d.SuspendedUntil = &until
	d.Available = false
	return true
}

// LocationRequest DTO для обновления координат.
type LocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lon *float64 `json:"lon" validate:"required,longitude"`
}

// AvailabilityRequest DTO для смены доступности.
type AvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

// DriverResponse ответ с состоянием водителя.
type DriverResponse struct {
	ID             string   `json:"id"`
	Available      bool     `json:"available"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	PenaltyCount   int      `json:"penalty_count"`
	SuspendedUntil *string  `json:"suspended_until,omitempty"`
}

// NewDriverResponse преобразует водителя в DTO.
func NewDriverResponse(d *Driver) *DriverResponse {
	resp := &DriverResponse{
		ID:           d.ID.String(),
		Available:    d.Available,
		Lat:          d.Lat,
		Lon:          d.Lon,
		PenaltyCount: d.PenaltyCount,
	}
	if d.SuspendedUntil != nil {
		s := d.SuspendedUntil.Format(time.RFC3339)
		resp.SuspendedUntil = &s
	}
	return resp
}
