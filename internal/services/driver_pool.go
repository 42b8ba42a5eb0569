package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agamariel/fooddispatch/internal/geo"
	"github.com/agamariel/fooddispatch/internal/models"
	"github.com/google/uuid"
)

// Candidate: водитель, которому можно предложить заказ.
type Candidate struct {
	Driver     *models.Driver
	DistanceKm float64
}

// DriverPool подбирает кандидатов на заказ.
type DriverPool struct {
	drivers DriverStorage
	clock   func() time.Time
}

// NewDriverPool создаёт пул. clock по умолчанию time.Now.
func NewDriverPool(drivers DriverStorage, clock func() time.Time) *DriverPool {
	if clock == nil {
		clock = time.Now
	}
	return &DriverPool{drivers: drivers, clock: clock}
}

// FindCandidates возвращает кандидатов в радиусе radiusKm от точки.
func (p *DriverPool) FindCandidates(ctx context.Context, originLat, originLon, radiusKm float64, excluding []uuid.UUID) ([]Candidate, error) {
	return p.FindCandidatesAt(ctx, p.clock(), originLat, originLon, radiusKm, excluding)
}

// FindCandidatesAt подбирает кандидатов на момент now.
// Порядок: давно не получавшие заказ первыми (никогда не получавшие раньше всех),
// затем ближайшие, затем по id.
func (p *DriverPool) FindCandidatesAt(ctx context.Context, now time.Time, originLat, originLon, radiusKm float64, excluding []uuid.UUID) ([]Candidate, error) {
	drivers, err := p.drivers.ListDispatchable(ctx, now, excluding)
	if err != nil {
		return nil, fmt.Errorf("list dispatchable drivers: %w", err)
	}

	skip := make(map[uuid.UUID]struct{}, len(excluding))
	for _, id := range excluding {
		skip[id] = struct{}{}
	}

	candidates := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if _, ok := skip[d.ID]; ok {
			continue
		}
		if !d.Dispatchable(now) {
			continue
		}
		dist := geo.DistanceKm(originLat, originLon, *d.Lat, *d.Lon)
		if dist > radiusKm {
			continue
		}
		candidates = append(candidates, Candidate{Driver: d, DistanceKm: dist})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.Driver.LastAssignedAt == nil && b.Driver.LastAssignedAt != nil:
			return true
		case a.Driver.LastAssignedAt != nil && b.Driver.LastAssignedAt == nil:
			return false
		case a.Driver.LastAssignedAt != nil && !a.Driver.LastAssignedAt.Equal(*b.Driver.LastAssignedAt):
			return a.Driver.LastAssignedAt.Before(*b.Driver.LastAssignedAt)
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Driver.ID.String() < b.Driver.ID.String()
	})

	return candidates, nil
}
