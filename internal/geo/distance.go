// Package geo содержит расчёт расстояний по поверхности Земли.
package geo

import "math"

// EarthRadiusKm: средний радиус Земли.
const EarthRadiusKm = 6371.0

// DistanceKm возвращает расстояние по большому кругу между двумя точками (формула гаверсинусов).
// Координаты в градусах; проверка на nil: забота вызывающего.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// погрешность округления может вывести a за [0, 1]
	a = math.Min(1, math.Max(0, a))

	return EarthRadiusKm * 2 * math.Asin(math.Sqrt(a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
