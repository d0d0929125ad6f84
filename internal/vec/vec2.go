package vec

import "math"

// Vec2 представляет точку на горизонтальной плоскости мира.
// Используется для объектов, лежащих на земле (сено).
type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := v.X - other.X
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dz*dz)
}
