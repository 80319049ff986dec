package services

import (
	"math"

	"github.com/shopspring/decimal"
)

const earthRadiusKm = 6371.0

// FareCalculator считает стоимость доставки по расстоянию.
type FareCalculator struct {
	BaseFare decimal.Decimal
	PerKm    decimal.Decimal
	MinFare  decimal.Decimal
}

// NewFareCalculator создаёт калькулятор с тарифами из конфигурации.
func NewFareCalculator(baseFare, perKm, minFare float64) *FareCalculator {
	return &FareCalculator{
		BaseFare: decimal.NewFromFloat(baseFare),
		PerKm:    decimal.NewFromFloat(perKm),
		MinFare:  decimal.NewFromFloat(minFare),
	}
}

// CalculateCost считает цену с учётом базовой ставки, тарифа за км и минимальной цены.
// Расстояние учитывается с точностью до 100 м.
func (f *FareCalculator) CalculateCost(distanceKm float64) decimal.Decimal {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}

	km := decimal.NewFromFloat(distanceKm).Round(1)
	cost := f.BaseFare.Add(km.Mul(f.PerKm))
	if cost.LessThan(f.MinFare) {
		cost = f.MinFare
	}
	return cost.Round(2)
}

// haversineKm возвращает расстояние по дуге большого круга между двумя точками.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
