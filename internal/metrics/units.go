package metrics

import (
	"fmt"
	"math"

	"order-metrics/pkg/exception"

	"github.com/shopspring/decimal"
)

// Revenue is accumulated as integer units of 10^-revenueScale so concurrent sums stay exact.
const revenueScale = 4

func toRevenueUnits(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, fmt.Errorf("%w: revenue amount %v", exception.ErrInvalidArgument, amount)
	}
	return decimal.NewFromFloat(amount).Shift(revenueScale).Round(0).IntPart(), nil
}

func fromRevenueUnits(units int64) float64 {
	return decimal.New(units, -revenueScale).InexactFloat64()
}
