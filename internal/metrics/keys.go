package metrics

import (
	"fmt"
	"time"

	"order-metrics/pkg/exception"
)

// MetricKind selects which minute-bucket series a key belongs to
type MetricKind uint8

const (
	KindOrders MetricKind = iota + 1
	KindRevenue
)

func (k MetricKind) String() string {
	switch k {
	case KindOrders:
		return "orders_per_minute"
	case KindRevenue:
		return "revenue_per_minute"
	default:
		return "unknown"
	}
}

// MinuteIndex is wall-clock time divided into 1-minute slots since the unix epoch
type MinuteIndex int64

func MinuteOf(t time.Time) MinuteIndex {
	return MinuteIndex(t.Unix() / 60)
}

type bucketKey struct {
	kind   MetricKind
	minute MinuteIndex
}

func newBucketKey(kind MetricKind, minute MinuteIndex) bucketKey {
	return bucketKey{kind: kind, minute: minute}
}

func (k bucketKey) String() string {
	return fmt.Sprintf("metrics:%s:%d", k.kind, k.minute)
}

// Dimension is a categorical breakdown of orders
type Dimension string

const (
	DimensionStatus        Dimension = "status"
	DimensionPaymentMethod Dimension = "payment_method"
	DimensionLocation      Dimension = "location"
)

// Dimensions lists every supported dimension.
var Dimensions = []Dimension{DimensionStatus, DimensionPaymentMethod, DimensionLocation}

// ParseDimension accepts the dimension names plus the plural aliases used by the HTTP routes.
func ParseDimension(s string) (Dimension, error) {
	switch s {
	case "status", "statuses":
		return DimensionStatus, nil
	case "payment_method", "payment", "payments":
		return DimensionPaymentMethod, nil
	case "location", "locations":
		return DimensionLocation, nil
	default:
		return "", fmt.Errorf("%w: unknown dimension %q", exception.ErrInvalidArgument, s)
	}
}

func (d Dimension) valid() bool {
	switch d {
	case DimensionStatus, DimensionPaymentMethod, DimensionLocation:
		return true
	}
	return false
}

func (d Dimension) keyPrefix() string {
	switch d {
	case DimensionStatus:
		return "metrics:orders_by_status"
	case DimensionPaymentMethod:
		return "metrics:payment_methods"
	default:
		return "metrics:orders_by_location"
	}
}

type tallyKey struct {
	dim   Dimension
	value string
}

func newTallyKey(dim Dimension, value string) tallyKey {
	return tallyKey{dim: dim, value: value}
}

func (k tallyKey) String() string {
	return k.dim.keyPrefix() + ":" + k.value
}
