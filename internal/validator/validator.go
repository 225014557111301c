package validator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/bytedance/sonic"
)

// Parse decodes a raw stream payload into a validated Order. Every failure wraps
// exception.ErrMalformedEvent.
func Parse(payload []byte) (models.Order, error) {
	var evt models.OrderEvent
	if err := sonic.Unmarshal(payload, &evt); err != nil {
		return models.Order{}, fmt.Errorf("%w: decode payload: %w", exception.ErrMalformedEvent, err)
	}

	// ids key the durable rows; without them the event could never be stored
	if strings.TrimSpace(evt.OrderID) == "" {
		return models.Order{}, missing("order_id")
	}
	if strings.TrimSpace(evt.UserID) == "" {
		return models.Order{}, missing("user_id")
	}
	if evt.Pricing == nil || evt.Pricing.FinalAmount == nil {
		return models.Order{}, missing("pricing.final_amount")
	}
	if evt.Product == nil || evt.Product.Name == nil {
		return models.Order{}, missing("product.name")
	}
	if evt.OrderDetails == nil || evt.OrderDetails.Status == nil {
		return models.Order{}, missing("order_details.status")
	}
	if evt.OrderDetails.PaymentMethod == nil {
		return models.Order{}, missing("order_details.payment_method")
	}
	if evt.OrderDetails.ShippingLocation == nil {
		return models.Order{}, missing("order_details.shipping_location")
	}
	if evt.Metadata == nil || evt.Metadata.Timestamp == nil {
		return models.Order{}, missing("metadata.timestamp")
	}

	amount := *evt.Pricing.FinalAmount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return models.Order{}, fmt.Errorf("%w: pricing.final_amount out of range: %v", exception.ErrMalformedEvent, amount)
	}
	name := strings.TrimSpace(*evt.Product.Name)
	if name == "" {
		return models.Order{}, missing("product.name")
	}

	ts, err := time.Parse(time.RFC3339Nano, *evt.Metadata.Timestamp)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: metadata.timestamp: %w", exception.ErrMalformedEvent, err)
	}

	return models.Order{
		ID:     evt.OrderID,
		UserID: evt.UserID,
		Product: models.Product{
			ID:        evt.Product.ID,
			Name:      name,
			Category:  evt.Product.Category,
			BasePrice: evt.Product.BasePrice,
		},
		Pricing: models.Pricing{
			BaseAmount:      evt.Pricing.BaseAmount,
			DiscountPercent: evt.Pricing.DiscountPercent,
			TaxPercent:      evt.Pricing.TaxPercent,
			FinalAmount:     amount,
		},
		Status:           *evt.OrderDetails.Status,
		PaymentMethod:    *evt.OrderDetails.PaymentMethod,
		ShippingLocation: *evt.OrderDetails.ShippingLocation,
		Quantity:         evt.OrderDetails.Quantity,
		Timestamp:        ts.UTC(),
	}, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", exception.ErrMalformedEvent, field)
}
