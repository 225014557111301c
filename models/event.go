package models

import "time"

// OrderEvent is the message payload from the order stream. Pointer fields are the ones
// the validator requires, so a missing key can be told apart from a zero value.
type OrderEvent struct {
	OrderID      string               `json:"order_id"`
	UserID       string               `json:"user_id"`
	Product      *ProductPayload      `json:"product"`
	Pricing      *PricingPayload      `json:"pricing"`
	OrderDetails *OrderDetailsPayload `json:"order_details"`
	Metadata     *MetadataPayload     `json:"metadata"`
}

type ProductPayload struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Category  string  `json:"category"`
	BasePrice float64 `json:"base_price"`
}

type PricingPayload struct {
	BaseAmount      float64  `json:"base_amount"`
	DiscountPercent float64  `json:"discount_percent"`
	TaxPercent      float64  `json:"tax_percent"`
	FinalAmount     *float64 `json:"final_amount"`
}

type OrderDetailsPayload struct {
	Quantity         int     `json:"quantity"`
	Status           *string `json:"status"`
	PaymentMethod    *string `json:"payment_method"`
	ShippingLocation *string `json:"shipping_location"`
}

type MetadataPayload struct {
	Timestamp *string `json:"timestamp"`
	EventType string  `json:"event_type"`
	Source    string  `json:"source"`
	SessionID string  `json:"session_id"`
}

// Order is a validated order event
type Order struct {
	ID               string
	UserID           string
	Product          Product
	Pricing          Pricing
	Status           string
	PaymentMethod    string
	ShippingLocation string
	Quantity         int
	Timestamp        time.Time
}

type Product struct {
	ID        string
	Name      string
	Category  string
	BasePrice float64
}

type Pricing struct {
	BaseAmount      float64
	DiscountPercent float64
	TaxPercent      float64
	FinalAmount     float64
}
