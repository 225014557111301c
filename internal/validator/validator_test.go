package validator

import (
	"encoding/json"
	"testing"
	"time"

	"order-metrics/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() map[string]any {
	return map[string]any{
		"order_id": "ord-1",
		"user_id":  "user-1",
		"product": map[string]any{
			"id":         "ELEC001",
			"name":       "iPhone 15 Pro",
			"category":   "Electronics",
			"base_price": 999.99,
		},
		"pricing": map[string]any{
			"base_amount":      999.99,
			"discount_percent": 0,
			"tax_percent":      8,
			"final_amount":     1079.99,
		},
		"order_details": map[string]any{
			"quantity":          2,
			"status":            "pending",
			"payment_method":    "paypal",
			"shipping_location": "Mumbai",
		},
		"metadata": map[string]any{
			"timestamp":  "2026-10-18T10:15:30.123Z",
			"event_type": "order_created",
			"source":     "web_app",
			"session_id": "sess-1",
		},
	}
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestParseValidOrder(t *testing.T) {
	order, err := Parse(encode(t, samplePayload()))
	require.NoError(t, err)

	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, "iPhone 15 Pro", order.Product.Name)
	assert.Equal(t, "Electronics", order.Product.Category)
	assert.Equal(t, 1079.99, order.Pricing.FinalAmount)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "paypal", order.PaymentMethod)
	assert.Equal(t, "Mumbai", order.ShippingLocation)
	assert.Equal(t, 2, order.Quantity)
	assert.True(t, order.Timestamp.Equal(time.Date(2026, 10, 18, 10, 15, 30, 123000000, time.UTC)))
	assert.Equal(t, time.UTC, order.Timestamp.Location())
}

func TestParseMissingFields(t *testing.T) {
	cases := map[string]func(p map[string]any){
		"order_id":          func(p map[string]any) { delete(p, "order_id") },
		"user_id":           func(p map[string]any) { p["user_id"] = "" },
		"pricing":           func(p map[string]any) { delete(p, "pricing") },
		"final_amount":      func(p map[string]any) { delete(p["pricing"].(map[string]any), "final_amount") },
		"product name":      func(p map[string]any) { delete(p["product"].(map[string]any), "name") },
		"blank name":        func(p map[string]any) { p["product"].(map[string]any)["name"] = "  " },
		"status":            func(p map[string]any) { delete(p["order_details"].(map[string]any), "status") },
		"payment_method":    func(p map[string]any) { delete(p["order_details"].(map[string]any), "payment_method") },
		"shipping_location": func(p map[string]any) { delete(p["order_details"].(map[string]any), "shipping_location") },
		"order_details":     func(p map[string]any) { delete(p, "order_details") },
		"timestamp":         func(p map[string]any) { delete(p["metadata"].(map[string]any), "timestamp") },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := samplePayload()
			mutate(p)
			_, err := Parse(encode(t, p))
			assert.ErrorIs(t, err, exception.ErrMalformedEvent)
		})
	}
}

func TestParseWrongTypes(t *testing.T) {
	cases := map[string]func(p map[string]any){
		"final_amount string": func(p map[string]any) { p["pricing"].(map[string]any)["final_amount"] = "100" },
		"status number":       func(p map[string]any) { p["order_details"].(map[string]any)["status"] = 3 },
		"product scalar":      func(p map[string]any) { p["product"] = "iPhone" },
		"negative amount":     func(p map[string]any) { p["pricing"].(map[string]any)["final_amount"] = -1 },
		"timestamp format":    func(p map[string]any) { p["metadata"].(map[string]any)["timestamp"] = "18/10/2026" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := samplePayload()
			mutate(p)
			_, err := Parse(encode(t, p))
			assert.ErrorIs(t, err, exception.ErrMalformedEvent)
		})
	}
}

func TestParseGarbage(t *testing.T) {
	for _, raw := range []string{"", "not json", "[1,2]", "null", "{}"} {
		_, err := Parse([]byte(raw))
		assert.ErrorIs(t, err, exception.ErrMalformedEvent, "payload %q", raw)
	}
}
