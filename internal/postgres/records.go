package postgres

import (
	"fmt"
	"time"

	"order-metrics/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const PaymentStatusCompleted = "completed"

// OrderRecord is one row of the orders table. Order ids are producer-assigned, so a
// redelivered event collides on the primary key.
type OrderRecord struct {
	ID        string          `gorm:"primaryKey;type:varchar(64)"`
	UserID    string          `gorm:"type:varchar(64);not null;index"`
	ProductID string          `gorm:"type:varchar(64);index"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status    string          `gorm:"type:varchar(32)"`
	CreatedAt time.Time       `gorm:"not null;index"`
}

func (OrderRecord) TableName() string { return "orders" }

// NewOrderRecord maps a validated order. Amount is rounded to cents.
func NewOrderRecord(o models.Order) OrderRecord {
	return OrderRecord{
		ID:        o.ID,
		UserID:    o.UserID,
		ProductID: o.Product.ID,
		Amount:    decimal.NewFromFloat(o.Pricing.FinalAmount).Round(2),
		Status:    o.Status,
		CreatedAt: o.Timestamp.UTC(),
	}
}

type PaymentRecord struct {
	ID          uuid.UUID       `gorm:"primaryKey;type:uuid"`
	OrderID     string          `gorm:"type:varchar(64);not null;index"`
	Method      string          `gorm:"type:varchar(32)"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status      string          `gorm:"type:varchar(32)"`
	ProcessedAt time.Time
}

func (PaymentRecord) TableName() string { return "payments" }

func NewPaymentRecord(o models.Order) PaymentRecord {
	return PaymentRecord{
		ID:          uuid.New(),
		OrderID:     o.ID,
		Method:      o.PaymentMethod,
		Amount:      decimal.NewFromFloat(o.Pricing.FinalAmount).Round(2),
		Status:      PaymentStatusCompleted,
		ProcessedAt: o.Timestamp.UTC(),
	}
}

// HourlyRecord is one row of analytics_hourly, keyed by the UTC start of the hour.
type HourlyRecord struct {
	HourTimestamp time.Time       `gorm:"primaryKey"`
	TotalRevenue  decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	TotalOrders   int64           `gorm:"not null"`
	ActiveUsers   int64           `gorm:"not null"`
}

func (HourlyRecord) TableName() string { return "analytics_hourly" }

func (r HourlyRecord) ToModel() models.HourlyAggregate {
	return models.HourlyAggregate{
		HourTimestamp: r.HourTimestamp.UTC(),
		TotalRevenue:  r.TotalRevenue.Round(2).InexactFloat64(),
		TotalOrders:   r.TotalOrders,
		ActiveUsers:   r.ActiveUsers,
	}
}

// Migrate creates or updates the orders, payments and analytics_hourly tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&OrderRecord{}, &PaymentRecord{}, &HourlyRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
