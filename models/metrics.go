package models

import (
	"sort"
	"time"
)

// Totals holds the all-time order count and revenue
type Totals struct {
	Orders  int64   `json:"orders"`
	Revenue float64 `json:"revenue"`
}

// ProductRank is one leaderboard entry
type ProductRank struct {
	Name   string `json:"name"`
	Orders int64  `json:"orders"`
}

// TallyEntry is a live (value, count) pair of one categorical dimension
type TallyEntry struct {
	Value  string `json:"value"`
	Orders int64  `json:"orders"`
}

// SortTally orders entries by count descending, value ascending on ties.
func SortTally(entries []TallyEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Orders != entries[j].Orders {
			return entries[i].Orders > entries[j].Orders
		}
		return entries[i].Value < entries[j].Value
	})
}

type RecentActivity struct {
	OrdersLastMinute   int64   `json:"ordersLastMinute"`
	OrdersLast5Minutes int64   `json:"ordersLast5Minutes"`
	RevenueLastMinute  float64 `json:"revenueLastMinute"`
	RevenueLast5Minute float64 `json:"revenueLast5Minutes"`
}

type Overview struct {
	Totals         Totals         `json:"totals"`
	RecentActivity RecentActivity `json:"recentActivity"`
}

// Snapshot is a read-only composition of every live metric at one capture time.
// Sources are read independently, so it is approximately consistent.
type Snapshot struct {
	Overview  Overview      `json:"overview"`
	Products  []ProductRank `json:"products"`
	Locations []TallyEntry  `json:"locations"`
	Payments  []TallyEntry  `json:"payments"`
	Statuses  []TallyEntry  `json:"statuses"`
	Timestamp time.Time     `json:"timestamp"`
}

// HourlyAggregate is the durable rollup of one hour of orders
type HourlyAggregate struct {
	HourTimestamp time.Time `json:"timestamp"`
	TotalRevenue  float64   `json:"revenue"`
	TotalOrders   int64     `json:"orders"`
	ActiveUsers   int64     `json:"activeUsers"`
}

type DailySummary struct {
	OrdersToday     int64   `json:"ordersToday"`
	RevenueToday    float64 `json:"revenueToday"`
	UniqueCustomers int64   `json:"uniqueCustomers"`
	AvgOrderValue   float64 `json:"avgOrderValue"`
}

type ProductSales struct {
	ProductID    string  `json:"product_id"`
	OrderCount   int64   `json:"order_count"`
	TotalRevenue float64 `json:"total_revenue"`
}

type EnhancedMetrics struct {
	Daily       DailySummary   `json:"daily"`
	TopProducts []ProductSales `json:"topProducts"`
	Timestamp   time.Time      `json:"timestamp"`
}

type DailyTrend struct {
	Date        string  `json:"date"`
	Orders      int64   `json:"orders"`
	Revenue     float64 `json:"revenue"`
	ActiveUsers int64   `json:"activeUsers"`
}

type PeakHour struct {
	Timestamp time.Time `json:"timestamp"`
	Orders    int64     `json:"orders"`
}

type PerformanceSummary struct {
	Period               string    `json:"period"`
	TotalOrders          int64     `json:"totalOrders"`
	TotalRevenue         float64   `json:"totalRevenue"`
	AverageOrdersPerHour int64     `json:"averageOrdersPerHour"`
	PeakHour             *PeakHour `json:"peakHour,omitempty"`
}
