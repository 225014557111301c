package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"order-metrics/internal/metrics"
	"order-metrics/internal/rabbitmq"
	"order-metrics/internal/validator"
	"order-metrics/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Persister interface {
	PersistOrder(ctx context.Context, order models.Order) (bool, error)
}

type RollupNotifier interface {
	OrderPersisted()
}

// FactSink receives every newly persisted order, e.g. the ClickHouse mirror.
type FactSink interface {
	InsertOrderFact(ctx context.Context, order models.Order) error
}

type OrderWorker struct {
	consumer  *rabbitmq.Consumer
	stores    *metrics.Stores
	persister Persister
	rollups   RollupNotifier
	facts     FactSink
	queueName string
	timeout   time.Duration
	applied   *appliedLedger
}

// NewOrderWorker wires the worker. facts may be nil.
func NewOrderWorker(
	consumer *rabbitmq.Consumer,
	stores *metrics.Stores,
	persister Persister,
	rollups RollupNotifier,
	facts FactSink,
	queueName string,
	timeout time.Duration,
) *OrderWorker {
	return &OrderWorker{
		consumer:  consumer,
		stores:    stores,
		persister: persister,
		rollups:   rollups,
		facts:     facts,
		queueName: queueName,
		timeout:   timeout,
		applied:   newAppliedLedger(defaultAppliedLimit),
	}
}

func (w *OrderWorker) Start(ctx context.Context) error {
	zap.L().Info("Starting order worker", zap.String("queue", w.queueName))
	return w.consumer.ConsumeQueue(ctx, w.queueName, w.HandleMessage)
}

// HandleMessage validates one payload and applies it to every live store and the
// durable aggregator. Malformed payloads touch nothing.
func (w *OrderWorker) HandleMessage(ctx context.Context, body []byte) error {
	order, err := validator.Parse(body)
	if err != nil {
		zap.L().Warn("Rejected order event", zap.Error(err))
		return err
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	inserted, err := w.apply(ctx, order)
	if inserted {
		w.rollups.OrderPersisted()
		if w.facts != nil {
			if ferr := w.facts.InsertOrderFact(ctx, order); ferr != nil {
				zap.L().Warn("Failed to mirror order fact", zap.String("order_id", order.ID), zap.Error(ferr))
			}
		}
	}
	if err != nil {
		return fmt.Errorf("order %s: %w", order.ID, err)
	}

	zap.L().Debug("Processed order",
		zap.String("order_id", order.ID),
		zap.String("product", order.Product.Name),
		zap.Float64("amount", order.Pricing.FinalAmount),
		zap.Bool("new", inserted))
	return nil
}

type task struct {
	name string
	run  func() error
}

// apply runs every update concurrently and waits for all of them. Each failure is tagged
// with its task so one failing store never hides what the others did. Tasks that already
// succeeded on an earlier delivery of the same order are skipped.
func (w *OrderWorker) apply(ctx context.Context, order models.Order) (bool, error) {
	amount := order.Pricing.FinalAmount
	var inserted bool

	tasks := []task{
		{"orders_per_minute", w.stores.Window.IncrementOrders},
		{"revenue_per_minute", func() error { return w.stores.Window.IncrementRevenue(amount) }},
		{"top_products", func() error { return w.stores.Leaderboard.RecordProduct(order.Product.Name) }},
		{"orders_by_status", func() error { return w.stores.Tallies.Increment(metrics.DimensionStatus, order.Status) }},
		{"payment_methods", func() error {
			return w.stores.Tallies.Increment(metrics.DimensionPaymentMethod, order.PaymentMethod)
		}},
		{"orders_by_location", func() error {
			return w.stores.Tallies.Increment(metrics.DimensionLocation, order.ShippingLocation)
		}},
		{"running_totals", func() error { return w.stores.Totals.AddOrder(amount) }},
		{"persist", func() error {
			ok, err := w.persister.PersistOrder(ctx, order)
			inserted = ok
			return err
		}},
	}

	prior := w.applied.done(order.ID)
	if len(prior) > 0 {
		zap.L().Info("Resuming partially applied order",
			zap.String("order_id", order.ID),
			zap.Int("applied_tasks", len(prior)))
	}

	done := make(map[string]struct{}, len(tasks))
	for name := range prior {
		done[name] = struct{}{}
	}

	var (
		wg   sync.WaitGroup
		m    sync.Mutex
		errs error
	)
	for _, t := range tasks {
		if _, ok := prior[t.name]; ok {
			continue
		}
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			err := t.run()

			m.Lock()
			defer m.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", t.name, err))
				return
			}
			done[t.name] = struct{}{}
		}(t)
	}
	wg.Wait()

	if errs == nil {
		w.applied.forget(order.ID)
	} else if !w.applied.remember(order.ID, done) {
		zap.L().Warn("Applied-task ledger full, a redelivery will recount live metrics",
			zap.String("order_id", order.ID))
	}
	return inserted, errs
}
