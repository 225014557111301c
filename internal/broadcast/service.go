package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-metrics/internal/metrics"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"go.uber.org/zap"
)

// Outbound events
const (
	EventAll       = "metrics:all"
	EventOverview  = "metrics:overview"
	EventProducts  = "metrics:products"
	EventLocations = "metrics:locations"
	EventPayments  = "metrics:payments"
	EventStatuses  = "metrics:statuses"
	EventError     = "metrics:error"
)

// Inbound request topics
const (
	RequestAll       = "request:all"
	RequestOverview  = "request:overview"
	RequestProducts  = "request:products"
	RequestLocations = "request:locations"
	RequestPayments  = "request:payments"
	RequestStatuses  = "request:statuses"
)

var (
	ErrServiceClosed      = errors.New("broadcast: service closed")
	ErrSubscriptionClosed = errors.New("broadcast: subscription closed")
)

// Message is one frame pushed to a subscriber.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Conn is the subscriber's transport. Send is never called concurrently for one Conn.
type Conn interface {
	Send(ctx context.Context, msg Message) error
}

// Source produces the views pushed to subscribers.
type Source interface {
	Assemble(ctx context.Context) (models.Snapshot, error)
	Overview(ctx context.Context) (models.Overview, error)
	Products(ctx context.Context) ([]models.ProductRank, error)
	Tally(ctx context.Context, dim metrics.Dimension) ([]models.TallyEntry, error)
}

// Service pushes a full snapshot to every subscriber on subscribe and then every
// interval, and answers on-demand requests.
type Service struct {
	source   Source
	interval time.Duration

	m      sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

func NewService(source Source, interval time.Duration) *Service {
	return &Service{
		source:   source,
		interval: interval,
		subs:     make(map[string]*Subscription),
	}
}

// Subscribe registers conn under id and starts its push loop. A previous subscription
// with the same id is closed first.
func (s *Service) Subscribe(id string, conn Conn) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		id:      id,
		conn:    conn,
		service: s,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		cancel()
		return nil, ErrServiceClosed
	}
	prev := s.subs[id]
	s.subs[id] = sub
	s.m.Unlock()

	if prev != nil {
		prev.Close()
	}

	zap.L().Info("Client subscribed", zap.String("subscriber", id))
	go sub.run(ctx, s.interval)
	return sub, nil
}

// Len is the number of live subscriptions.
func (s *Service) Len() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.subs)
}

// Close stops every subscription and rejects new ones.
func (s *Service) Close() {
	s.m.Lock()
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.m.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (s *Service) remove(sub *Subscription) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.subs[sub.id] == sub {
		delete(s.subs, sub.id)
	}
}

// Subscription is one subscriber's push loop. Close releases its timer and waits for
// the loop to exit; it is safe to call more than once.
type Subscription struct {
	id      string
	conn    Conn
	service *Service

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	sendMu   sync.Mutex
}

func (sub *Subscription) ID() string { return sub.id }

// Done is closed once the push loop has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

func (sub *Subscription) Close() {
	sub.stop()
	<-sub.done
}

// stop cancels the loop without waiting, so it can run on the loop's own goroutine.
func (sub *Subscription) stop() {
	sub.stopOnce.Do(func() {
		sub.cancel()
		sub.service.remove(sub)
		zap.L().Info("Client unsubscribed", zap.String("subscriber", sub.id))
	})
}

func (sub *Subscription) closed() bool {
	select {
	case <-sub.done:
		return true
	default:
	}
	sub.service.m.Lock()
	defer sub.service.m.Unlock()
	return sub.service.subs[sub.id] != sub
}

func (sub *Subscription) run(ctx context.Context, interval time.Duration) {
	defer close(sub.done)

	sub.push(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sub.push(ctx)
		}
	}
}

func (sub *Subscription) push(ctx context.Context) {
	snap, err := sub.service.source.Assemble(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		zap.L().Warn("Failed to assemble snapshot", zap.String("subscriber", sub.id), zap.Error(err))
		_ = sub.send(ctx, Message{Event: EventError, Data: ErrorPayload{Error: err.Error()}})
		return
	}
	_ = sub.send(ctx, Message{Event: EventAll, Data: snap})
}

// send delivers one message. A failed send means the subscriber is gone, so the
// subscription is stopped.
func (sub *Subscription) send(ctx context.Context, msg Message) error {
	sub.sendMu.Lock()
	err := sub.conn.Send(ctx, msg)
	sub.sendMu.Unlock()

	if err != nil {
		zap.L().Info("Send failed, dropping subscriber",
			zap.String("subscriber", sub.id),
			zap.String("event", msg.Event),
			zap.Error(err))
		sub.stop()
	}
	return err
}

// Request answers one on-demand topic with the matching narrow view.
func (sub *Subscription) Request(ctx context.Context, topic string) error {
	if sub.closed() {
		return ErrSubscriptionClosed
	}

	var (
		event string
		data  any
		err   error
	)
	switch topic {
	case RequestAll:
		event = EventAll
		data, err = sub.service.source.Assemble(ctx)
	case RequestOverview:
		event = EventOverview
		data, err = sub.service.source.Overview(ctx)
	case RequestProducts:
		event = EventProducts
		data, err = sub.service.source.Products(ctx)
	case RequestLocations:
		event = EventLocations
		data, err = sub.service.source.Tally(ctx, metrics.DimensionLocation)
	case RequestPayments:
		event = EventPayments
		data, err = sub.service.source.Tally(ctx, metrics.DimensionPaymentMethod)
	case RequestStatuses:
		event = EventStatuses
		data, err = sub.service.source.Tally(ctx, metrics.DimensionStatus)
	default:
		return fmt.Errorf("%w: unknown request topic %q", exception.ErrInvalidArgument, topic)
	}

	if err != nil {
		zap.L().Warn("Failed to answer request", zap.String("subscriber", sub.id), zap.String("topic", topic), zap.Error(err))
		if serr := sub.send(ctx, Message{Event: EventError, Data: ErrorPayload{Error: err.Error()}}); serr != nil {
			return serr
		}
		return err
	}
	return sub.send(ctx, Message{Event: event, Data: data})
}
