package workers

import "sync"

// defaultAppliedLimit caps how many failed orders are remembered at once.
const defaultAppliedLimit = 10000

// appliedLedger remembers which live updates already landed for orders whose message
// failed and went back to the queue. A redelivery then only retries the missing tasks, so
// a long database outage cannot inflate the live counters. It is process local: after a
// restart the stores start empty and a redelivered order must be counted again.
type appliedLedger struct {
	m      sync.Mutex
	orders map[string]map[string]struct{}
	limit  int
}

func newAppliedLedger(limit int) *appliedLedger {
	return &appliedLedger{orders: map[string]map[string]struct{}{}, limit: limit}
}

// done reports the tasks already applied for orderID.
func (l *appliedLedger) done(orderID string) map[string]struct{} {
	l.m.Lock()
	defer l.m.Unlock()

	out := make(map[string]struct{}, len(l.orders[orderID]))
	for name := range l.orders[orderID] {
		out[name] = struct{}{}
	}
	return out
}

// remember records tasks for orderID. It returns false when the ledger is full and the
// order was not already tracked.
func (l *appliedLedger) remember(orderID string, tasks map[string]struct{}) bool {
	l.m.Lock()
	defer l.m.Unlock()

	if _, ok := l.orders[orderID]; !ok && len(l.orders) >= l.limit {
		return false
	}
	l.orders[orderID] = tasks
	return true
}

func (l *appliedLedger) forget(orderID string) {
	l.m.Lock()
	defer l.m.Unlock()
	delete(l.orders, orderID)
}

func (l *appliedLedger) len() int {
	l.m.Lock()
	defer l.m.Unlock()
	return len(l.orders)
}
