package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/notifier"
	"pickup-service/internal/payment"
	"pickup-service/internal/store"

	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for the Postgres store. WithOrderLock holds a global
// mutex and only publishes staged writes when fn succeeds.
type memStore struct {
	mu       sync.Mutex
	stores   map[string]*models.Store
	menu     []models.MenuItem
	orders   map[string]*models.Order
	items    map[string][]models.OrderItem
	payments []models.Payment
	calls    []models.CallLog
	events   map[string]bool
	staff    map[string]*models.StaffUser
	nextNum  map[string]int64

	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		stores:  make(map[string]*models.Store),
		orders:  make(map[string]*models.Order),
		items:   make(map[string][]models.OrderItem),
		events:  make(map[string]bool),
		staff:   make(map[string]*models.StaffUser),
		nextNum: make(map[string]int64),
	}
}

func (m *memStore) addStore(name, tz string) *models.Store {
	st := &models.Store{ID: uuid.New().String(), Name: name, Slug: name, Timezone: tz}
	m.stores[st.ID] = st
	m.nextNum[st.ID] = 1
	return st
}

func (m *memStore) addOrder(o *models.Order, items []models.OrderItem) *models.Order {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	for i := range items {
		items[i].ID = uuid.New().String()
		items[i].OrderID = o.ID
	}
	m.orders[o.ID] = o
	m.items[o.ID] = items
	return o
}

func (m *memStore) order(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

type memTx struct {
	order    *models.Order
	items    []models.OrderItem
	saveErr  error
	saved    bool
	payments []models.Payment
	calls    []models.CallLog
	events   map[string]string
	seen     map[string]bool
}

func (t *memTx) Order() *models.Order { return t.order }

func (t *memTx) Items(ctx context.Context) ([]models.OrderItem, error) {
	return append([]models.OrderItem(nil), t.items...), nil
}

func (t *memTx) SaveOrder(ctx context.Context) error {
	if t.saveErr != nil {
		return t.saveErr
	}
	t.saved = true
	return nil
}

func (t *memTx) CreatePayment(ctx context.Context, p *models.Payment) error {
	p.ID = uuid.New().String()
	t.payments = append(t.payments, *p)
	return nil
}

func (t *memTx) CreateCallLog(ctx context.Context, c *models.CallLog) error {
	c.ID = uuid.New().String()
	t.calls = append(t.calls, *c)
	return nil
}

func (t *memTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	if t.seen[eventID] || t.events[eventID] != "" {
		return false, nil
	}
	t.events[eventID] = eventType
	return true, nil
}

func (m *memStore) WithOrderLock(ctx context.Context, orderID string, fn func(tx store.OrderTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	cp := *o
	tx := &memTx{
		order:   &cp,
		items:   m.items[orderID],
		saveErr: m.saveErr,
		events:  make(map[string]string),
		seen:    m.events,
	}
	if err := fn(tx); err != nil {
		return err
	}

	if tx.saved {
		m.orders[orderID] = &cp
	}
	m.payments = append(m.payments, tx.payments...)
	m.calls = append(m.calls, tx.calls...)
	for id := range tx.events {
		m.events[id] = true
	}
	return nil
}

func (m *memStore) UpdateCallLogStatus(ctx context.Context, sid, status string, errorCode *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.calls {
		if m.calls[i].TwilioCallSID != nil && *m.calls[i].TwilioCallSID == sid {
			m.calls[i].Status = status
			if errorCode != nil {
				m.calls[i].ErrorCode = errorCode
			}
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) GetOrderItemsByOrderIDs(ctx context.Context, ids []string) (map[string][]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]models.OrderItem)
	for _, id := range ids {
		if items, ok := m.items[id]; ok {
			out[id] = items
		}
	}
	return out, nil
}

func (m *memStore) ListOrders(ctx context.Context, storeID string, status models.OrderStatus, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.StoreID == storeID && (status == "" || o.Status == status) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber > out[j].OrderNumber })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetStoreBySlug(ctx context.Context, slug string) (*models.Store, error) {
	for _, st := range m.stores {
		if st.Slug == slug {
			return st, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	st, ok := m.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st, nil
}

func (m *memStore) GetMenuItems(ctx context.Context, storeID string) ([]models.MenuItem, error) {
	var out []models.MenuItem
	for _, item := range m.menu {
		if item.StoreID == storeID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) GetAvailableMenuItemsByIDs(ctx context.Context, storeID string, ids []string) ([]models.MenuItem, error) {
	want := make(map[string]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []models.MenuItem
	for _, item := range m.menu {
		if item.StoreID == storeID && item.IsAvailable && want[item.ID] {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[order.StoreID]; !ok {
		return store.ErrNotFound
	}
	order.OrderNumber = m.nextNum[order.StoreID]
	m.nextNum[order.StoreID]++
	order.ID = uuid.New().String()
	order.CreatedAt = time.Now()
	for i := range items {
		items[i].ID = uuid.New().String()
		items[i].OrderID = order.ID
	}
	cp := *order
	m.orders[order.ID] = &cp
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (m *memStore) SetCheckoutSession(ctx context.Context, orderID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID].StripeCheckoutSessionID = models.StringPtr(sessionID)
	return nil
}

func (m *memStore) GetStaffUserByUsername(ctx context.Context, username string) (*models.StaffUser, error) {
	u, ok := m.staff[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

// fakeNotifier records sends and returns configured outcomes
type fakeNotifier struct {
	mu        sync.Mutex
	smsFail   bool
	callFail  bool
	smsCodes  []string
	callCount int
}

func (n *fakeNotifier) FromNumber() string { return "+15550000000" }

func (n *fakeNotifier) SendOTP(ctx context.Context, phone string, orderNumber int64, code string) notifier.SendResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.smsFail {
		return notifier.SendResult{Err: errors.New("carrier rejected")}
	}
	n.smsCodes = append(n.smsCodes, code)
	return notifier.SendResult{Success: true, MessageSID: "SM1", CostCents: 1}
}

func (n *fakeNotifier) CallReady(ctx context.Context, phone string, orderNumber int64, orderID string) notifier.CallResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callCount++
	if n.callFail {
		return notifier.CallResult{Err: errors.New("21211 invalid number")}
	}
	return notifier.CallResult{Success: true, CallSID: fmt.Sprintf("CA%d", n.callCount), CostCents: 1}
}

func (n *fakeNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.smsCodes) == 0 {
		return ""
	}
	return n.smsCodes[len(n.smsCodes)-1]
}

type fakePublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	paid    []*models.OrderPaidEvent
	changed []*models.OrderStatusChangedEvent
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return nil
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

type fakeGateway struct {
	err      error
	sessions int
}

func (g *fakeGateway) CreateSession(ctx context.Context, order *models.Order, items []models.OrderItem) (*payment.Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.sessions++
	return &payment.Session{ID: fmt.Sprintf("cs_%d", g.sessions), URL: "https://checkout.example/" + order.ID}, nil
}

func (g *fakeGateway) ParseEvent(payload []byte, sig string) (*payment.Event, error) {
	return nil, payment.ErrInvalidSignature
}

// fakeIdem is a map-backed idempotency store
type fakeIdem struct {
	mu   sync.Mutex
	vals map[string]string
}

func newFakeIdem() *fakeIdem { return &fakeIdem{vals: make(map[string]string)} }

func (f *fakeIdem) ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vals[key]; ok {
		return false, nil
	}
	f.vals[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeIdem) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vals[key], nil
}

func (f *fakeIdem) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeIdem) DeleteIdempotencyKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vals, key)
	return nil
}
