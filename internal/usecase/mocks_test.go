package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
)

// memStore implements OrderRepo and AttemptRepo with the same conditional
// write semantics as the MySQL repo.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	attempts map[string]*attemptRow
	events   []StatusChange

	// BeforeStartAttempt runs inside StartAttempt before the status check,
	// letting tests interleave a competing writer.
	BeforeStartAttempt func()
	UpdateErr          error
}

type attemptRow struct {
	domain.PaymentAttempt
	ResultCode *int
	ResultDesc string
}

func newMemStore(orders ...*domain.Order) *memStore {
	s := &memStore{orders: map[string]*domain.Order{}, attempts: map[string]*attemptRow{}}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memStore) Create(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) GetByCheckoutRequestID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.CheckoutRequestID != "" && o.CheckoutRequestID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListOrders(_ context.Context, f OrderFilter) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if (f.UserID != "" && o.UserID != f.UserID) ||
			(f.Status != "" && o.Status != f.Status) ||
			(f.Branch != "" && o.Branch != f.Branch) {
			continue
		}
		cp := *o
		cp.Items = nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) ListItems(_ context.Context, ids ...string) (map[string][]domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]domain.OrderItem{}
	for _, id := range ids {
		if o, ok := s.orders[id]; ok && len(o.Items) > 0 {
			out[id] = append([]domain.OrderItem(nil), o.Items...)
		}
	}
	return out, nil
}

func (s *memStore) StartAttempt(_ context.Context, orderID string, a domain.PaymentAttempt) (bool, error) {
	if s.BeforeStartAttempt != nil {
		s.BeforeStartAttempt()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != domain.StatusPending {
		at := a.InitiatedAt
		a.SupersededAt = &at
		s.attempts[a.CheckoutRequestID] = &attemptRow{PaymentAttempt: a}
		return false, nil
	}
	for _, r := range s.attempts {
		if r.OrderID == orderID && r.SupersededAt == nil {
			at := a.InitiatedAt
			r.SupersededAt = &at
		}
	}
	s.attempts[a.CheckoutRequestID] = &attemptRow{PaymentAttempt: a}
	o.Status = domain.StatusProcessing
	o.CheckoutRequestID = a.CheckoutRequestID
	s.events = append(s.events, StatusChange{From: domain.StatusPending, To: domain.StatusProcessing, Actor: domain.ActorInitiator})
	return true, nil
}

func (s *memStore) UpdateStatusIf(_ context.Context, id string, ch StatusChange) (bool, error) {
	if s.UpdateErr != nil {
		return false, s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != ch.From {
		return false, nil
	}
	o.Status = ch.To
	if ch.ReceiptCode != "" {
		o.ReceiptCode = ch.ReceiptCode
	}
	s.events = append(s.events, ch)
	return true, nil
}

func (s *memStore) CancelStalePending(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, o := range s.orders {
		if o.Status == domain.StatusPending && o.CreatedAt.Before(cutoff) {
			o.Status = domain.StatusCancelled
			ids = append(ids, o.ID)
		}
	}
	return ids, nil
}

func (s *memStore) GetAttempt(_ context.Context, id string) (*domain.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := r.PaymentAttempt
	return &a, nil
}

func (s *memStore) RecordAttemptResult(_ context.Context, id string, code int, desc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.attempts[id]; ok {
		r.ResultCode, r.ResultDesc = &code, desc
	}
	return nil
}

func (s *memStore) status(id string) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

// mockGateway implements PaymentGateway for testing.
type mockGateway struct {
	mu         sync.Mutex
	PushFunc   func(ctx context.Context, in mpesa.PushRequest) (mpesa.PushResult, error)
	QueryFunc  func(ctx context.Context, id string) (mpesa.QueryResult, error)
	PushCalls  int
	QueryCalls int
	LastPush   mpesa.PushRequest
}

func (m *mockGateway) InitiatePush(ctx context.Context, in mpesa.PushRequest) (mpesa.PushResult, error) {
	m.mu.Lock()
	m.PushCalls++
	m.LastPush = in
	m.mu.Unlock()
	if m.PushFunc != nil {
		return m.PushFunc(ctx, in)
	}
	return mpesa.PushResult{CheckoutRequestID: "ws_CO_1", MerchantRequestID: "mr-1", ResponseCode: "0"}, nil
}

func (m *mockGateway) QueryStatus(ctx context.Context, id string) (mpesa.QueryResult, error) {
	m.mu.Lock()
	m.QueryCalls++
	m.mu.Unlock()
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, id)
	}
	return mpesa.QueryResult{CheckoutRequestID: id}, nil
}

// memIdem implements IdempotencyStore in memory.
type memIdem struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string]string
}

func newMemIdem() *memIdem {
	return &memIdem{locks: map[string]bool{}, values: map[string]string{}}
}

func (m *memIdem) TryLock(_ context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scope + ":" + key
	if m.locks[k] {
		return false, nil
	}
	m.locks[k] = true
	return true, nil
}

func (m *memIdem) Remember(_ context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope+":"+key] = value
	return nil
}

func (m *memIdem) Recall(_ context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[scope+":"+key]
	return v, ok, nil
}

func (m *memIdem) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, scope+":"+key)
	return nil
}

// memCache implements OrderCache in memory.
type memCache struct {
	mu    sync.Mutex
	state map[string]domain.Status
	Hits  int
}

func newMemCache() *memCache { return &memCache{state: map[string]domain.Status{}} }

func (c *memCache) SetStatus(_ context.Context, userID, orderID string, st domain.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := userID + ":" + orderID
	if cur, ok := c.state[k]; ok && cur.Rank() > st.Rank() {
		return nil
	}
	c.state[k] = st
	return nil
}

func (c *memCache) GetStatus(_ context.Context, userID, orderID string) (domain.Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[userID+":"+orderID]
	if ok {
		c.Hits++
	}
	return st, ok, nil
}
