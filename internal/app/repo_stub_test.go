package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
	"github.com/boopathydreams/capnpay-settlement/pkg/bankclient"
)

// memRepo is an in-memory store.Repository used by the app-layer tests. It
// mirrors the conditional-update semantics of the Postgres implementation.
type memRepo struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]*domain.Account
	byAddress map[string]uuid.UUID
	payments  map[uuid.UUID]*domain.Payment
	history   []domain.StatusHistoryEntry
	dedupe    map[string]bool
	audits    map[string][]byte

	failFind bool

	// afterCollectionUpdate, when set, runs after an accepted collection-leg
	// write and before the caller proceeds, letting a test interleave a
	// concurrent writer between the leg update and the overall recompute.
	afterCollectionUpdate func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		accounts:  make(map[uuid.UUID]*domain.Account),
		byAddress: make(map[string]uuid.UUID),
		payments:  make(map[uuid.UUID]*domain.Payment),
		dedupe:    make(map[string]bool),
		audits:    make(map[string][]byte),
	}
}

func (m *memRepo) addAccount(address, name string, kind domain.AccountKind) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := &domain.Account{
		ID:          uuid.New(),
		Address:     address,
		DisplayName: name,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
	}
	m.accounts[acc.ID] = acc
	m.byAddress[address] = acc.ID
	return acc
}

func (m *memRepo) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *memRepo) FindAccountByAddress(ctx context.Context, address string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byAddress[address]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *memRepo) CreateAccountWithAddress(ctx context.Context, account *domain.Account) (*domain.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.byAddress[account.Address]; ok {
		cp := *m.accounts[existingID]
		return &cp, false, nil
	}
	cp := *account
	m.accounts[cp.ID] = &cp
	m.byAddress[cp.Address] = cp.ID
	out := cp
	return &out, true, nil
}

func (m *memRepo) UpdateAccountDisplayNameIfEmpty(ctx context.Context, accountID uuid.UUID, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	if acc.DisplayName == "" {
		acc.DisplayName = displayName
	}
	return nil
}

func (m *memRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[cp.ID] = &cp
	return nil
}

func (m *memRepo) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFind {
		return nil, store.ErrPaymentNotFound
	}
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) FindPaymentByCollectionProviderRef(ctx context.Context, ref string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.CollectionProviderRef != nil && *p.CollectionProviderRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memRepo) FindPaymentByPayoutProviderRef(ctx context.Context, ref string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.PayoutProviderRef != nil && *p.PayoutProviderRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (m *memRepo) UpdateCollectionStatus(ctx context.Context, paymentID uuid.UUID, prev, next domain.CollectionStatus, refs *domain.ProviderRefs) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.CollectionStatus != prev {
		return false, nil
	}
	p.CollectionStatus = next
	if refs != nil && refs.TransactionID != "" {
		ref := refs.TransactionID
		p.CollectionProviderRef = &ref
	}
	p.UpdatedAt = time.Now().UTC()
	if m.afterCollectionUpdate != nil {
		hook := m.afterCollectionUpdate
		m.afterCollectionUpdate = nil
		m.mu.Unlock()
		hook()
		m.mu.Lock()
	}
	return true, nil
}

func (m *memRepo) UpdatePayoutStatus(ctx context.Context, paymentID uuid.UUID, prev, next domain.PayoutStatus, providerRef *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.PayoutStatus != prev {
		return false, nil
	}
	p.PayoutStatus = next
	if providerRef != nil {
		ref := *providerRef
		p.PayoutProviderRef = &ref
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// RecomputeOverallStatus mirrors the store's semantics: the overall is derived
// from the stored leg values, not from any caller-side snapshot, and terminal
// values stay put.
func (m *memRepo) RecomputeOverallStatus(ctx context.Context, paymentID uuid.UUID) (domain.OverallStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return "", store.ErrPaymentNotFound
	}
	if p.OverallStatus.Terminal() {
		return p.OverallStatus, nil
	}
	next := domain.DeriveOverall(p.OverallStatus, p.CollectionStatus, p.PayoutStatus)
	if next != p.OverallStatus {
		p.OverallStatus = next
		p.UpdatedAt = time.Now().UTC()
	}
	return p.OverallStatus, nil
}

func (m *memRepo) SetCollectionProviderRef(ctx context.Context, paymentID uuid.UUID, providerRef, collectionLink string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return store.ErrPaymentNotFound
	}
	ref := providerRef
	p.CollectionProviderRef = &ref
	if collectionLink != "" {
		link := collectionLink
		p.CollectionLink = &link
	}
	return nil
}

func (m *memRepo) AppendStatusHistory(ctx context.Context, entry *domain.StatusHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.DedupeKey != nil {
		if m.dedupe[*entry.DedupeKey] {
			return store.ErrDuplicateDelivery
		}
		m.dedupe[*entry.DedupeKey] = true
	}
	m.history = append(m.history, *entry)
	return nil
}

func (m *memRepo) HasStatusHistory(ctx context.Context, paymentID uuid.UUID, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.history {
		if h.PaymentID == paymentID && h.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) UpsertWebhookAudit(ctx context.Context, leg domain.Leg, providerTxnID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits[string(leg)+":"+providerTxnID] = payload
	return nil
}

func (m *memRepo) ListPaymentsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.HistoryOptions) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.SenderAccountID != accountID && p.ReceiverAccountID != accountID {
			continue
		}
		if opts.From != nil && p.CreatedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && p.CreatedAt.After(*opts.To) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else {
		out = nil
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memRepo) ListUnsettledPayments(ctx context.Context, updatedSince time.Time, limit int) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.OverallStatus.Terminal() {
			continue
		}
		if p.UpdatedAt.Before(updatedSince) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) historyCount(paymentID uuid.UUID, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, h := range m.history {
		if h.PaymentID == paymentID && h.Status == status {
			count++
		}
	}
	return count
}

// fakeGateway is a programmable ProviderGateway for tests.
type fakeGateway struct {
	mu sync.Mutex

	collectionCalls int
	payoutCalls     int
	payoutRefs      []string
	statusCalls     []string

	collectionErr error
	payoutErr     error
	statusFn      func(providerTxnID, leg string) (*bankclient.StatusResponse, error)
}

func (g *fakeGateway) CreateCollection(ctx context.Context, req bankclient.CollectionRequest) (*bankclient.CollectionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.collectionCalls++
	if g.collectionErr != nil {
		return nil, g.collectionErr
	}
	return &bankclient.CollectionResponse{
		ProviderTxnID: "coll-" + req.ReferenceID,
		Link:          "upi://pay?ref=" + req.ReferenceID,
	}, nil
}

func (g *fakeGateway) InitiatePayout(ctx context.Context, req bankclient.PayoutRequest) (*bankclient.PayoutResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payoutCalls++
	g.payoutRefs = append(g.payoutRefs, req.ReferenceID)
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	return &bankclient.PayoutResponse{ProviderTxnID: "pout-" + req.ReferenceID}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, providerTxnID, leg string) (*bankclient.StatusResponse, error) {
	g.mu.Lock()
	statusFn := g.statusFn
	g.statusCalls = append(g.statusCalls, leg+":"+providerTxnID)
	g.mu.Unlock()
	if statusFn != nil {
		return statusFn(providerTxnID, leg)
	}
	return &bankclient.StatusResponse{Status: "pending"}, nil
}

func newTestService(repo *memRepo, gateway *fakeGateway) (*Service, *EventBus) {
	bus := NewEventBus()
	svc := NewService(repo, gateway, bus, nil, Options{
		Currency:          "INR",
		PayoutCallTimeout: time.Second,
	})
	return svc, bus
}

// drainEvents collects everything currently buffered on a subscriber channel.
func drainEvents(events <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case e := <-events:
			out = append(out, e)
		default:
			return out
		}
	}
}
