// Package memory implements the repositories on in-process maps with database-like semantics:
// exclusive per-record locks with a bounded wait, writes staged per transaction and applied on
// commit, and full rollback when the transaction function fails.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const defaultLockTimeout = 5 * time.Second

// Option customises the store.
type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a record lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithProducts seeds the product table.
func WithProducts(products ...domain.Product) Option {
	return func(s *Store) {
		for _, p := range products {
			s.products[p.ID] = p
		}
	}
}

// Store is the shared state behind every memory repository.
type Store struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	carts       map[string]domain.Cart
	orders      map[string]domain.Order
	numbers     map[string]string
	locks       *lockTable
	lockTimeout time.Duration

	productRepo *productRepository
	cartRepo    *cartRepository
	orderRepo   *orderRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		products:    make(map[string]domain.Product),
		carts:       make(map[string]domain.Cart),
		orders:      make(map[string]domain.Order),
		numbers:     make(map[string]string),
		locks:       newLockTable(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.productRepo = &productRepository{store: s}
	s.cartRepo = &cartRepository{store: s}
	s.orderRepo = &orderRepository{store: s}
	s.health, _ = repositories.NewProbeHealthRepository(nil, repositories.DependencyCheck{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	})
	return s
}

func (s *Store) Products() repositories.ProductRepository { return s.productRepo }
func (s *Store) Carts() repositories.CartRepository       { return s.cartRepo }
func (s *Store) Orders() repositories.OrderRepository     { return s.orderRepo }
func (s *Store) Health() repositories.HealthRepository    { return s.health }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

type txKey struct{}

// RunInTx runs fn in a transaction. A context that already carries a transaction is reused so
// nested calls join the outer unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	t := newTx(s)
	err := fn(context.WithValue(ctx, txKey{}, t))
	if err == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("memory: transaction aborted: %w", ctxErr)
		}
	}
	if err != nil {
		t.release()
		return err
	}
	return t.commit()
}

// withTx runs fn against the ambient transaction, or a short auto-commit transaction.
func (s *Store) withTx(ctx context.Context, fn func(t *tx) error) error {
	if t, ok := txFrom(ctx); ok {
		return fn(t)
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		t, _ := txFrom(ctx)
		return fn(t)
	})
}

func txFrom(ctx context.Context) (*tx, bool) {
	if ctx == nil {
		return nil, false
	}
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok && t != nil
}

// tx holds locks and staged writes until commit. It is used by one goroutine at a time.
type tx struct {
	store     *Store
	held      []string
	heldSet   map[string]struct{}
	products  map[string]domain.Product
	carts     map[string]*domain.Cart
	orders    map[string]domain.Order
	newOrders map[string]struct{}
}

func newTx(s *Store) *tx {
	return &tx{
		store:     s,
		heldSet:   make(map[string]struct{}),
		products:  make(map[string]domain.Product),
		carts:     make(map[string]*domain.Cart),
		orders:    make(map[string]domain.Order),
		newOrders: make(map[string]struct{}),
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.heldSet[key]; ok {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key, t.store.lockTimeout); err != nil {
		return err
	}
	t.heldSet[key] = struct{}{}
	t.held = append(t.held, key)
	return nil
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.store.locks.release(t.held[i])
	}
	t.held = nil
	t.heldSet = make(map[string]struct{})
}

func (t *tx) commit() error {
	s := t.store
	s.mu.Lock()
	for id := range t.newOrders {
		order := t.orders[id]
		if owner, taken := s.numbers[order.OrderNumber]; taken && owner != id {
			s.mu.Unlock()
			t.release()
			return newError("commit", kindConflict, fmt.Errorf("%w: %s", repositories.ErrDuplicateOrderNumber, order.OrderNumber))
		}
	}
	for id, product := range t.products {
		s.products[id] = product
	}
	for key, cart := range t.carts {
		if cart == nil {
			delete(s.carts, key)
			continue
		}
		s.carts[key] = *cart
	}
	for id, order := range t.orders {
		s.orders[id] = order
		s.numbers[order.OrderNumber] = id
	}
	s.mu.Unlock()
	t.release()
	return nil
}

// lockTable hands out one exclusive lock per key. Waiters give up after the timeout or when the
// context ends.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (l *lockTable) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return newError("lock", kindUnavailable, fmt.Errorf("%w: %s after %s", repositories.ErrLockTimeout, key, timeout))
	case <-ctx.Done():
		return newError("lock", kindUnavailable, fmt.Errorf("%w: %s: %w", repositories.ErrLockTimeout, key, ctx.Err()))
	}
}

func (l *lockTable) release(key string) {
	ch := l.slot(key)
	select {
	case <-ch:
	default:
	}
}
