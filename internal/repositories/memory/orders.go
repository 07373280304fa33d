package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/repositories"
)

type orderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

func orderLockKey(id string) string { return "order:" + id }

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, orderLockKey(order.ID)); err != nil {
			return err
		}
		if _, err := r.Get(withTxContext(ctx, t), order.ID); err == nil {
			return newError("orders.insert", kindConflict, fmt.Errorf("order %s already exists", order.ID))
		}
		exists, err := r.NumberExists(withTxContext(ctx, t), order.OrderNumber)
		if err != nil {
			return err
		}
		if exists {
			return newError("orders.insert", kindConflict, fmt.Errorf("%w: %s", repositories.ErrDuplicateOrderNumber, order.OrderNumber))
		}
		t.orders[order.ID] = cloneOrder(order)
		t.newOrders[order.ID] = struct{}{}
		return nil
	})
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, orderLockKey(order.ID)); err != nil {
			return err
		}
		if _, err := r.Get(withTxContext(ctx, t), order.ID); err != nil {
			return err
		}
		t.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if t, ok := txFrom(ctx); ok {
		if staged, ok := t.orders[orderID]; ok {
			return cloneOrder(staged), nil
		}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order", orderID)
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) GetForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, orderLockKey(orderID)); err != nil {
			return err
		}
		found, err := r.Get(withTxContext(ctx, t), orderID)
		if err != nil {
			return err
		}
		order = found
		return nil
	})
	return order, err
}

func (r *orderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	if t, ok := txFrom(ctx); ok {
		for id := range t.newOrders {
			if t.orders[id].OrderNumber == orderNumber {
				return true, nil
			}
		}
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, ok := r.store.numbers[orderNumber]
	return ok, nil
}

func (r *orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page := pagination.Normalize(filter.Pagination)
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, newError("orders.list", kindConflict, err)
	}

	r.store.mu.Lock()
	matches := make([]domain.Order, 0, len(r.store.orders))
	for _, order := range r.store.orders {
		if filter.Customer != nil && !filter.Customer.Owns(order.Customer) {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		if !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	r.store.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	result := domain.CursorPage[domain.Order]{}
	if len(matches) > page.PageSize {
		last := matches[page.PageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		result.NextPageToken = token
		matches = matches[:page.PageSize]
	}
	result.Items = matches
	return result, nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Lines = append([]domain.OrderLine(nil), order.Lines...)
	out.StatusHistory = append([]domain.StatusChange(nil), order.StatusHistory...)
	return out
}
