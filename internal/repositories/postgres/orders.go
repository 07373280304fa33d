package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/repositories"
)

type orderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

// mutableOrderColumns are the only columns Update writes; everything else is frozen at insert.
var mutableOrderColumns = []string{
	"status", "payment_status", "carrier", "tracking_number", "status_history", "cancel_reason",
	"updated_at", "shipped_at", "delivered_at", "cancelled_at", "returned_at", "refunded_at", "restocked_at",
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	row, lines, err := orderFromDomain(order)
	if err != nil {
		return newError(op, kindConflict, err)
	}
	return r.store.inTx(ctx, func(_ context.Context, db *gorm.DB) error {
		if err := db.Create(&row).Error; err != nil {
			return wrapError(op, err)
		}
		if len(lines) == 0 {
			return nil
		}
		return wrapError(op, db.Create(&lines).Error)
	})
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	const op = "orders.update"
	row, _, err := orderFromDomain(order)
	if err != nil {
		return newError(op, kindConflict, err)
	}
	result := r.store.conn(ctx).Model(&orderRow{ID: order.ID}).Select(mutableOrderColumns).Updates(&row)
	if result.Error != nil {
		return wrapError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(op, "order", order.ID)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return r.load(r.store.conn(ctx), "orders.get", orderID, false)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.load(r.store.conn(ctx), "orders.getForUpdate", orderID, true)
}

func (r *orderRepository) load(db *gorm.DB, op, orderID string, lock bool) (domain.Order, error) {
	query := db.Where("id = ?", orderID)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row orderRow
	err := query.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Order{}, notFound(op, "order", orderID)
	}
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	lines, err := r.lines(db, []string{row.ID})
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	order, err := row.toDomain(lines[row.ID])
	if err != nil {
		return domain.Order{}, newError(op, kindConflict, err)
	}
	return order, nil
}

func (r *orderRepository) lines(db *gorm.DB, orderIDs []string) (map[string][]orderLineRow, error) {
	var rows []orderLineRow
	if err := db.Where("order_id IN ?", orderIDs).Order("order_id, position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	grouped := make(map[string][]orderLineRow, len(orderIDs))
	for _, row := range rows {
		grouped[row.OrderID] = append(grouped[row.OrderID], row)
	}
	return grouped, nil
}

func (r *orderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var count int64
	err := r.store.conn(ctx).Model(&orderRow{}).Where("order_number = ?", orderNumber).Count(&count).Error
	if err != nil {
		return false, wrapError("orders.numberExists", err)
	}
	return count > 0, nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	const op = "orders.list"
	page := pagination.Normalize(filter.Pagination)
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, newError(op, kindConflict, err)
	}

	db := r.store.conn(ctx)
	query := db.Model(&orderRow{})
	if filter.Customer != nil {
		query = ownerScope(query, *filter.Customer)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN ?", statuses)
	}
	if !cursor.IsZero() {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt.UTC(), cursor.ID)
	}

	var rows []orderRow
	if err := query.Order("created_at DESC, id DESC").Limit(page.PageSize + 1).Find(&rows).Error; err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}

	result := domain.CursorPage[domain.Order]{}
	if len(rows) > page.PageSize {
		last := rows[page.PageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt.UTC(), ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		result.NextPageToken = token
		rows = rows[:page.PageSize]
	}
	if len(rows) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	lines, err := r.lines(db, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}
	result.Items = make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.toDomain(lines[row.ID])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, newError(op, kindConflict, err)
		}
		result.Items = append(result.Items, order)
	}
	return result, nil
}
