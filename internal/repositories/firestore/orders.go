package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/ordercore/internal/domain"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// orderRepository stores orders/{id} next to an orderNumbers/{number} guard document. Both are
// written with create semantics so a taken number fails the commit, which Store.RunInTx reports as
// ErrDuplicateOrderNumber.
type orderRepository struct {
	docs    *pfirestore.BaseRepository[orderDocument]
	numbers *pfirestore.BaseRepository[orderNumberDocument]
	runTx   func(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	write := func(txCtx context.Context) error {
		if err := r.docs.Create(txCtx, order.ID, newOrderDocument(order)); err != nil {
			return err
		}
		return r.numbers.Create(txCtx, order.OrderNumber, orderNumberDocument{
			OrderID:   order.ID,
			CreatedAt: order.CreatedAt.UTC(),
		})
	}
	if _, ok := pfirestore.TransactionFrom(ctx); ok {
		return write(ctx)
	}
	return r.runTx(ctx, write)
}

// Update rewrites the fields that change after checkout. Lines, amounts and the owner are left alone.
func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	doc := newOrderDocument(order)
	return r.docs.Update(ctx, order.ID, []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "paymentStatus", Value: doc.PaymentStatus},
		{Path: "carrier", Value: doc.Carrier},
		{Path: "trackingNumber", Value: doc.TrackingNumber},
		{Path: "statusHistory", Value: doc.StatusHistory},
		{Path: "cancelReason", Value: doc.CancelReason},
		{Path: "updatedAt", Value: doc.UpdatedAt},
		{Path: "shippedAt", Value: doc.ShippedAt},
		{Path: "deliveredAt", Value: doc.DeliveredAt},
		{Path: "cancelledAt", Value: doc.CancelledAt},
		{Path: "returnedAt", Value: doc.ReturnedAt},
		{Path: "refundedAt", Value: doc.RefundedAt},
		{Path: "restockedAt", Value: doc.RestockedAt},
	})
}

func (r *orderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.docs.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.Get(ctx, orderID)
}

func (r *orderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	return r.numbers.Exists(ctx, orderNumber)
}

// List pages newest first using (createdAt, document id) as the cursor.
func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page := pagination.Normalize(filter.Pagination)
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.Conflict("orders.list", err)
	}

	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Customer != nil {
			q = q.Where("customerKey", "==", filter.Customer.Key())
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(page.PageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	result := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), page.PageSize))}
	for i, doc := range docs {
		if i == page.PageSize {
			last := result.Items[len(result.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			result.NextPageToken = token
			break
		}
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		result.Items = append(result.Items, order)
	}
	return result, nil
}
