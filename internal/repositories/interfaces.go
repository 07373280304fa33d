package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/hanko-field/ordercore/internal/domain"
)

// Registry exposes the repositories backing the order engine. Every implementation is also a
// UnitOfWork; repositories called with a context produced by RunInTx join that transaction.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary. Nested calls join the
// outer transaction. A non-nil error from fn rolls back every write made through the context.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	// ErrLockTimeout is wrapped by backends when an exclusive lock is not granted in time.
	ErrLockTimeout = errors.New("repositories: lock wait timeout")
	// ErrDuplicateOrderNumber is wrapped when an order number is already taken.
	ErrDuplicateOrderNumber = errors.New("repositories: duplicate order number")
)

// ProductRepository reads catalog products and mutates their stock fields.
type ProductRepository interface {
	// Get returns the product without taking a lock.
	Get(ctx context.Context, productID string) (domain.Product, error)
	// GetForUpdate returns the product holding an exclusive lock on its stock record until the
	// surrounding transaction ends. Outside a transaction it behaves like Get.
	GetForUpdate(ctx context.Context, productID string) (domain.Product, error)
	// UpdateStock writes the stock quantity of a product previously read in the same transaction.
	UpdateStock(ctx context.Context, productID string, quantity int, updatedAt time.Time) error
	// Upsert creates or replaces a product record. Used by the bulk import path.
	Upsert(ctx context.Context, product domain.Product) error
}

// CartRepository persists carts together with their lines.
type CartRepository interface {
	// Find returns the cart owned by identity. Missing carts yield a RepositoryError with IsNotFound.
	Find(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error)
	// FindForUpdate is Find holding an exclusive lock on the cart for the surrounding transaction.
	FindForUpdate(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error)
	// Save inserts or replaces the cart and its full line set. Creating a second cart for the same
	// identity yields a RepositoryError with IsConflict.
	Save(ctx context.Context, cart domain.Cart) error
	// Delete removes the cart and its lines. Deleting a missing cart is not an error.
	Delete(ctx context.Context, identity domain.CartIdentity) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Customer   *domain.CartIdentity
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders and their lines.
type OrderRepository interface {
	// Insert stores a new order. A taken order number wraps ErrDuplicateOrderNumber.
	Insert(ctx context.Context, order domain.Order) error
	// Update replaces the mutable fields (status, payment, fulfilment, history).
	Update(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	// GetForUpdate is Get holding an exclusive lock on the order for the surrounding transaction.
	GetForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	NumberExists(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// HealthRepository probes the dependencies the engine needs to serve traffic.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
