// Package firestore implements the repositories on Cloud Firestore. Records are documents keyed so
// that ownership is structural: products/{id}, carts/{identityKey}, orders/{id} and
// orderNumbers/{number}. Transactions are Firestore transactions carried by the context; record
// locking and contention retries are the server's.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"

	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	productsCollection     = "products"
	cartsCollection        = "carts"
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

// Options tunes transaction behaviour.
type Options struct {
	TxAttempts int
	TxTimeout  time.Duration
}

// Store is the Firestore-backed repository registry.
type Store struct {
	provider *pfirestore.Provider
	txOpts   []pfirestore.TxOption

	productRepo *productRepository
	cartRepo    *cartRepository
	orderRepo   *orderRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// New builds the store on a provider.
func New(provider *pfirestore.Provider, opts Options) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store: provider is required")
	}
	s := &Store{
		provider: provider,
		txOpts:   []pfirestore.TxOption{pfirestore.WithTxAttempts(opts.TxAttempts), pfirestore.WithTxTimeout(opts.TxTimeout)},
	}
	s.productRepo = &productRepository{docs: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil)}
	s.cartRepo = &cartRepository{
		docs:  pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil),
		runTx: s.RunInTx,
	}
	s.orderRepo = &orderRepository{
		docs:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		numbers: pfirestore.NewBaseRepository[orderNumberDocument](provider, orderNumbersCollection, nil),
		runTx:   s.RunInTx,
	}

	health, err := repositories.NewProbeHealthRepository(nil, repositories.DependencyCheck{
		Name:  "firestore",
		Check: provider.ReadinessCheck(productsCollection),
	})
	if err != nil {
		return nil, err
	}
	s.health = health
	return s, nil
}

func (s *Store) Products() repositories.ProductRepository { return s.productRepo }
func (s *Store) Carts() repositories.CartRepository       { return s.cartRepo }
func (s *Store) Orders() repositories.OrderRepository     { return s.orderRepo }
func (s *Store) Health() repositories.HealthRepository    { return s.health }

// Close releases the Firestore client.
func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }

// RunInTx runs fn in a Firestore transaction. Only order and order-number documents are written with
// create semantics, so an AlreadyExists commit failure means the order number was taken by a
// concurrent checkout. Contention that outlasts the retry budget surfaces as a lock timeout.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.provider.RunTransaction(ctx, fn, s.txOpts...)
	switch {
	case err == nil:
		return nil
	case pfirestore.IsCode(err, codes.AlreadyExists):
		return pfirestore.Conflict("tx.commit", fmt.Errorf("%w: %v", repositories.ErrDuplicateOrderNumber, err))
	case pfirestore.IsCode(err, codes.Aborted):
		return pfirestore.WrapError("tx.commit", fmt.Errorf("%w: %w", repositories.ErrLockTimeout, err))
	}
	return err
}
