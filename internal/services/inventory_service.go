package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/money"
	"github.com/hanko-field/ordercore/internal/platform/textutil"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products    repositories.ProductRepository
	UnitOfWork  repositories.UnitOfWork
	Events      EventPublisher
	Normalizer  money.Normalizer
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products   repositories.ProductRepository
	uow        repositories.UnitOfWork
	events     EventPublisher
	normalizer money.Normalizer
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("inventory service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	normalizer := deps.Normalizer
	if normalizer.DefaultCurrency == "" {
		normalizer = money.New(domain.DefaultCurrency)
	}

	return &inventoryService{
		products:   deps.Products,
		uow:        deps.UnitOfWork,
		events:     deps.Events,
		normalizer: normalizer,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, newValidationError("product_id", "is required")
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return Product{}, mapRepositoryError("inventory.get", err)
	}
	return product, nil
}

func (s *inventoryService) Check(ctx context.Context, requests []StockRequest) ([]StockShortfall, error) {
	merged, err := mergeStockRequests(requests)
	if err != nil {
		return nil, err
	}

	var shortfalls []StockShortfall
	for _, req := range merged {
		product, err := s.products.Get(ctx, req.ProductID)
		if err != nil {
			if isRepositoryNotFound(err) {
				shortfalls = append(shortfalls, StockShortfall{ProductID: req.ProductID, Requested: req.Quantity})
				continue
			}
			return nil, mapRepositoryError("inventory.check", err)
		}
		if _, shortfall, ok := evaluateReservation(product, req.Quantity); !ok {
			shortfalls = append(shortfalls, shortfall)
		}
	}
	return shortfalls, nil
}

func (s *inventoryService) Reserve(ctx context.Context, productID string, quantity int) (Reservation, error) {
	reservations, err := s.ReserveAll(ctx, []StockRequest{{ProductID: productID, Quantity: quantity}})
	if err != nil {
		return Reservation{}, err
	}
	s.PublishLowStock(ctx, reservations)
	return reservations[0], nil
}

// ReserveAll locks every targeted stock record in ascending product id order, evaluates all
// requests, and only then writes. Concurrent callers therefore never deadlock on each other and a
// shortfall on any product leaves every record untouched.
func (s *inventoryService) ReserveAll(ctx context.Context, requests []StockRequest) ([]Reservation, error) {
	merged, err := mergeStockRequests(requests)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, newValidationError("items", "at least one stock request is required")
	}

	var reservations []Reservation
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked := make([]Product, len(merged))
		missing := make(map[string]bool)
		for i, req := range merged {
			product, err := s.products.GetForUpdate(txCtx, req.ProductID)
			if err != nil {
				if isRepositoryNotFound(err) {
					missing[req.ProductID] = true
					continue
				}
				return err
			}
			locked[i] = product
		}

		var shortfalls []StockShortfall
		results := make([]Reservation, len(merged))
		for i, req := range merged {
			if missing[req.ProductID] {
				shortfalls = append(shortfalls, StockShortfall{ProductID: req.ProductID, Requested: req.Quantity})
				continue
			}
			reservation, shortfall, ok := evaluateReservation(locked[i], req.Quantity)
			if !ok {
				shortfalls = append(shortfalls, shortfall)
				continue
			}
			results[i] = reservation
		}
		if len(shortfalls) > 0 {
			return &InsufficientStockError{Shortfalls: shortfalls}
		}

		now := s.clock()
		for _, reservation := range results {
			if !reservation.Product.TrackInventory || reservation.Backordered {
				continue
			}
			if err := s.products.UpdateStock(txCtx, reservation.ProductID, reservation.Remaining, now); err != nil {
				return err
			}
		}
		reservations = results
		return nil
	})
	if err != nil {
		return nil, mapRepositoryError("inventory.reserve", err)
	}
	return reservations, nil
}

func (s *inventoryService) Release(ctx context.Context, productID string, quantity int) error {
	return s.ReleaseAll(ctx, []StockRequest{{ProductID: productID, Quantity: quantity}})
}

// ReleaseAll restocks each tracked product by the given quantity. Untracked products are skipped and
// products that no longer exist are logged and skipped so a catalog removal cannot block a
// cancellation.
func (s *inventoryService) ReleaseAll(ctx context.Context, requests []StockRequest) error {
	merged, err := mergeStockRequests(requests)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		locked := make(map[string]Product, len(merged))
		for _, req := range merged {
			product, err := s.products.GetForUpdate(txCtx, req.ProductID)
			if err != nil {
				if isRepositoryNotFound(err) {
					s.logger(txCtx, "inventory.release.product_missing", map[string]any{
						"productId": req.ProductID,
						"quantity":  req.Quantity,
					})
					continue
				}
				return err
			}
			locked[req.ProductID] = product
		}

		now := s.clock()
		for _, req := range merged {
			product, ok := locked[req.ProductID]
			if !ok || !product.TrackInventory {
				continue
			}
			if err := s.products.UpdateStock(txCtx, req.ProductID, product.StockQuantity+req.Quantity, now); err != nil {
				return err
			}
		}
		return nil
	})
	return mapRepositoryError("inventory.release", err)
}

func (s *inventoryService) Adjust(ctx context.Context, productID string, delta int) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, newValidationError("product_id", "is required")
	}
	if delta == 0 {
		return 0, newValidationError("delta", "must not be zero")
	}

	var (
		before  Product
		updated int
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.products.GetForUpdate(txCtx, productID)
		if err != nil {
			return err
		}
		next := product.StockQuantity + delta
		if next < 0 {
			return newValidationError("delta", "would go negative: stock %d, delta %d", product.StockQuantity, delta)
		}
		if err := s.products.UpdateStock(txCtx, productID, next, s.clock()); err != nil {
			return err
		}
		before = product
		updated = next
		return nil
	})
	if err != nil {
		return 0, mapRepositoryError("inventory.adjust", err)
	}

	after := before
	after.StockQuantity = updated
	if after.IsLowStock() && !before.IsLowStock() {
		s.publish(ctx, domain.LowStockEvent(s.newID(), after, updated, s.clock()))
	}
	return updated, nil
}

// PublishLowStock emits inventory.low_stock for every reservation that took its product from above
// the threshold to at or below it.
func (s *inventoryService) PublishLowStock(ctx context.Context, reservations []Reservation) {
	for _, r := range reservations {
		if !r.LowStock || r.Product.IsLowStock() {
			continue
		}
		s.logger(ctx, "inventory.low_stock", map[string]any{
			"productId": r.ProductID,
			"remaining": r.Remaining,
			"threshold": r.Product.LowStockThreshold,
		})
		s.publish(ctx, domain.LowStockEvent(s.newID(), r.Product, r.Remaining, s.clock()))
	}
}

// ImportProducts upserts catalog rows one by one. Prices pass through the total normalizer; rows
// whose price degraded to zero are still written and counted so one bad value never aborts a batch.
func (s *inventoryService) ImportProducts(ctx context.Context, items []ProductImport) (ImportReport, error) {
	var report ImportReport
	now := s.clock()
	for idx, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id := strings.TrimSpace(item.ID)
		if id == "" {
			report.Rejected++
			report.Issues = append(report.Issues, ImportIssue{Index: idx, Message: "id is required"})
			continue
		}
		if item.StockQuantity < 0 {
			report.Rejected++
			report.Issues = append(report.Issues, ImportIssue{Index: idx, ProductID: id, Message: "stock quantity must not be negative"})
			continue
		}

		normalizer := s.normalizer
		if code := strings.TrimSpace(item.Currency); code != "" {
			normalizer = money.New(money.CoerceCurrency(code, s.normalizer.DefaultCurrency))
		}
		price := normalizer.Normalize(item.Price)
		if money.Degraded(item.Price, price) {
			report.Degraded++
			report.Issues = append(report.Issues, ImportIssue{Index: idx, ProductID: id, Message: fmt.Sprintf("price %v degraded to zero", item.Price)})
			s.logger(ctx, "inventory.import.price_degraded", map[string]any{
				"productId": id,
				"raw":       fmt.Sprint(item.Price),
			})
		}

		product := Product{
			ID:                id,
			SKU:               strings.TrimSpace(item.SKU),
			Name:              textutil.SanitizeText(item.Name),
			Price:             price,
			StockQuantity:     item.StockQuantity,
			TrackInventory:    item.TrackInventory,
			AllowBackorders:   item.AllowBackorders,
			LowStockThreshold: max(item.LowStockThreshold, 0),
			UpdatedAt:         now,
		}
		if err := s.products.Upsert(ctx, product); err != nil {
			mapped := mapRepositoryError("inventory.import", err)
			if errors.Is(mapped, ErrUnavailable) || errors.Is(mapped, ErrConcurrencyTimeout) {
				return report, mapped
			}
			report.Rejected++
			report.Issues = append(report.Issues, ImportIssue{Index: idx, ProductID: id, Message: mapped.Error()})
			continue
		}
		report.Imported++
	}
	return report, nil
}

func (s *inventoryService) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "inventory.event.publish.failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

// evaluateReservation applies the stock policy to one locked product. It never mutates the product.
func evaluateReservation(product Product, quantity int) (Reservation, StockShortfall, bool) {
	reservation := Reservation{
		ProductID: product.ID,
		Quantity:  quantity,
		Remaining: product.StockQuantity,
		Product:   product,
	}
	if !product.TrackInventory {
		return reservation, StockShortfall{}, true
	}
	if product.StockQuantity >= quantity {
		reservation.Remaining = product.StockQuantity - quantity
		after := product
		after.StockQuantity = reservation.Remaining
		reservation.LowStock = after.IsLowStock()
		return reservation, StockShortfall{}, true
	}
	if product.AllowBackorders {
		reservation.Backordered = true
		reservation.LowStock = product.IsLowStock()
		return reservation, StockShortfall{}, true
	}
	return Reservation{}, StockShortfall{
		ProductID: product.ID,
		Requested: quantity,
		Available: max(product.StockQuantity, 0),
	}, false
}

// mergeStockRequests validates quantities, sums duplicate products, and sorts by product id.
func mergeStockRequests(requests []StockRequest) ([]StockRequest, error) {
	totals := make(map[string]int, len(requests))
	for _, req := range requests {
		id := strings.TrimSpace(req.ProductID)
		if id == "" {
			return nil, newValidationError("product_id", "is required")
		}
		if req.Quantity <= 0 {
			return nil, newValidationError("quantity", "must be positive for product %s", id)
		}
		totals[id] += req.Quantity
	}
	merged := make([]StockRequest, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, StockRequest{ProductID: id, Quantity: qty})
	}
	slices.SortFunc(merged, func(a, b StockRequest) int { return strings.Compare(a.ProductID, b.ProductID) })
	return merged, nil
}
