package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/textutil"
)

const maxReasonLength = 500

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusReturned},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned, domain.OrderStatusRefunded},
	domain.OrderStatusReturned:   {domain.OrderStatusRefunded},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

type transitionRequest struct {
	orderID  string
	to       OrderStatus
	actorID  string
	reason   string
	tracking *TrackingInfo
	guard    func(Order) error
}

// TransitionStatus applies a staff-initiated status change.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error) {
	to, ok := domain.ParseOrderStatus(string(cmd.To))
	if !ok {
		return Order{}, newValidationError("status", "unknown order status %q", cmd.To)
	}
	if cmd.Tracking != nil && to != domain.OrderStatusShipped {
		return Order{}, newValidationError("tracking", "is only accepted when shipping")
	}
	return s.transition(ctx, transitionRequest{
		orderID:  cmd.OrderID,
		to:       to,
		actorID:  cmd.ActorID,
		reason:   cmd.Reason,
		tracking: cmd.Tracking,
	})
}

// CancelOrder cancels the order and restocks its lines. Customers may cancel only their own orders
// while they are pending or confirmed; staff may cancel anything the transition table allows.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelCommand) (Order, error) {
	req := transitionRequest{
		orderID: cmd.OrderID,
		to:      domain.OrderStatusCancelled,
		actorID: cmd.ActorID,
		reason:  cmd.Reason,
	}
	if customer := cmd.Customer; customer != nil {
		if err := validateIdentity(*customer); err != nil {
			return Order{}, err
		}
		if strings.TrimSpace(req.actorID) == "" {
			req.actorID = customer.Key()
		}
		req.guard = func(order Order) error {
			if !customer.Owns(order.Customer) {
				return fmt.Errorf("%w: order %s belongs to another customer", ErrForbidden, order.ID)
			}
			if !order.CanBeCancelled() {
				return &IllegalTransitionError{
					From:   order.Status,
					To:     domain.OrderStatusCancelled,
					Reason: "customers may cancel only pending or confirmed orders",
				}
			}
			return nil
		}
	}
	return s.transition(ctx, req)
}

// transition validates and applies one edge under the order's lock. The status read, the table
// check, side effects and the write share one transaction, so two racing requests against the same
// order are serialized and the loser sees the winner's status.
func (s *orderService) transition(ctx context.Context, req transitionRequest) (Order, error) {
	orderID := strings.TrimSpace(req.orderID)
	if orderID == "" {
		return Order{}, newValidationError("order_id", "is required")
	}
	reason := textutil.TruncateRunes(textutil.SanitizeText(req.reason), maxReasonLength)
	actorID := strings.TrimSpace(req.actorID)

	var (
		updated Order
		from    OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.GetForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if req.guard != nil {
			if err := req.guard(order); err != nil {
				return err
			}
		}
		from = order.Status
		if !CanTransition(from, req.to) {
			return &IllegalTransitionError{From: from, To: req.to}
		}
		if req.to == domain.OrderStatusShipped && !order.CanBeShipped() {
			return &IllegalTransitionError{
				From:   from,
				To:     req.to,
				Reason: fmt.Sprintf("payment status is %s", order.PaymentStatus),
			}
		}

		now := s.now()
		applyTransitionEffects(&order, req.to, now, reason, req.tracking)

		if s.shouldRestock(order, req.to) {
			if restock := restockRequests(order); len(restock) > 0 {
				if err := s.inventory.ReleaseAll(txCtx, restock); err != nil {
					return err
				}
			}
			order.RestockedAt = &now
		}

		order.Status = req.to
		order.UpdatedAt = now
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From:    from,
			To:      req.to,
			At:      now,
			ActorID: actorID,
			Reason:  reason,
		})
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError("order.transition", err)
	}

	s.publishEvent(ctx, domain.OrderStatusChangedEvent(s.newID(), updated, from, updated.UpdatedAt))
	return updated, nil
}

func applyTransitionEffects(order *Order, to OrderStatus, now time.Time, reason string, tracking *TrackingInfo) {
	switch to {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
		if tracking != nil {
			order.Carrier = textutil.SanitizeText(tracking.Carrier)
			order.TrackingNumber = strings.ToUpper(textutil.SanitizeText(tracking.TrackingNumber))
		}
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
		order.CancelReason = reason
	case domain.OrderStatusReturned:
		order.ReturnedAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
	}
}

// shouldRestock reports whether entering to returns the order's stock. Stock is returned at most
// once per order.
func (s *orderService) shouldRestock(order Order, to OrderStatus) bool {
	if order.RestockedAt != nil {
		return false
	}
	switch to {
	case domain.OrderStatusCancelled:
		return true
	case domain.OrderStatusReturned:
		return s.restockOnReturn
	}
	return false
}

// restockRequests lists the quantities to give back. Backordered lines never decremented stock and
// are skipped.
func restockRequests(order Order) []StockRequest {
	requests := make([]StockRequest, 0, len(order.Lines))
	for _, line := range order.Lines {
		if line.Backordered || line.Quantity <= 0 {
			continue
		}
		requests = append(requests, StockRequest{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return requests
}
