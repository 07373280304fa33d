package repositories

import "fmt"

// InventoryErrorCode enumerates stock mutation failures raised by repositories.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorProductNotFound indicates there is no stock record for the product.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorNegativeStock indicates a write would leave stock below zero.
	InventoryErrorNegativeStock InventoryErrorCode = "inventory_negative_stock"
	// InventoryErrorNotLocked indicates a stock write without a prior locked read in the transaction.
	InventoryErrorNotLocked InventoryErrorCode = "inventory_not_locked"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s (product %s)", msg, e.ProductID)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the product has no stock record.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorProductNotFound
}

// IsConflict reports whether the write was rejected by a stock constraint.
func (e *InventoryError) IsConflict() bool {
	return e != nil && (e.Code == InventoryErrorNegativeStock || e.Code == InventoryErrorNotLocked)
}

// IsUnavailable is always false; availability failures surface as backend errors.
func (e *InventoryError) IsUnavailable() bool { return false }

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(op string, code InventoryErrorCode, productID, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Op:        op,
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}
