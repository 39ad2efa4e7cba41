package checkout

import (
	"errors"
	"fmt"
)

const (
	CodeEmptyCart         = "EMPTY_CART"
	CodeInvalidItem       = "INVALID_ITEM"
	CodeProductNotFound   = "PRODUCT_NOT_FOUND"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeFailed            = "CHECKOUT_FAILED"
)

// Error is a checkout failure. Business errors carry identifying data;
// CHECKOUT_FAILED hides the infrastructure cause behind a generic message.
type Error struct {
	Code      string
	Message   string
	ProductID int64
	Name      string
	Available int
	Requested int
	Cause     error
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrEmptyCart         = &Error{Code: CodeEmptyCart}
	ErrInvalidItem       = &Error{Code: CodeInvalidItem}
	ErrProductNotFound   = &Error{Code: CodeProductNotFound}
	ErrInsufficientStock = &Error{Code: CodeInsufficientStock}
	ErrFailed            = &Error{Code: CodeFailed}
)

func emptyCart() *Error {
	return &Error{Code: CodeEmptyCart, Message: "cart is empty"}
}

func invalidItem(i int, it Item) *Error {
	return &Error{
		Code:      CodeInvalidItem,
		Message:   fmt.Sprintf("item %d: product %d, quantity %d", i, it.ProductID, it.Quantity),
		ProductID: it.ProductID,
		Requested: it.Quantity,
	}
}

func productNotFound(id int64) *Error {
	return &Error{Code: CodeProductNotFound, Message: fmt.Sprintf("product %d not found", id), ProductID: id}
}

func insufficientStock(p ProductRef, available, requested int) *Error {
	return &Error{
		Code:      CodeInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for %q: available %d, requested %d", p.Name, available, requested),
		ProductID: p.ID,
		Name:      p.Name,
		Available: available,
		Requested: requested,
	}
}

func failed(cause error) *Error {
	return &Error{Code: CodeFailed, Message: "checkout failed, please try again", Cause: cause}
}
