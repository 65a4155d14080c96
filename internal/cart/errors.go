package cart

import "errors"

var (
	ErrInvalidItem         = errors.New("line item requires a product")
	ErrInvalidQuantity     = errors.New("quantity must be between 1 and 100000")
	ErrInvalidDiscount     = errors.New("discount must be a non-negative amount or a percentage up to 100")
	ErrInvalidSaleType     = errors.New("unknown sale type")
	ErrItemNotFound        = errors.New("product is not in the cart")
	ErrVariationConflict   = errors.New("product is already in the cart with another variation")
	ErrCreditNotAllowed    = errors.New("credit sale requires a customer with available credit")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrMissingCustomer     = errors.New("credit sale requires a customer")
	ErrCreditLimitExceeded = errors.New("sale total exceeds the customer's available credit")
)
