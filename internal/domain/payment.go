package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentSession is a hosted checkout created with the payment gateway.
type PaymentSession struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// CheckoutRequest asks the gateway for a checkout of amount under orderID.
type CheckoutRequest struct {
	OrderID     string
	GrossAmount decimal.Decimal
	CustomerID  string
	Email       string
}

// PaymentGateway creates hosted checkouts for real-money deposits.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (PaymentSession, error)
}
