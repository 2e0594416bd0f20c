package midtrans

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// Notification is the HTTP notification body Midtrans posts on every status
// change. Only the fields the settlement needs are decoded.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	TransactionID     string `json:"transaction_id"`
}

// Signature computes hex(SHA-512(order_id + status_code + gross_amount + serverKey)).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// Verify checks n's signature against serverKey in constant time.
func (n Notification) Verify(serverKey string) error {
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	got := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	if serverKey == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return fmt.Errorf("midtrans: order %s: %w", n.OrderID, domain.ErrInvalidSignature)
	}
	return nil
}

// Status maps the gateway's transaction and fraud status to ours.
func (n Notification) Status() domain.TransactionStatus {
	return MapStatus(n.TransactionStatus, n.FraudStatus)
}

// MapStatus maps a Midtrans transaction_status/fraud_status pair. Captured or
// settled payments succeed unless fraud screening said otherwise; pending
// means the customer is paying; deny, cancel, expire and failure are final.
func MapStatus(transactionStatus, fraudStatus string) domain.TransactionStatus {
	switch transactionStatus {
	case "capture", "settlement":
		if fraudStatus == "" || fraudStatus == "accept" {
			return domain.TransactionSuccess
		}
		return domain.TransactionFailed
	case "pending":
		return domain.TransactionProcessing
	case "deny", "cancel", "expire", "failure":
		return domain.TransactionFailed
	default:
		return domain.TransactionPending
	}
}
