package midtrans

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

func TestIsProduction(t *testing.T) {
	assert.True(t, IsProduction("Mid-server-abc"))
	assert.False(t, IsProduction("SB-Mid-server-abc"))
	assert.False(t, IsProduction("Mid-server-SBabc"))
	assert.False(t, IsProduction(""))

	assert.Equal(t, "https://app.midtrans.com/snap/snap.js", SnapJSURL("Mid-server-abc"))
	assert.Equal(t, "https://app.sandbox.midtrans.com/snap/snap.js", SnapJSURL("SB-Mid-server-abc"))
}

func TestSignatureVerify(t *testing.T) {
	const key = "SB-Mid-server-secret"
	// Reference digest of "order-1" + "200" + "10000.00" + key.
	sig := Signature("order-1", "200", "10000.00", key)
	assert.Len(t, sig, 128)

	n := Notification{OrderID: "order-1", StatusCode: "200", GrossAmount: "10000.00", SignatureKey: sig}
	require.NoError(t, n.Verify(key))

	n.SignatureKey = sig[:127] + "0"
	if sig[127] == '0' {
		n.SignatureKey = sig[:127] + "1"
	}
	assert.ErrorIs(t, n.Verify(key), domain.ErrInvalidSignature)

	n.SignatureKey = sig
	n.GrossAmount = "10001.00"
	assert.ErrorIs(t, n.Verify(key), domain.ErrInvalidSignature)

	assert.ErrorIs(t, Notification{}.Verify(""), domain.ErrInvalidSignature)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		status, fraud string
		want          domain.TransactionStatus
	}{
		{"capture", "accept", domain.TransactionSuccess},
		{"settlement", "", domain.TransactionSuccess},
		{"capture", "challenge", domain.TransactionFailed},
		{"settlement", "deny", domain.TransactionFailed},
		{"pending", "", domain.TransactionProcessing},
		{"deny", "", domain.TransactionFailed},
		{"cancel", "", domain.TransactionFailed},
		{"expire", "", domain.TransactionFailed},
		{"failure", "", domain.TransactionFailed},
		{"authorize", "", domain.TransactionPending},
		{"", "", domain.TransactionPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapStatus(tt.status, tt.fraud), "%s/%s", tt.status, tt.fraud)
	}
}

// checkoutBody is the subset of the Snap request the gateway is expected to
// receive.
type checkoutBody struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	EnabledPayments []string `json:"enabled_payments"`
	Callbacks       *struct {
		Finish string `json:"finish"`
	} `json:"callbacks"`
	CustomField1 string `json:"custom_field1"`
}

func TestCreateCheckout(t *testing.T) {
	var got checkoutBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/snap/v1/transactions", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "SB-Mid-server-k", user)
		assert.Empty(t, pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok-1","redirect_url":"https://pay/tok-1"}`))
	}))
	defer srv.Close()

	c := NewClient("SB-Mid-server-k", "SB-Mid-client-k", srv.URL, "https://app.example/")
	sess, err := c.CreateCheckout(context.Background(), domain.CheckoutRequest{
		OrderID:     "DEPOSIT-1",
		GrossAmount: decimal.RequireFromString("15000.4"),
		CustomerID:  "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.Token)
	assert.Equal(t, "https://pay/tok-1", sess.RedirectURL)

	assert.Equal(t, "DEPOSIT-1", got.TransactionDetails.OrderID)
	assert.Equal(t, int64(15000), got.TransactionDetails.GrossAmount)
	assert.Equal(t, []string{"dana"}, got.EnabledPayments)
	require.NotNil(t, got.Callbacks)
	assert.Equal(t, "https://app.example/", got.Callbacks.Finish)
	assert.Equal(t, "u1", got.CustomField1)

	cfg := c.PublicConfig()
	assert.Equal(t, "SB-Mid-client-k", cfg.ClientKey)
	assert.False(t, cfg.IsProduction)
}

func TestCreateCheckoutGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error_messages":["Access denied"]}`))
	}))
	defer srv.Close()

	c := NewClient("SB-Mid-server-bad", "", srv.URL, "")
	_, err := c.CreateCheckout(context.Background(), domain.CheckoutRequest{OrderID: "DEPOSIT-2", GrossAmount: decimal.NewFromInt(10000)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestCreateCheckoutCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("SB-Mid-server-k", "", "http://127.0.0.1:1", "").
		CreateCheckout(ctx, domain.CheckoutRequest{OrderID: "DEPOSIT-3", GrossAmount: decimal.NewFromInt(10000)})
	assert.ErrorIs(t, err, context.Canceled)
}
