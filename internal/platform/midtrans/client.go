// Package midtrans talks to the Midtrans Snap payment gateway and checks its
// HTTP notifications.
package midtrans

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

const (
	sandboxBaseURL    = "https://app.sandbox.midtrans.com"
	productionBaseURL = "https://app.midtrans.com"
)

// IsProduction reports whether serverKey is a production key. Sandbox keys
// carry an "SB" marker.
func IsProduction(serverKey string) bool {
	return strings.HasPrefix(serverKey, "Mid-server-") && !strings.Contains(serverKey, "SB")
}

// BaseURL returns the Snap host for serverKey.
func BaseURL(serverKey string) string {
	if IsProduction(serverKey) {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// SnapJSURL is the checkout script the browser loads.
func SnapJSURL(serverKey string) string {
	return BaseURL(serverKey) + "/snap/snap.js"
}

// PublicConfig is what the browser needs to open a checkout.
type PublicConfig struct {
	ClientKey    string `json:"client_key"`
	IsProduction bool   `json:"is_production"`
	SnapURL      string `json:"snap_url"`
}

// Client creates Snap checkouts through the Midtrans SDK. It implements
// domain.PaymentGateway.
type Client struct {
	serverKey string
	clientKey string
	finishURL string
	snap      snap.Client
}

// NewClient creates a Snap client. baseURL overrides the host derived from
// serverKey when non-empty.
func NewClient(serverKey, clientKey, baseURL, finishURL string) *Client {
	env := midtrans.Sandbox
	if IsProduction(serverKey) {
		env = midtrans.Production
	}
	c := &Client{
		serverKey: serverKey,
		clientKey: clientKey,
		finishURL: finishURL,
	}
	c.snap.New(serverKey, env)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if baseURL != "" {
		if u, err := url.Parse(strings.TrimRight(baseURL, "/")); err == nil && u.Host != "" {
			httpClient.Transport = hostOverride{target: u, next: http.DefaultTransport}
		}
	}
	if impl, ok := c.snap.HttpClient.(*midtrans.HttpClientImplementation); ok {
		impl.HttpClient = httpClient
	}
	return c
}

// hostOverride sends every request to target, keeping the SDK's path.
type hostOverride struct {
	target *url.URL
	next   http.RoundTripper
}

func (h hostOverride) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = h.target.Scheme
	r.URL.Host = h.target.Host
	r.Host = h.target.Host
	return h.next.RoundTrip(r)
}

// PublicConfig returns the client-side settings.
func (c *Client) PublicConfig() PublicConfig {
	return PublicConfig{
		ClientKey:    c.clientKey,
		IsProduction: IsProduction(c.serverKey),
		SnapURL:      SnapJSURL(c.serverKey),
	}
}

// ServerKey returns the key notifications are signed with.
func (c *Client) ServerKey() string {
	return c.serverKey
}

// CreateCheckout opens a Snap transaction restricted to DANA. Midtrans takes
// whole currency units, so the amount is rounded.
func (c *Client) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentSession{}, fmt.Errorf("midtrans: create checkout %s: %w", req.OrderID, err)
	}

	sr := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.GrossAmount.Round(0).IntPart(),
		},
		EnabledPayments: []snap.SnapPaymentType{"dana"},
		CustomField1:    req.CustomerID,
	}
	if req.Email != "" {
		sr.CustomerDetail = &midtrans.CustomerDetails{Email: req.Email}
	}
	if c.finishURL != "" {
		sr.Callbacks = &snap.Callbacks{Finish: c.finishURL}
	}

	resp, merr := c.snap.CreateTransaction(sr)
	if merr != nil {
		return domain.PaymentSession{}, fmt.Errorf("midtrans: create checkout %s: http %d: %s",
			req.OrderID, merr.StatusCode, merr.Message)
	}
	if resp == nil || resp.Token == "" {
		return domain.PaymentSession{}, fmt.Errorf("midtrans: checkout %s returned no token", req.OrderID)
	}
	return domain.PaymentSession{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

var _ domain.PaymentGateway = (*Client)(nil)
