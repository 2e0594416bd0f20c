package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/platform/midtrans"
	"github.com/alanyoungcy/tradedesk/internal/server/middleware"
	"github.com/alanyoungcy/tradedesk/internal/service"
)

// WalletService moves money in and out of the caller's default portfolio.
type WalletService interface {
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal, isDemo bool) (service.DepositResult, error)
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal, isDemo bool) (domain.Transaction, error)
}

// WalletHandler serves deposits, withdrawals and the transaction history.
type WalletHandler struct {
	wallet  WalletService
	payment *midtrans.PublicConfig
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler. payment is nil when no gateway is
// configured.
func NewWalletHandler(wallet WalletService, payment *midtrans.PublicConfig, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallet: wallet, payment: payment, logger: logger}
}

type moneyRequest struct {
	Amount decimal.Decimal `json:"amount"`
	IsDemo bool            `json:"is_demo"`
}

type depositResponse struct {
	Transaction transactionView `json:"transaction"`
	Token       string          `json:"token,omitempty"`
	RedirectURL string          `json:"redirect_url,omitempty"`
}

// ListTransactions returns the caller's latest transactions.
// GET /api/transactions?limit=20
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.wallet.ListTransactions(r.Context(), middleware.UserID(r.Context()), parseListOpts(r, 0).Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, newTransactionView(tx))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

// Deposit credits demo funds at once or opens a gateway checkout for real
// funds.
// POST /api/wallet/deposit
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var body moneyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.wallet.Deposit(r.Context(), middleware.UserID(r.Context()), body.Amount, body.IsDemo)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}

	resp := depositResponse{Transaction: newTransactionView(res.Transaction)}
	status := http.StatusOK
	if res.Session != nil {
		resp.Token = res.Session.Token
		resp.RedirectURL = res.Session.RedirectURL
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// Withdraw debits the selected balance.
// POST /api/wallet/withdraw
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var body moneyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := h.wallet.Withdraw(r.Context(), middleware.UserID(r.Context()), body.Amount, body.IsDemo)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(tx))
}

// PaymentConfig returns what the browser needs to load the checkout widget.
// GET /api/payments/config
func (h *WalletHandler) PaymentConfig(w http.ResponseWriter, _ *http.Request) {
	if h.payment == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.payment)
}
