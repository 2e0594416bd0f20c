package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/platform/midtrans"
)

// Settler applies a gateway status to a wallet transaction.
type Settler interface {
	Settle(ctx context.Context, orderID string, status domain.TransactionStatus) (domain.Transaction, error)
}

// WebhookHandler receives payment gateway notifications. It is not behind
// session auth; the notification signature gates it.
type WebhookHandler struct {
	settler   Settler
	serverKey string
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler that verifies notifications with
// serverKey and settles them through settler.
func NewWebhookHandler(settler Settler, serverKey string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{settler: settler, serverKey: serverKey, logger: logger}
}

// Midtrans verifies and applies one notification.
// POST /api/webhooks/midtrans
func (h *WebhookHandler) Midtrans(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("tradedesk/server").Start(r.Context(), "webhook.Midtrans")
	defer span.End()

	var n midtrans.Notification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}
	span.SetAttributes(
		attribute.String("order_id", n.OrderID),
		attribute.String("transaction_status", n.TransactionStatus),
	)
	if n.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	if err := n.Verify(h.serverKey); err != nil {
		span.SetStatus(codes.Error, "bad signature")
		h.logger.WarnContext(ctx, "webhook signature rejected",
			slog.String("order_id", n.OrderID),
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeServiceError(w, r, h.logger, "webhook", err)
		return
	}

	tx, err := h.settler.Settle(ctx, n.OrderID, n.Status())
	if err != nil {
		span.RecordError(err)
		writeServiceError(w, r, h.logger, "webhook settle", err)
		return
	}
	h.logger.InfoContext(ctx, "webhook applied",
		slog.String("order_id", n.OrderID),
		slog.String("gateway_status", n.TransactionStatus),
		slog.String("status", string(tx.Status)),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"order_id": n.OrderID,
		"state":    string(tx.Status),
	})
}
