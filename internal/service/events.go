package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// Alerter delivers operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ChangeNotifier publishes committed state changes on the per-user bus
// channels. Publishing is best effort: failures are logged and never
// returned, since the ledger already holds the truth.
type ChangeNotifier struct {
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewChangeNotifier creates a ChangeNotifier. A nil bus disables publishing.
func NewChangeNotifier(bus domain.SignalBus, logger *slog.Logger) *ChangeNotifier {
	return &ChangeNotifier{
		bus:    bus,
		logger: logger.With(slog.String("component", "change_notifier")),
		now:    time.Now,
	}
}

// TradeChanged announces an opened or closed trade.
func (n *ChangeNotifier) TradeChanged(ctx context.Context, eventType string, t domain.Trade) {
	n.publish(ctx, domain.TradeChannel(t.UserID), domain.ChangeEvent{
		Type:        eventType,
		UserID:      t.UserID,
		PortfolioID: t.PortfolioID,
		TradeID:     t.ID,
		Status:      string(t.Status),
	})
}

// PortfolioChanged announces a balance change.
func (n *ChangeNotifier) PortfolioChanged(ctx context.Context, p domain.Portfolio) {
	n.publish(ctx, domain.PortfolioChannel(p.UserID), domain.ChangeEvent{
		Type:        domain.EventPortfolioChanged,
		UserID:      p.UserID,
		PortfolioID: p.ID,
	})
}

// TransactionChanged announces a wallet transaction status change. It rides
// the portfolio channel because every settled transaction moves a balance.
func (n *ChangeNotifier) TransactionChanged(ctx context.Context, tx domain.Transaction) {
	n.publish(ctx, domain.PortfolioChannel(tx.UserID), domain.ChangeEvent{
		Type:        domain.EventTransaction,
		UserID:      tx.UserID,
		PortfolioID: tx.PortfolioID,
		Status:      string(tx.Status),
	})
}

func (n *ChangeNotifier) publish(ctx context.Context, channel string, ev domain.ChangeEvent) {
	if n == nil || n.bus == nil {
		return
	}
	ev.At = n.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.WarnContext(ctx, "marshal change event failed", slog.String("error", err.Error()))
		return
	}
	if err := n.bus.Publish(ctx, channel, payload); err != nil {
		n.logger.WarnContext(ctx, "publish change event failed",
			slog.String("channel", channel),
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}
