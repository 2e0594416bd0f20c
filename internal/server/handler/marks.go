package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradedesk/internal/domain"
)

// MarkReader exposes the mark book.
type MarkReader interface {
	Snapshot() []domain.Mark
	Latest(ctx context.Context, symbol string) (domain.Mark, bool)
}

// MarkHandler serves the latest prices.
type MarkHandler struct {
	marks      MarkReader
	staleAfter time.Duration
	now        func() time.Time
}

// NewMarkHandler creates a MarkHandler that flags marks older than
// staleAfter.
func NewMarkHandler(marks MarkReader, staleAfter time.Duration) *MarkHandler {
	return &MarkHandler{marks: marks, staleAfter: staleAfter, now: time.Now}
}

// ListMarks returns every known mark.
// GET /api/marks
func (h *MarkHandler) ListMarks(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	marks := h.marks.Snapshot()
	views := make([]markView, 0, len(marks))
	for _, m := range marks {
		views = append(views, markView{Mark: m, Stale: m.Stale(now, h.staleAfter)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"marks": views})
}

// GetMark returns one mark; 503 when none has been observed.
// GET /api/marks/{base}/{quote}
func (h *MarkHandler) GetMark(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("base") + "/" + r.PathValue("quote"))
	m, ok := h.marks.Latest(r.Context(), symbol)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no market data for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, markView{Mark: m, Stale: m.Stale(h.now(), h.staleAfter)})
}
